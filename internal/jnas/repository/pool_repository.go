package repository

import (
	"context"

	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"gorm.io/gorm"
)

// PoolRepository 存储池仓库接口
type PoolRepository interface {
	Create(ctx context.Context, pool *model.Pool) error
	GetByID(ctx context.Context, id string) (*model.Pool, error)
	GetByName(ctx context.Context, name string) (*model.Pool, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Pool, error)
	Update(ctx context.Context, pool *model.Pool) error
	Delete(ctx context.Context, id string) error
}

type poolRepository struct {
	db *gorm.DB
}

// NewPoolRepository 创建存储池仓库
func NewPoolRepository(db *gorm.DB) PoolRepository {
	return &poolRepository{db: db}
}

// Create 创建存储池记录
func (r *poolRepository) Create(ctx context.Context, pool *model.Pool) error {
	return r.db.WithContext(ctx).Create(pool).Error
}

// GetByID 根据 ID 获取存储池
func (r *poolRepository) GetByID(ctx context.Context, id string) (*model.Pool, error) {
	var pool model.Pool
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&pool).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

// GetByName 根据池名获取存储池
func (r *poolRepository) GetByName(ctx context.Context, name string) (*model.Pool, error) {
	var pool model.Pool
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&pool).Error; err != nil {
		return nil, err
	}
	return &pool, nil
}

// List 列出存储池
func (r *poolRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Pool, error) {
	var pools []*model.Pool
	query := r.db.WithContext(ctx).Model(&model.Pool{})

	// 应用过滤器
	if status, ok := filters["status"]; ok {
		query = query.Where("status = ?", status)
	}
	if filesystem, ok := filters["filesystem"]; ok {
		query = query.Where("filesystem = ?", filesystem)
	}

	if err := query.Find(&pools).Error; err != nil {
		return nil, err
	}

	return pools, nil
}

// Update 更新存储池
func (r *poolRepository) Update(ctx context.Context, pool *model.Pool) error {
	return r.db.WithContext(ctx).Save(pool).Error
}

// Delete 软删除存储池
func (r *poolRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&model.Pool{}, "id = ?", id).Error
}
