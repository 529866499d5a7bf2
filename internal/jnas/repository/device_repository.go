package repository

import (
	"context"
	"errors"

	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"gorm.io/gorm"
)

// DeviceRepository 块设备仓库接口
// 设备记录只刷新不删除，重扫描通过 Upsert 完成
type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) error
	GetByID(ctx context.Context, id string) (*model.Device, error)
	GetByPath(ctx context.Context, path string) (*model.Device, error)
	List(ctx context.Context, filters map[string]interface{}) ([]*model.Device, error)
	ListByPool(ctx context.Context, poolID string) ([]*model.Device, error)
	Update(ctx context.Context, device *model.Device) error
	// Upsert 按序列号（次选设备路径）更新或插入，返回落库后的记录
	Upsert(ctx context.Context, device *model.Device) (*model.Device, error)
	// ClearPool 清空指定池下所有设备的 pool_id
	ClearPool(ctx context.Context, poolID string) error
}

type deviceRepository struct {
	db *gorm.DB
}

// NewDeviceRepository 创建块设备仓库
func NewDeviceRepository(db *gorm.DB) DeviceRepository {
	return &deviceRepository{db: db}
}

// Create 创建设备记录
func (r *deviceRepository) Create(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Create(device).Error
}

// GetByID 根据 ID 获取设备
func (r *deviceRepository) GetByID(ctx context.Context, id string) (*model.Device, error) {
	var device model.Device
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// GetByPath 根据设备路径获取设备
func (r *deviceRepository) GetByPath(ctx context.Context, path string) (*model.Device, error) {
	var device model.Device
	if err := r.db.WithContext(ctx).Where("path = ?", path).First(&device).Error; err != nil {
		return nil, err
	}
	return &device, nil
}

// List 列出设备
func (r *deviceRepository) List(ctx context.Context, filters map[string]interface{}) ([]*model.Device, error) {
	var devices []*model.Device
	query := r.db.WithContext(ctx).Model(&model.Device{})

	// 应用过滤器
	if health, ok := filters["health"]; ok {
		query = query.Where("health = ?", health)
	}
	if poolID, ok := filters["pool_id"]; ok {
		query = query.Where("pool_id = ?", poolID)
	}

	if err := query.Find(&devices).Error; err != nil {
		return nil, err
	}

	return devices, nil
}

// ListByPool 列出指定池的成员设备
func (r *deviceRepository) ListByPool(ctx context.Context, poolID string) ([]*model.Device, error) {
	return r.List(ctx, map[string]interface{}{"pool_id": poolID})
}

// Update 更新设备
func (r *deviceRepository) Update(ctx context.Context, device *model.Device) error {
	return r.db.WithContext(ctx).Save(device).Error
}

// Upsert 更新或插入设备
// 先按序列号匹配（内核重排后 sda/sdb 会互换，序列号不变），
// 没有序列号的设备退回按路径匹配。
// 已有记录时保留原 ID 和 pool_id，只刷新扫描得到的字段
func (r *deviceRepository) Upsert(ctx context.Context, device *model.Device) (*model.Device, error) {
	existing, err := r.findExisting(ctx, device)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err := r.Create(ctx, device); err != nil {
			return nil, err
		}
		return device, nil
	}

	device.ID = existing.ID
	device.PoolID = existing.PoolID
	device.CreatedAt = existing.CreatedAt
	if err := r.Update(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// findExisting 定位扫描到的设备对应的已有记录
func (r *deviceRepository) findExisting(ctx context.Context, device *model.Device) (*model.Device, error) {
	if device.Serial != "" {
		var existing model.Device
		err := r.db.WithContext(ctx).Where("serial = ?", device.Serial).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return r.GetByPath(ctx, device.Path)
}

// ClearPool 清空指定池下所有设备的 pool_id
func (r *deviceRepository) ClearPool(ctx context.Context, poolID string) error {
	return r.db.WithContext(ctx).
		Model(&model.Device{}).
		Where("pool_id = ?", poolID).
		Update("pool_id", "").Error
}
