package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// markerFileName 池标记文件名，位于挂载点根目录
const markerFileName = ".pool_marker"

// datasetsDirName 数据集子目录名
const datasetsDirName = "datasets"

// privilegedRoots 需要特权才能写入的系统挂载目录
// 在这些目录下创建失败且原因是权限时，转入进程自有的回退根目录
var privilegedRoots = []string{"/mnt", "/media", "/srv"}

// poolMarker 池标记文件内容
type poolMarker struct {
	Name      string    `yaml:"name"`
	CreatedAt time.Time `yaml:"created_at"`
}

// MountProvisioner 挂载点管理器
// 负责创建/修复池的目录结构，系统目录不可写时回退到自有存储根
type MountProvisioner struct {
	fallbackRoot string
	poolRepo     repository.PoolRepository

	// 测试时可替换
	mkdirAll func(path string, perm os.FileMode) error
	writable func(path string) bool
}

// NewMountProvisioner 创建挂载点管理器
func NewMountProvisioner(fallbackRoot string, poolRepo repository.PoolRepository) *MountProvisioner {
	return &MountProvisioner{
		fallbackRoot: fallbackRoot,
		poolRepo:     poolRepo,
		mkdirAll:     os.MkdirAll,
		writable: func(path string) bool {
			return unix.Access(path, unix.W_OK) == nil
		},
	}
}

// EnsureMountPoint 确保池的挂载目录存在
//
// 返回实际生效的路径：请求路径位于特权目录下且创建因权限失败时，
// 回退到 <fallbackRoot>/<name> 并记录 warn 日志，绝不静默。
// datasets 子目录和 .pool_marker 标记文件创建失败只告警不报错，
// 顶层挂载路径是唯一的硬性要求
func (p *MountProvisioner) EnsureMountPoint(ctx context.Context, path, name string) (string, error) {
	logger := zerolog.Ctx(ctx)

	effective := path
	err := p.mkdirAll(path, 0o755)
	if err != nil {
		if !errors.Is(err, os.ErrPermission) || !underPrivilegedRoot(path) {
			return "", fmt.Errorf("create mount point %s: %w", path, err)
		}

		effective = filepath.Join(p.fallbackRoot, name)
		if fbErr := p.mkdirAll(effective, 0o755); fbErr != nil {
			return "", fmt.Errorf("create mount point %s failed (%v) and fallback %s failed: %w",
				path, err, effective, fbErr)
		}
		logger.Warn().
			Str("requested", path).
			Str("effective", effective).
			Msg("mount point not writable, fell back to storage root")
	}

	if err := p.mkdirAll(filepath.Join(effective, datasetsDirName), 0o755); err != nil {
		logger.Warn().Err(err).Str("path", effective).Msg("create datasets directory failed")
	}
	if err := p.writeMarker(effective, name); err != nil {
		logger.Warn().Err(err).Str("path", effective).Msg("write pool marker failed")
	}

	return effective, nil
}

// VerifyAndFix 幂等地修复已有池的挂载目录
//
// 池的挂载路径被外部改动（目录被删、不可写）时重新走一遍 provisioning，
// 路径发生回退时同步更新落库的挂载点。目录完好时是纯粹的 no-op
func (p *MountProvisioner) VerifyAndFix(ctx context.Context, pool *entity.Pool) error {
	if st, err := os.Stat(pool.MountPoint); err == nil && st.IsDir() && p.writable(pool.MountPoint) {
		// 已经健康，只补齐可能缺失的子结构
		return nil
	}

	effective, err := p.EnsureMountPoint(ctx, pool.MountPoint, pool.Name)
	if err != nil {
		return fmt.Errorf("verify mount point of pool %s: %w", pool.Name, err)
	}
	if effective == pool.MountPoint {
		return nil
	}

	// 路径回退了，更新记录
	m, err := p.poolRepo.GetByID(ctx, pool.ID)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", pool.ID, err)
	}
	m.MountPoint = effective
	if err := p.poolRepo.Update(ctx, m); err != nil {
		return fmt.Errorf("update mount point of pool %s: %w", pool.ID, err)
	}
	pool.MountPoint = effective

	zerolog.Ctx(ctx).Warn().
		Str("pool", pool.Name).
		Str("mount_point", effective).
		Msg("pool mount point repaired to fallback path")
	return nil
}

// RemoveMountPoint 清理池的挂载目录
// 先删标记文件和空的 datasets 目录，目录非空时保留不动
func (p *MountProvisioner) RemoveMountPoint(ctx context.Context, path string) {
	logger := zerolog.Ctx(ctx)

	if err := os.Remove(filepath.Join(path, markerFileName)); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("remove pool marker failed")
	}
	// 只删空目录，非空说明还有用户数据
	_ = os.Remove(filepath.Join(path, datasetsDirName))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Debug().Err(err).Str("path", path).Msg("mount directory not removed")
	}
}

// writeMarker 写入池标记文件，已存在时不覆盖（保留创建时间）
func (p *MountProvisioner) writeMarker(mountPoint, name string) error {
	markerPath := filepath.Join(mountPoint, markerFileName)
	if _, err := os.Stat(markerPath); err == nil {
		return nil
	}

	data, err := yaml.Marshal(&poolMarker{
		Name:      name,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return os.WriteFile(markerPath, data, 0o644)
}

// underPrivilegedRoot 路径是否位于特权系统目录下
func underPrivilegedRoot(path string) bool {
	for _, root := range privilegedRoots {
		if path == root || strings.HasPrefix(path, root+"/") {
			return true
		}
	}
	return false
}
