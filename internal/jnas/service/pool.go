package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"github.com/jimyag/jnas/pkg/cmdrunner"
	"github.com/jimyag/jnas/pkg/idgen"
	"github.com/jimyag/jnas/pkg/mdadm"
	"github.com/jimyag/jnas/pkg/zfspool"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gorm.io/gorm"
)

// 阵列创建后的就绪等待参数
const (
	defaultWaitTimeout  = 60 * time.Second
	defaultWaitInterval = 2 * time.Second
)

// defaultChunkKB 条带/奇偶校验布局的 chunk 大小
const defaultChunkKB = 512

// mkfsFlags 每种文件系统的强制创建参数
var mkfsFlags = map[string][]string{
	"ext4":  {"-F"},
	"xfs":   {"-f"},
	"btrfs": {"-f"},
}

// PoolService 存储池编排器
// 驱动阵列/池创建、文件系统创建、挂载目录准备和记录落库
//
// 创建/删除是长耗时操作，本服务自身不加锁；调用方负责保证
// 同名池同时只有一个在途的创建/删除
type PoolService struct {
	validator   *Validator
	mdadmClient mdadm.MdadmClient
	zpoolClient zfspool.ZpoolClient
	runner      cmdrunner.Runner
	provisioner *MountProvisioner
	scanner     *Scanner
	poolRepo    repository.PoolRepository
	deviceRepo  repository.DeviceRepository
	idGen       *idgen.Generator

	waitTimeout  time.Duration
	waitInterval time.Duration
	statfs       func(path string) (total, available uint64, err error)
}

// NewPoolService 创建存储池编排器
func NewPoolService(
	validator *Validator,
	mdadmClient mdadm.MdadmClient,
	zpoolClient zfspool.ZpoolClient,
	runner cmdrunner.Runner,
	provisioner *MountProvisioner,
	scanner *Scanner,
	poolRepo repository.PoolRepository,
	deviceRepo repository.DeviceRepository,
) *PoolService {
	return &PoolService{
		validator:    validator,
		mdadmClient:  mdadmClient,
		zpoolClient:  zpoolClient,
		runner:       runner,
		provisioner:  provisioner,
		scanner:      scanner,
		poolRepo:     poolRepo,
		deviceRepo:   deviceRepo,
		idGen:        idgen.DefaultGenerator(),
		waitTimeout:  defaultWaitTimeout,
		waitInterval: defaultWaitInterval,
		statfs: func(path string) (uint64, uint64, error) {
			var st unix.Statfs_t
			if err := unix.Statfs(path, &st); err != nil {
				return 0, 0, err
			}
			bsize := uint64(st.Bsize)
			return st.Blocks * bsize, st.Bavail * bsize, nil
		},
	}
}

// CreatePool 创建存储池
//
// 每一步失败都立即终止；阵列已经创建但后续步骤失败时，
// 返回错误前会尽力停掉半成品阵列并清除 superblock
func (s *PoolService) CreatePool(ctx context.Context, req *entity.CreatePoolRequest) (*entity.Pool, error) {
	logger := zerolog.Ctx(ctx)

	if req.Name == "" {
		return nil, &entity.ValidationError{Field: "name", Reason: "pool name is required"}
	}
	isZFS := req.Filesystem == "zfs"
	if !isZFS {
		if _, ok := mkfsFlags[req.Filesystem]; !ok {
			return nil, &entity.ValidationError{
				Field:  "filesystem",
				Reason: fmt.Sprintf("unsupported filesystem %q", req.Filesystem),
			}
		}
	}
	if _, err := s.poolRepo.GetByName(ctx, req.Name); err == nil {
		return nil, &entity.ValidationError{
			Field:  "name",
			Reason: fmt.Sprintf("pool %q already exists", req.Name),
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup pool %s: %w", req.Name, err)
	}

	// 1. 拓扑与设备校验
	topo, err := entity.LookupTopology(req.Topology, isZFS)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(ctx, topo, req.Devices, req.Spares); err != nil {
		return nil, err
	}

	sizes, err := s.deviceSizes(ctx, req.Devices)
	if err != nil {
		return nil, err
	}
	totalSize := topo.UsableSize(sizes)

	mountPoint := req.MountPoint
	if mountPoint == "" {
		mountPoint = filepath.Join("/mnt", req.Name)
	}

	var arrayDevice string
	if isZFS {
		mountPoint, err = s.createZFS(ctx, req, topo, mountPoint)
	} else {
		arrayDevice, mountPoint, err = s.createArray(ctx, req, topo, mountPoint)
	}
	if err != nil {
		return nil, err
	}

	// 7. 落库
	pool, err := s.persistPool(ctx, req, topo, arrayDevice, mountPoint, totalSize)
	if err != nil {
		// 记录写不进去时不能留下一个运行中的无主阵列，按删除路径拆掉
		logger.Error().Err(err).Str("pool", req.Name).Msg("persisting records failed, unwinding created pool")
		s.unwindCreated(ctx, req, isZFS, arrayDevice, mountPoint)
		return nil, fmt.Errorf("persist pool %s: %w", req.Name, err)
	}

	logger.Info().
		Str("pool", pool.Name).
		Str("topology", pool.Topology).
		Str("mount_point", pool.MountPoint).
		Uint64("total_size", pool.TotalSize).
		Msg("pool created")
	return pool, nil
}

// createArray 走 mdadm 路径：创建阵列、等待就绪、建文件系统、挂载
// 返回 (阵列设备, 实际挂载点)
func (s *PoolService) createArray(ctx context.Context, req *entity.CreatePoolRequest, topo *entity.Topology, mountPoint string) (string, string, error) {
	logger := zerolog.Ctx(ctx)

	// 2. 分配下一个空闲阵列设备
	arrayDevice, err := s.mdadmClient.NextFreeDevice()
	if err != nil {
		return "", "", err
	}

	// 3. 创建阵列
	opts := mdadm.CreateOptions{Spares: req.Spares}
	if topo.Striped {
		opts.ChunkKB = defaultChunkKB
	}
	if topo.Redundant {
		opts.Bitmap = true
	}
	if err := s.mdadmClient.Create(ctx, arrayDevice, topo.MdadmLevel, req.Devices, opts); err != nil {
		return "", "", err
	}

	// 创建命令成功后任何失败都要尽力收拾半成品
	unwind := func(cause error) error {
		logger.Warn().Err(cause).Str("array", arrayDevice).Msg("unwinding partially created array")
		if err := s.mdadmClient.Stop(ctx, arrayDevice); err != nil {
			logger.Warn().Err(err).Str("array", arrayDevice).Msg("stop array during unwind failed")
		}
		for _, dev := range append(append([]string{}, req.Devices...), req.Spares...) {
			if err := s.mdadmClient.ZeroSuperblock(ctx, dev); err != nil {
				logger.Warn().Err(err).Str("device", dev).Msg("zero superblock during unwind failed")
			}
		}
		return cause
	}

	// 4. 等待阵列进入 clean/active
	if err := s.waitArrayReady(ctx, arrayDevice); err != nil {
		return "", "", unwind(err)
	}

	// 5. 创建文件系统
	argv := append([]string{"mkfs." + req.Filesystem}, mkfsFlags[req.Filesystem]...)
	argv = append(argv, arrayDevice)
	if _, stderr, err := s.runner.RunTimeout(ctx, 10*time.Minute, argv...); err != nil {
		return "", "", unwind(fmt.Errorf("create %s filesystem on %s: %w: %s",
			req.Filesystem, arrayDevice, err, stderr))
	}

	// 6. 准备并挂载存储目录
	effective, err := s.provisioner.EnsureMountPoint(ctx, mountPoint, req.Name)
	if err != nil {
		return "", "", unwind(err)
	}
	if _, stderr, err := s.runner.Run(ctx, "mount", arrayDevice, effective); err != nil {
		return "", "", unwind(fmt.Errorf("mount %s at %s: %w: %s", arrayDevice, effective, err, stderr))
	}

	return arrayDevice, effective, nil
}

// createZFS 走 zpool 路径：准备目录后由 zpool 自行建池和挂载
// 返回实际挂载点
func (s *PoolService) createZFS(ctx context.Context, req *entity.CreatePoolRequest, topo *entity.Topology, mountPoint string) (string, error) {
	effective, err := s.provisioner.EnsureMountPoint(ctx, mountPoint, req.Name)
	if err != nil {
		return "", err
	}
	if err := s.zpoolClient.Create(ctx, req.Name, topo.VdevType, effective, req.Devices); err != nil {
		return "", err
	}
	return effective, nil
}

// unwindCreated 拆除已经建成但没有落库的池
// 步骤与 DeletePool 的外部操作一致，只是没有记录可删；
// 每一步都尽力执行，失败只记日志
func (s *PoolService) unwindCreated(ctx context.Context, req *entity.CreatePoolRequest, isZFS bool, arrayDevice, mountPoint string) {
	logger := zerolog.Ctx(ctx)

	if isZFS {
		if err := s.zpoolClient.Destroy(ctx, req.Name); err != nil {
			logger.Warn().Err(err).Str("pool", req.Name).Msg("destroy pool during unwind failed")
		}
	} else {
		if _, stderr, err := s.runner.Run(ctx, "umount", mountPoint); err != nil {
			logger.Debug().Err(err).Str("stderr", stderr).Str("array", arrayDevice).Msg("unmount during unwind failed")
		}
		if err := s.mdadmClient.Stop(ctx, arrayDevice); err != nil {
			logger.Warn().Err(err).Str("array", arrayDevice).Msg("stop array during unwind failed")
		}
		for _, dev := range append(append([]string{}, req.Devices...), req.Spares...) {
			if err := s.mdadmClient.ZeroSuperblock(ctx, dev); err != nil {
				logger.Warn().Err(err).Str("device", dev).Msg("zero superblock during unwind failed")
			}
		}
	}
	s.provisioner.RemoveMountPoint(ctx, mountPoint)
}

// waitArrayReady 轮询阵列状态直到 clean/active，超时报错
func (s *PoolService) waitArrayReady(ctx context.Context, arrayDevice string) error {
	deadline := time.Now().Add(s.waitTimeout)
	for {
		detail, err := s.mdadmClient.Detail(ctx, arrayDevice)
		if err == nil && arrayStateReady(detail.State) {
			return nil
		}
		if time.Now().After(deadline) {
			state := "unknown"
			if detail != nil {
				state = detail.State
			}
			return fmt.Errorf("array %s did not become ready within %s (state: %s)",
				arrayDevice, s.waitTimeout, state)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.waitInterval):
		}
	}
}

// persistPool 写入池记录并登记成员设备
func (s *PoolService) persistPool(ctx context.Context, req *entity.CreatePoolRequest, topo *entity.Topology, arrayDevice, mountPoint string, totalSize uint64) (*entity.Pool, error) {
	id, err := s.idGen.GeneratePoolID()
	if err != nil {
		return nil, err
	}

	m := &model.Pool{
		ID:          id,
		Name:        req.Name,
		Topology:    topo.Name,
		Filesystem:  req.Filesystem,
		ArrayDevice: arrayDevice,
		MountPoint:  mountPoint,
		TotalSize:   totalSize,
		Status:      entity.PoolHealthy,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if total, available, err := s.statfs(mountPoint); err == nil && total > 0 {
		m.AvailableSize = available
		if totalSize > available {
			m.UsedSize = totalSize - available
		}
	}
	if err := s.poolRepo.Create(ctx, m); err != nil {
		return nil, err
	}

	pool, err := poolModelToEntity(m)
	if err != nil {
		return nil, err
	}

	members := append(append([]string{}, req.Devices...), req.Spares...)
	for _, path := range members {
		dev, err := s.deviceRepo.GetByPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("load device %s: %w", path, err)
		}
		dev.PoolID = id
		if err := s.deviceRepo.Update(ctx, dev); err != nil {
			return nil, fmt.Errorf("attach device %s to pool: %w", path, err)
		}
		pool.DeviceIDs = append(pool.DeviceIDs, dev.ID)
	}

	return pool, nil
}

// deviceSizes 取成员设备的容量，设备必须已被扫描纳管
func (s *PoolService) deviceSizes(ctx context.Context, paths []string) ([]uint64, error) {
	sizes := make([]uint64, 0, len(paths))
	for _, path := range paths {
		dev, err := s.deviceRepo.GetByPath(ctx, path)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// 首次使用时设备可能还没入库，补一次扫描
				if _, scanErr := s.scanner.Scan(ctx, true); scanErr == nil {
					if dev, err = s.deviceRepo.GetByPath(ctx, path); err == nil {
						sizes = append(sizes, dev.Size)
						continue
					}
				}
				return nil, &entity.ValidationError{
					Field:  "devices",
					Reason: fmt.Sprintf("device %s is not a managed device", path),
				}
			}
			return nil, err
		}
		sizes = append(sizes, dev.Size)
	}
	return sizes, nil
}

// DeletePool 删除存储池
//
// 与创建相反：卸载、停阵列（或销毁 zpool）、清 superblock、
// 清理挂载目录、解除成员设备归属、软删除池记录
func (s *PoolService) DeletePool(ctx context.Context, id string) error {
	logger := zerolog.Ctx(ctx)

	m, err := s.poolRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", id, err)
	}
	devices, err := s.deviceRepo.ListByPool(ctx, id)
	if err != nil {
		return fmt.Errorf("list pool devices: %w", err)
	}

	if m.IsZFS() {
		if err := s.zpoolClient.Destroy(ctx, m.Name); err != nil {
			return err
		}
	} else {
		// 卸载失败通常意味着本就没挂载，记录后继续
		if _, stderr, err := s.runner.Run(ctx, "umount", m.MountPoint); err != nil {
			logger.Debug().Err(err).Str("stderr", stderr).Str("pool", m.Name).Msg("unmount failed, continuing")
		}
		if err := s.mdadmClient.Stop(ctx, m.ArrayDevice); err != nil {
			return err
		}
		for _, dev := range devices {
			if err := s.mdadmClient.ZeroSuperblock(ctx, dev.Path); err != nil {
				logger.Warn().Err(err).Str("device", dev.Path).Msg("zero superblock failed")
			}
		}
	}

	s.provisioner.RemoveMountPoint(ctx, m.MountPoint)

	if err := s.deviceRepo.ClearPool(ctx, id); err != nil {
		return fmt.Errorf("release pool devices: %w", err)
	}
	if err := s.poolRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete pool record: %w", err)
	}

	logger.Info().Str("pool", m.Name).Msg("pool deleted")
	return nil
}

// StartScrub 触发池的一致性校验
func (s *PoolService) StartScrub(ctx context.Context, id string) error {
	m, err := s.poolRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load pool %s: %w", id, err)
	}

	if m.IsZFS() {
		if err := s.zpoolClient.Scrub(ctx, m.Name); err != nil {
			return err
		}
	} else {
		if err := s.mdadmClient.StartScrub(m.ArrayDevice); err != nil {
			return err
		}
	}

	m.Status = entity.PoolScrubbing
	m.ScrubProgress = 0
	if err := s.poolRepo.Update(ctx, m); err != nil {
		return fmt.Errorf("update pool status: %w", err)
	}

	zerolog.Ctx(ctx).Info().Str("pool", m.Name).Msg("scrub started")
	return nil
}

// GetPool 按 ID 获取池
func (s *PoolService) GetPool(ctx context.Context, id string) (*entity.Pool, error) {
	m, err := s.poolRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withDeviceIDs(ctx, m)
}

// GetPoolByName 按名称获取池
func (s *PoolService) GetPoolByName(ctx context.Context, name string) (*entity.Pool, error) {
	m, err := s.poolRepo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.withDeviceIDs(ctx, m)
}

// ListPools 列出所有池
func (s *PoolService) ListPools(ctx context.Context) ([]*entity.Pool, error) {
	models, err := s.poolRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	pools := make([]*entity.Pool, 0, len(models))
	for _, m := range models {
		pool, err := s.withDeviceIDs(ctx, m)
		if err != nil {
			return nil, err
		}
		pools = append(pools, pool)
	}
	return pools, nil
}

// withDeviceIDs 转换为实体并补上成员设备 ID
func (s *PoolService) withDeviceIDs(ctx context.Context, m *model.Pool) (*entity.Pool, error) {
	pool, err := poolModelToEntity(m)
	if err != nil {
		return nil, err
	}
	devices, err := s.deviceRepo.ListByPool(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		pool.DeviceIDs = append(pool.DeviceIDs, dev.ID)
	}
	return pool, nil
}

// arrayStateReady 阵列状态是否已就绪
// 按逗号拆分状态串做整词比较，避免 "inactive" 误匹配 "active"
func arrayStateReady(state string) bool {
	for _, token := range splitStateTokens(state) {
		if token == "clean" || token == "active" {
			return true
		}
	}
	return false
}
