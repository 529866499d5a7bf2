package service

import (
	"context"
	"sync"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/pkg/idgen"
	"github.com/jimyag/jnas/pkg/lsblk"
	"github.com/jimyag/jnas/pkg/smartctl"
	"github.com/rs/zerolog"
)

// minDeviceSize 参与候选的最小设备容量（1 GiB）
// 更小的设备基本是引导介质或虚拟设备，不值得纳管
const minDeviceSize = 1 << 30

// defaultScanTTL 扫描结果缓存时长
const defaultScanTTL = 5 * time.Minute

// 温度和坏道的告警阈值
const (
	warnTemperature = 60 // 摄氏度
	warnBadSectors  = 0  // 大于该值告警
)

// Scanner 块设备扫描器
// 枚举候选整盘设备，合并 SMART 数据，结果带 TTL 缓存
type Scanner struct {
	lsblkClient lsblk.LsblkClient
	smartClient smartctl.SmartctlClient
	deviceRepo  repository.DeviceRepository
	idGen       *idgen.Generator
	ttl         time.Duration

	// 缓存整体替换，强制扫描可以和缓存读并发进行
	mu       sync.RWMutex
	cached   []*entity.Device
	cachedAt time.Time
}

// NewScanner 创建设备扫描器
func NewScanner(
	lsblkClient lsblk.LsblkClient,
	smartClient smartctl.SmartctlClient,
	deviceRepo repository.DeviceRepository,
) *Scanner {
	return &Scanner{
		lsblkClient: lsblkClient,
		smartClient: smartClient,
		deviceRepo:  deviceRepo,
		idGen:       idgen.DefaultGenerator(),
		ttl:         defaultScanTTL,
	}
}

// WithTTL 设置缓存时长
func (s *Scanner) WithTTL(ttl time.Duration) *Scanner {
	s.ttl = ttl
	return s
}

// Scan 扫描块设备
// force 为 true 时绕过缓存重新探测；否则 TTL 内返回上次结果。
// 没有任何可发现的设备（例如无特权环境）时返回空列表而不是报错，
// 由调用方决定是否退回手工录入
func (s *Scanner) Scan(ctx context.Context, force bool) ([]*entity.Device, error) {
	if !force {
		s.mu.RLock()
		if s.cached != nil && time.Since(s.cachedAt) < s.ttl {
			cached := s.cached
			s.mu.RUnlock()
			return cached, nil
		}
		s.mu.RUnlock()
	}

	logger := zerolog.Ctx(ctx)

	disks, err := s.lsblkClient.ListDisks(ctx)
	if err != nil {
		// 没有特权或工具不可用时优雅降级为空结果
		logger.Warn().Err(err).Msg("block device enumeration failed, returning empty device list")
		s.replaceCache(nil)
		return []*entity.Device{}, nil
	}

	devices := make([]*entity.Device, 0, len(disks))
	for _, disk := range disks {
		if !candidate(disk) {
			continue
		}

		dev := &entity.Device{
			Path:       disk.Path,
			Name:       disk.Name,
			Model:      disk.Model,
			Serial:     disk.Serial,
			Size:       disk.Size,
			SectorSize: disk.SectorSize,
			Rotational: disk.Rotational,
			Transport:  disk.Transport,
			Health:     entity.DeviceHealthy,
		}

		info, err := s.smartClient.Query(ctx, disk.Path)
		if err != nil {
			logger.Debug().Err(err).Str("device", disk.Path).Msg("SMART query failed")
			info = &smartctl.Info{}
		}
		dev.SmartSupport = info.Supported
		dev.SmartPassed = info.Passed
		dev.Temperature = info.TemperatureC
		dev.PowerOnHours = info.PowerOnHours
		dev.BadSectors = info.ReallocatedSectors
		dev.Health = deriveDeviceHealth(info)

		saved, err := s.persist(ctx, dev)
		if err != nil {
			logger.Warn().Err(err).Str("device", disk.Path).Msg("persist device record failed")
		} else {
			dev = saved
		}
		devices = append(devices, dev)
	}

	s.replaceCache(devices)
	logger.Debug().Int("count", len(devices)).Bool("force", force).Msg("device scan completed")
	return devices, nil
}

// GetDevice 按路径返回已纳管的设备
func (s *Scanner) GetDevice(ctx context.Context, path string) (*entity.Device, error) {
	m, err := s.deviceRepo.GetByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	return deviceModelToEntity(m)
}

// candidate 判断设备是否进入候选集
// 非整盘、小于 1 GiB 或已有挂载点的设备被排除
func candidate(disk lsblk.BlockDevice) bool {
	if disk.Type != "disk" {
		return false
	}
	if disk.Size < minDeviceSize {
		return false
	}
	if disk.MountPoint != "" {
		return false
	}
	return true
}

// deriveDeviceHealth 从 SMART 数据推导设备健康状态
// 优先级：SMART 自检失败 > 温度/坏道告警 > 健康
func deriveDeviceHealth(info *smartctl.Info) string {
	if info.Supported && !info.Passed {
		return entity.DeviceFailed
	}
	if info.TemperatureC > warnTemperature || info.ReallocatedSectors > warnBadSectors {
		return entity.DeviceWarning
	}
	return entity.DeviceHealthy
}

// persist 把扫描结果落库，保留已有记录的 ID 和池归属
func (s *Scanner) persist(ctx context.Context, dev *entity.Device) (*entity.Device, error) {
	m, err := deviceEntityToModel(dev)
	if err != nil {
		return nil, err
	}
	if m.ID == "" {
		id, err := s.idGen.GenerateDeviceID()
		if err != nil {
			return nil, err
		}
		m.ID = id
		m.CreatedAt = time.Now()
	}
	saved, err := s.deviceRepo.Upsert(ctx, m)
	if err != nil {
		return nil, err
	}
	return deviceModelToEntity(saved)
}

// replaceCache 原子替换缓存
func (s *Scanner) replaceCache(devices []*entity.Device) {
	s.mu.Lock()
	s.cached = devices
	s.cachedAt = time.Now()
	s.mu.Unlock()
}
