package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"github.com/jimyag/jnas/pkg/diskstats"
	"github.com/jimyag/jnas/pkg/mdadm"
	"github.com/jimyag/jnas/pkg/smartctl"
	"github.com/jimyag/jnas/pkg/zfspool"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gorm.io/gorm"
)

// defaultMonitorInterval 健康巡检周期
const defaultMonitorInterval = 60 * time.Second

// historyWindow 性能采样在内存中保留的时间窗口
const historyWindow = 24 * time.Hour

// staleProbeThreshold 连续探测失败多少次后把设备健康升级为 warning
const staleProbeThreshold = 3

// Monitor 健康监控器
//
// 独立后台任务：按固定周期刷新 SMART 数据、重推导设备/池健康状态、
// 采样 I/O 计数器。外部进程调用期间不持有任何锁；
// 每轮迭代的持久化写入走同一个事务，失败整体回滚但循环继续
type Monitor struct {
	smartClient smartctl.SmartctlClient
	mdadmClient mdadm.MdadmClient
	zpoolClient zfspool.ZpoolClient
	provisioner *MountProvisioner
	repo        *repository.Repository
	poolRepo    repository.PoolRepository
	deviceRepo  repository.DeviceRepository

	interval      time.Duration
	diskstatsPath string
	statfs        func(path string) (total, available uint64, err error)

	// 性能时间序列，按设备内核名索引，窗口外的点在追加时剪掉
	histMu  sync.RWMutex
	history map[string][]entity.PerformancePoint
	prev    map[string]diskstats.Stat
	prevAt  time.Time

	// 每设备连续探测失败计数，只在 iterMu 保护下读写
	failures map[string]int

	// 巡检不允许重入；SMART 探测可能阻塞到命令超时，
	// 跑过点的迭代不能和下一轮并发改状态
	iterMu sync.Mutex

	cron   *cron.Cron
	logger zerolog.Logger
	done   chan struct{}
}

// NewMonitor 创建健康监控器
func NewMonitor(
	smartClient smartctl.SmartctlClient,
	mdadmClient mdadm.MdadmClient,
	zpoolClient zfspool.ZpoolClient,
	provisioner *MountProvisioner,
	repo *repository.Repository,
	poolRepo repository.PoolRepository,
	deviceRepo repository.DeviceRepository,
	logger zerolog.Logger,
) *Monitor {
	return &Monitor{
		smartClient:   smartClient,
		mdadmClient:   mdadmClient,
		zpoolClient:   zpoolClient,
		provisioner:   provisioner,
		repo:          repo,
		poolRepo:      poolRepo,
		deviceRepo:    deviceRepo,
		interval:      defaultMonitorInterval,
		diskstatsPath: "/proc/diskstats",
		history:       make(map[string][]entity.PerformancePoint),
		prev:          make(map[string]diskstats.Stat),
		failures:      make(map[string]int),
		logger:        logger,
		done:          make(chan struct{}),
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

// WithInterval 设置巡检周期
func (m *Monitor) WithInterval(interval time.Duration) *Monitor {
	m.interval = interval
	return m
}

// Run 实现 grace.Grace 接口，阻塞运行监控循环直到 Shutdown
func (m *Monitor) Run(ctx context.Context) error {
	ctx = m.logger.WithContext(ctx)

	// 上一轮还没跑完时跳过本次激活，不排队堆积
	m.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := m.cron.AddFunc(fmt.Sprintf("@every %s", m.interval), func() {
		m.Iterate(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule monitor: %w", err)
	}

	// 启动时先跑一轮，不等第一个周期
	m.Iterate(ctx)
	m.cron.Start()
	m.logger.Info().Dur("interval", m.interval).Msg("health monitor started")

	select {
	case <-ctx.Done():
	case <-m.done:
	}
	<-m.cron.Stop().Done()
	return nil
}

// Shutdown 实现 grace.Grace 接口
func (m *Monitor) Shutdown(ctx context.Context) error {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
	return nil
}

// Name 实现 grace.Grace 接口
func (m *Monitor) Name() string {
	return "Health Monitor"
}

// Iterate 执行一轮巡检
//
// 先在不持锁、不开事务的情况下完成全部外部探测，
// 再把这一轮的状态变更放进一个事务提交。
// 单次探测失败只记日志并继续，不会中断循环
func (m *Monitor) Iterate(ctx context.Context) {
	m.iterMu.Lock()
	defer m.iterMu.Unlock()

	logger := zerolog.Ctx(ctx)

	devices, err := m.deviceRepo.List(ctx, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("monitor: list devices failed, skipping iteration")
		return
	}
	pools, err := m.poolRepo.List(ctx, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("monitor: list pools failed, skipping iteration")
		return
	}

	// (a) 刷新每个设备的 SMART 数据
	deviceUpdates := m.probeDevices(ctx, devices)
	// (b) 重推导每个池的状态
	poolUpdates := m.probePools(ctx, pools)
	// (c) 采样 I/O 计数器
	m.samplePerformance(ctx, devices)

	// 本轮全部写入走一个事务，失败回滚但循环继续
	err = m.repo.Transaction(ctx, func(tx *gorm.DB) error {
		for _, dev := range deviceUpdates {
			if err := tx.Save(dev).Error; err != nil {
				return err
			}
		}
		for _, pool := range poolUpdates {
			if err := tx.Save(pool).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("monitor: commit iteration failed, rolled back")
	}
}

// probeDevices 刷新 SMART 数据并重推导设备健康
// 连续 staleProbeThreshold 次探测失败的设备即使没有新数据
// 也升级为 warning（数据陈旧本身就是信号）
func (m *Monitor) probeDevices(ctx context.Context, devices []*model.Device) []*model.Device {
	logger := zerolog.Ctx(ctx)

	updates := make([]*model.Device, 0, len(devices))
	for _, dev := range devices {
		info, err := m.smartClient.Query(ctx, dev.Path)
		if err != nil {
			m.failures[dev.Path]++
			logger.Warn().Err(err).Str("device", dev.Path).
				Int("consecutive_failures", m.failures[dev.Path]).
				Msg("monitor: SMART probe failed")
			if m.failures[dev.Path] >= staleProbeThreshold && dev.Health == entity.DeviceHealthy {
				dev.Health = entity.DeviceWarning
				dev.UpdatedAt = time.Now()
				updates = append(updates, dev)
			}
			continue
		}
		m.failures[dev.Path] = 0

		health := deriveDeviceHealth(info)
		changed := dev.Health != health ||
			dev.Temperature != info.TemperatureC ||
			dev.BadSectors != info.ReallocatedSectors ||
			dev.PowerOnHours != info.PowerOnHours
		if !changed {
			continue
		}
		dev.SmartSupport = info.Supported
		dev.SmartPassed = info.Passed
		dev.Temperature = info.TemperatureC
		dev.PowerOnHours = info.PowerOnHours
		dev.BadSectors = info.ReallocatedSectors
		dev.Health = health
		dev.UpdatedAt = time.Now()
		updates = append(updates, dev)
	}
	return updates
}

// probePools 查询阵列/池状态并映射为池健康
func (m *Monitor) probePools(ctx context.Context, pools []*model.Pool) []*model.Pool {
	logger := zerolog.Ctx(ctx)

	updates := make([]*model.Pool, 0, len(pools))
	for _, pool := range pools {
		state, scrubPct, scrubbing, err := m.probePoolState(ctx, pool)
		if err != nil {
			logger.Warn().Err(err).Str("pool", pool.Name).Msg("monitor: pool state probe failed")
			continue
		}

		status := derivePoolStatus(state)
		if scrubbing {
			// scrub 进行中时保持 SCRUBBING，只刷新进度
			status = entity.PoolScrubbing
		}

		// 挂载目录被外部破坏时自愈，失败只记日志
		if pe, convErr := poolModelToEntity(pool); convErr == nil {
			if err := m.provisioner.VerifyAndFix(ctx, pe); err != nil {
				logger.Warn().Err(err).Str("pool", pool.Name).Msg("monitor: mount point verify failed")
			} else if pe.MountPoint != pool.MountPoint {
				pool.MountPoint = pe.MountPoint
			}
		}

		changed := pool.Status != status || pool.ScrubProgress != scrubPct
		if pool.Status == entity.PoolScrubbing && !scrubbing {
			// scrub 刚结束，记录完成时间并回到推导状态
			now := time.Now()
			pool.LastScrubAt = &now
			changed = true
		}

		// 刷新容量占用
		if total, available, err := m.statfsOf(pool.MountPoint); err == nil && total > 0 {
			used := uint64(0)
			if pool.TotalSize > available {
				used = pool.TotalSize - available
			}
			if pool.AvailableSize != available || pool.UsedSize != used {
				pool.AvailableSize = available
				pool.UsedSize = used
				changed = true
			}
		}

		if !changed {
			continue
		}
		pool.Status = status
		pool.ScrubProgress = scrubPct
		pool.UpdatedAt = time.Now()
		updates = append(updates, pool)
	}
	return updates
}

// probePoolState 查询单个池的底层状态串和 scrub 进度
func (m *Monitor) probePoolState(ctx context.Context, pool *model.Pool) (state string, scrubPct float64, scrubbing bool, err error) {
	if pool.IsZFS() {
		status, err := m.zpoolClient.Status(ctx, pool.Name)
		if err != nil {
			return "", 0, false, err
		}
		pct, running := status.ScrubProgress()
		return status.State, pct, running, nil
	}

	detail, err := m.mdadmClient.Detail(ctx, pool.ArrayDevice)
	if err != nil {
		return "", 0, false, err
	}
	pct, running, err := m.mdadmClient.ScrubProgress(pool.ArrayDevice)
	if err != nil {
		// 进度读不到不影响状态推导
		pct, running = 0, false
	}
	return detail.State, pct, running, nil
}

// samplePerformance 采样 /proc/diskstats 并计算与上次采样之间的速率
func (m *Monitor) samplePerformance(ctx context.Context, devices []*model.Device) {
	logger := zerolog.Ctx(ctx)

	stats, err := diskstats.Read(m.diskstatsPath)
	if err != nil {
		logger.Warn().Err(err).Msg("monitor: read diskstats failed")
		return
	}
	now := time.Now()

	m.histMu.Lock()
	defer m.histMu.Unlock()

	elapsed := now.Sub(m.prevAt).Seconds()
	for _, dev := range devices {
		cur, ok := stats[dev.Name]
		if !ok {
			continue
		}
		prev, hasPrev := m.prev[dev.Name]
		// 第一次采样没有差值；计数器回绕（设备重置）时丢弃该次差值
		if hasPrev && elapsed > 0 &&
			cur.ReadSectors >= prev.ReadSectors && cur.WriteSectors >= prev.WriteSectors {
			point := entity.PerformancePoint{
				Timestamp: now,
				ReadRate:  float64(cur.ReadBytes()-prev.ReadBytes()) / elapsed,
				WriteRate: float64(cur.WriteBytes()-prev.WriteBytes()) / elapsed,
				ReadIOPS:  float64(cur.ReadOps-prev.ReadOps) / elapsed,
				WriteIOPS: float64(cur.WriteOps-prev.WriteOps) / elapsed,
			}
			m.history[dev.Name] = appendPruned(m.history[dev.Name], point, now.Add(-historyWindow))
		}
		m.prev[dev.Name] = cur
	}
	m.prevAt = now
}

// GetPerformance 返回设备最近 hours 小时内的性能采样
// 返回的是副本，调用方可以随意持有
func (m *Monitor) GetPerformance(device string, hours int) []entity.PerformancePoint {
	if hours <= 0 || time.Duration(hours)*time.Hour > historyWindow {
		hours = int(historyWindow / time.Hour)
	}
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	m.histMu.RLock()
	defer m.histMu.RUnlock()

	series := m.history[strings.TrimPrefix(device, "/dev/")]
	out := make([]entity.PerformancePoint, 0, len(series))
	for _, point := range series {
		if point.Timestamp.After(cutoff) {
			out = append(out, point)
		}
	}
	return out
}

// statfsOf 读取挂载点容量，statfs 可注入便于测试
func (m *Monitor) statfsOf(path string) (uint64, uint64, error) {
	if m.statfs != nil {
		return m.statfs(path)
	}
	return 0, 0, fmt.Errorf("statfs unavailable")
}

// appendPruned 追加采样点并剪掉窗口外的旧点
// 窗口上界由数据结构保证，不依赖调用方自觉
func appendPruned(series []entity.PerformancePoint, point entity.PerformancePoint, cutoff time.Time) []entity.PerformancePoint {
	series = append(series, point)
	idx := 0
	for idx < len(series) && !series[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		series = append(series[:0], series[idx:]...)
	}
	return series
}

// derivePoolStatus 把底层阵列/池状态串映射为池健康状态
// mdadm 的状态串（如 "clean, degraded"）按逗号拆词比较，
// ZFS 的状态（ONLINE/DEGRADED/FAULTED）统一转小写后走同一张表
func derivePoolStatus(state string) string {
	hasReady := false
	for _, token := range splitStateTokens(state) {
		switch token {
		case "degraded":
			return entity.PoolDegraded
		case "failed", "faulted", "unavail":
			return entity.PoolFailed
		case "inactive", "offline":
			return entity.PoolOffline
		case "clean", "active", "online", "write-pending", "active-idle":
			hasReady = true
		}
	}
	if hasReady {
		return entity.PoolHealthy
	}
	return entity.PoolOffline
}

// splitStateTokens 把状态串拆成小写整词
func splitStateTokens(state string) []string {
	parts := strings.Split(strings.ToLower(state), ",")
	tokens := make([]string, 0, len(parts))
	for _, part := range parts {
		if token := strings.TrimSpace(part); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
