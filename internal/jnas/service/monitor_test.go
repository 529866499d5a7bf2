package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/internal/jnas/repository/model"
	"github.com/jimyag/jnas/pkg/mdadm"
	"github.com/jimyag/jnas/pkg/smartctl"
	"github.com/jimyag/jnas/pkg/zfspool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type monitorTestEnv struct {
	monitor    *Monitor
	mockSmart  *smartctl.MockClient
	mockMdadm  *mdadm.MockClient
	mockZpool  *zfspool.MockClient
	poolRepo   repository.PoolRepository
	deviceRepo repository.DeviceRepository
}

func setupMonitor(t *testing.T) *monitorTestEnv {
	t.Helper()

	repo := setupTestRepo(t)
	poolRepo := repository.NewPoolRepository(repo.DB())
	deviceRepo := repository.NewDeviceRepository(repo.DB())

	mockSmart := smartctl.NewMockClient()
	mockMdadm := mdadm.NewMockClient()
	mockZpool := zfspool.NewMockClient()
	provisioner := NewMountProvisioner(t.TempDir(), poolRepo)

	m := NewMonitor(mockSmart, mockMdadm, mockZpool, provisioner,
		repo, poolRepo, deviceRepo, zerolog.Nop())
	// 默认指向不存在的文件，采样静默跳过
	m.diskstatsPath = filepath.Join(t.TempDir(), "diskstats")
	m.statfs = func(string) (uint64, uint64, error) { return 0, 0, os.ErrNotExist }

	return &monitorTestEnv{
		monitor:    m,
		mockSmart:  mockSmart,
		mockMdadm:  mockMdadm,
		mockZpool:  mockZpool,
		poolRepo:   poolRepo,
		deviceRepo: deviceRepo,
	}
}

func (e *monitorTestEnv) seedDevice(t *testing.T, path, health string) *model.Device {
	t.Helper()
	saved, err := e.deviceRepo.Upsert(context.Background(), &model.Device{
		ID:           "dev-" + filepath.Base(path),
		Path:         path,
		Name:         filepath.Base(path),
		Size:         500_000_000_000,
		SmartSupport: true,
		SmartPassed:  true,
		Temperature:  35,
		Health:       health,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	})
	require.NoError(t, err)
	return saved
}

func (e *monitorTestEnv) seedPool(t *testing.T, fs, mountPoint, status string) *model.Pool {
	t.Helper()
	pool := &model.Pool{
		ID:          "pool-1",
		Name:        "tank",
		Topology:    "mirror",
		Filesystem:  fs,
		ArrayDevice: "/dev/md0",
		MountPoint:  mountPoint,
		TotalSize:   500_000_000_000,
		Status:      status,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if fs == "zfs" {
		pool.ArrayDevice = ""
	}
	require.NoError(t, e.poolRepo.Create(context.Background(), pool))
	return pool
}

func TestDerivePoolStatus(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		state  string
		status string
	}{
		{state: "clean", status: entity.PoolHealthy},
		{state: "active", status: entity.PoolHealthy},
		{state: "active-idle", status: entity.PoolHealthy},
		{state: "clean, degraded", status: entity.PoolDegraded},
		{state: "active, degraded, resyncing", status: entity.PoolDegraded},
		{state: "inactive", status: entity.PoolOffline},
		{state: "clean, FAILED", status: entity.PoolFailed},
		{state: "ONLINE", status: entity.PoolHealthy},
		{state: "DEGRADED", status: entity.PoolDegraded},
		{state: "FAULTED", status: entity.PoolFailed},
		{state: "UNAVAIL", status: entity.PoolFailed},
		{state: "", status: entity.PoolOffline},
		{state: "resyncing", status: entity.PoolOffline},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run("state "+tc.state, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.status, derivePoolStatus(tc.state))
		})
	}
}

func TestIterateUpdatesDeviceHealth(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedDevice(t, "/dev/sda", entity.DeviceHealthy)

	// 温度越过告警阈值
	env.mockSmart.On("Query", mock.Anything, "/dev/sda").
		Return(&smartctl.Info{Supported: true, Passed: true, TemperatureC: 65}, nil)

	env.monitor.Iterate(ctx)

	dev, err := env.deviceRepo.GetByPath(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, entity.DeviceWarning, dev.Health)
	assert.Equal(t, 65, dev.Temperature)
}

func TestIterateStaleProbeEscalation(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedDevice(t, "/dev/sda", entity.DeviceHealthy)

	env.mockSmart.On("Query", mock.Anything, "/dev/sda").
		Return(nil, assert.AnError)

	// 前两次失败不改状态
	env.monitor.Iterate(ctx)
	env.monitor.Iterate(ctx)
	dev, err := env.deviceRepo.GetByPath(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, entity.DeviceHealthy, dev.Health)

	// 第三次连续失败后数据视为陈旧
	env.monitor.Iterate(ctx)
	dev, err = env.deviceRepo.GetByPath(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, entity.DeviceWarning, dev.Health)
}

func TestIterateConcurrentInvocations(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedDevice(t, "/dev/sda", entity.DeviceHealthy)

	env.mockSmart.On("Query", mock.Anything, "/dev/sda").
		Return(nil, assert.AnError)

	// 并发触发的巡检串行执行，失败计数不丢不撕裂
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			env.monitor.Iterate(ctx)
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, env.monitor.failures["/dev/sda"])
	dev, err := env.deviceRepo.GetByPath(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, entity.DeviceWarning, dev.Health)
}

func TestIterateRecoveryResetsFailureCount(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedDevice(t, "/dev/sda", entity.DeviceHealthy)

	env.mockSmart.On("Query", mock.Anything, "/dev/sda").
		Return(nil, assert.AnError).Twice()
	env.mockSmart.On("Query", mock.Anything, "/dev/sda").
		Return(&smartctl.Info{Supported: true, Passed: true, TemperatureC: 36}, nil)

	env.monitor.Iterate(ctx)
	env.monitor.Iterate(ctx)
	// 探测恢复，计数清零
	env.monitor.Iterate(ctx)
	env.monitor.Iterate(ctx)

	dev, err := env.deviceRepo.GetByPath(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, entity.DeviceHealthy, dev.Health)
}

func TestIterateUpdatesPoolStatus(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	mountPoint := t.TempDir()
	env.seedPool(t, "ext4", mountPoint, entity.PoolHealthy)

	env.mockMdadm.On("Detail", mock.Anything, "/dev/md0").
		Return(&mdadm.Detail{State: "clean, degraded"}, nil)
	env.mockMdadm.On("ScrubProgress", "/dev/md0").Return(float64(0), false, nil)
	env.monitor.statfs = func(string) (uint64, uint64, error) {
		return 500_000_000_000, 100_000_000_000, nil
	}

	env.monitor.Iterate(ctx)

	m, err := env.poolRepo.GetByID(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PoolDegraded, m.Status)
	assert.Equal(t, uint64(100_000_000_000), m.AvailableSize)
	assert.Equal(t, uint64(400_000_000_000), m.UsedSize)
}

func TestIterateScrubLifecycle(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	mountPoint := t.TempDir()
	env.seedPool(t, "ext4", mountPoint, entity.PoolScrubbing)

	env.mockMdadm.On("Detail", mock.Anything, "/dev/md0").
		Return(&mdadm.Detail{State: "clean"}, nil)
	// 第一轮还在跑，第二轮已结束
	env.mockMdadm.On("ScrubProgress", "/dev/md0").Return(40.5, true, nil).Once()
	env.mockMdadm.On("ScrubProgress", "/dev/md0").Return(float64(0), false, nil)

	env.monitor.Iterate(ctx)
	m, err := env.poolRepo.GetByID(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PoolScrubbing, m.Status)
	assert.InDelta(t, 40.5, m.ScrubProgress, 0.01)
	assert.Nil(t, m.LastScrubAt)

	env.monitor.Iterate(ctx)
	m, err = env.poolRepo.GetByID(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PoolHealthy, m.Status)
	require.NotNil(t, m.LastScrubAt)
	assert.WithinDuration(t, time.Now(), *m.LastScrubAt, time.Minute)
}

func TestIterateZFSPool(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedPool(t, "zfs", t.TempDir(), entity.PoolHealthy)

	env.mockZpool.On("Status", mock.Anything, "tank").
		Return(&zfspool.Status{Name: "tank", State: "DEGRADED"}, nil)

	env.monitor.Iterate(ctx)

	m, err := env.poolRepo.GetByID(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PoolDegraded, m.Status)
	env.mockMdadm.AssertNotCalled(t, "Detail", mock.Anything, mock.Anything)
}

func TestIterateProbeFailureKeepsState(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	env.seedPool(t, "ext4", t.TempDir(), entity.PoolHealthy)

	env.mockMdadm.On("Detail", mock.Anything, "/dev/md0").
		Return(nil, assert.AnError)

	env.monitor.Iterate(ctx)

	// 探测失败只记日志，状态保持不变
	m, err := env.poolRepo.GetByID(ctx, "pool-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PoolHealthy, m.Status)
}

// diskstatsLine 组装一行 diskstats 格式的内容
func diskstatsLine(name string, readOps, readSectors, writeOps, writeSectors uint64) string {
	return fmt.Sprintf("   8       0 %s %d 0 %d 100 %d 0 %d 200 0 300 400\n",
		name, readOps, readSectors, writeOps, writeSectors)
}

func TestSamplePerformance(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	ctx := context.Background()
	statsPath := filepath.Join(t.TempDir(), "diskstats")
	env.monitor.diskstatsPath = statsPath

	devices := []*model.Device{{ID: "dev-1", Path: "/dev/sda", Name: "sda"}}

	// 第一次采样只建立基线，没有差值
	require.NoError(t, os.WriteFile(statsPath,
		[]byte(diskstatsLine("sda", 100, 1000, 200, 2000)), 0o644))
	env.monitor.samplePerformance(ctx, devices)
	assert.Empty(t, env.monitor.GetPerformance("/dev/sda", 1))

	// 把上次采样时间拨回 60 秒，差值按这个间隔折算速率
	require.NoError(t, os.WriteFile(statsPath,
		[]byte(diskstatsLine("sda", 700, 61000, 800, 32000)), 0o644))
	env.monitor.prevAt = time.Now().Add(-time.Minute)
	env.monitor.samplePerformance(ctx, devices)

	points := env.monitor.GetPerformance("/dev/sda", 1)
	require.Len(t, points, 1)
	// 60000 扇区 * 512 字节 / 60 秒
	assert.InDelta(t, 512_000, points[0].ReadRate, 5_000)
	assert.InDelta(t, 256_000, points[0].WriteRate, 2_500)
	assert.InDelta(t, 10, points[0].ReadIOPS, 0.5)
	assert.InDelta(t, 10, points[0].WriteIOPS, 0.5)

	// 计数器回绕（设备重置）时丢弃该次差值
	require.NoError(t, os.WriteFile(statsPath,
		[]byte(diskstatsLine("sda", 10, 100, 20, 200)), 0o644))
	env.monitor.prevAt = time.Now().Add(-time.Minute)
	env.monitor.samplePerformance(ctx, devices)
	assert.Len(t, env.monitor.GetPerformance("/dev/sda", 1), 1)
}

func TestGetPerformanceTrimsPrefixAndWindow(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	now := time.Now()
	env.monitor.history["sda"] = []entity.PerformancePoint{
		{Timestamp: now.Add(-3 * time.Hour), ReadRate: 1},
		{Timestamp: now.Add(-30 * time.Minute), ReadRate: 2},
	}

	// 带不带 /dev/ 前缀等价
	assert.Len(t, env.monitor.GetPerformance("/dev/sda", 1), 1)
	assert.Len(t, env.monitor.GetPerformance("sda", 1), 1)
	assert.Len(t, env.monitor.GetPerformance("sda", 4), 2)
	// 超出窗口的请求收敛到窗口上限
	assert.Len(t, env.monitor.GetPerformance("sda", 0), 2)
	assert.Empty(t, env.monitor.GetPerformance("sdb", 1))
}

func TestAppendPruned(t *testing.T) {
	t.Parallel()

	now := time.Now()
	series := []entity.PerformancePoint{
		{Timestamp: now.Add(-25 * time.Hour)},
		{Timestamp: now.Add(-2 * time.Hour)},
	}

	series = appendPruned(series, entity.PerformancePoint{Timestamp: now}, now.Add(-historyWindow))
	require.Len(t, series, 2)
	assert.Equal(t, now.Add(-2*time.Hour), series[0].Timestamp)
	assert.Equal(t, now, series[1].Timestamp)
}

func TestMonitorShutdown(t *testing.T) {
	t.Parallel()

	env := setupMonitor(t)
	env.monitor.WithInterval(time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- env.monitor.Run(context.Background())
	}()

	// 等首轮巡检跑完再关停
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, env.monitor.Shutdown(context.Background()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("monitor did not stop after shutdown")
	}
}
