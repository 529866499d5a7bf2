package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/internal/jnas/repository"
	"github.com/jimyag/jnas/pkg/lsblk"
	"github.com/jimyag/jnas/pkg/smartctl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testDisk(name string, size uint64) lsblk.BlockDevice {
	return lsblk.BlockDevice{
		Name:       name,
		Path:       "/dev/" + name,
		Model:      "TEST DISK",
		Serial:     "SN-" + name,
		Size:       size,
		Rotational: true,
		Transport:  "sata",
		Type:       "disk",
		SectorSize: 512,
	}
}

func healthyInfo() *smartctl.Info {
	return &smartctl.Info{Supported: true, Passed: true, TemperatureC: 35, PowerOnHours: 100}
}

func TestScanFiltersCandidates(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	mockLsblk := lsblk.NewMockClient()
	mockSmart := smartctl.NewMockClient()

	mounted := testDisk("sdb", 500<<30)
	mounted.MountPoint = "/"
	partition := testDisk("sda1", 500<<30)
	partition.Type = "part"

	mockLsblk.On("ListDisks", mock.Anything).Return([]lsblk.BlockDevice{
		testDisk("sda", 500<<30),
		mounted,
		partition,
		testDisk("sdc", 512<<20), // 小于 1 GiB
	}, nil)
	mockSmart.On("Query", mock.Anything, "/dev/sda").Return(healthyInfo(), nil)

	scanner := NewScanner(mockLsblk, mockSmart, repository.NewDeviceRepository(repo.DB()))

	devices, err := scanner.Scan(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "/dev/sda", devices[0].Path)
	assert.Equal(t, entity.DeviceHealthy, devices[0].Health)
	assert.True(t, devices[0].SmartSupport)
	// 被过滤的设备不会触发 SMART 探测
	mockSmart.AssertNumberOfCalls(t, "Query", 1)
}

func TestScanDerivesHealthFromSmart(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		name   string
		info   *smartctl.Info
		health string
	}{
		{
			name:   "healthy device",
			info:   healthyInfo(),
			health: entity.DeviceHealthy,
		},
		{
			name:   "overheating device",
			info:   &smartctl.Info{Supported: true, Passed: true, TemperatureC: 65},
			health: entity.DeviceWarning,
		},
		{
			name:   "reallocated sectors",
			info:   &smartctl.Info{Supported: true, Passed: true, TemperatureC: 35, ReallocatedSectors: 12},
			health: entity.DeviceWarning,
		},
		{
			name:   "self-test failed",
			info:   &smartctl.Info{Supported: true, Passed: false, TemperatureC: 35},
			health: entity.DeviceFailed,
		},
		{
			name:   "smart not supported",
			info:   &smartctl.Info{Supported: false},
			health: entity.DeviceHealthy,
		},
	}

	for _, tc := range testcases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.health, deriveDeviceHealth(tc.info))
		})
	}
}

func TestScanCachesWithinTTL(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	mockLsblk := lsblk.NewMockClient()
	mockSmart := smartctl.NewMockClient()

	mockLsblk.On("ListDisks", mock.Anything).Return([]lsblk.BlockDevice{testDisk("sda", 500<<30)}, nil)
	mockSmart.On("Query", mock.Anything, "/dev/sda").Return(healthyInfo(), nil)

	scanner := NewScanner(mockLsblk, mockSmart, repository.NewDeviceRepository(repo.DB()))
	ctx := context.Background()

	first, err := scanner.Scan(ctx, false)
	require.NoError(t, err)

	// TTL 内重复扫描直接命中缓存，不触发任何探测
	second, err := scanner.Scan(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	mockLsblk.AssertNumberOfCalls(t, "ListDisks", 1)

	// force 绕过缓存
	_, err = scanner.Scan(ctx, true)
	require.NoError(t, err)
	mockLsblk.AssertNumberOfCalls(t, "ListDisks", 2)
}

func TestScanCacheExpires(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	mockLsblk := lsblk.NewMockClient()
	mockSmart := smartctl.NewMockClient()

	mockLsblk.On("ListDisks", mock.Anything).Return([]lsblk.BlockDevice{testDisk("sda", 500<<30)}, nil)
	mockSmart.On("Query", mock.Anything, "/dev/sda").Return(healthyInfo(), nil)

	scanner := NewScanner(mockLsblk, mockSmart, repository.NewDeviceRepository(repo.DB())).
		WithTTL(10 * time.Millisecond)
	ctx := context.Background()

	_, err := scanner.Scan(ctx, false)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = scanner.Scan(ctx, false)
	require.NoError(t, err)
	mockLsblk.AssertNumberOfCalls(t, "ListDisks", 2)
}

func TestScanDegradesToEmptyList(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	mockLsblk := lsblk.NewMockClient()
	mockSmart := smartctl.NewMockClient()

	mockLsblk.On("ListDisks", mock.Anything).Return(nil, assert.AnError)

	scanner := NewScanner(mockLsblk, mockSmart, repository.NewDeviceRepository(repo.DB()))

	devices, err := scanner.Scan(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestScanPersistsAndKeepsIdentity(t *testing.T) {
	t.Parallel()

	repo := setupTestRepo(t)
	mockLsblk := lsblk.NewMockClient()
	mockSmart := smartctl.NewMockClient()

	mockLsblk.On("ListDisks", mock.Anything).Return([]lsblk.BlockDevice{testDisk("sda", 500<<30)}, nil)
	mockSmart.On("Query", mock.Anything, "/dev/sda").Return(healthyInfo(), nil)

	scanner := NewScanner(mockLsblk, mockSmart, repository.NewDeviceRepository(repo.DB()))
	ctx := context.Background()

	first, err := scanner.Scan(ctx, true)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.NotEmpty(t, first[0].ID)

	// 再次扫描同一块盘不会生成新 ID
	second, err := scanner.Scan(ctx, true)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)

	got, err := scanner.GetDevice(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, got.ID)
}
