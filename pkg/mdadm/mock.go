package mdadm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 MdadmClient 的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Create 实现 MdadmClient 接口
func (m *MockClient) Create(ctx context.Context, arrayPath, level string, devices []string, opts CreateOptions) error {
	args := m.Called(ctx, arrayPath, level, devices, opts)
	return args.Error(0)
}

// Detail 实现 MdadmClient 接口
func (m *MockClient) Detail(ctx context.Context, arrayPath string) (*Detail, error) {
	args := m.Called(ctx, arrayPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Detail), args.Error(1)
}

// HasSuperblock 实现 MdadmClient 接口
func (m *MockClient) HasSuperblock(ctx context.Context, devicePath string) bool {
	args := m.Called(ctx, devicePath)
	return args.Bool(0)
}

// Stop 实现 MdadmClient 接口
func (m *MockClient) Stop(ctx context.Context, arrayPath string) error {
	args := m.Called(ctx, arrayPath)
	return args.Error(0)
}

// ZeroSuperblock 实现 MdadmClient 接口
func (m *MockClient) ZeroSuperblock(ctx context.Context, devicePath string) error {
	args := m.Called(ctx, devicePath)
	return args.Error(0)
}

// NextFreeDevice 实现 MdadmClient 接口
func (m *MockClient) NextFreeDevice() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

// StartScrub 实现 MdadmClient 接口
func (m *MockClient) StartScrub(arrayPath string) error {
	args := m.Called(arrayPath)
	return args.Error(0)
}

// ScrubProgress 实现 MdadmClient 接口
func (m *MockClient) ScrubProgress(arrayPath string) (float64, bool, error) {
	args := m.Called(arrayPath)
	return args.Get(0).(float64), args.Bool(1), args.Error(2)
}
