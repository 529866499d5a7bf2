package zfspool

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 ZpoolClient 的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Create 实现 ZpoolClient 接口
func (m *MockClient) Create(ctx context.Context, name, vdevType, mountPoint string, devices []string) error {
	args := m.Called(ctx, name, vdevType, mountPoint, devices)
	return args.Error(0)
}

// Destroy 实现 ZpoolClient 接口
func (m *MockClient) Destroy(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// Status 实现 ZpoolClient 接口
func (m *MockClient) Status(ctx context.Context, name string) (*Status, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Status), args.Error(1)
}

// Scrub 实现 ZpoolClient 接口
func (m *MockClient) Scrub(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}
