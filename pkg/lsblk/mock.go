package lsblk

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 LsblkClient 的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// ListDisks 实现 LsblkClient 接口
func (m *MockClient) ListDisks(ctx context.Context) ([]BlockDevice, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]BlockDevice), args.Error(1)
}
