package smartctl

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient 是 SmartctlClient 的 mock 实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建新的 MockClient
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Query 实现 SmartctlClient 接口
func (m *MockClient) Query(ctx context.Context, devicePath string) (*Info, error) {
	args := m.Called(ctx, devicePath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Info), args.Error(1)
}
