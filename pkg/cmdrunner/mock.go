package cmdrunner

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRunner 是 Runner 的 mock 实现
// 用于测试，不会真正执行外部命令
type MockRunner struct {
	mock.Mock
}

// NewMockRunner 创建新的 MockRunner
func NewMockRunner() *MockRunner {
	return &MockRunner{}
}

// Run 实现 Runner 接口
func (m *MockRunner) Run(ctx context.Context, argv ...string) (string, string, error) {
	args := m.Called(ctx, argv)
	return args.String(0), args.String(1), args.Error(2)
}

// RunTimeout 实现 Runner 接口
func (m *MockRunner) RunTimeout(ctx context.Context, timeout time.Duration, argv ...string) (string, string, error) {
	args := m.Called(ctx, timeout, argv)
	return args.String(0), args.String(1), args.Error(2)
}
