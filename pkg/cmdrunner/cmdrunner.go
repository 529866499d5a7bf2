package cmdrunner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// allowedTools 允许执行的外部工具白名单
// argv[0] 的 basename 必须在此列表中，否则拒绝执行
var allowedTools = map[string]bool{
	"lsblk":      true,
	"blkid":      true,
	"wipefs":     true,
	"mdadm":      true,
	"mkfs.ext4":  true,
	"mkfs.xfs":   true,
	"mkfs.btrfs": true,
	"mount":      true,
	"umount":     true,
	"smartctl":   true,
	"zpool":      true,
	"zfs":        true,
}

// safeArgPattern 参数中允许保留的字符集
// 路径、设备名、key=value 选项之外的字符全部剔除
var safeArgPattern = regexp.MustCompile(`[^A-Za-z0-9/._=,:@+-]`)

// restrictedPath 执行外部工具时使用的 PATH
// 只搜索系统二进制目录，避免继承调用方环境中的可疑路径
const restrictedPath = "/usr/sbin:/usr/bin:/sbin:/bin"

var (
	// ErrToolNotAllowed 工具不在白名单中
	ErrToolNotAllowed = errors.New("tool not in allow list")
	// ErrUnsafeArgument 参数清洗后为空（原始参数非空），视为恶意或错误输入
	ErrUnsafeArgument = errors.New("argument rejected by sanitizer")
)

// Runner 定义外部命令执行接口
// 用于抽象命令执行，便于测试和 mock
type Runner interface {
	// Run 使用默认超时执行命令，argv[0] 是工具名
	Run(ctx context.Context, argv ...string) (stdout string, stderr string, err error)
	// RunTimeout 使用指定超时执行命令
	RunTimeout(ctx context.Context, timeout time.Duration, argv ...string) (stdout string, stderr string, err error)
}

// Client 白名单外部命令执行器
type Client struct {
	timeout time.Duration
}

// New 创建新的命令执行器
func New() *Client {
	return &Client{
		timeout: 30 * time.Second, // 默认超时 30 秒
	}
}

// WithTimeout 设置默认超时时间
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

// Run 实现 Runner 接口
func (c *Client) Run(ctx context.Context, argv ...string) (string, string, error) {
	return c.RunTimeout(ctx, c.timeout, argv...)
}

// RunTimeout 实现 Runner 接口
//
// 执行前做三件事：
//  1. 校验 argv[0] 的 basename 在白名单中
//  2. 清洗每个参数，清洗后为空的非空参数直接报错，不会静默丢弃
//  3. 固定 PATH 为系统二进制目录
//
// 超时的命令会被 kill 并返回描述性错误，不会残留在后台
func (c *Client) RunTimeout(ctx context.Context, timeout time.Duration, argv ...string) (string, string, error) {
	if len(argv) == 0 {
		return "", "", fmt.Errorf("empty argv")
	}

	tool := filepath.Base(argv[0])
	if !allowedTools[tool] {
		return "", "", fmt.Errorf("%w: %s", ErrToolNotAllowed, tool)
	}

	args, err := SanitizeArgs(argv[1:])
	if err != nil {
		return "", "", err
	}

	logger := zerolog.Ctx(ctx)
	logger.Debug().
		Str("tool", tool).
		Int("argc", len(args)).
		Dur("timeout", timeout).
		Msg("executing external command")

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, tool, args...)
	cmd.Env = []string{"PATH=" + restrictedPath}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if runCtx.Err() == context.DeadlineExceeded {
		return stdout.String(), stderr.String(),
			fmt.Errorf("%s timed out after %s", tool, timeout)
	}
	if err != nil {
		return stdout.String(), stderr.String(),
			fmt.Errorf("%s failed: %w: %s", tool, err, excerpt(stderr.String()))
	}

	return stdout.String(), stderr.String(), nil
}

// SanitizeArgs 清洗参数列表
// 任一参数清洗后变为空而原始参数非空时返回 ErrUnsafeArgument
func SanitizeArgs(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		cleaned := safeArgPattern.ReplaceAllString(arg, "")
		if cleaned == "" && arg != "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsafeArgument, arg)
		}
		out = append(out, cleaned)
	}
	return out, nil
}

// excerpt 截取 stderr 片段用于错误信息，避免把大段输出塞进 error
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
