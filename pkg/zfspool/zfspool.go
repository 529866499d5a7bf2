// Package zfspool 封装 zpool 命令，管理 ZFS 存储池
package zfspool

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jimyag/jnas/pkg/cmdrunner"
)

// Status zpool status 输出中本包关心的字段
type Status struct {
	Name  string
	State string // ONLINE, DEGRADED, FAULTED, OFFLINE, UNAVAIL
	Scan  string // scan 行内容，如 "scrub in progress since ..."
	Raw   string
}

var (
	statusFieldRe = regexp.MustCompile(`(?m)^\s*(pool|state|scan):\s*(.+)$`)
	scanPctRe     = regexp.MustCompile(`([0-9.]+)%\s+done`)
)

// ParseStatus 解析 zpool status <name> 的输出
func ParseStatus(output string) *Status {
	s := &Status{Raw: output}
	for _, m := range statusFieldRe.FindAllStringSubmatch(output, -1) {
		value := strings.TrimSpace(m[2])
		switch m[1] {
		case "pool":
			s.Name = value
		case "state":
			s.State = value
		case "scan":
			s.Scan = value
		}
	}
	return s
}

// ScrubProgress 从 status 中解析 scrub 进度
// 返回 (进度百分比, 是否正在 scrub)
func (s *Status) ScrubProgress() (float64, bool) {
	if !strings.Contains(s.Scan, "scrub in progress") {
		return 0, false
	}
	// 进度百分比在 scan 的后续行里，从完整输出中找
	if m := scanPctRe.FindStringSubmatch(s.Raw); m != nil {
		var pct float64
		fmt.Sscanf(m[1], "%f", &pct)
		return pct, true
	}
	return 0, true
}

// ZpoolClient 定义 ZFS 池管理接口
type ZpoolClient interface {
	// Create 创建池，vdevType 为空表示 stripe，否则为 mirror/raidz1/raidz2/raidz3
	Create(ctx context.Context, name, vdevType, mountPoint string, devices []string) error
	// Destroy 销毁池
	Destroy(ctx context.Context, name string) error
	// Status 查询池状态
	Status(ctx context.Context, name string) (*Status, error)
	// Scrub 触发池 scrub
	Scrub(ctx context.Context, name string) error
}

// Client 基于 cmdrunner 的 zpool 客户端
type Client struct {
	runner cmdrunner.Runner
}

// New 创建新的 zpool client
func New(runner cmdrunner.Runner) *Client {
	return &Client{runner: runner}
}

// vdevKeyword zpool create 的 vdev 关键字映射
// "" 和 "stripe" 表示直接列出设备（条带）
var vdevKeyword = map[string]string{
	"":       "",
	"stripe": "",
	"single": "",
	"mirror": "mirror",
	"raidz1": "raidz1",
	"raidz2": "raidz2",
	"raidz3": "raidz3",
}

// Create 实现 ZpoolClient 接口
func (c *Client) Create(ctx context.Context, name, vdevType, mountPoint string, devices []string) error {
	keyword, ok := vdevKeyword[vdevType]
	if !ok {
		return fmt.Errorf("unsupported vdev type %q", vdevType)
	}

	argv := []string{"zpool", "create", "-f"}
	if mountPoint != "" {
		argv = append(argv, "-m", mountPoint)
	}
	argv = append(argv, name)
	if keyword != "" {
		argv = append(argv, keyword)
	}
	argv = append(argv, devices...)

	_, stderr, err := c.runner.RunTimeout(ctx, 2*time.Minute, argv...)
	if err != nil {
		return fmt.Errorf("create zpool %s: %w: %s", name, err, strings.TrimSpace(stderr))
	}
	return nil
}

// Destroy 实现 ZpoolClient 接口
func (c *Client) Destroy(ctx context.Context, name string) error {
	_, stderr, err := c.runner.Run(ctx, "zpool", "destroy", "-f", name)
	if err != nil {
		return fmt.Errorf("destroy zpool %s: %w: %s", name, err, strings.TrimSpace(stderr))
	}
	return nil
}

// Status 实现 ZpoolClient 接口
func (c *Client) Status(ctx context.Context, name string) (*Status, error) {
	stdout, _, err := c.runner.Run(ctx, "zpool", "status", name)
	if err != nil {
		return nil, fmt.Errorf("status of zpool %s: %w", name, err)
	}
	return ParseStatus(stdout), nil
}

// Scrub 实现 ZpoolClient 接口
func (c *Client) Scrub(ctx context.Context, name string) error {
	_, stderr, err := c.runner.Run(ctx, "zpool", "scrub", name)
	if err != nil {
		return fmt.Errorf("scrub zpool %s: %w: %s", name, err, strings.TrimSpace(stderr))
	}
	return nil
}
