// Package mdadm 封装 mdadm 命令，管理 Linux 软件 RAID 阵列
package mdadm

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jimyag/jnas/pkg/cmdrunner"
)

// Detail mdadm --detail 输出中本包关心的字段
type Detail struct {
	State         string // 阵列状态，如 "clean", "active", "clean, degraded"
	Level         string // RAID 级别，如 "raid1"
	TotalDevices  int
	ActiveDevices int
	FailedDevices int
	Raw           string // 完整输出，供上层记录日志
}

// CreateOptions 创建阵列的可选参数
type CreateOptions struct {
	ChunkKB int      // 条带大小（KB），0 表示不传，仅条带/奇偶校验布局需要
	Bitmap  bool     // 冗余布局使用内部 write-intent bitmap
	Spares  []string // 热备盘
}

var (
	detailFieldRe = regexp.MustCompile(`(?m)^\s*([A-Za-z ]+?)\s*:\s*(.+)$`)
	// /proc/mdstat 的同步进度行，如:
	//   [==>..................]  resync = 12.6% (123456/976773168) finish=80.3min
	mdstatProgressRe = regexp.MustCompile(`(resync|recovery|check|repair)\s*=\s*([0-9.]+)%`)
)

// ParseDetail 解析 mdadm --detail 的输出
func ParseDetail(output string) *Detail {
	d := &Detail{Raw: output}
	for _, m := range detailFieldRe.FindAllStringSubmatch(output, -1) {
		value := strings.TrimSpace(m[2])
		switch strings.TrimSpace(m[1]) {
		case "State":
			d.State = value
		case "Raid Level":
			d.Level = value
		case "Total Devices":
			d.TotalDevices, _ = strconv.Atoi(value)
		case "Active Devices":
			d.ActiveDevices, _ = strconv.Atoi(value)
		case "Failed Devices":
			d.FailedDevices, _ = strconv.Atoi(value)
		}
	}
	return d
}

// ParseScrubProgress 从 /proc/mdstat 内容中解析指定阵列的同步进度
// 返回 (进度百分比, 是否正在同步)
func ParseScrubProgress(mdstat, arrayName string) (float64, bool) {
	lines := strings.Split(mdstat, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, arrayName+" :") {
			continue
		}
		// 进度行在阵列块内，向下找到空行为止
		for j := i + 1; j < len(lines) && strings.TrimSpace(lines[j]) != ""; j++ {
			if m := mdstatProgressRe.FindStringSubmatch(lines[j]); m != nil {
				pct, err := strconv.ParseFloat(m[2], 64)
				if err == nil {
					return pct, true
				}
			}
		}
		return 0, false
	}
	return 0, false
}

// MdadmClient 定义 RAID 阵列管理接口
type MdadmClient interface {
	// Create 创建阵列，devices 不含热备盘
	Create(ctx context.Context, arrayPath, level string, devices []string, opts CreateOptions) error
	// Detail 查询阵列详情
	Detail(ctx context.Context, arrayPath string) (*Detail, error)
	// HasSuperblock 探测设备上是否已有 RAID superblock（mdadm --examine）
	HasSuperblock(ctx context.Context, devicePath string) bool
	// Stop 停止阵列
	Stop(ctx context.Context, arrayPath string) error
	// ZeroSuperblock 清除设备上的 RAID superblock
	ZeroSuperblock(ctx context.Context, devicePath string) error
	// NextFreeDevice 返回第一个未被占用的 /dev/mdN 路径
	NextFreeDevice() (string, error)
	// StartScrub 触发阵列一致性检查
	StartScrub(arrayPath string) error
	// ScrubProgress 返回阵列当前同步进度
	ScrubProgress(arrayPath string) (float64, bool, error)
}

// Client 基于 cmdrunner 的 mdadm 客户端
type Client struct {
	runner cmdrunner.Runner

	// 测试时可替换的路径
	mdstatPath   string
	sysBlockPath string
	devExists    func(path string) bool
}

// New 创建新的 mdadm client
func New(runner cmdrunner.Runner) *Client {
	return &Client{
		runner:       runner,
		mdstatPath:   "/proc/mdstat",
		sysBlockPath: "/sys/block",
		devExists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// Create 实现 MdadmClient 接口
// 创建是长耗时操作，给一个比默认值宽裕的超时
func (c *Client) Create(ctx context.Context, arrayPath, level string, devices []string, opts CreateOptions) error {
	argv := []string{
		"mdadm", "--create", arrayPath,
		"--level=" + level,
		fmt.Sprintf("--raid-devices=%d", len(devices)),
		"--run", // 不等待交互确认
	}
	if opts.ChunkKB > 0 {
		argv = append(argv, fmt.Sprintf("--chunk=%d", opts.ChunkKB))
	}
	if opts.Bitmap {
		argv = append(argv, "--bitmap=internal")
	}
	if len(opts.Spares) > 0 {
		argv = append(argv, fmt.Sprintf("--spare-devices=%d", len(opts.Spares)))
	}
	argv = append(argv, devices...)
	argv = append(argv, opts.Spares...)

	_, stderr, err := c.runner.RunTimeout(ctx, 2*time.Minute, argv...)
	if err != nil {
		return fmt.Errorf("create array %s: %w: %s", arrayPath, err, strings.TrimSpace(stderr))
	}
	return nil
}

// Detail 实现 MdadmClient 接口
func (c *Client) Detail(ctx context.Context, arrayPath string) (*Detail, error) {
	stdout, _, err := c.runner.Run(ctx, "mdadm", "--detail", arrayPath)
	if err != nil {
		return nil, fmt.Errorf("detail of %s: %w", arrayPath, err)
	}
	return ParseDetail(stdout), nil
}

// HasSuperblock 实现 MdadmClient 接口
// mdadm --examine 在设备没有 superblock 时返回非零退出码
func (c *Client) HasSuperblock(ctx context.Context, devicePath string) bool {
	_, _, err := c.runner.Run(ctx, "mdadm", "--examine", devicePath)
	return err == nil
}

// Stop 实现 MdadmClient 接口
func (c *Client) Stop(ctx context.Context, arrayPath string) error {
	_, stderr, err := c.runner.Run(ctx, "mdadm", "--stop", arrayPath)
	if err != nil {
		return fmt.Errorf("stop array %s: %w: %s", arrayPath, err, strings.TrimSpace(stderr))
	}
	return nil
}

// ZeroSuperblock 实现 MdadmClient 接口
func (c *Client) ZeroSuperblock(ctx context.Context, devicePath string) error {
	_, stderr, err := c.runner.Run(ctx, "mdadm", "--zero-superblock", devicePath)
	if err != nil {
		return fmt.Errorf("zero superblock on %s: %w: %s", devicePath, err, strings.TrimSpace(stderr))
	}
	return nil
}

// NextFreeDevice 实现 MdadmClient 接口
// 顺序探测 /dev/md0../dev/md127，同时检查 /proc/mdstat 中已登记的阵列名，
// 避免选中设备节点尚未出现但已在组装中的阵列
func (c *Client) NextFreeDevice() (string, error) {
	mdstat, _ := os.ReadFile(c.mdstatPath)
	for i := 0; i < 128; i++ {
		name := fmt.Sprintf("md%d", i)
		if c.devExists("/dev/" + name) {
			continue
		}
		if strings.Contains(string(mdstat), name+" :") {
			continue
		}
		return "/dev/" + name, nil
	}
	return "", fmt.Errorf("no free md device below /dev/md128")
}

// StartScrub 实现 MdadmClient 接口
// 通过 sysfs 的 sync_action 触发 check，mdadm 本身没有对应子命令
func (c *Client) StartScrub(arrayPath string) error {
	name := filepath.Base(arrayPath)
	action := filepath.Join(c.sysBlockPath, name, "md", "sync_action")
	if err := os.WriteFile(action, []byte("check\n"), 0o644); err != nil {
		return fmt.Errorf("start scrub on %s: %w", arrayPath, err)
	}
	return nil
}

// ScrubProgress 实现 MdadmClient 接口
func (c *Client) ScrubProgress(arrayPath string) (float64, bool, error) {
	data, err := os.ReadFile(c.mdstatPath)
	if err != nil {
		return 0, false, fmt.Errorf("read mdstat: %w", err)
	}
	pct, running := ParseScrubProgress(string(data), filepath.Base(arrayPath))
	return pct, running, nil
}
