package service

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jimyag/jnas/internal/jnas/entity"
	"github.com/jimyag/jnas/pkg/cmdrunner"
	"github.com/jimyag/jnas/pkg/mdadm"
)

// Validator 拓扑校验器
// 校验是同步且无副作用的：只读探测，不触碰任何破坏性工具
type Validator struct {
	mdadmClient mdadm.MdadmClient
	runner      cmdrunner.Runner

	// 测试时可替换的路径和探测函数
	mountsPath string
	statFunc   func(path string) error
}

// NewValidator 创建拓扑校验器
func NewValidator(mdadmClient mdadm.MdadmClient, runner cmdrunner.Runner) *Validator {
	return &Validator{
		mdadmClient: mdadmClient,
		runner:      runner,
		mountsPath:  "/proc/mounts",
		statFunc: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Validate 校验拓扑的盘数规则和设备可用性
//
// 规则检查在任何外部探测之前完成，盘数不满足时不会产生工具调用。
// 设备被判定"in use"的三种情况：已挂载、已是某个阵列的成员、
// 带有可识别的分区/文件系统签名
func (v *Validator) Validate(ctx context.Context, topo *entity.Topology, devices, spares []string) error {
	if len(devices) < topo.MinDevices {
		return &entity.ValidationError{
			Field: "devices",
			Reason: fmt.Sprintf("topology %s requires at least %d devices, got %d",
				topo.Name, topo.MinDevices, len(devices)),
		}
	}
	if topo.EvenCount && len(devices)%2 != 0 {
		return &entity.ValidationError{
			Field: "devices",
			Reason: fmt.Sprintf("topology %s requires an even number of devices, got %d",
				topo.Name, len(devices)),
		}
	}

	all := make([]string, 0, len(devices)+len(spares))
	all = append(all, devices...)
	all = append(all, spares...)

	seen := make(map[string]bool, len(all))
	for _, path := range all {
		if seen[path] {
			return &entity.ValidationError{
				Field:  "devices",
				Reason: fmt.Sprintf("device %s listed more than once", path),
			}
		}
		seen[path] = true
	}

	mounts, err := v.readMounts()
	if err != nil {
		return fmt.Errorf("read mount table: %w", err)
	}

	for _, path := range all {
		if err := v.statFunc(path); err != nil {
			return &entity.ValidationError{
				Field:  "devices",
				Reason: fmt.Sprintf("device %s does not exist", path),
			}
		}
		if mountPoint, ok := mounts[path]; ok {
			return &entity.ValidationError{
				Field:  "devices",
				Reason: fmt.Sprintf("device %s is in use: mounted at %s", path, mountPoint),
			}
		}
		if v.mdadmClient.HasSuperblock(ctx, path) {
			return &entity.ValidationError{
				Field:  "devices",
				Reason: fmt.Sprintf("device %s is in use: member of an existing array", path),
			}
		}
		if v.hasSignature(ctx, path) {
			return &entity.ValidationError{
				Field:  "devices",
				Reason: fmt.Sprintf("device %s is in use: carries a partition or filesystem signature", path),
			}
		}
	}

	return nil
}

// readMounts 解析 mount 表，返回 设备路径 -> 挂载点
func (v *Validator) readMounts() (map[string]string, error) {
	f, err := os.Open(v.mountsPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	mounts := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[0], "/dev/") {
			mounts[fields[0]] = fields[1]
		}
	}
	return mounts, scanner.Err()
}

// hasSignature 用 blkid 低层探测设备上的分区表或文件系统签名
// blkid 在没有发现任何签名时返回非零退出码且无输出
func (v *Validator) hasSignature(ctx context.Context, path string) bool {
	stdout, _, _ := v.runner.Run(ctx, "blkid", "-p", path)
	return strings.Contains(stdout, "TYPE=") || strings.Contains(stdout, "PTTYPE=")
}
