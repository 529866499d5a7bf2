// Package lsblk 封装 lsblk 命令，枚举主机上的整盘块设备
//
// 使用 lsblk 的 JSON 输出（-J），字段含义：
//   - path: 设备路径，如 /dev/sda
//   - size: 字节数（-b）
//   - rota: 是否机械盘
//   - tran: 传输接口（sata/nvme/usb 等）
//   - type: disk/part/loop/rom
//   - mountpoint: 当前挂载点，为空表示未挂载
package lsblk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jimyag/jnas/pkg/cmdrunner"
)

// BlockDevice lsblk 报告的单个块设备
type BlockDevice struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Model      string `json:"model"`
	Serial     string `json:"serial"`
	Size       uint64 `json:"size"`
	Rotational bool   `json:"rota"`
	Transport  string `json:"tran"`
	Type       string `json:"type"`
	MountPoint string `json:"mountpoint"`
	SectorSize int    `json:"log-sec"`
}

// UnmarshalJSON 兼容新旧两种 lsblk 输出
// 新版本 -b 输出数字，旧版本所有字段都是字符串
func (d *BlockDevice) UnmarshalJSON(data []byte) error {
	type raw struct {
		Name       string          `json:"name"`
		Path       string          `json:"path"`
		Model      *string         `json:"model"`
		Serial     *string         `json:"serial"`
		Size       json.RawMessage `json:"size"`
		Rota       json.RawMessage `json:"rota"`
		Tran       *string         `json:"tran"`
		Type       string          `json:"type"`
		MountPoint *string         `json:"mountpoint"`
		LogSec     json.RawMessage `json:"log-sec"`
	}
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}

	d.Name = r.Name
	d.Path = r.Path
	d.Type = r.Type
	if r.Model != nil {
		d.Model = *r.Model
	}
	if r.Serial != nil {
		d.Serial = *r.Serial
	}
	if r.Tran != nil {
		d.Transport = *r.Tran
	}
	if r.MountPoint != nil {
		d.MountPoint = *r.MountPoint
	}

	size, err := flexUint(r.Size)
	if err != nil {
		return fmt.Errorf("parse size: %w", err)
	}
	d.Size = size

	if len(r.LogSec) > 0 {
		sec, err := flexUint(r.LogSec)
		if err != nil {
			return fmt.Errorf("parse log-sec: %w", err)
		}
		d.SectorSize = int(sec)
	}

	d.Rotational = flexBool(r.Rota)
	return nil
}

// flexUint 解析可能是数字或带引号字符串的无符号整数
func flexUint(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	s := string(raw)
	if s[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	}
	return strconv.ParseUint(s, 10, 64)
}

// flexBool 解析可能是 true/false、"1"/"0" 的布尔值
func flexBool(raw json.RawMessage) bool {
	switch string(raw) {
	case "true", `"1"`, "1":
		return true
	default:
		return false
	}
}

type report struct {
	BlockDevices []BlockDevice `json:"blockdevices"`
}

// Parse 解析 lsblk -J 的输出
func Parse(data []byte) ([]BlockDevice, error) {
	var r report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse lsblk output: %w", err)
	}
	return r.BlockDevices, nil
}

// LsblkClient 定义块设备枚举接口
type LsblkClient interface {
	// ListDisks 枚举整盘设备（不含分区）
	ListDisks(ctx context.Context) ([]BlockDevice, error)
}

// Client 基于 cmdrunner 的 lsblk 客户端
type Client struct {
	runner cmdrunner.Runner
}

// New 创建新的 lsblk client
func New(runner cmdrunner.Runner) *Client {
	return &Client{runner: runner}
}

// ListDisks 实现 LsblkClient 接口
func (c *Client) ListDisks(ctx context.Context) ([]BlockDevice, error) {
	stdout, _, err := c.runner.Run(ctx, "lsblk",
		"-J", "-b", "-d",
		"-o", "NAME,PATH,MODEL,SERIAL,SIZE,ROTA,TRAN,TYPE,MOUNTPOINT,LOG-SEC",
	)
	if err != nil {
		return nil, fmt.Errorf("list block devices: %w", err)
	}
	return Parse([]byte(stdout))
}
