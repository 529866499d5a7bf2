// Package smartctl 封装 smartctl 命令，读取磁盘 SMART 数据
//
// 优先解析 smartctl -j 的 JSON 输出，旧版本 smartmontools 没有 -j，
// 退回到解析文本输出的固定位置正则
package smartctl

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/jimyag/jnas/pkg/cmdrunner"
)

// Info 从 SMART 数据中提取的健康信息
type Info struct {
	Supported          bool // 设备是否支持 SMART
	Passed             bool // 整体健康自检是否通过
	TemperatureC       int  // 当前温度（摄氏度），0 表示未知
	PowerOnHours       int  // 通电小时数
	ReallocatedSectors int  // 重映射扇区数（坏道计数）
}

// jsonOutput smartctl -j 输出中本包关心的字段
type jsonOutput struct {
	SmartStatus *struct {
		Passed bool `json:"passed"`
	} `json:"smart_status"`
	Temperature struct {
		Current int `json:"current"`
	} `json:"temperature"`
	PowerOnTime struct {
		Hours int `json:"hours"`
	} `json:"power_on_time"`
	AtaSmartAttributes struct {
		Table []struct {
			ID   int    `json:"id"`
			Name string `json:"name"`
			Raw  struct {
				Value int64 `json:"value"`
			} `json:"raw"`
		} `json:"table"`
	} `json:"ata_smart_attributes"`
	NVMeSmartHealth *struct {
		Temperature int `json:"temperature"`
		MediaErrors int `json:"media_errors"`
	} `json:"nvme_smart_health_information_log"`
}

// 文本输出的退路正则，行格式在 smartmontools 各版本间保持稳定
var (
	overallHealthRe = regexp.MustCompile(`(?m)^SMART overall-health self-assessment test result:\s+(\w+)`)
	healthStatusRe  = regexp.MustCompile(`(?m)^SMART Health Status:\s+(.+)$`)
	// 属性表行：ID# ATTRIBUTE_NAME FLAG VALUE WORST THRESH TYPE UPDATED WHEN_FAILED RAW_VALUE
	attrRowRe = regexp.MustCompile(`(?m)^\s*(\d+)\s+(\S+)\s+\S+\s+\d+\s+\d+\s+\S+\s+\S+\s+\S+\s+\S+\s+(\d+)`)
)

// ParseJSON 解析 smartctl -j 的输出
func ParseJSON(data []byte) (*Info, error) {
	var out jsonOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out.SmartStatus == nil {
		// 没有 smart_status 字段说明设备不支持 SMART 或查询失败
		return &Info{Supported: false}, nil
	}

	info := &Info{
		Supported:    true,
		Passed:       out.SmartStatus.Passed,
		TemperatureC: out.Temperature.Current,
		PowerOnHours: out.PowerOnTime.Hours,
	}
	for _, attr := range out.AtaSmartAttributes.Table {
		switch attr.ID {
		case 5: // Reallocated_Sector_Ct
			info.ReallocatedSectors = int(attr.Raw.Value)
		case 9: // Power_On_Hours，JSON 顶层缺失时兜底
			if info.PowerOnHours == 0 {
				info.PowerOnHours = int(attr.Raw.Value)
			}
		case 194: // Temperature_Celsius
			if info.TemperatureC == 0 {
				info.TemperatureC = int(attr.Raw.Value)
			}
		}
	}
	if out.NVMeSmartHealth != nil {
		if info.TemperatureC == 0 {
			info.TemperatureC = out.NVMeSmartHealth.Temperature
		}
		info.ReallocatedSectors = out.NVMeSmartHealth.MediaErrors
	}
	return info, nil
}

// ParseText 解析 smartctl -a 的文本输出（旧版本退路）
func ParseText(output string) *Info {
	info := &Info{}

	if m := overallHealthRe.FindStringSubmatch(output); m != nil {
		info.Supported = true
		info.Passed = m[1] == "PASSED"
	} else if m := healthStatusRe.FindStringSubmatch(output); m != nil {
		// SCSI 盘的健康行格式不同
		info.Supported = true
		info.Passed = strings.TrimSpace(m[1]) == "OK"
	}

	for _, row := range attrRowRe.FindAllStringSubmatch(output, -1) {
		id, _ := strconv.Atoi(row[1])
		raw, _ := strconv.Atoi(row[3])
		switch id {
		case 5:
			info.ReallocatedSectors = raw
		case 9:
			info.PowerOnHours = raw
		case 194:
			info.TemperatureC = raw
		}
	}
	return info
}

// SmartctlClient 定义 SMART 查询接口
type SmartctlClient interface {
	// Query 查询设备的 SMART 数据
	// 设备不支持 SMART 时返回 Supported=false 的 Info，不报错
	Query(ctx context.Context, devicePath string) (*Info, error)
}

// Client 基于 cmdrunner 的 smartctl 客户端
type Client struct {
	runner cmdrunner.Runner
}

// New 创建新的 smartctl client
func New(runner cmdrunner.Runner) *Client {
	return &Client{runner: runner}
}

// Query 实现 SmartctlClient 接口
//
// smartctl 在设备健康异常时也会返回非零退出码（退出码是 bit mask），
// 所以只要 stdout 可解析就使用解析结果，不依赖退出码判断成败
func (c *Client) Query(ctx context.Context, devicePath string) (*Info, error) {
	stdout, _, err := c.runner.Run(ctx, "smartctl", "-j", "-a", devicePath)
	if strings.Contains(stdout, `"json_format_version"`) {
		if info, parseErr := ParseJSON([]byte(stdout)); parseErr == nil {
			return info, nil
		}
	}

	// 不支持 -j 或 JSON 解析失败，退回文本输出
	stdout, _, textErr := c.runner.Run(ctx, "smartctl", "-a", devicePath)
	if stdout != "" {
		return ParseText(stdout), nil
	}
	if textErr != nil {
		return nil, textErr
	}
	if err != nil {
		return nil, err
	}
	// 两次调用都成功但没有任何输出，按不支持 SMART 处理
	return &Info{Supported: false}, nil
}
