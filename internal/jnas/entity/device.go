// Package entity 定义业务实体
package entity

// 设备健康状态
const (
	DeviceHealthy   = "healthy"
	DeviceWarning   = "warning"
	DeviceFailed    = "failed"
	DeviceOffline   = "offline"
	DeviceSmartFail = "smart_fail"
)

// Device 块设备信息
type Device struct {
	ID           string `json:"id"`            // Device ID: dev-{uuid}
	Path         string `json:"path"`          // 设备路径，如 /dev/sda
	Name         string `json:"name"`          // 内核名，如 sda
	Model        string `json:"model"`         // 型号
	Serial       string `json:"serial"`        // 序列号
	Size         uint64 `json:"size"`          // 容量（字节）
	SectorSize   int    `json:"sector_size"`   // 逻辑扇区大小
	Rotational   bool   `json:"rotational"`    // 是否机械盘
	Transport    string `json:"transport"`     // 接口类型：sata, nvme, usb...
	SmartSupport bool   `json:"smart_support"` // 是否支持 SMART
	SmartPassed  bool   `json:"smart_passed"`  // SMART 整体自检是否通过
	Temperature  int    `json:"temperature"`   // 温度（摄氏度）
	PowerOnHours int    `json:"power_on_hours"`
	BadSectors   int    `json:"bad_sectors"` // 重映射扇区计数
	Health       string `json:"health"`      // 健康状态
	PoolID       string `json:"pool_id"`     // 所属池 ID，为空表示未加入任何池
	MountPoint   string `json:"mount_point"` // 当前挂载点，为空表示未挂载
}
