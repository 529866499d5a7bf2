package entity

// 存储池状态
const (
	PoolHealthy   = "healthy"
	PoolDegraded  = "degraded"
	PoolFailed    = "failed"
	PoolOffline   = "offline"
	PoolScrubbing = "scrubbing"
)

// Pool 存储池信息
type Pool struct {
	ID            string   `json:"id"`   // Pool ID: pool-{uuid}
	Name          string   `json:"name"` // 池名，全局唯一
	Topology      string   `json:"topology"`
	Filesystem    string   `json:"filesystem"`   // ext4, xfs, btrfs, zfs
	ArrayDevice   string   `json:"array_device"` // 底层阵列设备，如 /dev/md0；ZFS 池为空
	MountPoint    string   `json:"mount_point"`  // 挂载路径，全局唯一
	TotalSize     uint64   `json:"total_size"`   // 按拓扑折算后的可用容量（字节）
	UsedSize      uint64   `json:"used_size"`
	AvailableSize uint64   `json:"available_size"`
	Status        string   `json:"status"`
	ScrubProgress float64  `json:"scrub_progress"` // 正在 scrub 时的进度百分比
	LastScrubAt   string   `json:"last_scrub_at"`  // RFC3339，从未 scrub 过为空
	CreatedAt     string   `json:"created_at"`
	DeviceIDs     []string `json:"device_ids"` // 成员设备 ID
}

// CreatePoolRequest 创建存储池请求
type CreatePoolRequest struct {
	Name       string   `json:"name"`
	Topology   string   `json:"topology"`
	Filesystem string   `json:"filesystem"`
	Devices    []string `json:"devices"` // 设备路径列表
	Spares     []string `json:"spares,omitempty"`
	MountPoint string   `json:"mount_point,omitempty"` // 为空时默认 /mnt/{name}
}
