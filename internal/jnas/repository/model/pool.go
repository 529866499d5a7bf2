package model

import (
	"time"

	"gorm.io/gorm"
)

// Pool 存储池表
type Pool struct {
	ID            string         `gorm:"primaryKey;type:text;column:id" json:"id"` // pool-{uuid}
	Name          string         `gorm:"type:text;not null;column:name" json:"name"`
	Topology      string         `gorm:"type:text;not null;column:topology" json:"topology"`
	Filesystem    string         `gorm:"type:text;not null;column:filesystem" json:"filesystem"`
	ArrayDevice   string         `gorm:"type:text;column:array_device" json:"arrayDevice"`
	MountPoint    string         `gorm:"type:text;not null;column:mount_point" json:"mountPoint"`
	TotalSize     uint64         `gorm:"type:integer;not null;column:total_size" json:"totalSize"`
	UsedSize      uint64         `gorm:"type:integer;column:used_size" json:"usedSize"`
	AvailableSize uint64         `gorm:"type:integer;column:available_size" json:"availableSize"`
	Status        string         `gorm:"type:text;not null;index:idx_pools_status;column:status" json:"status"` // healthy, degraded, failed, offline, scrubbing
	ScrubProgress float64        `gorm:"type:real;column:scrub_progress" json:"scrubProgress"`
	LastScrubAt   *time.Time     `gorm:"type:datetime;column:last_scrub_at" json:"lastScrubAt,omitempty"`
	CreatedAt     time.Time      `gorm:"type:datetime;not null;column:created_at" json:"createdAt"`
	UpdatedAt     time.Time      `gorm:"type:datetime;not null;column:updated_at" json:"updatedAt"`
	DeletedAt     gorm.DeletedAt `gorm:"type:datetime;index:idx_pools_deleted_at;column:deleted_at" json:"deletedAt,omitempty"` // 软删除
}

// TableName 指定表名
func (Pool) TableName() string {
	return "pools"
}

// IsZFS 池是否是 ZFS 池
// ZFS 池由 zpool 管理，没有独立的 md 阵列设备
func (p *Pool) IsZFS() bool {
	return p.Filesystem == "zfs"
}
