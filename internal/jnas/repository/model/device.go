package model

import "time"

// Device 块设备表
// 设备记录不做删除，只在扫描时刷新；脱离存储池时清空 pool_id
type Device struct {
	ID           string    `gorm:"primaryKey;type:text;column:id" json:"id"` // dev-{uuid}
	Path         string    `gorm:"type:text;not null;uniqueIndex:idx_devices_path;column:path" json:"path"`
	Name         string    `gorm:"type:text;not null;column:name" json:"name"`
	Model        string    `gorm:"type:text;column:model" json:"model"`
	Serial       string    `gorm:"type:text;index:idx_devices_serial;column:serial" json:"serial"`
	Size         uint64    `gorm:"type:integer;not null;column:size" json:"size"`
	SectorSize   int       `gorm:"type:integer;column:sector_size" json:"sectorSize"`
	Rotational   bool      `gorm:"type:boolean;default:0;column:rotational" json:"rotational"`
	Transport    string    `gorm:"type:text;column:transport" json:"transport"`
	SmartSupport bool      `gorm:"type:boolean;default:0;column:smart_support" json:"smartSupport"`
	SmartPassed  bool      `gorm:"type:boolean;default:0;column:smart_passed" json:"smartPassed"`
	Temperature  int       `gorm:"type:integer;column:temperature" json:"temperature"`
	PowerOnHours int       `gorm:"type:integer;column:power_on_hours" json:"powerOnHours"`
	BadSectors   int       `gorm:"type:integer;column:bad_sectors" json:"badSectors"`
	Health       string    `gorm:"type:text;not null;index:idx_devices_health;column:health" json:"health"` // healthy, warning, failed, offline, smart_fail
	PoolID       string    `gorm:"type:text;index:idx_devices_pool_id;column:pool_id" json:"poolID"`        // 关联 pools.id，为空表示未加入池
	CreatedAt    time.Time `gorm:"type:datetime;not null;column:created_at" json:"createdAt"`
	UpdatedAt    time.Time `gorm:"type:datetime;not null;column:updated_at" json:"updatedAt"`
}

// TableName 指定表名
func (Device) TableName() string {
	return "devices"
}
