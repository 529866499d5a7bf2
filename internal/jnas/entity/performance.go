package entity

import "time"

// PerformancePoint 单次采样的设备 I/O 速率
// 速率由相邻两次 /proc/diskstats 采样的差值除以间隔得到
type PerformancePoint struct {
	Timestamp time.Time `json:"timestamp"`
	ReadRate  float64   `json:"read_rate"`  // 读速率（字节/秒）
	WriteRate float64   `json:"write_rate"` // 写速率（字节/秒）
	ReadIOPS  float64   `json:"read_iops"`
	WriteIOPS float64   `json:"write_iops"`
}
