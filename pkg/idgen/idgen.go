// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且递增的 ID。
// 生成的 ID 格式：
//   - Pool ID: pool-{递增数字}
//   - Device ID: dev-{递增数字}
package idgen

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/sony/sonyflake"
)

// Generator 递增 ID 生成器
// 使用 Sonyflake 算法生成全局唯一且递增的 ID
type Generator struct {
	sf *sonyflake.Sonyflake
}

var (
	defaultGenerator     *Generator
	defaultGeneratorOnce sync.Once
)

// DefaultGenerator 返回默认的 ID 生成器
func DefaultGenerator() *Generator {
	defaultGeneratorOnce.Do(func() {
		defaultGenerator = New()
	})
	return defaultGenerator
}

// New 创建新的 ID 生成器
func New() *Generator {
	sf := sonyflake.NewSonyflake(sonyflake.Settings{
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if sf == nil {
		// 没有私网地址可推断机器 ID（容器里常见），用主机名哈希兜底
		sf = sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			MachineID: fallbackMachineID,
		})
	}
	return &Generator{sf: sf}
}

// fallbackMachineID 从主机名哈希出 16 位机器 ID
// 主机名都取不到时用进程号，保证生成器总能初始化
func fallbackMachineID() (uint16, error) {
	host, err := os.Hostname()
	if err != nil {
		host = strconv.Itoa(os.Getpid())
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(host))
	return uint16(h.Sum32()), nil
}

// generateIDWithPrefix 生成带前缀的 ID
func (g *Generator) generateIDWithPrefix(prefix, errorMsg string) (string, error) {
	if g.sf == nil {
		return "", fmt.Errorf("%s: id generator not initialized", errorMsg)
	}
	id, err := g.sf.NextID()
	if err != nil {
		return "", fmt.Errorf("%s: %w", errorMsg, err)
	}
	return fmt.Sprintf("%s-%d", prefix, id), nil
}

// GeneratePoolID 生成存储池 ID（格式：pool-{递增 ID}）
func (g *Generator) GeneratePoolID() (string, error) {
	return g.generateIDWithPrefix("pool", "generate pool ID")
}

// GenerateDeviceID 生成设备 ID（格式：dev-{递增 ID}）
func (g *Generator) GenerateDeviceID() (string, error) {
	return g.generateIDWithPrefix("dev", "generate device ID")
}

// GeneratePoolID 使用默认生成器生成存储池 ID
func GeneratePoolID() (string, error) {
	return DefaultGenerator().GeneratePoolID()
}

// GenerateDeviceID 使用默认生成器生成设备 ID
func GenerateDeviceID() (string, error) {
	return DefaultGenerator().GenerateDeviceID()
}
