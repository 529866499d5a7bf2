// Package diskstats 解析 /proc/diskstats，提供每设备的累计 I/O 计数
//
// 字段布局（内核文档 Documentation/admin-guide/iostats.rst）：
//
//	major minor name reads-completed reads-merged sectors-read ms-reading
//	writes-completed writes-merged sectors-written ms-writing ...
//
// 扇区计数固定按 512 字节换算，与内核口径一致，与设备逻辑扇区大小无关
package diskstats

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SectorSize /proc/diskstats 的扇区单位
const SectorSize = 512

// Stat 单个设备的累计计数器
type Stat struct {
	ReadOps      uint64
	ReadSectors  uint64
	WriteOps     uint64
	WriteSectors uint64
}

// ReadBytes 累计读字节数
func (s Stat) ReadBytes() uint64 { return s.ReadSectors * SectorSize }

// WriteBytes 累计写字节数
func (s Stat) WriteBytes() uint64 { return s.WriteSectors * SectorSize }

// Parse 解析 diskstats 格式的内容，key 是设备名（不含 /dev/ 前缀）
func Parse(data string) (map[string]Stat, error) {
	stats := make(map[string]Stat)
	scanner := bufio.NewScanner(strings.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 10 {
			continue
		}
		name := fields[2]

		var values [8]uint64
		ok := true
		for i := 0; i < 8; i++ {
			v, err := strconv.ParseUint(fields[3+i], 10, 64)
			if err != nil {
				ok = false
				break
			}
			values[i] = v
		}
		if !ok {
			continue
		}

		stats[name] = Stat{
			ReadOps:      values[0],
			ReadSectors:  values[2],
			WriteOps:     values[4],
			WriteSectors: values[6],
		}
	}
	return stats, scanner.Err()
}

// Read 读取并解析 diskstats 文件，path 为空时使用 /proc/diskstats
func Read(path string) (map[string]Stat, error) {
	if path == "" {
		path = "/proc/diskstats"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(data))
}
