package entity

import "fmt"

// Topology 冗余布局的带标签变体
// 最小盘数规则和容量折算函数在查表时一次性确定，
// 后续流程不再对布局名做分支判断
type Topology struct {
	Name       string
	MinDevices int
	EvenCount  bool   // 是否要求偶数个设备
	MdadmLevel string // mdadm --level 的取值，空表示 ZFS 专用布局
	VdevType   string // zpool create 的 vdev 关键字，空且非 ZFS 专用时不可用于 ZFS
	Striped    bool   // 条带/奇偶校验布局，创建时需要 chunk size
	Redundant  bool   // 冗余布局，创建时启用 write-intent bitmap

	usable func(sum uint64, n int) uint64
}

// UsableSize 按拓扑折算成员设备总容量
// 纯函数：同样的设备集合和拓扑折算结果恒定
func (t *Topology) UsableSize(deviceSizes []uint64) uint64 {
	var sum uint64
	for _, s := range deviceSizes {
		sum += s
	}
	if len(deviceSizes) == 0 {
		return 0
	}
	return t.usable(sum, len(deviceSizes))
}

func fullSum(sum uint64, _ int) uint64 { return sum }

func halfSum(sum uint64, _ int) uint64 { return sum / 2 }

// parityN 奇偶校验布局：N 块盘中 parity 块用于校验
func parityN(parity int) func(uint64, int) uint64 {
	return func(sum uint64, n int) uint64 {
		if n <= parity {
			return 0
		}
		return sum / uint64(n) * uint64(n-parity)
	}
}

// raidTopologies 软件 RAID（mdadm）支持的布局
var raidTopologies = map[string]*Topology{
	"single": {Name: "single", MinDevices: 1, MdadmLevel: "linear", usable: fullSum},
	"linear": {Name: "linear", MinDevices: 1, MdadmLevel: "linear", usable: fullSum},
	"raid0":  {Name: "raid0", MinDevices: 2, MdadmLevel: "raid0", Striped: true, usable: fullSum},
	"stripe": {Name: "stripe", MinDevices: 2, MdadmLevel: "raid0", Striped: true, usable: fullSum},
	"raid1":  {Name: "raid1", MinDevices: 2, MdadmLevel: "raid1", Redundant: true, usable: halfSum},
	"mirror": {Name: "mirror", MinDevices: 2, MdadmLevel: "raid1", Redundant: true, usable: halfSum},
	"raid5":  {Name: "raid5", MinDevices: 3, MdadmLevel: "raid5", Striped: true, Redundant: true, usable: parityN(1)},
	"raid6":  {Name: "raid6", MinDevices: 4, MdadmLevel: "raid6", Striped: true, Redundant: true, usable: parityN(2)},
	"raid10": {Name: "raid10", MinDevices: 4, EvenCount: true, MdadmLevel: "raid10", Striped: true, Redundant: true, usable: halfSum},
}

// zfsTopologies ZFS 支持的布局
var zfsTopologies = map[string]*Topology{
	"single":  {Name: "single", MinDevices: 1, VdevType: "single", usable: fullSum},
	"striped": {Name: "striped", MinDevices: 2, VdevType: "stripe", usable: fullSum},
	"mirror":  {Name: "mirror", MinDevices: 2, VdevType: "mirror", Redundant: true, usable: halfSum},
	"raidz1":  {Name: "raidz1", MinDevices: 3, VdevType: "raidz1", Redundant: true, usable: parityN(1)},
	"raidz2":  {Name: "raidz2", MinDevices: 4, VdevType: "raidz2", Redundant: true, usable: parityN(2)},
	"raidz3":  {Name: "raidz3", MinDevices: 5, VdevType: "raidz3", Redundant: true, usable: parityN(3)},
}

// LookupTopology 查找布局定义
// zfs 为 true 时使用 ZFS 的布局表（盘数下限不同）
func LookupTopology(name string, zfs bool) (*Topology, error) {
	table := raidTopologies
	if zfs {
		table = zfsTopologies
	}
	topo, ok := table[name]
	if !ok {
		return nil, &ValidationError{
			Field:  "topology",
			Reason: fmt.Sprintf("unsupported topology %q", name),
		}
	}
	return topo, nil
}
