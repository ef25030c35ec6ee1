//go:build darwin

package performance

import (
	"golang.org/x/sys/unix"
)

// GetSystemMemory reports hw.memsize as the total. Darwin has no cheap
// system-wide availability figure, so the rest is derived from the Go runtime
// and marked approximate.
func GetSystemMemory() MemorySnapshot {
	goMem := GetGoMemory()

	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return MemorySnapshot{UsedMB: goMem.SysMB, Approximate: true}
	}
	totalMB := total / mb
	used := goMem.SysMB
	if used > totalMB {
		used = totalMB
	}
	return MemorySnapshot{
		TotalMB:     totalMB,
		AvailableMB: totalMB - used,
		UsedMB:      used,
		FreeMB:      totalMB - used,
		Approximate: true,
	}
}
