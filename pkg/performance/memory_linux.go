//go:build linux

package performance

import (
	"os"

	"golang.org/x/sys/unix"
)

// GetSystemMemory reads /proc/meminfo, falling back to sysinfo(2) when it is
// unavailable.
func GetSystemMemory() MemorySnapshot {
	if f, err := os.Open("/proc/meminfo"); err == nil {
		snap, err := parseMeminfo(f)
		f.Close()
		if err == nil {
			return snap
		}
	}
	return sysinfoMemory()
}

// sysinfoMemory has no page cache figure, so buffers are the only
// reclaimable memory it counts.
func sysinfoMemory() MemorySnapshot {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return MemorySnapshot{Approximate: true}
	}

	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := uint64(info.Totalram) * unit / mb
	free := uint64(info.Freeram) * unit / mb
	buffers := uint64(info.Bufferram) * unit / mb

	available := free + buffers
	if available > total {
		available = total
	}
	return MemorySnapshot{
		TotalMB:     total,
		AvailableMB: available,
		UsedMB:      total - available,
		FreeMB:      free,
		Approximate: true,
	}
}
