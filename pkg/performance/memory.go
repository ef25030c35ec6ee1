package performance

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

const mb = 1024 * 1024

// MemorySnapshot is the system memory state in MB.
type MemorySnapshot struct {
	TotalMB     uint64
	AvailableMB uint64
	UsedMB      uint64
	FreeMB      uint64

	// Approximate is set when the platform only offers process statistics.
	Approximate bool
}

// GoMemoryStats are Go runtime statistics in MB.
type GoMemoryStats struct {
	AllocMB uint64
	SysMB   uint64
	NumGC   uint32
}

// GetGoMemory reads the Go runtime memory statistics.
func GetGoMemory() GoMemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return GoMemoryStats{AllocMB: m.Alloc / mb, SysMB: m.Sys / mb, NumGC: m.NumGC}
}

// MemoryPressureLevel grades available system memory.
type MemoryPressureLevel int

const (
	MemoryPressureNone     MemoryPressureLevel = iota // >800MB available
	MemoryPressureLow                                 // 400-800MB
	MemoryPressureMedium                              // 200-400MB
	MemoryPressureHigh                                // 100-200MB
	MemoryPressureCritical                            // <100MB
)

// PressureFor grades an available-memory figure.
func PressureFor(availableMB uint64) MemoryPressureLevel {
	switch {
	case availableMB < 100:
		return MemoryPressureCritical
	case availableMB < 200:
		return MemoryPressureHigh
	case availableMB < 400:
		return MemoryPressureMedium
	case availableMB < 800:
		return MemoryPressureLow
	default:
		return MemoryPressureNone
	}
}

func (m MemoryPressureLevel) String() string {
	switch m {
	case MemoryPressureNone:
		return "none"
	case MemoryPressureLow:
		return "low"
	case MemoryPressureMedium:
		return "medium"
	case MemoryPressureHigh:
		return "high"
	case MemoryPressureCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PoolBytes is the memory held by capacity I420 buffers of width x height,
// counting the decoder's staging copy once.
func PoolBytes(width, height, capacity int) uint64 {
	frame := uint64(width) * uint64(height) * 3 / 2
	return frame * uint64(capacity+1)
}

// CheckPoolBudget compares the pool footprint with available memory. It
// returns an error when the pool alone would take more than half of it.
func CheckPoolBudget(sys MemorySnapshot, poolBytes uint64) error {
	if sys.AvailableMB == 0 || sys.Approximate {
		return nil
	}
	need := (poolBytes + mb - 1) / mb
	if need*2 > sys.AvailableMB {
		return fmt.Errorf("frame pool needs %dMB, only %dMB available", need, sys.AvailableMB)
	}
	return nil
}

// LogMemorySnapshot logs system and runtime memory at debug level, or at warn
// level under high pressure.
func LogMemorySnapshot(log logrus.FieldLogger) {
	sys := GetSystemMemory()
	goMem := GetGoMemory()
	pressure := PressureFor(sys.AvailableMB)

	entry := log.WithFields(logrus.Fields{
		"total_mb":     sys.TotalMB,
		"available_mb": sys.AvailableMB,
		"used_mb":      sys.UsedMB,
		"go_alloc_mb":  goMem.AllocMB,
		"go_sys_mb":    goMem.SysMB,
		"gc":           goMem.NumGC,
		"pressure":     pressure.String(),
	})
	if pressure >= MemoryPressureHigh && !sys.Approximate {
		entry.Warn("Memory: system memory is low")
		return
	}
	entry.Debug("Memory: snapshot")
}
