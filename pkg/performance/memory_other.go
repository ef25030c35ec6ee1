//go:build !linux && !darwin

package performance

// GetSystemMemory only knows about this process on other platforms.
func GetSystemMemory() MemorySnapshot {
	return MemorySnapshot{UsedMB: GetGoMemory().SysMB, Approximate: true}
}
