package performance

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// parseMeminfo reads a /proc/meminfo listing. Available memory is the
// kernel's MemAvailable estimate, which counts reclaimable page cache; older
// kernels without it fall back to free, buffers and cached memory.
func parseMeminfo(r io.Reader) (MemorySnapshot, error) {
	kb := make(map[string]uint64)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			continue
		}
		kb[name] = v
	}
	if err := sc.Err(); err != nil {
		return MemorySnapshot{}, fmt.Errorf("read meminfo: %w", err)
	}

	total, ok := kb["MemTotal"]
	if !ok {
		return MemorySnapshot{}, fmt.Errorf("meminfo: no MemTotal")
	}
	available, ok := kb["MemAvailable"]
	if !ok {
		available = kb["MemFree"] + kb["Buffers"] + kb["Cached"]
	}
	if available > total {
		available = total
	}

	const kbPerMB = 1024
	return MemorySnapshot{
		TotalMB:     total / kbPerMB,
		AvailableMB: available / kbPerMB,
		UsedMB:      (total - available) / kbPerMB,
		FreeMB:      kb["MemFree"] / kbPerMB,
	}, nil
}
