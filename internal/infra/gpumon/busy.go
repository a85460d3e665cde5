package gpumon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// busySource yields instantaneous GPU utilization in percent.
type busySource interface {
	busyPercent() (int, error)
}

// fileSource reads a sysfs-style busy-percent file: a single integer,
// optionally newline-terminated (amdgpu's gpu_busy_percent format).
type fileSource struct {
	path string
}

func (s fileSource) busyPercent() (int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return 0, err
	}
	pct, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}
