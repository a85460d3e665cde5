//go:build linux

package gpumon

import (
	"os"
	"path/filepath"

	"github.com/wattbound/wattd/internal/domain"
)

// discoverSource scans DRM devices for a utilization file. amdgpu exposes
// gpu_busy_percent directly; nothing comparable exists for other drivers,
// so those nodes are skipped.
func discoverSource() (busySource, error) {
	cards, _ := filepath.Glob("/sys/class/drm/card*/device/gpu_busy_percent")
	for _, path := range cards {
		if _, err := os.Stat(path); err == nil {
			return fileSource{path: path}, nil
		}
	}
	return nil, domain.ErrMonitorNoDevice
}
