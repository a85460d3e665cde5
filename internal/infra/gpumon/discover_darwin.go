//go:build darwin

package gpumon

import "github.com/wattbound/wattd/internal/domain"

// macOS exposes no stable GPU utilization file; external producers must
// report overload through the API instead.
func discoverSource() (busySource, error) {
	return nil, domain.ErrMonitorNoDevice
}
