//go:build windows

package gpumon

import "github.com/wattbound/wattd/internal/domain"

// Windows exposes no sysfs-style utilization file; external producers must
// report overload through the API instead.
func discoverSource() (busySource, error) {
	return nil, domain.ErrMonitorNoDevice
}
