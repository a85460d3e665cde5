//go:build windows

package pmqos

import (
	"os"

	"github.com/wattbound/wattd/internal/domain"
)

// Windows has no PM QoS device interface. The daemon falls back to the
// in-memory sink so the control loop still runs and is observable.
func openLatencyDevice(path string) (*os.File, error) {
	return nil, domain.ErrSinkUnsupported
}
