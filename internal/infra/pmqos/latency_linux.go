//go:build linux

package pmqos

import (
	"fmt"
	"os"
)

// openLatencyDevice opens the PM QoS latency file for writing.
func openLatencyDevice(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}
