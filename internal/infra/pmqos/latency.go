package pmqos

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/wattbound/wattd/internal/domain"
)

// DefaultDevicePath is the kernel PM QoS interface for CPU latency bounds.
const DefaultDevicePath = "/dev/cpu_dma_latency"

// defaultLatencyUs matches the kernel's PM_QOS_CPU_DMA_LAT_DEFAULT_VALUE:
// no constraint from our side.
const defaultLatencyUs int32 = 2_000_000_000

// CPULatencySink holds a PM QoS latency request against the platform. The
// request is alive while the device fd stays open; each SetTarget rewrites
// the 4-byte latency bound. A bottleneck target of N Hz maps to a 1/N
// second latency allowance — telling CPU PM it may respond lazily because
// the GPU, not the CPU, is the limiting factor.
type CPULatencySink struct {
	mu   sync.Mutex
	f    *os.File
	last int32
}

// NewCPULatencySink opens the latency device (DefaultDevicePath if path is
// empty) and parks the request at the default bound. Returns
// domain.ErrSinkUnsupported on platforms without the device interface.
func NewCPULatencySink(path string) (*CPULatencySink, error) {
	if path == "" {
		path = DefaultDevicePath
	}
	f, err := openLatencyDevice(path)
	if err != nil {
		return nil, err
	}

	s := &CPULatencySink{f: f, last: defaultLatencyUs}
	if err := s.write(defaultLatencyUs); err != nil {
		f.Close()
		return nil, fmt.Errorf("park latency request: %w", err)
	}
	return s, nil
}

// SetTarget converts the QoS value to a latency bound and rewrites the
// request. Write failures leave the previous bound in place; the next
// update retries.
func (s *CPULatencySink) SetTarget(v domain.QoSValue) {
	us := defaultLatencyUs
	if !v.IsDefault() && v > 0 {
		us = int32(1_000_000 / int64(v)) // 1/Hz seconds, in µs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil || us == s.last {
		return
	}
	if err := s.write(us); err == nil {
		s.last = us
	}
}

// Healthy reports whether the request is still held against the device.
func (s *CPULatencySink) Healthy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return domain.ErrSinkClosed
	}
	return nil
}

// LastLatencyUs returns the last successfully written bound.
func (s *CPULatencySink) LastLatencyUs() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close releases the request by closing the device.
func (s *CPULatencySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *CPULatencySink) write(us int32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(us))
	_, err := s.f.WriteAt(buf[:], 0)
	return err
}
