package host

import (
	"fmt"
	"sync/atomic"

	"github.com/born-ml/accelnet/internal/compute"
)

// buffer is a host-memory allocation standing in for device memory.
// Its contents are only touched by the device goroutine once commands are
// enqueued; CreateBuffer fills it before it becomes visible.
type buffer struct {
	data     []float32
	access   compute.Access
	released atomic.Bool
}

func (b *buffer) Len() int               { return len(b.data) }
func (b *buffer) Access() compute.Access { return b.access }

// Release marks the buffer dead. Commands that reach it afterwards fail
// with ErrDevice.
func (b *buffer) Release() {
	b.released.Store(true)
}

// context allocates host buffers and tracks memory statistics.
type context struct {
	stats *memoryStats
}

func (c *context) CreateBuffer(access compute.Access, size int, host []float32) (compute.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("host: %w: invalid buffer size %d", compute.ErrDevice, size)
	}
	if access&compute.ReadWrite == 0 {
		return nil, fmt.Errorf("host: %w: buffer needs read or write access", compute.ErrConfiguration)
	}
	if host != nil && len(host) < size {
		return nil, fmt.Errorf("host: %w: host data has %d elements, buffer needs %d",
			compute.ErrDevice, len(host), size)
	}
	b := &buffer{data: make([]float32, size), access: access}
	if host != nil {
		copy(b.data, host[:size])
	}
	c.stats.trackAllocation(uint64(size) * 4) //nolint:gosec // G115: size > 0
	return b, nil
}

// view resolves a borrowed reference to the slice it covers.
func view(ref compute.BufferRef) ([]float32, error) {
	b, ok := ref.Buffer.(*buffer)
	if !ok {
		return nil, fmt.Errorf("host: %w: foreign buffer %T", compute.ErrDevice, ref.Buffer)
	}
	if b.released.Load() {
		return nil, fmt.Errorf("host: %w: buffer used after release", compute.ErrDevice)
	}
	if ref.Offset < 0 || ref.Offset > len(b.data) {
		return nil, fmt.Errorf("host: %w: offset %d outside buffer of %d", compute.ErrDevice, ref.Offset, len(b.data))
	}
	return b.data[ref.Offset:], nil
}

// memoryStats counts allocations, as the WebGPU backend does.
type memoryStats struct {
	totalAllocatedBytes atomic.Uint64
	buffers             atomic.Int64
}

func (s *memoryStats) trackAllocation(size uint64) {
	s.totalAllocatedBytes.Add(size)
	s.buffers.Add(1)
}
