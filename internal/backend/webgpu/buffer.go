//go:build windows

package webgpu

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/go-webgpu/webgpu/wgpu"
)

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// buffer is a storage buffer of n float32 elements.
type buffer struct {
	buf      *wgpu.Buffer
	n        int
	size     uint64
	access   compute.Access
	stats    *memoryStats
	released atomic.Bool
}

func (b *buffer) Len() int               { return b.n }
func (b *buffer) Access() compute.Access { return b.access }

func (b *buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.buf.Release()
	b.stats.activeBuffers.Add(-1)
}

// context allocates storage buffers on the device.
type context struct {
	device *wgpu.Device
	stats  *memoryStats
}

func (c *context) CreateBuffer(access compute.Access, size int, host []float32) (compute.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("webgpu: %w: invalid buffer size %d", compute.ErrDevice, size)
	}
	if access&compute.ReadWrite == 0 {
		return nil, fmt.Errorf("webgpu: %w: buffer needs read or write access", compute.ErrConfiguration)
	}
	if host != nil && len(host) < size {
		return nil, fmt.Errorf("webgpu: %w: host data has %d elements, buffer needs %d",
			compute.ErrDevice, len(host), size)
	}
	byteSize := bufferBytes(size)
	var buf *wgpu.Buffer
	if host != nil {
		buf = createMapped(c.device, storageUsage, byteSize, floatBytes(host[:size]))
	} else {
		buf = c.device.CreateBuffer(&wgpu.BufferDescriptor{Usage: storageUsage, Size: byteSize})
	}
	if buf == nil {
		return nil, fmt.Errorf("webgpu: %w: failed to allocate %d bytes", compute.ErrDevice, byteSize)
	}
	c.stats.totalAllocatedBytes.Add(byteSize)
	c.stats.activeBuffers.Add(1)
	return &buffer{buf: buf, n: size, size: byteSize, access: access, stats: c.stats}, nil
}

// createMapped creates a buffer of size bytes initialized from data through
// MappedAtCreation.
func createMapped(device *wgpu.Device, usage wgpu.BufferUsage, size uint64, data []byte) *wgpu.Buffer {
	buf := device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	if buf == nil {
		return nil
	}
	mappedPtr := buf.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	buf.Unmap()
	return buf
}

// floatBytes views a float32 slice as its little-endian bytes.
func floatBytes(f []float32) []byte {
	if len(f) == 0 {
		return nil
	}
	//nolint:gosec // reinterpretation of float32 storage; the device is little-endian
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

// native unwraps a buffer created by this backend.
func native(b compute.Buffer) (*buffer, error) {
	wb, ok := b.(*buffer)
	if !ok || wb == nil {
		return nil, fmt.Errorf("webgpu: %w: foreign buffer %T", compute.ErrDevice, b)
	}
	if wb.released.Load() {
		return nil, fmt.Errorf("webgpu: %w: buffer used after release", compute.ErrDevice)
	}
	return wb, nil
}
