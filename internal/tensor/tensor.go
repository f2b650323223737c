// Package tensor implements a float32 tensor with a host copy and an
// optional device copy held in a compute buffer.
//
// The two copies are synchronized only explicitly: PushToDevice uploads the
// host data, PopToHost downloads the device data. A tensor exclusively owns
// both copies; operators borrow the device buffer through Ref.
package tensor

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
)

// Tensor is a host array of float32 with an optional device mirror.
type Tensor struct {
	shape  Shape
	size   int
	data   []float32
	device compute.Buffer
	ctx    compute.Context
}

// New creates a zero-filled tensor. When allocateDevice is set an
// uninitialized device buffer of the same size is created from ctx.
func New(shape Shape, ctx compute.Context, allocateDevice bool) (*Tensor, error) {
	t, err := newHost(shape)
	if err != nil {
		return nil, err
	}
	if allocateDevice {
		if err := t.createDevice(ctx, false); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FromSlice creates a host tensor holding a copy of data. len(data) must
// match the shape.
func FromSlice(shape Shape, data []float32) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor: %w: %w", compute.ErrShapeMismatch, err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("tensor: %w: %d values for shape %v (%d elements)",
			compute.ErrShapeMismatch, len(data), shape, shape.NumElements())
	}
	return &Tensor{shape: shape.Clone(), size: len(data), data: append([]float32(nil), data...)}, nil
}

func newHost(shape Shape) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("tensor: %w: %w", compute.ErrShapeMismatch, err)
	}
	size := shape.NumElements()
	return &Tensor{shape: shape.Clone(), size: size, data: make([]float32, size)}, nil
}

// createDevice allocates the device buffer, copying host data when
// copyHost is set.
func (t *Tensor) createDevice(ctx compute.Context, copyHost bool) error {
	if ctx == nil {
		return fmt.Errorf("tensor: %w: no compute context for device allocation", compute.ErrConfiguration)
	}
	var host []float32
	if copyHost {
		host = t.data
	}
	buf, err := ctx.CreateBuffer(compute.ReadWrite, max(t.size, 1), padded(host, t.size))
	if err != nil {
		return fmt.Errorf("tensor: allocate %d elements: %w", t.size, err)
	}
	t.device = buf
	t.ctx = ctx
	return nil
}

// padded lets empty tensors own a one-element device buffer.
func padded(host []float32, size int) []float32 {
	if host == nil || size > 0 {
		return host
	}
	return []float32{0}
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() Shape { return t.shape.Clone() }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.size }

// ByteSize returns the host buffer size in bytes.
func (t *Tensor) ByteSize() int { return t.size * 4 }

// Data returns the host buffer. Mutations are visible to the tensor.
func (t *Tensor) Data() []float32 { return t.data }

// HasDeviceData reports whether a device buffer exists.
func (t *Tensor) HasDeviceData() bool { return t.device != nil }

// DeviceBuffer returns the device buffer, or nil.
func (t *Tensor) DeviceBuffer() compute.Buffer { return t.device }

// Ref borrows the device buffer with the given capability. The reference is
// unbound when no device buffer exists.
func (t *Tensor) Ref(access compute.Access) compute.BufferRef {
	if t.device == nil {
		return compute.BufferRef{Access: access}
	}
	return compute.Ref(t.device, access)
}

// Release frees the device buffer. The host data stays valid.
func (t *Tensor) Release() {
	if t.device != nil {
		t.device.Release()
		t.device = nil
		t.ctx = nil
	}
}

// Offset returns the row-major flat index of coord.
func (t *Tensor) Offset(coord ...int) (int, error) {
	if len(coord) != len(t.shape) {
		return 0, fmt.Errorf("tensor: %w: %d coordinates for rank %d", compute.ErrOutOfRange, len(coord), len(t.shape))
	}
	offset := 0
	strides := t.shape.Strides()
	for i, idx := range coord {
		if idx < 0 || idx >= t.shape[i] {
			return 0, fmt.Errorf("tensor: %w: index %d out of bounds for dimension %d (size %d)",
				compute.ErrOutOfRange, idx, i, t.shape[i])
		}
		offset += idx * strides[i]
	}
	return offset, nil
}

// At returns the host element at coord.
func (t *Tensor) At(coord ...int) (float32, error) {
	off, err := t.Offset(coord...)
	if err != nil {
		return 0, err
	}
	return t.data[off], nil
}

// SetAt stores v at coord in the host buffer.
func (t *Tensor) SetAt(v float32, coord ...int) error {
	off, err := t.Offset(coord...)
	if err != nil {
		return err
	}
	t.data[off] = v
	return nil
}

// Get returns the host element at flat index i.
func (t *Tensor) Get(i int) (float32, error) {
	if i < 0 || i >= t.size {
		return 0, fmt.Errorf("tensor: %w: flat index %d outside %d elements", compute.ErrOutOfRange, i, t.size)
	}
	return t.data[i], nil
}

// Set stores v at flat index i in the host buffer.
func (t *Tensor) Set(i int, v float32) error {
	if i < 0 || i >= t.size {
		return fmt.Errorf("tensor: %w: flat index %d outside %d elements", compute.ErrOutOfRange, i, t.size)
	}
	t.data[i] = v
	return nil
}

// String returns a short description.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%t)", t.shape, t.device != nil)
}
