package tensor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/born-ml/accelnet/internal/compute"
)

// FromReader creates a tensor from size little-endian float32 values read
// from r. When allocateDevice is set the device buffer is created from the
// host data.
func FromReader(shape Shape, r io.Reader, ctx compute.Context, allocateDevice bool) (*Tensor, error) {
	t, err := newHost(shape)
	if err != nil {
		return nil, err
	}
	if err := readFloats(r, t.data); err != nil {
		return nil, err
	}
	if allocateDevice {
		if err := t.createDevice(ctx, true); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ReadPartial reads count values into the head of the host buffer. The
// rest of the buffer is untouched. When push is set and a device buffer
// exists the host buffer is written to it and the call blocks until done.
func (t *Tensor) ReadPartial(r io.Reader, count int, q compute.Queue, push bool) error {
	if count < 0 || count > t.size {
		return fmt.Errorf("tensor: %w: read of %d values into %d elements", compute.ErrOutOfRange, count, t.size)
	}
	if err := readFloats(r, t.data[:count]); err != nil {
		return err
	}
	if push && t.device != nil {
		if _, err := t.write(q, true, nil); err != nil {
			return err
		}
	}
	return nil
}

// readFloats fills dst from r, failing with ErrIO on a short stream.
func readFloats(r io.Reader, dst []float32) error {
	if len(dst) == 0 {
		return nil
	}
	if r == nil {
		return fmt.Errorf("tensor: %w: nil reader", compute.ErrIO)
	}
	if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("tensor: %w: stream ended before %d values", compute.ErrIO, len(dst))
		}
		return fmt.Errorf("tensor: %w: %w", compute.ErrIO, err)
	}
	return nil
}
