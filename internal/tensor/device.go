package tensor

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
)

// AllocateDevice creates the device buffer when missing, initialized from
// the host data when copyHost is set. When the buffer already exists and
// copyHost is set, the host data is written into it through q.
// The returned event is already complete unless a write was enqueued
// without blocking.
func (t *Tensor) AllocateDevice(ctx compute.Context, q compute.Queue, copyHost, blocking bool, wait ...compute.Event) (compute.Event, error) {
	if t.device == nil {
		if err := compute.WaitAll(wait...); err != nil {
			return nil, err
		}
		if err := t.createDevice(ctx, copyHost); err != nil {
			return nil, err
		}
		return compute.Completed(nil), nil
	}
	if !copyHost {
		return compute.Completed(nil), nil
	}
	return t.write(q, blocking, wait)
}

// PushToDevice makes the device copy equal to the host copy. Without a
// device buffer one is created from ctx by copying; otherwise a write of
// the whole host buffer is enqueued on q. Pushing twice leaves the device
// copy unchanged.
func (t *Tensor) PushToDevice(ctx compute.Context, q compute.Queue, blocking bool, wait ...compute.Event) (compute.Event, error) {
	return t.AllocateDevice(ctx, q, true, blocking, wait...)
}

// PopToHost enqueues a read of the device buffer into the host buffer.
func (t *Tensor) PopToHost(q compute.Queue, blocking bool, wait ...compute.Event) (compute.Event, error) {
	if t.device == nil {
		return nil, fmt.Errorf("tensor: %w: pop without device data", compute.ErrPrecondition)
	}
	if q == nil {
		return nil, fmt.Errorf("tensor: %w: no command queue", compute.ErrConfiguration)
	}
	ev, err := q.EnqueueRead(t.device, blocking, t.data, wait...)
	if err != nil {
		return nil, fmt.Errorf("tensor: pop %d elements: %w", t.size, err)
	}
	return ev, nil
}

func (t *Tensor) write(q compute.Queue, blocking bool, wait []compute.Event) (compute.Event, error) {
	if q == nil {
		return nil, fmt.Errorf("tensor: %w: no command queue", compute.ErrConfiguration)
	}
	ev, err := q.EnqueueWrite(t.device, blocking, t.data, wait...)
	if err != nil {
		return nil, fmt.Errorf("tensor: push %d elements: %w", t.size, err)
	}
	return ev, nil
}
