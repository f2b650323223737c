//go:build windows

package webgpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/go-webgpu/webgpu/wgpu"
	"go.uber.org/zap"
)

// queue maps the in-order command queue onto the WebGPU queue. Every
// command is encoded and submitted immediately, so WebGPU's own submission
// order gives the in-order guarantee. Completion is observed by mapping a
// 4-byte fence buffer after a submit.
type queue struct {
	device *wgpu.Device
	wq     *wgpu.Queue
	logger *zap.Logger

	mu       sync.Mutex
	closed   bool
	fenceSrc *wgpu.Buffer
	fence    *wgpu.Buffer
}

func newQueue(device *wgpu.Device, wq *wgpu.Queue, logger *zap.Logger) *queue {
	return &queue{
		device:   device,
		wq:       wq,
		logger:   logger,
		fenceSrc: createMapped(device, wgpu.BufferUsageCopySrc, 4, make([]byte, 4)),
		fence: device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  4,
		}),
	}
}

// submitted is the event of a command that has been submitted but not yet
// observed complete. Waiting on it drains the queue.
type submitted struct {
	q    *queue
	once sync.Once
	done chan struct{}
	err  error
}

func (q *queue) newEvent() *submitted {
	return &submitted{q: q, done: make(chan struct{})}
}

func (e *submitted) Wait() error {
	e.once.Do(func() {
		e.err = e.q.Finish()
		close(e.done)
	})
	return e.err
}

// Done drains the queue in the background the first time it is called.
func (e *submitted) Done() <-chan struct{} {
	go func() { _ = e.Wait() }()
	return e.done
}

// run executes one command under the queue lock. Native panics become
// ErrDevice.
func (q *queue) run(name string, wait []compute.Event, f func() error) (err error) {
	// Events of this queue are ordered by submission; foreign events are
	// waited for before encoding.
	for _, ev := range wait {
		if ev == nil {
			continue
		}
		if s, ok := ev.(*submitted); ok && s.q == q {
			continue
		}
		if werr := ev.Wait(); werr != nil {
			return fmt.Errorf("webgpu: %s: wait list: %w", name, werr)
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("webgpu: %w: %s on released queue", compute.ErrDevice, name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webgpu: %w: %s: %v", compute.ErrDevice, name, r)
		}
		if err != nil {
			q.logger.Debug("command failed", zap.String("command", name), zap.Error(err))
		}
	}()
	return f()
}

// complete turns a submitted command into its event, draining the queue
// first when blocking is set.
func (q *queue) complete(blocking bool) (compute.Event, error) {
	if !blocking {
		return q.newEvent(), nil
	}
	if err := q.Finish(); err != nil {
		return nil, err
	}
	return compute.Completed(nil), nil
}

func (q *queue) EnqueueWrite(buf compute.Buffer, blocking bool, src []float32, wait ...compute.Event) (compute.Event, error) {
	dst, err := native(buf)
	if err != nil {
		return nil, err
	}
	if len(src) > dst.n {
		return nil, fmt.Errorf("webgpu: %w: write of %d elements into buffer of %d", compute.ErrDevice, len(src), dst.n)
	}
	if len(src) == 0 {
		return compute.Completed(nil), nil
	}
	err = q.run("write", wait, func() error {
		size := uint64(len(src)) * 4 //nolint:gosec // G115: len is non-negative
		// The staging copy captures src now, so the caller may reuse it.
		staging := createMapped(q.device, wgpu.BufferUsageCopySrc, size, floatBytes(src))
		if staging == nil {
			return fmt.Errorf("webgpu: %w: staging buffer of %d bytes", compute.ErrDevice, size)
		}
		defer staging.Release()
		encoder := q.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(staging, 0, dst.buf, 0, size)
		q.wq.Submit(encoder.Finish(nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.complete(blocking)
}

// EnqueueRead copies the buffer into a mapped staging buffer. Mapping
// waits for the copy, so dst is filled on return even when blocking is
// false.
func (q *queue) EnqueueRead(buf compute.Buffer, blocking bool, dst []float32, wait ...compute.Event) (compute.Event, error) {
	src, err := native(buf)
	if err != nil {
		return nil, err
	}
	if len(dst) > src.n {
		return nil, fmt.Errorf("webgpu: %w: read of %d elements from buffer of %d", compute.ErrDevice, len(dst), src.n)
	}
	if len(dst) == 0 {
		return compute.Completed(nil), nil
	}
	err = q.run("read", wait, func() error {
		size := uint64(len(dst)) * 4 //nolint:gosec // G115: len is non-negative
		staging := q.device.CreateBuffer(&wgpu.BufferDescriptor{
			Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
			Size:  size,
		})
		defer staging.Release()

		encoder := q.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(src.buf, 0, staging, 0, size)
		q.wq.Submit(encoder.Finish(nil))

		if err := staging.MapAsync(q.device, wgpu.MapModeRead, 0, size); err != nil {
			return fmt.Errorf("webgpu: %w: failed to map staging buffer: %w", compute.ErrDevice, err)
		}
		mappedPtr := staging.GetMappedRange(0, size)
		//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
		copy(floatBytes(dst), unsafe.Slice((*byte)(mappedPtr), size))
		staging.Unmap()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return compute.Completed(nil), nil
}

// EnqueueNDRange binds the kernel's buffer arguments to storage bindings
// 0..n-1 and its scalars to a uniform block at binding n, then dispatches
// one work-group per Local-sized tile of the range.
func (q *queue) EnqueueNDRange(k compute.Kernel, r compute.NDRange, wait ...compute.Event) (compute.Event, error) {
	wk, ok := k.(*kernel)
	if !ok || wk == nil {
		return nil, fmt.Errorf("webgpu: %w: foreign kernel %T", compute.ErrDevice, k)
	}
	if wk.pipeline == nil {
		return nil, fmt.Errorf("webgpu: %w: kernel %s was released", compute.ErrDevice, wk.name)
	}
	args, err := wk.snapshot()
	if err != nil {
		return nil, err
	}

	refs := args.Buffers()
	entries := make([]wgpu.BindGroupEntry, 0, len(refs)+1)
	for i, ref := range refs {
		b, err := native(ref.Buffer)
		if err != nil {
			return nil, err
		}
		if ref.Offset != 0 {
			return nil, fmt.Errorf("webgpu: %w: argument buffer %d bound at element %d; offsets are passed as scalars",
				compute.ErrDevice, i, ref.Offset)
		}
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), b.buf, 0, b.size)) //nolint:gosec // G115: binding index is small
	}

	groups := r.Groups()
	err = q.run(wk.name, wait, func() error {
		block := uniformBlock(&args)
		params := createMapped(q.device, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst, uint64(len(block)), block)
		if params == nil {
			return fmt.Errorf("%w: uniform buffer allocation failed", compute.ErrDevice)
		}
		defer params.Release()
		entries = append(entries, wgpu.BufferBindingEntry(uint32(len(refs)), params, 0, uint64(len(block)))) //nolint:gosec // G115: binding index is small

		bindGroup := q.device.CreateBindGroupSimple(wk.layout, entries)
		if bindGroup == nil {
			return fmt.Errorf("%w: bind group creation failed", compute.ErrDevice)
		}
		defer bindGroup.Release()

		encoder := q.device.CreateCommandEncoder(nil)
		computePass := encoder.BeginComputePass(nil)
		computePass.SetPipeline(wk.pipeline)
		computePass.SetBindGroup(0, bindGroup, nil)
		//nolint:gosec // G115: work-group counts are small and non-negative
		computePass.DispatchWorkgroups(uint32(groups[0]), uint32(groups[1]), uint32(groups[2]))
		computePass.End()
		q.wq.Submit(encoder.Finish(nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return q.newEvent(), nil
}

// Finish copies into the fence buffer and maps it, which returns once
// every earlier submission has executed.
func (q *queue) Finish() error {
	return q.run("finish", nil, func() error {
		encoder := q.device.CreateCommandEncoder(nil)
		encoder.CopyBufferToBuffer(q.fenceSrc, 0, q.fence, 0, 4)
		q.wq.Submit(encoder.Finish(nil))
		if err := q.fence.MapAsync(q.device, wgpu.MapModeRead, 0, 4); err != nil {
			return fmt.Errorf("webgpu: %w: fence: %w", compute.ErrDevice, err)
		}
		q.fence.Unmap()
		return nil
	})
}

// close drains the queue and releases the fence.
func (q *queue) close() {
	if err := q.Finish(); err != nil {
		q.logger.Warn("queue drain failed", zap.Error(err))
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.fenceSrc.Release()
	q.fence.Release()
}
