package host

import (
	"fmt"
	"sync"

	"github.com/born-ml/accelnet/internal/compute"
	"go.uber.org/zap"
)

// command is one unit of in-order queue work.
type command struct {
	name  string
	wait  []compute.Event
	run   func() error
	event *compute.UserEvent
}

// queue is an in-order command queue served by a single device goroutine.
type queue struct {
	commands chan command
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newQueue(depth int, logger *zap.Logger) *queue {
	q := &queue{
		commands: make(chan command, depth),
		logger:   logger,
	}
	q.wg.Add(1)
	go q.serve()
	return q
}

// serve runs commands in submission order. A command whose wait list
// contains a failed event fails with the same error and does not run.
func (q *queue) serve() {
	defer q.wg.Done()
	for cmd := range q.commands {
		if err := compute.WaitAll(cmd.wait...); err != nil {
			cmd.event.Complete(fmt.Errorf("host: %s: wait list: %w", cmd.name, err))
			continue
		}
		err := cmd.run()
		if err != nil {
			q.logger.Debug("command failed", zap.String("command", cmd.name), zap.Error(err))
		}
		cmd.event.Complete(err)
	}
}

func (q *queue) submit(name string, wait []compute.Event, run func() error) (compute.Event, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, fmt.Errorf("host: %w: %s on released queue", compute.ErrDevice, name)
	}
	ev := compute.NewUserEvent()
	q.commands <- command{name: name, wait: wait, run: run, event: ev}
	return ev, nil
}

// finishIfBlocking waits on ev when blocking is set, returning a completed
// event so callers always get one.
func finishIfBlocking(ev compute.Event, blocking bool) (compute.Event, error) {
	if !blocking {
		return ev, nil
	}
	if err := ev.Wait(); err != nil {
		return ev, err
	}
	return ev, nil
}

func (q *queue) EnqueueWrite(buf compute.Buffer, blocking bool, src []float32, wait ...compute.Event) (compute.Event, error) {
	if buf == nil {
		return nil, fmt.Errorf("host: %w: write to nil buffer", compute.ErrDevice)
	}
	if len(src) > buf.Len() {
		return nil, fmt.Errorf("host: %w: write of %d elements into buffer of %d", compute.ErrDevice, len(src), buf.Len())
	}
	// The source is captured now so the caller may reuse it immediately.
	data := make([]float32, len(src))
	copy(data, src)
	ev, err := q.submit("write", wait, func() error {
		dst, err := view(compute.Ref(buf, compute.ReadWrite))
		if err != nil {
			return err
		}
		copy(dst, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finishIfBlocking(ev, blocking)
}

func (q *queue) EnqueueRead(buf compute.Buffer, blocking bool, dst []float32, wait ...compute.Event) (compute.Event, error) {
	if buf == nil {
		return nil, fmt.Errorf("host: %w: read from nil buffer", compute.ErrDevice)
	}
	if len(dst) > buf.Len() {
		return nil, fmt.Errorf("host: %w: read of %d elements from buffer of %d", compute.ErrDevice, len(dst), buf.Len())
	}
	ev, err := q.submit("read", wait, func() error {
		src, err := view(compute.Ref(buf, compute.ReadWrite))
		if err != nil {
			return err
		}
		copy(dst, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finishIfBlocking(ev, blocking)
}

func (q *queue) EnqueueNDRange(k compute.Kernel, r compute.NDRange, wait ...compute.Event) (compute.Event, error) {
	hk, ok := k.(*kernel)
	if !ok || hk == nil {
		return nil, fmt.Errorf("host: %w: foreign kernel %T", compute.ErrDevice, k)
	}
	launch, err := hk.prepare(r)
	if err != nil {
		return nil, err
	}
	return q.submit(hk.name, wait, launch)
}

// Finish enqueues a marker and waits for it, so every earlier command has
// completed when it returns.
func (q *queue) Finish() error {
	ev, err := q.submit("finish", nil, func() error { return nil })
	if err != nil {
		return err
	}
	return ev.Wait()
}

// close drains outstanding commands and stops the device goroutine.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.commands)
	q.mu.Unlock()
	q.wg.Wait()
}
