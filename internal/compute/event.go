package compute

import "sync"

// Event reports completion of an enqueued command.
type Event interface {
	// Wait blocks until the command completes and returns its error.
	Wait() error
	// Done is closed when the command completes.
	Done() <-chan struct{}
}

// UserEvent is an Event completed explicitly by its producer.
type UserEvent struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewUserEvent returns a pending event.
func NewUserEvent() *UserEvent {
	return &UserEvent{done: make(chan struct{})}
}

// Complete marks the event finished with err. Later calls are ignored.
func (e *UserEvent) Complete(err error) {
	e.once.Do(func() {
		e.err = err
		close(e.done)
	})
}

// Wait blocks until Complete has been called.
func (e *UserEvent) Wait() error {
	<-e.done
	return e.err
}

// Done is closed once Complete has been called.
func (e *UserEvent) Done() <-chan struct{} {
	return e.done
}

// Completed returns an event that has already finished with err.
func Completed(err error) Event {
	e := NewUserEvent()
	e.Complete(err)
	return e
}

// WaitAll waits for every event and returns the first error.
func WaitAll(events ...Event) error {
	var first error
	for _, ev := range events {
		if ev == nil {
			continue
		}
		if err := ev.Wait(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
