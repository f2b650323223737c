// Package ops implements the accelerated operators: Conv2D,
// DepthwiseConv2D and BatchNorm.
//
// An operator holds immutable configuration plus borrowed references to a
// compiled kernel, a command queue and device buffers. It never owns or
// releases any of them. Borrowed references may be rewired before every Run,
// which lets a pipeline reuse the same buffers across stages.
package ops

import (
	"errors"
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
	"go.uber.org/zap"
)

// State is the lifecycle position of an operator.
type State int

// Operator states. Rewiring from any state returns to Wired.
const (
	Configured State = iota
	Wired
	Launched
	Blocked
	Pending
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Configured:
		return "Configured"
	case Wired:
		return "Wired"
	case Launched:
		return "Launched"
	case Blocked:
		return "Blocked"
	case Pending:
		return "Pending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Work-group extents. Spatial operators launch over
// (out_w, out_h, out_channels); BatchNorm launches over channels.
var (
	SpatialWorkGroup   = []int{8, 8, 4}
	BatchNormWorkGroup = []int{32}
)

// Recorder observes kernel launches.
type Recorder interface {
	KernelLaunched(kernel string)
}

// Option configures an operator.
type Option func(*launcher)

// WithLogger sets the logger launches are reported to at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(o *launcher) { o.logger = l }
}

// WithRecorder attaches a launch recorder.
func WithRecorder(r Recorder) Option {
	return func(o *launcher) { o.recorder = r }
}

// OutputExtent applies the convolution shape rule to one spatial axis.
func OutputExtent(in, kernel, stride, padding int) int {
	return (in+2*padding-kernel)/stride + 1
}

// launcher carries the state shared by every operator: the borrowed kernel
// and queue, the lifecycle state and the last launch event.
type launcher struct {
	op       string
	kernel   compute.Kernel
	queue    compute.Queue
	logger   *zap.Logger
	recorder Recorder
	state    State
	event    compute.Event
}

func newLauncher(op string, opts []Option) launcher {
	l := launcher{op: op, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&l)
	}
	return l
}

// SetKernel wires the compiled kernel and the queue it is launched on.
func (l *launcher) SetKernel(k compute.Kernel, q compute.Queue) {
	l.kernel = k
	l.queue = q
	l.state = Wired
}

// State returns the lifecycle state.
func (l *launcher) State() State { return l.state }

// Event returns the event of the last launch, or nil.
func (l *launcher) Event() compute.Event { return l.event }

func (l *launcher) wired() {
	l.state = Wired
}

// launch binds args in order, enqueues the kernel over r and optionally
// drains the queue.
func (l *launcher) launch(args []any, r compute.NDRange, blocking bool) (compute.Event, error) {
	if l.kernel == nil || l.queue == nil {
		return nil, fmt.Errorf("ops: %s: %w: kernel and queue are not set", l.op, compute.ErrConfiguration)
	}
	for i, a := range args {
		if err := l.kernel.SetArg(i, a); err != nil {
			return nil, deviceError(l.op, fmt.Sprintf("bind argument %d", i), err)
		}
	}
	ev, err := l.queue.EnqueueNDRange(l.kernel, r)
	if err != nil {
		return nil, deviceError(l.op, "enqueue", err)
	}
	l.state = Launched
	l.event = ev
	if l.recorder != nil {
		l.recorder.KernelLaunched(l.kernel.Name())
	}
	l.logger.Debug("kernel launched",
		zap.String("op", l.op),
		zap.String("kernel", l.kernel.Name()),
		zap.Stringer("range", r),
		zap.Int("args", len(args)),
		zap.Bool("blocking", blocking))

	if !blocking {
		l.state = Pending
		return ev, nil
	}
	if err := l.queue.Finish(); err != nil {
		return nil, deviceError(l.op, "finish", err)
	}
	l.state = Blocked
	return ev, nil
}

// readBack enqueues a read of n output elements into out after ev.
func (l *launcher) readBack(ref compute.BufferRef, out []float32, n int, blocking bool, ev compute.Event) (compute.Event, error) {
	if ref.Offset != 0 {
		return nil, fmt.Errorf("ops: %s: %w: read back needs an output at offset 0", l.op, compute.ErrConfiguration)
	}
	rev, err := l.queue.EnqueueRead(ref.Buffer, blocking, out[:n], ev)
	if err != nil {
		return nil, deviceError(l.op, "read back", err)
	}
	if !blocking {
		l.event = rev
	}
	return rev, nil
}

func deviceError(op, what string, err error) error {
	if errors.Is(err, compute.ErrDevice) {
		return fmt.Errorf("ops: %s: %s: %w", op, what, err)
	}
	return fmt.Errorf("ops: %s: %s: %w", op, what, errors.Join(compute.ErrDevice, err))
}

// requirement is a buffer an operator needs before launching.
type requirement struct {
	name   string
	ref    compute.BufferRef
	access compute.Access
	size   int
}

// checkBuffers reports unbound buffers before capability or size problems.
func checkBuffers(op string, reqs ...requirement) error {
	for _, r := range reqs {
		if !r.ref.Bound() {
			return fmt.Errorf("ops: %s: %w: %s buffer is not set", op, compute.ErrUnboundBuffer, r.name)
		}
	}
	for _, r := range reqs {
		if err := r.ref.Check(r.name, r.access, r.size); err != nil {
			return fmt.Errorf("ops: %s: %w", op, err)
		}
	}
	return nil
}

// checkInput validates an NCHW input shape against the configured channel
// count.
func checkInput(op string, shape tensor.Shape, channels int) error {
	if len(shape) != 4 {
		return fmt.Errorf("ops: %s: %w: expected NCHW shape, got %v", op, compute.ErrShapeMismatch, shape)
	}
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("ops: %s: %w: %w", op, compute.ErrShapeMismatch, err)
	}
	if shape[1] != channels {
		return fmt.Errorf("ops: %s: %w: input has %d channels, configured for %d",
			op, compute.ErrShapeMismatch, shape[1], channels)
	}
	return nil
}

// checkOutputLen verifies a host destination can take n elements.
func checkOutputLen(op string, out []float32, n int) error {
	if len(out) < n {
		return fmt.Errorf("ops: %s: %w: output slice holds %d elements, need %d",
			op, compute.ErrShapeMismatch, len(out), n)
	}
	return nil
}

// spatial is the geometry shared by Conv2D and DepthwiseConv2D.
type spatial struct {
	kernel, stride, padding int
}

func (s spatial) validate(op string) error {
	switch {
	case s.kernel <= 0:
		return fmt.Errorf("ops: %s: %w: kernel size %d must be positive", op, compute.ErrConfiguration, s.kernel)
	case s.kernel%2 == 0:
		return fmt.Errorf("ops: %s: %w: kernel size %d must be odd", op, compute.ErrConfiguration, s.kernel)
	case s.stride <= 0:
		return fmt.Errorf("ops: %s: %w: stride %d must be positive", op, compute.ErrConfiguration, s.stride)
	case s.padding < 0:
		return fmt.Errorf("ops: %s: %w: padding %d must not be negative", op, compute.ErrConfiguration, s.padding)
	}
	return nil
}

// outputShape returns (batch, outC, oh, ow), failing when the window does
// not fit.
func (s spatial) outputShape(op string, in tensor.Shape, outC int) (tensor.Shape, error) {
	oh := OutputExtent(in[2], s.kernel, s.stride, s.padding)
	ow := OutputExtent(in[3], s.kernel, s.stride, s.padding)
	if in[2]+2*s.padding < s.kernel || in[3]+2*s.padding < s.kernel || oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("ops: %s: %w: %dx%d input too small for kernel %d with padding %d",
			op, compute.ErrShapeMismatch, in[2], in[3], s.kernel, s.padding)
	}
	return tensor.Shape{in[0], outC, oh, ow}, nil
}

func useBias(bias bool) int32 {
	if bias {
		return 1
	}
	return 0
}
