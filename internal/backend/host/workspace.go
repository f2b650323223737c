// Package host implements the compute contract on the host CPU.
//
// The host accelerator behaves like a discrete device: buffers are separate
// allocations reached only through the command queue, commands run in
// order on a dedicated device goroutine, and kernels execute per work item
// over the full rounded-up launch grid. Kernel programs are read and checked
// for their entry point like real sources, then bound to Go implementations
// registered under the same entry point name.
package host

import (
	"fmt"
	"io/fs"
	"runtime"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/parallel"
	"github.com/born-ml/accelnet/kernels"
	"go.uber.org/zap"
)

// PlatformName is reported by Platform.
const PlatformName = "accelnet host"

const defaultQueueDepth = 64

// Workspace is the host accelerator.
type Workspace struct {
	dir      fs.FS
	registry Registry
	logger   *zap.Logger
	parallel parallel.Config
	depth    int

	ctx   *context
	queue *queue
	stats memoryStats
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithDir sets the working directory kernel programs are read from.
// The default is the embedded kernels.FS.
func WithDir(dir fs.FS) Option {
	return func(w *Workspace) { w.dir = dir }
}

// WithRegistry replaces the built-in kernel implementations.
func WithRegistry(r Registry) Option {
	return func(w *Workspace) { w.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithParallel sets how work-groups are spread across goroutines.
func WithParallel(cfg parallel.Config) Option {
	return func(w *Workspace) { w.parallel = cfg }
}

// WithQueueDepth sets how many commands may be pending before enqueue blocks.
func WithQueueDepth(n int) Option {
	return func(w *Workspace) { w.depth = n }
}

// New starts a host accelerator.
func New(opts ...Option) *Workspace {
	w := &Workspace{
		dir:      kernels.FS,
		registry: Builtin(),
		logger:   zap.NewNop(),
		parallel: parallel.DefaultConfig(),
		depth:    defaultQueueDepth,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.ctx = &context{stats: &w.stats}
	w.queue = newQueue(w.depth, w.logger.Named("queue"))
	w.logger.Debug("host workspace ready", zap.Int("workers", w.parallel.NumWorkers))
	return w
}

// Platform returns the platform name.
func (w *Workspace) Platform() string { return PlatformName }

// Device describes the host CPU.
func (w *Workspace) Device() compute.DeviceInfo {
	return compute.DeviceInfo{
		Kind: compute.Host,
		Name: fmt.Sprintf("CPU (%s/%s, %d threads)", runtime.GOOS, runtime.GOARCH, runtime.NumCPU()),
	}
}

// Context returns the buffer allocator.
func (w *Workspace) Context() compute.Context { return w.ctx }

// Queue returns the command queue.
func (w *Workspace) Queue() compute.Queue { return w.queue }

// AllocatedBytes reports the bytes allocated since the workspace started.
func (w *Workspace) AllocatedBytes() uint64 { return w.stats.totalAllocatedBytes.Load() }

// Buffers reports how many buffers were allocated.
func (w *Workspace) Buffers() int64 { return w.stats.buffers.Load() }

// CreateKernel reads programPath and binds entryPoint to its registered
// implementation. The program must declare the entry point.
func (w *Workspace) CreateKernel(programPath, entryPoint string, binary bool) (compute.Kernel, error) {
	if binary {
		return nil, fmt.Errorf("host: %w: binary programs are not supported (%s)", compute.ErrConfiguration, programPath)
	}
	name := compute.CleanProgramPath(programPath)
	src, err := fs.ReadFile(w.dir, name)
	if err != nil {
		return nil, fmt.Errorf("host: %w: couldn't open the program file %s: %w", compute.ErrConfiguration, programPath, err)
	}
	if err := compute.CheckEntryPoint(string(src), entryPoint); err != nil {
		return nil, compute.NewBuildError(programPath, entryPoint, err.Error())
	}
	impl, ok := w.registry[entryPoint]
	if !ok {
		return nil, compute.NewBuildError(programPath, entryPoint,
			fmt.Sprintf("error: no host implementation for entry point '%s'", entryPoint))
	}
	w.logger.Debug("kernel built", zap.String("program", programPath), zap.String("entry", entryPoint))
	return &kernel{name: entryPoint, impl: impl, cfg: w.parallel}, nil
}

// Release drains the queue and stops the device goroutine.
func (w *Workspace) Release() {
	w.queue.close()
}
