//go:build windows

package webgpu

import (
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/kernels"
	"github.com/go-webgpu/webgpu/wgpu"
	"go.uber.org/zap"
)

// PlatformName is reported by Platform.
const PlatformName = "WebGPU"

// Workspace is a WebGPU adapter, device and queue.
type Workspace struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	wq       *wgpu.Queue
	info     *wgpu.AdapterInfoGo

	dir    fs.FS
	logger *zap.Logger

	ctx   *context
	queue *queue
	stats memoryStats

	releaseOnce sync.Once
}

// memoryStats tracks buffer allocations.
type memoryStats struct {
	totalAllocatedBytes atomic.Uint64
	activeBuffers       atomic.Int64
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithDir sets the directory kernel programs are read from. Defaults to
// the embedded kernels.
func WithDir(dir fs.FS) Option {
	return func(w *Workspace) { w.dir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// New requests a high-performance adapter and its device.
// Returns an error if WebGPU is not available or initialization fails.
func New(opts ...Option) (ws *Workspace, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			ws = nil
			err = fmt.Errorf("webgpu: %w: native library not available: %v", compute.ErrDevice, r)
		}
	}()

	w := &Workspace{dir: kernels.FS, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(w)
	}

	w.instance, err = wgpu.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("webgpu: %w: failed to create instance: %w", compute.ErrDevice, err)
	}
	w.adapter, err = w.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		w.instance.Release()
		return nil, fmt.Errorf("webgpu: %w: failed to request adapter: %w", compute.ErrDevice, err)
	}
	w.info, err = w.adapter.GetInfo()
	if err != nil {
		w.adapter.Release()
		w.instance.Release()
		return nil, fmt.Errorf("webgpu: %w: failed to query adapter: %w", compute.ErrDevice, err)
	}

	w.device, err = w.adapter.RequestDevice(nil)
	if err != nil {
		w.adapter.Release()
		w.instance.Release()
		return nil, fmt.Errorf("webgpu: %w: failed to request device: %w", compute.ErrDevice, err)
	}
	w.wq = w.device.GetQueue()
	if w.wq == nil {
		w.device.Release()
		w.adapter.Release()
		w.instance.Release()
		return nil, fmt.Errorf("webgpu: %w: failed to get queue", compute.ErrDevice)
	}

	w.ctx = &context{device: w.device, stats: &w.stats}
	w.queue = newQueue(w.device, w.wq, w.logger)
	w.logger.Info("webgpu device ready",
		zap.String("device", w.info.Device),
		zap.String("vendor", w.info.Vendor),
		zap.String("description", w.info.Description))
	return w, nil
}

// IsAvailable reports whether a WebGPU adapter can be requested.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return false
	}
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Platform returns "WebGPU".
func (w *Workspace) Platform() string { return PlatformName }

// Device describes the adapter.
func (w *Workspace) Device() compute.DeviceInfo {
	return deviceInfo(w.info)
}

// Context returns the buffer allocator.
func (w *Workspace) Context() compute.Context { return w.ctx }

// Queue returns the command queue.
func (w *Workspace) Queue() compute.Queue { return w.queue }

// AllocatedBytes reports the total bytes allocated for buffers.
func (w *Workspace) AllocatedBytes() uint64 { return w.stats.totalAllocatedBytes.Load() }

// ActiveBuffers reports how many buffers are not yet released.
func (w *Workspace) ActiveBuffers() int64 { return w.stats.activeBuffers.Load() }

// CreateKernel compiles the WGSL program at programPath into a compute
// pipeline for entryPoint.
func (w *Workspace) CreateKernel(programPath, entryPoint string, binary bool) (k compute.Kernel, err error) {
	if binary {
		return nil, fmt.Errorf("webgpu: %w: binary programs are not supported (%s)", compute.ErrConfiguration, programPath)
	}
	src, err := fs.ReadFile(w.dir, compute.CleanProgramPath(programPath))
	if err != nil {
		return nil, fmt.Errorf("webgpu: %w: couldn't open the program file %s: %w", compute.ErrConfiguration, programPath, err)
	}
	if err := compute.CheckEntryPoint(string(src), entryPoint); err != nil {
		return nil, compute.NewBuildError(programPath, entryPoint, err.Error())
	}

	// Validation failures inside the native compiler surface as panics.
	defer func() {
		if r := recover(); r != nil {
			k = nil
			err = compute.NewBuildError(programPath, entryPoint, fmt.Sprint(r))
		}
	}()
	module := w.device.CreateShaderModuleWGSL(string(src))
	if module == nil {
		return nil, compute.NewBuildError(programPath, entryPoint, "error: shader module creation failed")
	}
	pipeline := w.device.CreateComputePipelineSimple(nil, module, entryPoint)
	if pipeline == nil {
		module.Release()
		return nil, compute.NewBuildError(programPath, entryPoint, "error: compute pipeline creation failed")
	}
	w.logger.Debug("kernel built", zap.String("program", programPath), zap.String("entry", entryPoint))
	return &kernel{
		name:     entryPoint,
		module:   module,
		pipeline: pipeline,
		layout:   pipeline.GetBindGroupLayout(0),
	}, nil
}

// Release drains the queue and releases the device. Buffers and kernels
// must be released first.
func (w *Workspace) Release() {
	w.releaseOnce.Do(func() {
		w.queue.close()
		w.wq.Release()
		w.device.Release()
		w.adapter.Release()
		w.instance.Release()
	})
}
