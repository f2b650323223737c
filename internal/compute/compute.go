// Package compute defines the command-queue device contract shared by the
// accelerator backends, the device tensor and the operators.
//
// The model follows a classic heterogeneous-compute API: a Workspace owns a
// context (buffer allocation), a device and one in-order command queue, and
// compiles kernel programs into Kernel handles. Kernels take an ordered list
// of arguments (buffers and scalars) and are launched over an NDRange.
package compute

import "fmt"

// DeviceKind identifies the class of accelerator behind a Workspace.
type DeviceKind int

// Supported accelerator kinds.
const (
	Host DeviceKind = iota
	WebGPU
)

// String returns a human-readable device kind.
func (d DeviceKind) String() string {
	switch d {
	case Host:
		return "Host"
	case WebGPU:
		return "WebGPU"
	default:
		return "Unknown"
	}
}

// DeviceInfo describes the device a Workspace is bound to.
type DeviceInfo struct {
	Kind   DeviceKind
	Name   string
	Vendor string
}

// String returns "Kind (Name Vendor)".
func (d DeviceInfo) String() string {
	if d.Vendor == "" {
		return fmt.Sprintf("%s (%s)", d.Kind, d.Name)
	}
	return fmt.Sprintf("%s (%s %s)", d.Kind, d.Name, d.Vendor)
}

// Workspace bundles platform, device, context and command queue.
// Device discovery and queue construction happen in the backend constructors.
type Workspace interface {
	Platform() string
	Device() DeviceInfo
	Context() Context
	Queue() Queue

	// CreateKernel reads programPath relative to the workspace working
	// directory, compiles it and returns the kernel for entryPoint.
	// Compilation failures are reported as *BuildError.
	CreateKernel(programPath, entryPoint string, binary bool) (Kernel, error)

	// Release drains the queue and frees device resources.
	Release()
}

// Context allocates device buffers.
type Context interface {
	// CreateBuffer allocates size float32 elements. When host is non-nil its
	// first size elements are copied into the new buffer, otherwise the
	// device contents are unspecified.
	CreateBuffer(access Access, size int, host []float32) (Buffer, error)
}

// Queue is an in-order command queue. Commands execute in submission order
// and start only after every event in their wait list has completed.
type Queue interface {
	EnqueueWrite(buf Buffer, blocking bool, src []float32, wait ...Event) (Event, error)
	EnqueueRead(buf Buffer, blocking bool, dst []float32, wait ...Event) (Event, error)
	EnqueueNDRange(k Kernel, r NDRange, wait ...Event) (Event, error)

	// Finish blocks until every previously enqueued command has completed.
	Finish() error
}

// Kernel is a compiled entry point with an ordered argument list.
// SetArg accepts BufferRef, int32 and float32 values.
type Kernel interface {
	Name() string
	SetArg(index int, value any) error
	Release()
}

// Buffer is an opaque device allocation of float32 elements.
type Buffer interface {
	Len() int
	Access() Access
	Release()
}
