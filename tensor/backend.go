// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import "github.com/born-ml/accelnet/internal/compute"

// Workspace bundles the device, its buffer context and its in-order command
// queue. Tensors transfer through the queue of the workspace they were
// allocated on.
//
// Implementations:
//   - backend/host: software accelerator on the host CPU
//   - backend/webgpu: GPU compute via WebGPU (Windows)
type Workspace = compute.Workspace

// Context allocates device buffers.
type Context = compute.Context

// Queue is an in-order command queue.
type Queue = compute.Queue

// Event reports completion of an enqueued command.
type Event = compute.Event

// Access is the read/write capability of a buffer reference.
type Access = compute.Access

// Buffer capabilities.
const (
	ReadOnly  = compute.ReadOnly
	WriteOnly = compute.WriteOnly
	ReadWrite = compute.ReadWrite
)

// Errors returned by tensor and device operations. Match with errors.Is.
var (
	ErrConfiguration = compute.ErrConfiguration
	ErrShapeMismatch = compute.ErrShapeMismatch
	ErrOutOfRange    = compute.ErrOutOfRange
	ErrIO            = compute.ErrIO
	ErrPrecondition  = compute.ErrPrecondition
	ErrDevice        = compute.ErrDevice
)
