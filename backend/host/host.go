// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package host provides the software accelerator: a command-queue device
// emulated on the host CPU.
//
// Buffers are separate allocations reached only through the queue, and
// kernels run per work item over the full launch grid, spread across
// goroutines. It needs no GPU and is the default workspace.
//
// Example:
//
//	import (
//	    "github.com/born-ml/accelnet/backend/host"
//	    "github.com/born-ml/accelnet/tensor"
//	)
//
//	func main() {
//	    ws := host.New()
//	    defer ws.Release()
//	    x, _ := tensor.New(tensor.Shape{1, 3, 8, 8}, ws.Context(), true)
//	    defer x.Release()
//	}
package host

import (
	"io/fs"

	internalhost "github.com/born-ml/accelnet/internal/backend/host"
	"github.com/born-ml/accelnet/tensor"
	"go.uber.org/zap"
)

// Workspace is the host accelerator.
type Workspace = internalhost.Workspace

// Compile-time check that Workspace implements tensor.Workspace.
var _ tensor.Workspace = (*Workspace)(nil)

// Option configures a Workspace.
type Option = internalhost.Option

// New creates a host workspace. Kernel programs are read from the
// embedded kernel sources unless WithDir is given.
func New(opts ...Option) *Workspace {
	return internalhost.New(opts...)
}

// WithDir reads kernel programs from dir.
func WithDir(dir fs.FS) Option {
	return internalhost.WithDir(dir)
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return internalhost.WithLogger(l)
}
