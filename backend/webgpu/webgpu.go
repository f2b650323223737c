//go:build windows

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides the WebGPU accelerator for GPU compute.
//
// Kernel programs are WGSL and compile into compute pipelines on the
// adapter's device.
//
// Example:
//
//	import (
//	    "github.com/born-ml/accelnet/backend/host"
//	    "github.com/born-ml/accelnet/backend/webgpu"
//	    "github.com/born-ml/accelnet/tensor"
//	)
//
//	func open() tensor.Workspace {
//	    if webgpu.IsAvailable() {
//	        if gpu, err := webgpu.New(); err == nil {
//	            return gpu
//	        }
//	    }
//	    return host.New()
//	}
package webgpu

import (
	internalwebgpu "github.com/born-ml/accelnet/internal/backend/webgpu"
	"github.com/born-ml/accelnet/tensor"
)

// Workspace is a WebGPU adapter, device and queue.
type Workspace = internalwebgpu.Workspace

// Compile-time check that Workspace implements tensor.Workspace.
var _ tensor.Workspace = (*Workspace)(nil)

// Option configures a Workspace.
type Option = internalwebgpu.Option

// New initializes the WebGPU device. Call Release when done to free GPU
// resources.
//
// Returns an error if WebGPU initialization fails (e.g., no compatible GPU).
func New(opts ...Option) (*Workspace, error) {
	return internalwebgpu.New(opts...)
}

// IsAvailable checks if WebGPU is available on the current system.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
