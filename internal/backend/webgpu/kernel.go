//go:build windows

package webgpu

import (
	"sync"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/go-webgpu/webgpu/wgpu"
)

// kernel is a compiled compute pipeline and its pending argument list.
type kernel struct {
	name     string
	module   *wgpu.ShaderModule
	pipeline *wgpu.ComputePipeline
	layout   *wgpu.BindGroupLayout

	mu   sync.Mutex
	args compute.ArgList
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.args.Set(index, value)
}

func (k *kernel) Release() {
	if k.layout != nil {
		k.layout.Release()
		k.layout = nil
	}
	if k.pipeline != nil {
		k.pipeline.Release()
		k.pipeline = nil
	}
	if k.module != nil {
		k.module.Release()
		k.module = nil
	}
}

// snapshot copies the bound arguments so later SetArg calls never affect
// a launch already enqueued.
func (k *kernel) snapshot() (compute.ArgList, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.args.Snapshot(0)
}
