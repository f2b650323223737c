package host

import (
	"errors"
	"fmt"
	"sync"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/parallel"
)

// Args gives a kernel implementation typed access to its bound arguments.
type Args struct {
	list compute.ArgList
}

// Floats resolves buffer argument index to the slice starting at its offset.
func (a *Args) Floats(index int) ([]float32, error) {
	ref, err := a.list.Buffer(index)
	if err != nil {
		return nil, err
	}
	return view(ref)
}

// Int returns scalar argument index.
func (a *Args) Int(index int) (int, error) {
	v, err := a.list.Int(index)
	return int(v), err
}

// Float returns scalar argument index.
func (a *Args) Float(index int) (float32, error) {
	return a.list.Float(index)
}

// WorkFunc runs a single work item identified by its global id.
type WorkFunc func(gid [3]int)

// KernelFunc decodes the argument list once per launch and returns the
// per-work-item body. Work items outside the natural problem extent must
// return without touching memory, exactly like device code.
type KernelFunc func(args *Args) (WorkFunc, error)

// KernelImpl registers a Go implementation for a program entry point.
type KernelImpl struct {
	NumArgs int
	Func    KernelFunc
}

// Registry maps entry point names to implementations.
type Registry map[string]KernelImpl

// kernel is a compiled host kernel with its pending argument list.
type kernel struct {
	name string
	impl KernelImpl
	cfg  parallel.Config

	mu   sync.Mutex
	args compute.ArgList
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArg(index int, value any) error {
	if index >= k.impl.NumArgs {
		return fmt.Errorf("host: %w: %s takes %d arguments, got index %d",
			compute.ErrDevice, k.name, k.impl.NumArgs, index)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.args.Set(index, value); err != nil {
		return fmt.Errorf("host: %s: %w", k.name, err)
	}
	return nil
}

func (k *kernel) Release() {}

// prepare snapshots the arguments and returns the command body that runs
// the whole NDRange, one goroutine chunk per group of work-groups.
func (k *kernel) prepare(r compute.NDRange) (func() error, error) {
	k.mu.Lock()
	snap, err := k.args.Snapshot(k.impl.NumArgs)
	k.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("host: %s: %w", k.name, err)
	}
	for i := 0; i < r.Dims; i++ {
		if r.Local[i] <= 0 || r.Global[i]%r.Local[i] != 0 {
			return nil, fmt.Errorf("host: %w: %s: global %v is not a multiple of local %v",
				compute.ErrDevice, k.name, r.Global, r.Local)
		}
	}

	return func() error {
		args := &Args{list: snap}
		body, err := k.impl.Func(args)
		if err != nil {
			return fmt.Errorf("host: %s: %w", k.name, errors.Join(compute.ErrDevice, err))
		}
		err = parallel.ForGroups(r.Groups(), func(g [3]int) {
			for z := 0; z < r.Local[2]; z++ {
				for y := 0; y < r.Local[1]; y++ {
					for x := 0; x < r.Local[0]; x++ {
						body([3]int{
							g[0]*r.Local[0] + x,
							g[1]*r.Local[1] + y,
							g[2]*r.Local[2] + z,
						})
					}
				}
			}
		}, k.cfg)
		if err != nil {
			return fmt.Errorf("host: %w: %s: %w", compute.ErrDevice, k.name, err)
		}
		return nil
	}, nil
}
