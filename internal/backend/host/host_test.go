package host

import (
	"errors"
	"testing"
	"testing/fstest"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/parallel"
	"github.com/born-ml/accelnet/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T, opts ...Option) *Workspace {
	t.Helper()
	ws := New(opts...)
	t.Cleanup(ws.Release)
	return ws
}

func TestWorkspaceDescribesHost(t *testing.T) {
	ws := newTestWorkspace(t)
	assert.Equal(t, PlatformName, ws.Platform())
	assert.Equal(t, compute.Host, ws.Device().Kind)
	assert.Contains(t, ws.Device().String(), "CPU")
}

func TestBufferRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	src := []float32{1, 2, 3, 4, 5}
	buf, err := ws.Context().CreateBuffer(compute.ReadWrite, len(src), src)
	require.NoError(t, err)
	assert.Equal(t, 5, buf.Len())

	dst := make([]float32, len(src))
	ev, err := ws.Queue().EnqueueRead(buf, true, dst)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	assert.Equal(t, src, dst)

	_, err = ws.Queue().EnqueueWrite(buf, true, []float32{9, 8})
	require.NoError(t, err)
	_, err = ws.Queue().EnqueueRead(buf, true, dst)
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 8, 3, 4, 5}, dst)

	assert.Equal(t, uint64(20), ws.AllocatedBytes())
	assert.Equal(t, int64(1), ws.Buffers())
}

func TestCreateBufferRejectsBadSize(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.Context().CreateBuffer(compute.ReadWrite, 0, nil)
	require.ErrorIs(t, err, compute.ErrDevice)

	_, err = ws.Context().CreateBuffer(compute.ReadWrite, 4, []float32{1})
	require.ErrorIs(t, err, compute.ErrDevice)
}

func TestWriteCapturesSourceAtEnqueue(t *testing.T) {
	ws := newTestWorkspace(t)
	buf, err := ws.Context().CreateBuffer(compute.ReadWrite, 2, nil)
	require.NoError(t, err)

	gate := compute.NewUserEvent()
	src := []float32{1, 2}
	_, err = ws.Queue().EnqueueWrite(buf, false, src, gate)
	require.NoError(t, err)
	src[0] = 100
	gate.Complete(nil)

	dst := make([]float32, 2)
	_, err = ws.Queue().EnqueueRead(buf, true, dst)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, dst)
}

func TestWaitListFailurePropagates(t *testing.T) {
	ws := newTestWorkspace(t)
	buf, err := ws.Context().CreateBuffer(compute.ReadWrite, 1, nil)
	require.NoError(t, err)

	failed := compute.Completed(errors.New("upstream"))
	ev, err := ws.Queue().EnqueueWrite(buf, false, []float32{1}, failed)
	require.NoError(t, err)
	assert.ErrorContains(t, ev.Wait(), "upstream")
}

func TestUseAfterReleaseFailsOnEvent(t *testing.T) {
	ws := newTestWorkspace(t)
	buf, err := ws.Context().CreateBuffer(compute.ReadWrite, 1, nil)
	require.NoError(t, err)
	buf.Release()

	_, err = ws.Queue().EnqueueRead(buf, true, make([]float32, 1))
	require.ErrorIs(t, err, compute.ErrDevice)
}

func TestReleasedQueueRejectsCommands(t *testing.T) {
	ws := New()
	ws.Release()
	ws.Release()

	require.ErrorIs(t, ws.Queue().Finish(), compute.ErrDevice)
}

func TestCreateKernel(t *testing.T) {
	ws := newTestWorkspace(t)

	k, err := ws.CreateKernel("/"+kernels.Conv2DProgram, kernels.Conv2DEntry, false)
	require.NoError(t, err)
	assert.Equal(t, kernels.Conv2DEntry, k.Name())

	_, err = ws.CreateKernel(kernels.Conv2DProgram, kernels.Conv2DEntry, true)
	require.ErrorIs(t, err, compute.ErrConfiguration)

	_, err = ws.CreateKernel("missing.wgsl", kernels.Conv2DEntry, false)
	require.ErrorIs(t, err, compute.ErrConfiguration)
}

func TestCreateKernelBuildErrors(t *testing.T) {
	dir := fstest.MapFS{
		"plain.wgsl":   {Data: []byte("fn Other(x: f32) -> f32 { return x; }\n")},
		"unknown.wgsl": {Data: []byte("@compute @workgroup_size(1)\nfn Mystery() {}\n")},
	}
	ws := newTestWorkspace(t, WithDir(dir))

	_, err := ws.CreateKernel("plain.wgsl", "Convolute", false)
	var buildErr *compute.BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.ErrorIs(t, err, compute.ErrBuild)
	assert.Contains(t, buildErr.Log, "Other")
	assert.Equal(t, "Convolute", buildErr.Entry)

	_, err = ws.CreateKernel("unknown.wgsl", "Mystery", false)
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, buildErr.Log, "no host implementation")
}

func TestSetArgValidation(t *testing.T) {
	ws := newTestWorkspace(t)
	k, err := ws.CreateKernel(kernels.BatchNormProgram, kernels.BatchNormEntry, false)
	require.NoError(t, err)

	require.ErrorIs(t, k.SetArg(9, int32(0)), compute.ErrDevice)
	require.ErrorIs(t, k.SetArg(0, 3), compute.ErrDevice)
	require.ErrorIs(t, k.SetArg(0, compute.BufferRef{}), compute.ErrDevice)

	// Launch with missing arguments fails at enqueue.
	r, err := compute.NewNDRange([]int{1}, []int{32})
	require.NoError(t, err)
	_, err = ws.Queue().EnqueueNDRange(k, r)
	require.ErrorIs(t, err, compute.ErrDevice)
}

// bindConv binds a 1x1-channel convolution of an all-ones h×w image with an
// all-ones 3×3 kernel, padding 1.
func bindConv(t *testing.T, ws *Workspace, k compute.Kernel, h, w int) compute.Buffer {
	t.Helper()
	ctx := ws.Context()
	size := h * w
	ones := make([]float32, size)
	for i := range ones {
		ones[i] = 1
	}
	in, err := ctx.CreateBuffer(compute.ReadOnly, size, ones)
	require.NoError(t, err)
	out, err := ctx.CreateBuffer(compute.ReadWrite, size, nil)
	require.NoError(t, err)
	weights, err := ctx.CreateBuffer(compute.ReadOnly, 9, ones[:9])
	require.NoError(t, err)

	args := []any{
		compute.Ref(in, compute.ReadOnly), compute.Ref(out, compute.WriteOnly),
		compute.Ref(weights, compute.ReadOnly), compute.Ref(weights, compute.ReadOnly),
		int32(1), int32(h), int32(w), int32(size), int32(h), int32(w), int32(size),
		int32(1), int32(1), int32(3), int32(9), int32(1), int32(1),
		int32(0), int32(0), int32(0),
	}
	for i, a := range args {
		require.NoError(t, k.SetArg(i, a))
	}
	return out
}

func TestConvoluteKernelZeroPadding(t *testing.T) {
	for _, cfg := range []parallel.Config{parallel.Sequential(), {Enabled: true, NumWorkers: 4, MinChunkSize: 1}} {
		ws := newTestWorkspace(t, WithParallel(cfg))
		k, err := ws.CreateKernel(kernels.Conv2DProgram, kernels.Conv2DEntry, false)
		require.NoError(t, err)
		out := bindConv(t, ws, k, 4, 4)

		r, err := compute.NewNDRange([]int{4, 4, 1}, []int{8, 8, 4})
		require.NoError(t, err)
		_, err = ws.Queue().EnqueueNDRange(k, r)
		require.NoError(t, err)
		require.NoError(t, ws.Queue().Finish())

		got := make([]float32, 16)
		_, err = ws.Queue().EnqueueRead(out, true, got)
		require.NoError(t, err)
		assert.Equal(t, []float32{
			4, 6, 6, 4,
			6, 9, 9, 6,
			6, 9, 9, 6,
			4, 6, 6, 4,
		}, got)
	}
}

func TestKernelArgsSnapshotAtEnqueue(t *testing.T) {
	ws := newTestWorkspace(t)
	k, err := ws.CreateKernel(kernels.BatchNormProgram, kernels.BatchNormEntry, false)
	require.NoError(t, err)

	ctx := ws.Context()
	data, err := ctx.CreateBuffer(compute.ReadWrite, 4, []float32{1, 3, 10, 30})
	require.NoError(t, err)
	params, err := ctx.CreateBuffer(compute.ReadOnly, 2, []float32{1, 1})
	require.NoError(t, err)
	zeros, err := ctx.CreateBuffer(compute.ReadOnly, 2, []float32{0, 0})
	require.NoError(t, err)

	args := []any{
		compute.Ref(data, compute.ReadWrite), compute.Ref(params, compute.ReadOnly), compute.Ref(zeros, compute.ReadOnly),
		int32(1), int32(2), int32(2), float32(0), float32(0), int32(0),
	}
	for i, a := range args {
		require.NoError(t, k.SetArg(i, a))
	}
	r, err := compute.NewNDRange([]int{2}, []int{32})
	require.NoError(t, err)

	gate := compute.NewUserEvent()
	ev, err := ws.Queue().EnqueueNDRange(k, r, gate)
	require.NoError(t, err)
	// Rebinding after the launch must not affect it.
	require.NoError(t, k.SetArg(4, int32(1)))
	gate.Complete(nil)
	require.NoError(t, ev.Wait())

	got := make([]float32, 4)
	_, err = ws.Queue().EnqueueRead(data, true, got)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-1, 1, -1, 1}, got, 1e-5)
}

func TestKernelPanicBecomesDeviceError(t *testing.T) {
	ws := newTestWorkspace(t)
	k, err := ws.CreateKernel(kernels.Conv2DProgram, kernels.Conv2DEntry, false)
	require.NoError(t, err)
	bindConv(t, ws, k, 4, 4)
	// Claim a larger image than the buffers hold.
	require.NoError(t, k.SetArg(5, int32(64)))
	require.NoError(t, k.SetArg(6, int32(64)))
	require.NoError(t, k.SetArg(7, int32(64*64)))
	require.NoError(t, k.SetArg(8, int32(64)))
	require.NoError(t, k.SetArg(9, int32(64)))
	require.NoError(t, k.SetArg(10, int32(64*64)))

	r, err := compute.NewNDRange([]int{64, 64, 1}, []int{8, 8, 4})
	require.NoError(t, err)
	ev, err := ws.Queue().EnqueueNDRange(k, r)
	require.NoError(t, err)
	err = ev.Wait()
	require.ErrorIs(t, err, compute.ErrDevice)
}
