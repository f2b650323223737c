package model

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/born-ml/accelnet/internal/backend/host"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/born-ml/accelnet/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	launches map[string]int
	stages   map[string]int
	bytes    map[string]int
}

func newRecorder() *recorder {
	return &recorder{launches: map[string]int{}, stages: map[string]int{}, bytes: map[string]int{}}
}

func (r *recorder) KernelLaunched(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.launches[name]++
}

func (r *recorder) StageFinished(op string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages[op]++
}

func (r *recorder) Transferred(direction string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes[direction] += n
}

func smallSchedule() Schedule {
	s := DefaultSchedule()
	s.Channels = []int{3, 8, 8, 16}
	return s
}

func randomInput(t *testing.T, shape tensor.Shape, seed uint64) *tensor.Tensor {
	t.Helper()
	in, err := tensor.New(shape, nil, false)
	require.NoError(t, err)
	in.GenerateRandom(tensor.NewSource(seed), InputScale, InputOffset)
	return in
}

func TestDefaultSchedule(t *testing.T) {
	s := DefaultSchedule()
	require.NoError(t, s.Validate())
	stages := s.Stages()
	require.Len(t, stages, 6)
	assert.Equal(t, 3, stages[0].Conv.InChannels)
	assert.Equal(t, 64, stages[5].Conv.OutChannels)
	assert.Equal(t, float32(1e-5), stages[2].Norm.Eps)

	assert.Equal(t, 0, s.KernelOffset(0))
	assert.Equal(t, 32*3*9, s.KernelOffset(1))
	assert.Equal(t, 9*(32*3+32*32+64*32+64*64*3), s.KernelLen())
	assert.Equal(t, 32, s.ParamOffset(1))
	assert.Equal(t, 32+32+64*4, s.WeightLen())

	shapes, err := s.Shapes(tensor.Shape{1, 3, 64, 64})
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 64, 64, 64}, shapes[len(shapes)-1])
	assert.Equal(t, 64*64*64, scratchLen(shapes))
}

func TestScheduleValidation(t *testing.T) {
	s := DefaultSchedule()
	s.Channels = []int{3}
	require.ErrorIs(t, s.Validate(), compute.ErrConfiguration)
	assert.Equal(t, 0, s.KernelLen())

	s = DefaultSchedule()
	s.KernelSize = 4
	require.ErrorIs(t, s.Validate(), compute.ErrConfiguration)

	_, err := DefaultSchedule().Shapes(tensor.Shape{1, 4, 8, 8})
	require.ErrorIs(t, err, compute.ErrShapeMismatch)
}

func TestReadParams(t *testing.T) {
	s := Schedule{Channels: []int{1, 2}, KernelSize: 1, Stride: 1}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []float32{1, 2, 3, 4, 5, 6}))

	p, err := ReadParams(s, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, p.Kernels)
	assert.Equal(t, []float32{3, 4}, p.Weights)
	assert.Equal(t, []float32{5, 6}, p.Biases)

	_, err = ReadParams(s, bytes.NewReader(buf.Bytes()[:20]))
	require.ErrorIs(t, err, compute.ErrIO)
}

func TestRandomParamsRanges(t *testing.T) {
	s := smallSchedule()
	p, err := RandomParams(s, tensor.NewSource(3))
	require.NoError(t, err)
	require.NoError(t, p.Check(s))
	for _, w := range p.Weights {
		assert.GreaterOrEqual(t, w, float32(1))
		assert.Less(t, w, float32(1.11))
	}
	for _, k := range p.Kernels {
		assert.GreaterOrEqual(t, k, float32(-1))
		assert.Less(t, k, float32(1.05))
	}
	require.ErrorIs(t, Params{}.Check(s), compute.ErrShapeMismatch)
}

func TestPipelineMatchesReference(t *testing.T) {
	tests := []struct {
		name  string
		sched Schedule
		shape tensor.Shape
	}{
		{"small", smallSchedule(), tensor.Shape{1, 3, 9, 7}},
		{"batched", smallSchedule(), tensor.Shape{2, 3, 6, 6}},
		{"default", DefaultSchedule(), tensor.Shape{1, 3, 8, 8}},
		{"strided", Schedule{Channels: []int{3, 4, 6}, KernelSize: 3, Stride: 2, Padding: 1, Eps: 1e-5, ReLU: 1}, tensor.Shape{1, 3, 11, 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := host.New()
			defer ws.Release()
			rng := tensor.NewSource(11)
			params, err := RandomParams(tt.sched, rng)
			require.NoError(t, err)
			in := randomInput(t, tt.shape, 5)

			rec := newRecorder()
			p, err := New(ws, tt.sched, tt.shape, params, WithRecorder(rec))
			require.NoError(t, err)
			defer p.Close()

			got, err := p.Run(context.Background(), in)
			require.NoError(t, err)
			want, wantShape, err := RunReference(tt.sched, tt.shape, in.Data(), params)
			require.NoError(t, err)

			assert.Equal(t, wantShape, got.Shape())
			assert.Equal(t, p.OutputShape(), got.Shape())
			require.Len(t, got.Data(), len(want))
			assert.InDeltaSlice(t, want, got.Data(), 1e-3)

			stages := len(tt.sched.Stages())
			assert.Equal(t, stages, rec.launches[kernels.Conv2DEntry])
			assert.Equal(t, stages, rec.launches[kernels.BatchNormEntry])
			assert.Equal(t, stages, rec.stages["conv2d"])
			assert.Equal(t, got.ByteSize(), rec.bytes[DeviceToHost])
		})
	}
}

func TestPipelineUsesTwoScratchBuffers(t *testing.T) {
	ws := host.New()
	defer ws.Release()
	sched := DefaultSchedule()
	params, err := RandomParams(sched, tensor.NewSource(1))
	require.NoError(t, err)

	shape := tensor.Shape{1, 3, 4, 4}
	p, err := New(ws, sched, shape, params)
	require.NoError(t, err)
	defer p.Close()

	// Two ping-pong slots plus kernels, weights and biases.
	assert.Equal(t, int64(5), ws.Buffers())
	scratch := p.Scratch()
	assert.Equal(t, 64*4*4, scratch[0].Size())
	assert.Equal(t, 64*4*4, scratch[1].Size())

	for seed := uint64(0); seed < 2; seed++ {
		_, err := p.Run(context.Background(), randomInput(t, shape, seed))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), ws.Buffers(), "runs reuse the same buffers")
}

func TestPipelineErrors(t *testing.T) {
	ws := host.New()
	defer ws.Release()
	sched := smallSchedule()
	params, err := RandomParams(sched, tensor.NewSource(1))
	require.NoError(t, err)

	_, err = New(nil, sched, tensor.Shape{1, 3, 4, 4}, params)
	require.ErrorIs(t, err, compute.ErrConfiguration)
	_, err = New(ws, sched, tensor.Shape{1, 3, 4, 4}, Params{})
	require.ErrorIs(t, err, compute.ErrShapeMismatch)

	p, err := New(ws, sched, tensor.Shape{1, 3, 4, 4}, params)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), nil)
	require.ErrorIs(t, err, compute.ErrConfiguration)
	_, err = p.Run(context.Background(), randomInput(t, tensor.Shape{1, 3, 5, 4}, 0))
	require.ErrorIs(t, err, compute.ErrShapeMismatch)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx, randomInput(t, tensor.Shape{1, 3, 4, 4}, 0))
	require.ErrorIs(t, err, context.Canceled)

	p.Close()
	p.Close()
	_, err = p.Run(context.Background(), randomInput(t, tensor.Shape{1, 3, 4, 4}, 0))
	require.ErrorIs(t, err, compute.ErrPrecondition)
}

func TestPipelineBuildFailureCleansUp(t *testing.T) {
	ws := host.New(host.WithRegistry(host.Registry{}))
	defer ws.Release()
	sched := smallSchedule()
	params, err := RandomParams(sched, tensor.NewSource(1))
	require.NoError(t, err)

	_, err = New(ws, sched, tensor.Shape{1, 3, 4, 4}, params)
	require.ErrorIs(t, err, compute.ErrBuild)
	assert.Equal(t, int64(0), ws.Buffers())
}

func TestRunReferenceAllOnes(t *testing.T) {
	sched := Schedule{Channels: []int{3, 1}, KernelSize: 3, Stride: 1, Padding: 1, Eps: 0}
	params := Params{
		Kernels: []float32{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		Weights: []float32{1},
		Biases:  []float32{0},
	}
	in := make([]float32, 48)
	for i := range in {
		in[i] = 1
	}
	out, shape, err := RunReference(sched, tensor.Shape{1, 3, 4, 4}, in, params)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 4, 4}, shape)
	// Corners 12, edges 18, interior 27: mean 18.75, biased variance 28.6875.
	std := math.Sqrt(28.6875)
	assert.InDelta(t, (12-18.75)/std, out[0], 1e-4)
	assert.InDelta(t, (27-18.75)/std, out[5], 1e-4)
	assert.Greater(t, out[5], out[1])
	assert.Greater(t, out[1], out[0])
}
