package cpu

import (
	"testing"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func ones(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

func TestConv2DZeroPadding(t *testing.T) {
	out := make([]float32, 16)
	shape, err := Conv2DShape(ones(48), out, ones(27), tensor.Shape{1, 3, 4, 4}, 1, 3, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 1, 4, 4}, shape)
	assert.Equal(t, []float32{
		12, 18, 18, 12,
		18, 27, 27, 18,
		18, 27, 27, 18,
		12, 18, 18, 12,
	}, out)
}

func TestConv2DKnownKernel(t *testing.T) {
	// 3x3 image 1..9, kernel picks the centre tap.
	in := []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}
	kernel := []float32{0, 0, 0, 0, 1, 0, 0, 0, 0}
	out := make([]float32, 9)
	err := Conv2D(in, out, kernel, Conv2DParams{
		Batch: 1, InHeight: 3, InWidth: 3, InChannels: 1, OutChannels: 1,
		KernelSize: 3, Stride: 1, Padding: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// Stride 2 without padding takes the single full window.
	out = make([]float32, 1)
	err = Conv2D(in, out, ones(9), Conv2DParams{
		Batch: 1, InHeight: 3, InWidth: 3, InChannels: 1, OutChannels: 1,
		KernelSize: 3, Stride: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{45}, out)
}

func TestConv2DBiasAndBatch(t *testing.T) {
	in := append(ones(4), 2, 2, 2, 2)
	out := make([]float32, 2*2*4)
	err := Conv2D(in, out, []float32{1, -1}, Conv2DParams{
		Batch: 2, InHeight: 2, InWidth: 2, InChannels: 1, OutChannels: 2,
		KernelSize: 1, Stride: 1, Bias: []float32{10, 20},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{
		11, 11, 11, 11, 19, 19, 19, 19,
		12, 12, 12, 12, 18, 18, 18, 18,
	}, out)
}

func TestConv2DErrors(t *testing.T) {
	p := Conv2DParams{Batch: 1, InHeight: 4, InWidth: 4, InChannels: 1, OutChannels: 1, KernelSize: 2, Stride: 1}
	require.ErrorIs(t, Conv2D(ones(16), make([]float32, 16), ones(4), p), compute.ErrConfiguration)

	p.KernelSize = 3
	require.ErrorIs(t, Conv2D(ones(15), make([]float32, 4), ones(9), p), compute.ErrShapeMismatch)
	require.ErrorIs(t, Conv2D(ones(16), make([]float32, 3), ones(9), p), compute.ErrShapeMismatch)

	_, err := Conv2DShape(ones(16), nil, nil, tensor.Shape{4, 4}, 1, 3, 1, 1)
	require.ErrorIs(t, err, compute.ErrShapeMismatch)
}

func TestDepthwiseConv2D(t *testing.T) {
	in := []float32{1, 2, 3, 4, 10, 20, 30, 40}
	weights := []float32{1, 2, 3, 4}
	out := make([]float32, 16)
	err := DepthwiseConv2D(in, out, weights, DepthwiseParams{
		Batch: 1, InHeight: 2, InWidth: 2, InChannels: 2, ChannelMultiplier: 2,
		KernelSize: 1, Stride: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{
		1, 2, 3, 4,
		2, 4, 6, 8,
		30, 60, 90, 120,
		40, 80, 120, 160,
	}, out)
}

func TestDepthwiseMatchesPerChannelConv(t *testing.T) {
	rng := tensor.NewSource(7)
	in, err := tensor.New(tensor.Shape{1, 3, 6, 5}, nil, false)
	require.NoError(t, err)
	in.GenerateRandom(rng, 1.0/512, -1)
	weights, err := tensor.New(tensor.Shape{3, 1, 3, 3}, nil, false)
	require.NoError(t, err)
	weights.GenerateRandom(rng, 1.0/512, -1)

	got := make([]float32, 3*30)
	require.NoError(t, DepthwiseConv2D(in.Data(), got, weights.Data(), DepthwiseParams{
		Batch: 1, InHeight: 6, InWidth: 5, InChannels: 3, ChannelMultiplier: 1,
		KernelSize: 3, Stride: 1, Padding: 1,
	}))

	for c := 0; c < 3; c++ {
		want := make([]float32, 30)
		require.NoError(t, Conv2D(in.Data()[c*30:(c+1)*30], want, weights.Data()[c*9:(c+1)*9], Conv2DParams{
			Batch: 1, InHeight: 6, InWidth: 5, InChannels: 1, OutChannels: 1,
			KernelSize: 3, Stride: 1, Padding: 1,
		}))
		assert.InDeltaSlice(t, want, got[c*30:(c+1)*30], 1e-6, "channel %d", c)
	}
}

func TestBatchNormNormalizes(t *testing.T) {
	const batch, channels, size = 2, 3, 50
	data, err := tensor.New(tensor.Shape{batch, channels, 5, 10}, nil, false)
	require.NoError(t, err)
	data.GenerateRandom(tensor.NewSource(1), 3.5, 100)

	err = BatchNorm(data.Data(), BatchNormParams{
		Batch: batch, Channels: channels, ChannelSize: size, Eps: 1e-9,
		Weights: ones(channels), Biases: make([]float32, channels),
	})
	require.NoError(t, err)

	for c := 0; c < channels; c++ {
		var values []float64
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * size
			for _, v := range data.Data()[base : base+size] {
				values = append(values, float64(v))
			}
		}
		mean, variance := stat.PopMeanVariance(values, nil)
		assert.InDelta(t, 0, mean, 1e-4, "channel %d mean", c)
		assert.InDelta(t, 1, variance, 1e-3, "channel %d variance", c)
	}
}

func TestBatchNormAffineAndActivation(t *testing.T) {
	data := []float32{1, 3, 10, 30}
	err := BatchNorm(data, BatchNormParams{
		Batch: 1, Channels: 2, ChannelSize: 2,
		Weights: []float32{2, 1}, Biases: []float32{0.5, 0}, ReLU: 2,
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0, 5, 0, 2}, data, 1e-5)

	data = []float32{1, 3}
	err = BatchNorm(data, BatchNormParams{
		Batch: 1, Channels: 1, ChannelSize: 2,
		Weights: []float32{1}, Biases: []float32{0},
	})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{-1, 1}, data, 1e-5)
}

func TestBatchNormErrors(t *testing.T) {
	p := BatchNormParams{Batch: 1, Channels: 2, ChannelSize: 2, Weights: ones(2), Biases: ones(1)}
	require.ErrorIs(t, BatchNorm(ones(4), p), compute.ErrShapeMismatch)
	p.Channels = 0
	require.ErrorIs(t, BatchNorm(ones(4), p), compute.ErrConfiguration)
}
