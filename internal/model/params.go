package model

import (
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// Params holds the concatenated parameters of every stage: convolution
// kernels laid out [out, in, k, k] per stage, then batch-norm weights and
// biases, one per output channel per stage.
type Params struct {
	Kernels []float32
	Weights []float32
	Biases  []float32
}

// Check verifies the parameter lengths against the schedule.
func (p Params) Check(s Schedule) error {
	if len(p.Kernels) < s.KernelLen() || len(p.Weights) < s.WeightLen() || len(p.Biases) < s.WeightLen() {
		return fmt.Errorf("model: %w: params hold %d/%d/%d values, schedule needs %d/%d/%d",
			compute.ErrShapeMismatch, len(p.Kernels), len(p.Weights), len(p.Biases),
			s.KernelLen(), s.WeightLen(), s.WeightLen())
	}
	return nil
}

// Random parameter distributions of the demonstration network.
const (
	InputScale  = 1.0 / 500
	InputOffset = -1
	KernelScale = 1.0 / 500
	WeightScale = 1.0 / 10000
)

// RandomParams draws kernels in about [-1, 1), batch-norm weights near 1
// and biases near 0.
func RandomParams(s Schedule, rng *rand.Rand) (Params, error) {
	kernels, err := randomSlice(s.KernelLen(), rng, KernelScale, -1)
	if err != nil {
		return Params{}, err
	}
	weights, err := randomSlice(s.WeightLen(), rng, WeightScale, 1)
	if err != nil {
		return Params{}, err
	}
	biases, err := randomSlice(s.WeightLen(), rng, WeightScale, 0)
	if err != nil {
		return Params{}, err
	}
	return Params{Kernels: kernels, Weights: weights, Biases: biases}, nil
}

func randomSlice(n int, rng *rand.Rand, scale, offset float32) ([]float32, error) {
	t, err := tensor.New(tensor.Shape{n}, nil, false)
	if err != nil {
		return nil, err
	}
	t.GenerateRandom(rng, scale, offset)
	return t.Data(), nil
}

// ReadParams reads kernels, weights and biases, in that order, from a raw
// little-endian float32 stream.
func ReadParams(s Schedule, r io.Reader) (Params, error) {
	var p Params
	for _, part := range []struct {
		dst *[]float32
		n   int
	}{
		{&p.Kernels, s.KernelLen()},
		{&p.Weights, s.WeightLen()},
		{&p.Biases, s.WeightLen()},
	} {
		t, err := tensor.FromReader(tensor.Shape{part.n}, r, nil, false)
		if err != nil {
			return Params{}, fmt.Errorf("model: read params: %w", err)
		}
		*part.dst = t.Data()
	}
	return p, nil
}
