package ops

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// BatchNormConfig is the immutable configuration of a BatchNorm operator.
// ReLU is an activation slope: positive values apply slope*max(x, 0),
// zero or negative values disable the activation.
type BatchNormConfig struct {
	NumFeatures int
	Eps         float32
	ReLU        float32
}

// Validate checks the feature count and epsilon.
func (c BatchNormConfig) Validate() error {
	if c.NumFeatures <= 0 {
		return fmt.Errorf("ops: batchnorm: %w: invalid number of features %d", compute.ErrConfiguration, c.NumFeatures)
	}
	if c.Eps < 0 {
		return fmt.Errorf("ops: batchnorm: %w: eps %g must not be negative", compute.ErrConfiguration, c.Eps)
	}
	return nil
}

// BatchNorm launches the BatchNorm kernel, which normalizes every channel
// in place using the statistics of the current batch and then applies the
// affine transform and optional activation. There is no running state.
//
// Weights and biases are read at the same offset, so both references must
// agree on it.
type BatchNorm struct {
	launcher
	cfg BatchNormConfig

	data, weights, biases compute.BufferRef
}

// NewBatchNorm validates cfg and returns an operator in the Configured state.
func NewBatchNorm(cfg BatchNormConfig, opts ...Option) (*BatchNorm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BatchNorm{launcher: newLauncher("batchnorm", opts), cfg: cfg}, nil
}

// Config returns the operator configuration.
func (b *BatchNorm) Config() BatchNormConfig { return b.cfg }

// SetTensor wires the buffer normalized in place.
func (b *BatchNorm) SetTensor(ref compute.BufferRef) { b.data = ref; b.wired() }

// SetWeights wires the per-channel scale.
func (b *BatchNorm) SetWeights(ref compute.BufferRef) { b.weights = ref; b.wired() }

// SetBiases wires the per-channel shift.
func (b *BatchNorm) SetBiases(ref compute.BufferRef) { b.biases = ref; b.wired() }

// Run normalizes a tensor of shape in. The shape is returned unchanged.
func (b *BatchNorm) Run(in tensor.Shape, blocking bool) (tensor.Shape, compute.Event, error) {
	args, r, err := b.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	ev, err := b.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	return in.Clone(), ev, nil
}

// RunInto normalizes and reads the tensor back into dst.
func (b *BatchNorm) RunInto(in tensor.Shape, blocking bool, dst []float32) (tensor.Shape, compute.Event, error) {
	args, r, err := b.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOutputLen("batchnorm", dst, in.NumElements()); err != nil {
		return nil, nil, err
	}
	ev, err := b.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	ev, err = b.readBack(b.data, dst, in.NumElements(), blocking, ev)
	if err != nil {
		return nil, nil, err
	}
	return in.Clone(), ev, nil
}

func (b *BatchNorm) prepare(in tensor.Shape) ([]any, compute.NDRange, error) {
	if err := checkInput("batchnorm", in, b.cfg.NumFeatures); err != nil {
		return nil, compute.NDRange{}, err
	}
	channels := b.cfg.NumFeatures
	err := checkBuffers("batchnorm",
		requirement{"tensor", b.data, compute.ReadWrite, in.NumElements()},
		requirement{"weights", b.weights, compute.ReadOnly, channels},
		requirement{"biases", b.biases, compute.ReadOnly, channels},
	)
	if err != nil {
		return nil, compute.NDRange{}, err
	}
	if b.weights.Offset != b.biases.Offset {
		return nil, compute.NDRange{}, fmt.Errorf("ops: batchnorm: %w: weights offset %d differs from biases offset %d",
			compute.ErrConfiguration, b.weights.Offset, b.biases.Offset)
	}

	r, err := compute.NewNDRange([]int{channels}, BatchNormWorkGroup)
	if err != nil {
		return nil, compute.NDRange{}, err
	}
	args := []any{
		b.data,
		b.weights.At(0),
		b.biases.At(0),
		int32(in[0]),
		int32(channels),
		int32(in[2] * in[3]),
		b.cfg.Eps,
		b.cfg.ReLU,
		int32(b.weights.Offset),
	}
	return args, r, nil
}
