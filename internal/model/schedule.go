// Package model chains Conv2D and BatchNorm stages into a small
// convolutional network and runs it either on an accelerator, over two
// ping-pong device buffers, or on the host reference executor.
package model

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/ops"
	"github.com/born-ml/accelnet/internal/tensor"
)

// Schedule fixes the network: stage i convolves Channels[i] into
// Channels[i+1] channels and then batch-normalizes the result.
type Schedule struct {
	Channels   []int
	KernelSize int
	Stride     int
	Padding    int
	Eps        float32
	ReLU       float32
}

// DefaultSchedule returns the six-stage demonstration network.
func DefaultSchedule() Schedule {
	return Schedule{
		Channels:   []int{3, 32, 32, 64, 64, 64, 64},
		KernelSize: 3,
		Stride:     1,
		Padding:    1,
		Eps:        1e-5,
		ReLU:       1,
	}
}

// Stage is one convolution plus batch normalization.
type Stage struct {
	Index int
	Conv  ops.Conv2DConfig
	Norm  ops.BatchNormConfig
}

// Validate checks that the schedule describes at least one valid stage.
func (s Schedule) Validate() error {
	if len(s.Channels) < 2 {
		return fmt.Errorf("model: %w: schedule needs at least two channel counts, got %v",
			compute.ErrConfiguration, s.Channels)
	}
	for _, st := range s.Stages() {
		if err := st.Conv.Validate(); err != nil {
			return fmt.Errorf("model: stage %d: %w", st.Index, err)
		}
		if err := st.Norm.Validate(); err != nil {
			return fmt.Errorf("model: stage %d: %w", st.Index, err)
		}
	}
	return nil
}

// Stages returns the len(Channels)-1 stages in execution order.
func (s Schedule) Stages() []Stage {
	if len(s.Channels) < 2 {
		return nil
	}
	stages := make([]Stage, len(s.Channels)-1)
	for i := range stages {
		stages[i] = Stage{
			Index: i,
			Conv: ops.Conv2DConfig{
				InChannels:  s.Channels[i],
				OutChannels: s.Channels[i+1],
				KernelSize:  s.KernelSize,
				Stride:      s.Stride,
				Padding:     s.Padding,
			},
			Norm: ops.BatchNormConfig{
				NumFeatures: s.Channels[i+1],
				Eps:         s.Eps,
				ReLU:        s.ReLU,
			},
		}
	}
	return stages
}

// prefix returns the first i stages.
func (s Schedule) prefix(i int) []Stage {
	stages := s.Stages()
	return stages[:min(max(i, 0), len(stages))]
}

// KernelOffset returns where stage i's convolution weights start in the
// concatenated kernel buffer.
func (s Schedule) KernelOffset(i int) int {
	off := 0
	for _, st := range s.prefix(i) {
		off += st.Conv.WeightLen()
	}
	return off
}

// ParamOffset returns where stage i's batch-norm weights and biases start.
func (s Schedule) ParamOffset(i int) int {
	off := 0
	for _, st := range s.prefix(i) {
		off += st.Norm.NumFeatures
	}
	return off
}

// KernelLen returns the total number of convolution weights.
func (s Schedule) KernelLen() int {
	return s.KernelOffset(len(s.Channels) - 1)
}

// WeightLen returns the total number of batch-norm weights, which equals
// the number of batch-norm biases.
func (s Schedule) WeightLen() int {
	return s.ParamOffset(len(s.Channels) - 1)
}

// Shapes returns the input shape followed by every stage's output shape.
func (s Schedule) Shapes(input tensor.Shape) ([]tensor.Shape, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if len(input) != 4 || input[1] != s.Channels[0] {
		return nil, fmt.Errorf("model: %w: input shape %v does not match %d input channels",
			compute.ErrShapeMismatch, input, s.Channels[0])
	}
	shapes := []tensor.Shape{input.Clone()}
	cur := input.Clone()
	for _, st := range s.Stages() {
		oh := ops.OutputExtent(cur[2], st.Conv.KernelSize, st.Conv.Stride, st.Conv.Padding)
		ow := ops.OutputExtent(cur[3], st.Conv.KernelSize, st.Conv.Stride, st.Conv.Padding)
		if cur[2]+2*st.Conv.Padding < st.Conv.KernelSize || cur[3]+2*st.Conv.Padding < st.Conv.KernelSize {
			return nil, fmt.Errorf("model: stage %d: %w: %dx%d input too small for kernel %d",
				st.Index, compute.ErrShapeMismatch, cur[2], cur[3], st.Conv.KernelSize)
		}
		cur = tensor.Shape{cur[0], st.Conv.OutChannels, oh, ow}
		shapes = append(shapes, cur)
	}
	return shapes, nil
}

// scratchLen is the element count of one ping-pong buffer: the largest
// tensor any stage reads or writes.
func scratchLen(shapes []tensor.Shape) int {
	n := 0
	for _, s := range shapes {
		n = max(n, s.NumElements())
	}
	return n
}
