package model

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/backend/cpu"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// RunReference runs the schedule on the host reference executor, swapping
// two scratch slices between stages. It returns the output values and
// shape.
func RunReference(s Schedule, input tensor.Shape, data []float32, params Params) ([]float32, tensor.Shape, error) {
	shapes, err := s.Shapes(input)
	if err != nil {
		return nil, nil, err
	}
	if err := params.Check(s); err != nil {
		return nil, nil, err
	}
	if len(data) < input.NumElements() {
		return nil, nil, fmt.Errorf("model: %w: input holds %d values, shape %v needs %d",
			compute.ErrShapeMismatch, len(data), input, input.NumElements())
	}

	n := scratchLen(shapes)
	cur, next := make([]float32, n), make([]float32, n)
	copy(cur, data[:input.NumElements()])

	shape := input.Clone()
	for _, st := range s.Stages() {
		koff := s.KernelOffset(st.Index)
		out, err := cpu.Conv2DShape(cur, next, params.Kernels[koff:], shape,
			st.Conv.OutChannels, st.Conv.KernelSize, st.Conv.Stride, st.Conv.Padding)
		if err != nil {
			return nil, nil, fmt.Errorf("model: reference stage %d: %w", st.Index, err)
		}
		shape = out
		cur, next = next, cur

		poff := s.ParamOffset(st.Index)
		err = cpu.BatchNorm(cur, cpu.BatchNormParams{
			Batch:       shape[0],
			Channels:    shape[1],
			ChannelSize: shape[2] * shape[3],
			Eps:         st.Norm.Eps,
			Weights:     params.Weights[poff : poff+st.Norm.NumFeatures],
			Biases:      params.Biases[poff : poff+st.Norm.NumFeatures],
			ReLU:        st.Norm.ReLU,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("model: reference stage %d: %w", st.Index, err)
		}
	}
	return cur[:shape.NumElements()], shape, nil
}
