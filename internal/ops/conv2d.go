package ops

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// Conv2DConfig is the immutable configuration of a Conv2D operator.
type Conv2DConfig struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	Bias        bool
}

// Validate checks channel counts and window geometry. Kernel sizes must be
// odd so the window is centred.
func (c Conv2DConfig) Validate() error {
	if c.InChannels <= 0 || c.OutChannels <= 0 {
		return fmt.Errorf("ops: conv2d: %w: invalid channels in=%d, out=%d",
			compute.ErrConfiguration, c.InChannels, c.OutChannels)
	}
	return spatial{c.KernelSize, c.Stride, c.Padding}.validate("conv2d")
}

// WeightLen returns the number of kernel weights, laid out
// [out_channels, in_channels, k, k].
func (c Conv2DConfig) WeightLen() int {
	return c.OutChannels * c.InChannels * c.KernelSize * c.KernelSize
}

// Conv2D launches the Convolute kernel.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, k, k]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where out_h = (height + 2*padding - k) / stride + 1, likewise out_w.
// Weights and bias are read starting at their reference offsets, so one
// buffer can hold the parameters of many layers.
type Conv2D struct {
	launcher
	cfg Conv2DConfig

	input, output, weights, bias compute.BufferRef
}

// NewConv2D validates cfg and returns an operator in the Configured state.
func NewConv2D(cfg Conv2DConfig, opts ...Option) (*Conv2D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Conv2D{launcher: newLauncher("conv2d", opts), cfg: cfg}, nil
}

// Config returns the operator configuration.
func (c *Conv2D) Config() Conv2DConfig { return c.cfg }

// SetInput wires the input buffer.
func (c *Conv2D) SetInput(ref compute.BufferRef) { c.input = ref; c.wired() }

// SetOutput wires the output buffer.
func (c *Conv2D) SetOutput(ref compute.BufferRef) { c.output = ref; c.wired() }

// SetWeights wires the kernel weights.
func (c *Conv2D) SetWeights(ref compute.BufferRef) { c.weights = ref; c.wired() }

// SetBias wires the bias. It is ignored unless the config enables bias.
func (c *Conv2D) SetBias(ref compute.BufferRef) { c.bias = ref; c.wired() }

// OutputShape returns the shape Run produces for in.
func (c *Conv2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if err := checkInput("conv2d", in, c.cfg.InChannels); err != nil {
		return nil, err
	}
	return spatial{c.cfg.KernelSize, c.cfg.Stride, c.cfg.Padding}.outputShape("conv2d", in, c.cfg.OutChannels)
}

// Run launches the convolution on an input of shape in and returns the
// output shape. With blocking set the queue is drained before returning.
func (c *Conv2D) Run(in tensor.Shape, blocking bool) (tensor.Shape, compute.Event, error) {
	out, args, r, err := c.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	ev, err := c.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	return out, ev, nil
}

// RunInto runs the convolution and reads the output into dst.
func (c *Conv2D) RunInto(in tensor.Shape, blocking bool, dst []float32) (tensor.Shape, compute.Event, error) {
	out, args, r, err := c.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOutputLen("conv2d", dst, out.NumElements()); err != nil {
		return nil, nil, err
	}
	ev, err := c.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	ev, err = c.readBack(c.output, dst, out.NumElements(), blocking, ev)
	if err != nil {
		return nil, nil, err
	}
	return out, ev, nil
}

func (c *Conv2D) prepare(in tensor.Shape) (tensor.Shape, []any, compute.NDRange, error) {
	out, err := c.OutputShape(in)
	if err != nil {
		return nil, nil, compute.NDRange{}, err
	}
	cfg := c.cfg
	reqs := []requirement{
		{"input", c.input, compute.ReadOnly, in.NumElements()},
		{"output", c.output, compute.WriteOnly, out.NumElements()},
		{"weights", c.weights, compute.ReadOnly, cfg.WeightLen()},
	}
	bias := c.weights
	if cfg.Bias {
		reqs = append(reqs, requirement{"bias", c.bias, compute.ReadOnly, cfg.OutChannels})
		bias = c.bias
	}
	if err := checkBuffers("conv2d", reqs...); err != nil {
		return nil, nil, compute.NDRange{}, err
	}

	batch, inH, inW := in[0], in[2], in[3]
	outH, outW := out[2], out[3]
	r, err := compute.NewNDRange([]int{outW, outH, cfg.OutChannels}, SpatialWorkGroup)
	if err != nil {
		return nil, nil, compute.NDRange{}, err
	}
	k := cfg.KernelSize
	args := []any{
		c.input,
		c.output,
		c.weights.At(0),
		bias.At(0),
		int32(batch),
		int32(inH),
		int32(inW),
		int32(inH * inW),
		int32(outH),
		int32(outW),
		int32(outH * outW),
		int32(cfg.InChannels),
		int32(cfg.OutChannels),
		int32(k),
		int32(cfg.InChannels * k * k),
		int32(cfg.Stride),
		int32(cfg.Padding),
		int32(c.weights.Offset),
		int32(bias.Offset),
		useBias(cfg.Bias),
	}
	return out, args, r, nil
}
