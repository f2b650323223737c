package ops

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// DepthwiseConv2DConfig is the immutable configuration of a DepthwiseConv2D
// operator. Each input channel expands into ChannelMultiplier output
// channels; channels never mix.
type DepthwiseConv2DConfig struct {
	InChannels        int
	ChannelMultiplier int
	KernelSize        int
	Stride            int
	Padding           int
	Bias              bool
}

// Validate checks channel counts and window geometry.
func (c DepthwiseConv2DConfig) Validate() error {
	if c.InChannels <= 0 || c.ChannelMultiplier <= 0 {
		return fmt.Errorf("ops: depthwise_conv2d: %w: invalid channels in=%d, multiplier=%d",
			compute.ErrConfiguration, c.InChannels, c.ChannelMultiplier)
	}
	return spatial{c.KernelSize, c.Stride, c.Padding}.validate("depthwise_conv2d")
}

// OutChannels returns InChannels * ChannelMultiplier.
func (c DepthwiseConv2DConfig) OutChannels() int {
	return c.InChannels * c.ChannelMultiplier
}

// WeightLen returns the number of kernel weights, one k*k window per
// output channel. Output channel ic*multiplier+m reads input channel ic.
func (c DepthwiseConv2DConfig) WeightLen() int {
	return c.OutChannels() * c.KernelSize * c.KernelSize
}

// DepthwiseConv2D launches the DepthwiseConvolute kernel.
type DepthwiseConv2D struct {
	launcher
	cfg DepthwiseConv2DConfig

	input, output, weights, bias compute.BufferRef
}

// NewDepthwiseConv2D validates cfg and returns an operator in the
// Configured state.
func NewDepthwiseConv2D(cfg DepthwiseConv2DConfig, opts ...Option) (*DepthwiseConv2D, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DepthwiseConv2D{launcher: newLauncher("depthwise_conv2d", opts), cfg: cfg}, nil
}

// Config returns the operator configuration.
func (d *DepthwiseConv2D) Config() DepthwiseConv2DConfig { return d.cfg }

// SetInput wires the input buffer.
func (d *DepthwiseConv2D) SetInput(ref compute.BufferRef) { d.input = ref; d.wired() }

// SetOutput wires the output buffer.
func (d *DepthwiseConv2D) SetOutput(ref compute.BufferRef) { d.output = ref; d.wired() }

// SetWeights wires the kernel weights.
func (d *DepthwiseConv2D) SetWeights(ref compute.BufferRef) { d.weights = ref; d.wired() }

// SetBias wires the bias. It is ignored unless the config enables bias.
func (d *DepthwiseConv2D) SetBias(ref compute.BufferRef) { d.bias = ref; d.wired() }

// OutputShape returns the shape Run produces for in.
func (d *DepthwiseConv2D) OutputShape(in tensor.Shape) (tensor.Shape, error) {
	if err := checkInput("depthwise_conv2d", in, d.cfg.InChannels); err != nil {
		return nil, err
	}
	return spatial{d.cfg.KernelSize, d.cfg.Stride, d.cfg.Padding}.outputShape("depthwise_conv2d", in, d.cfg.OutChannels())
}

// Run launches the depthwise convolution and returns the output shape.
func (d *DepthwiseConv2D) Run(in tensor.Shape, blocking bool) (tensor.Shape, compute.Event, error) {
	out, args, r, err := d.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	ev, err := d.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	return out, ev, nil
}

// RunInto runs the depthwise convolution and reads the output into dst.
func (d *DepthwiseConv2D) RunInto(in tensor.Shape, blocking bool, dst []float32) (tensor.Shape, compute.Event, error) {
	out, args, r, err := d.prepare(in)
	if err != nil {
		return nil, nil, err
	}
	if err := checkOutputLen("depthwise_conv2d", dst, out.NumElements()); err != nil {
		return nil, nil, err
	}
	ev, err := d.launch(args, r, blocking)
	if err != nil {
		return nil, nil, err
	}
	ev, err = d.readBack(d.output, dst, out.NumElements(), blocking, ev)
	if err != nil {
		return nil, nil, err
	}
	return out, ev, nil
}

func (d *DepthwiseConv2D) prepare(in tensor.Shape) (tensor.Shape, []any, compute.NDRange, error) {
	out, err := d.OutputShape(in)
	if err != nil {
		return nil, nil, compute.NDRange{}, err
	}
	cfg := d.cfg
	reqs := []requirement{
		{"input", d.input, compute.ReadOnly, in.NumElements()},
		{"output", d.output, compute.WriteOnly, out.NumElements()},
		{"weights", d.weights, compute.ReadOnly, cfg.WeightLen()},
	}
	bias := d.weights
	if cfg.Bias {
		reqs = append(reqs, requirement{"bias", d.bias, compute.ReadOnly, cfg.OutChannels()})
		bias = d.bias
	}
	if err := checkBuffers("depthwise_conv2d", reqs...); err != nil {
		return nil, nil, compute.NDRange{}, err
	}

	batch, inH, inW := in[0], in[2], in[3]
	outH, outW := out[2], out[3]
	r, err := compute.NewNDRange([]int{outW, outH, cfg.OutChannels()}, SpatialWorkGroup)
	if err != nil {
		return nil, nil, compute.NDRange{}, err
	}
	args := []any{
		d.input,
		d.output,
		d.weights.At(0),
		bias.At(0),
		int32(batch),
		int32(inH),
		int32(inW),
		int32(inH * inW),
		int32(outH),
		int32(outW),
		int32(outH * outW),
		int32(cfg.InChannels),
		int32(cfg.ChannelMultiplier),
		int32(cfg.KernelSize),
		int32(cfg.Stride),
		int32(cfg.Padding),
		int32(d.weights.Offset),
		int32(bias.Offset),
		useBias(cfg.Bias),
	}
	return out, args, r, nil
}
