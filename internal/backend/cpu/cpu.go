// Package cpu is the reference executor: plain host-memory loops computing
// the same arithmetic as the accelerated operators. It exists to check
// device results and is never used for production inference.
//
// All tensors are NCHW float32 slices. Windows are centred on
// oy*stride+k/2 in padded coordinates, so kernel sizes must be odd; taps
// that fall into the padding are skipped, not clamped.
package cpu

import (
	"fmt"

	"github.com/born-ml/accelnet/internal/compute"
	"github.com/born-ml/accelnet/internal/tensor"
)

// window is the spatial geometry shared by both convolutions.
type window struct {
	inH, inW                int
	kernel, stride, padding int
}

func (w window) validate(op string) error {
	switch {
	case w.kernel <= 0 || w.kernel%2 == 0:
		return fmt.Errorf("cpu: %s: %w: kernel size %d must be odd and positive", op, compute.ErrConfiguration, w.kernel)
	case w.stride <= 0:
		return fmt.Errorf("cpu: %s: %w: stride %d must be positive", op, compute.ErrConfiguration, w.stride)
	case w.padding < 0:
		return fmt.Errorf("cpu: %s: %w: padding %d must not be negative", op, compute.ErrConfiguration, w.padding)
	case w.inH+2*w.padding < w.kernel || w.inW+2*w.padding < w.kernel:
		return fmt.Errorf("cpu: %s: %w: %dx%d input too small for kernel %d", op, compute.ErrShapeMismatch, w.inH, w.inW, w.kernel)
	}
	return nil
}

func (w window) out() (int, int) {
	return (w.inH+2*w.padding-w.kernel)/w.stride + 1, (w.inW+2*w.padding-w.kernel)/w.stride + 1
}

// accumulate sums one k*k window of a single input plane against weights.
func (w window) accumulate(plane, weights []float32, oy, ox int) float32 {
	radius := w.kernel / 2
	paddedH, paddedW := w.inH+2*w.padding, w.inW+2*w.padding
	cy, cx := oy*w.stride+radius, ox*w.stride+radius

	var acc float32
	idx := 0
	for r := cy - radius; r <= cy+radius; r++ {
		for c := cx - radius; c <= cx+radius; c++ {
			if r >= w.padding && r < paddedH-w.padding && c >= w.padding && c < paddedW-w.padding {
				acc += plane[(r-w.padding)*w.inW+(c-w.padding)] * weights[idx]
			}
			idx++
		}
	}
	return acc
}

func need(op, name string, s []float32, n int) error {
	if len(s) < n {
		return fmt.Errorf("cpu: %s: %w: %s holds %d values, need %d", op, compute.ErrShapeMismatch, name, len(s), n)
	}
	return nil
}

// Conv2DParams describes a dense convolution.
type Conv2DParams struct {
	Batch       int
	InHeight    int
	InWidth     int
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
	// Bias is added per output channel when non-nil.
	Bias []float32
}

// Conv2D computes out = conv(in, weights) (+ bias). weights are laid out
// [out_channels, in_channels, k, k].
func Conv2D(in, out, weights []float32, p Conv2DParams) error {
	w := window{p.InHeight, p.InWidth, p.KernelSize, p.Stride, p.Padding}
	if err := w.validate("conv2d"); err != nil {
		return err
	}
	if p.Batch <= 0 || p.InChannels <= 0 || p.OutChannels <= 0 {
		return fmt.Errorf("cpu: conv2d: %w: batch %d, channels in=%d out=%d", compute.ErrConfiguration, p.Batch, p.InChannels, p.OutChannels)
	}
	outH, outW := w.out()
	inSize, outSize := p.InHeight*p.InWidth, outH*outW
	kk := p.KernelSize * p.KernelSize
	batchKernel := p.InChannels * kk

	if err := need("conv2d", "input", in, p.Batch*p.InChannels*inSize); err != nil {
		return err
	}
	if err := need("conv2d", "output", out, p.Batch*p.OutChannels*outSize); err != nil {
		return err
	}
	if err := need("conv2d", "weights", weights, p.OutChannels*batchKernel); err != nil {
		return err
	}
	if p.Bias != nil {
		if err := need("conv2d", "bias", p.Bias, p.OutChannels); err != nil {
			return err
		}
	}

	for n := 0; n < p.Batch; n++ {
		src := in[n*p.InChannels*inSize:]
		dst := out[n*p.OutChannels*outSize:]
		idx := 0
		for oc := 0; oc < p.OutChannels; oc++ {
			kernel := weights[oc*batchKernel:]
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					var acc float32
					for ic := 0; ic < p.InChannels; ic++ {
						acc += w.accumulate(src[ic*inSize:], kernel[ic*kk:], oy, ox)
					}
					if p.Bias != nil {
						acc += p.Bias[oc]
					}
					dst[idx] = acc
					idx++
				}
			}
		}
	}
	return nil
}

// Conv2DShape runs Conv2D on an NCHW input and returns the output shape.
func Conv2DShape(in, out, weights []float32, shape tensor.Shape, outChannels, kernel, stride, padding int) (tensor.Shape, error) {
	if len(shape) != 4 {
		return nil, fmt.Errorf("cpu: conv2d: %w: expected NCHW shape, got %v", compute.ErrShapeMismatch, shape)
	}
	p := Conv2DParams{
		Batch:       shape[0],
		InChannels:  shape[1],
		InHeight:    shape[2],
		InWidth:     shape[3],
		OutChannels: outChannels,
		KernelSize:  kernel,
		Stride:      stride,
		Padding:     padding,
	}
	if err := Conv2D(in, out, weights, p); err != nil {
		return nil, err
	}
	w := window{p.InHeight, p.InWidth, kernel, stride, padding}
	outH, outW := w.out()
	return tensor.Shape{shape[0], outChannels, outH, outW}, nil
}

// DepthwiseParams describes a depthwise convolution.
type DepthwiseParams struct {
	Batch             int
	InHeight          int
	InWidth           int
	InChannels        int
	ChannelMultiplier int
	KernelSize        int
	Stride            int
	Padding           int
	// Bias is added per output channel when non-nil.
	Bias []float32
}

// DepthwiseConv2D convolves every input channel with ChannelMultiplier
// separate k*k kernels. Output channel ic*multiplier+m reads only input
// channel ic.
func DepthwiseConv2D(in, out, weights []float32, p DepthwiseParams) error {
	w := window{p.InHeight, p.InWidth, p.KernelSize, p.Stride, p.Padding}
	if err := w.validate("depthwise_conv2d"); err != nil {
		return err
	}
	if p.Batch <= 0 || p.InChannels <= 0 || p.ChannelMultiplier <= 0 {
		return fmt.Errorf("cpu: depthwise_conv2d: %w: batch %d, channels %d, multiplier %d",
			compute.ErrConfiguration, p.Batch, p.InChannels, p.ChannelMultiplier)
	}
	outH, outW := w.out()
	outC := p.InChannels * p.ChannelMultiplier
	inSize, outSize := p.InHeight*p.InWidth, outH*outW
	kk := p.KernelSize * p.KernelSize

	if err := need("depthwise_conv2d", "input", in, p.Batch*p.InChannels*inSize); err != nil {
		return err
	}
	if err := need("depthwise_conv2d", "output", out, p.Batch*outC*outSize); err != nil {
		return err
	}
	if err := need("depthwise_conv2d", "weights", weights, outC*kk); err != nil {
		return err
	}
	if p.Bias != nil {
		if err := need("depthwise_conv2d", "bias", p.Bias, outC); err != nil {
			return err
		}
	}

	for n := 0; n < p.Batch; n++ {
		src := in[n*p.InChannels*inSize:]
		dst := out[n*outC*outSize:]
		idx := 0
		for ic := 0; ic < p.InChannels; ic++ {
			plane := src[ic*inSize:]
			for m := 0; m < p.ChannelMultiplier; m++ {
				oc := ic*p.ChannelMultiplier + m
				kernel := weights[oc*kk:]
				for oy := 0; oy < outH; oy++ {
					for ox := 0; ox < outW; ox++ {
						acc := w.accumulate(plane, kernel, oy, ox)
						if p.Bias != nil {
							acc += p.Bias[oc]
						}
						dst[idx] = acc
						idx++
					}
				}
			}
		}
	}
	return nil
}
