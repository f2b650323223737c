// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package cpu

import (
	internalcpu "github.com/born-ml/accelnet/internal/backend/cpu"
	"github.com/born-ml/accelnet/tensor"
)

// Shape is an NCHW extent list.
type Shape = tensor.Shape

// Conv2DParams describes a dense convolution.
type Conv2DParams = internalcpu.Conv2DParams

// DepthwiseParams describes a depthwise convolution.
type DepthwiseParams = internalcpu.DepthwiseParams

// BatchNormParams describes a batch normalization.
type BatchNormParams = internalcpu.BatchNormParams

// Conv2D computes out = conv(in, weights) (+ bias).
func Conv2D(in, out, weights []float32, p Conv2DParams) error {
	return internalcpu.Conv2D(in, out, weights, p)
}

// Conv2DShape runs Conv2D on an NCHW input and returns the output shape.
func Conv2DShape(in, out, weights []float32, shape Shape, outChannels, kernel, stride, padding int) (Shape, error) {
	return internalcpu.Conv2DShape(in, out, weights, shape, outChannels, kernel, stride, padding)
}

// DepthwiseConv2D convolves each input channel with its own kernels.
func DepthwiseConv2D(in, out, weights []float32, p DepthwiseParams) error {
	return internalcpu.DepthwiseConv2D(in, out, weights, p)
}

// BatchNorm normalizes data in place with batch statistics.
func BatchNorm(data []float32, p BatchNormParams) error {
	return internalcpu.BatchNorm(data, p)
}
