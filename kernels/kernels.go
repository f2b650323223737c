// Package kernels embeds the compute kernel programs launched by the
// operators. The programs are WGSL; the host backend binds the same entry
// points to Go implementations with identical argument lists.
package kernels

import "embed"

// FS holds every *.wgsl program at its root.
//
//go:embed *.wgsl
var FS embed.FS

// Program paths and entry points.
const (
	Conv2DProgram = "conv2d.wgsl"
	Conv2DEntry   = "Convolute"

	DepthwiseConv2DProgram = "depthwise_conv2d.wgsl"
	DepthwiseConv2DEntry   = "DepthwiseConvolute"

	BatchNormProgram = "batchnorm2d.wgsl"
	BatchNormEntry   = "BatchNorm"
)
