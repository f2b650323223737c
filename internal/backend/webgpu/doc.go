// Package webgpu implements the compute contract on a GPU through WebGPU.
// Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU bindings.
//
// Kernels are WGSL programs compiled into compute pipelines. The ordered
// argument list of a kernel maps onto one bind group: buffer arguments take
// storage bindings 0..n-1 in argument order and the scalar arguments are
// packed, in argument order, into a uniform block at binding n.
//
// The device code is only built on Windows, where the native library is
// shipped; elsewhere the package holds the portable argument packing.
package webgpu
