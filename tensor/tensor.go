// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package tensor

import (
	"io"
	"math/rand/v2"

	"github.com/born-ml/accelnet/internal/tensor"
)

// Shape is an NCHW extent list.
type Shape = tensor.Shape

// Tensor is a host buffer with an optional device mirror.
type Tensor = tensor.Tensor

// New creates a zero-filled tensor. With allocateDevice set a device
// buffer is created on ctx as well.
func New(shape Shape, ctx Context, allocateDevice bool) (*Tensor, error) {
	return tensor.New(shape, ctx, allocateDevice)
}

// FromSlice creates a host tensor holding a copy of data.
func FromSlice(shape Shape, data []float32) (*Tensor, error) {
	return tensor.FromSlice(shape, data)
}

// FromReader reads a tensor from a raw little-endian float32 stream.
func FromReader(shape Shape, r io.Reader, ctx Context, allocateDevice bool) (*Tensor, error) {
	return tensor.FromReader(shape, r, ctx, allocateDevice)
}

// NewSource returns a deterministic generator for GenerateRandom.
func NewSource(seed uint64) *rand.Rand {
	return tensor.NewSource(seed)
}
