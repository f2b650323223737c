// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the reference executor: plain Go loops computing
// the same arithmetic as the accelerated operators, used to validate
// device results.
//
// # Basic Usage
//
//	out := make([]float32, 16*8*8)
//	shape, err := cpu.Conv2DShape(in, out, weights,
//	    cpu.Shape{1, 3, 8, 8}, 16, 3, 1, 1)
//
// Windows are centred, so kernel sizes must be odd.
package cpu
