// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the device-resident tensor of accelnet.
//
// # Overview
//
// A Tensor holds NCHW float32 data in host memory and, once allocated, a
// mirror buffer on an accelerator. The two copies are only synchronized
// through explicit transfers enqueued on the workspace queue:
//   - PushToDevice copies host data to the device buffer
//   - PopToHost copies the device buffer back
//   - AllocateDevice creates the buffer, optionally filling it
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/accelnet/backend/host"
//	    "github.com/born-ml/accelnet/tensor"
//	)
//
//	func main() {
//	    ws := host.New()
//	    defer ws.Release()
//
//	    x, _ := tensor.New(tensor.Shape{1, 3, 64, 64}, nil, false)
//	    x.GenerateRandom(tensor.NewSource(1), 1.0/500, -1)
//	    _, _ = x.PushToDevice(ws.Context(), ws.Queue(), true)
//	    defer x.Release()
//	}
package tensor
