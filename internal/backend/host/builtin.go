package host

import (
	"fmt"
	"math"

	"github.com/born-ml/accelnet/kernels"
)

// Builtin returns the Go implementations of the programs in package kernels.
// Argument lists match the WGSL entry points one for one.
func Builtin() Registry {
	return Registry{
		kernels.Conv2DEntry:          {NumArgs: 20, Func: convolute},
		kernels.DepthwiseConv2DEntry: {NumArgs: 19, Func: depthwiseConvolute},
		kernels.BatchNormEntry:       {NumArgs: 9, Func: batchNorm},
	}
}

// argReader decodes arguments, keeping the first error.
type argReader struct {
	args *Args
	err  error
}

func (r *argReader) floats(i int) []float32 {
	v, err := r.args.Floats(i)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *argReader) int(i int) int {
	v, err := r.args.Int(i)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func (r *argReader) float(i int) float32 {
	v, err := r.args.Float(i)
	if err != nil && r.err == nil {
		r.err = err
	}
	return v
}

func convolute(args *Args) (WorkFunc, error) {
	r := argReader{args: args}
	src, dst, weights, bias := r.floats(0), r.floats(1), r.floats(2), r.floats(3)
	batch := r.int(4)
	inH, inW, inSize := r.int(5), r.int(6), r.int(7)
	outH, outW, outSize := r.int(8), r.int(9), r.int(10)
	inC, outC := r.int(11), r.int(12)
	k, batchK := r.int(13), r.int(14)
	stride, padding := r.int(15), r.int(16)
	wOff, bOff, useBias := r.int(17), r.int(18), r.int(19)
	if r.err != nil {
		return nil, r.err
	}
	if stride <= 0 || k <= 0 {
		return nil, fmt.Errorf("convolute: stride %d and kernel size %d must be positive", stride, k)
	}

	return func(gid [3]int) {
		ox, oy, oc := gid[0], gid[1], gid[2]
		if ox >= outW || oy >= outH || oc >= outC {
			return
		}
		wBase := wOff + oc*batchK
		var bVal float32
		if useBias != 0 {
			bVal = bias[bOff+oc]
		}
		for n := 0; n < batch; n++ {
			var acc float32
			for ic := 0; ic < inC; ic++ {
				inBase := (n*inC + ic) * inSize
				wCh := wBase + ic*k*k
				for kh := 0; kh < k; kh++ {
					iy := oy*stride + kh - padding
					if iy < 0 || iy >= inH {
						continue
					}
					for kw := 0; kw < k; kw++ {
						ix := ox*stride + kw - padding
						if ix < 0 || ix >= inW {
							continue
						}
						acc += src[inBase+iy*inW+ix] * weights[wCh+kh*k+kw]
					}
				}
			}
			dst[(n*outC+oc)*outSize+oy*outW+ox] = acc + bVal
		}
	}, nil
}

func depthwiseConvolute(args *Args) (WorkFunc, error) {
	r := argReader{args: args}
	src, dst, weights, bias := r.floats(0), r.floats(1), r.floats(2), r.floats(3)
	batch := r.int(4)
	inH, inW, inSize := r.int(5), r.int(6), r.int(7)
	outH, outW, outSize := r.int(8), r.int(9), r.int(10)
	inC, mult := r.int(11), r.int(12)
	k, stride, padding := r.int(13), r.int(14), r.int(15)
	wOff, bOff, useBias := r.int(16), r.int(17), r.int(18)
	if r.err != nil {
		return nil, r.err
	}
	if stride <= 0 || k <= 0 || mult <= 0 {
		return nil, fmt.Errorf("depthwise: stride %d, kernel size %d and multiplier %d must be positive", stride, k, mult)
	}
	outC := inC * mult

	return func(gid [3]int) {
		ox, oy, oc := gid[0], gid[1], gid[2]
		if ox >= outW || oy >= outH || oc >= outC {
			return
		}
		ic := oc / mult
		wBase := wOff + oc*k*k
		var bVal float32
		if useBias != 0 {
			bVal = bias[bOff+oc]
		}
		for n := 0; n < batch; n++ {
			inBase := (n*inC + ic) * inSize
			var acc float32
			for kh := 0; kh < k; kh++ {
				iy := oy*stride + kh - padding
				if iy < 0 || iy >= inH {
					continue
				}
				for kw := 0; kw < k; kw++ {
					ix := ox*stride + kw - padding
					if ix < 0 || ix >= inW {
						continue
					}
					acc += src[inBase+iy*inW+ix] * weights[wBase+kh*k+kw]
				}
			}
			dst[(n*outC+oc)*outSize+oy*outW+ox] = acc + bVal
		}
	}, nil
}

func batchNorm(args *Args) (WorkFunc, error) {
	r := argReader{args: args}
	data, weights, biases := r.floats(0), r.floats(1), r.floats(2)
	batch, channels, channelSize := r.int(3), r.int(4), r.int(5)
	eps, relu := r.float(6), r.float(7)
	pOff := r.int(8)
	if r.err != nil {
		return nil, r.err
	}
	count := float32(batch * channelSize)

	return func(gid [3]int) {
		c := gid[0]
		if c >= channels {
			return
		}
		var mean float32
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * channelSize
			for i := 0; i < channelSize; i++ {
				mean += data[base+i]
			}
		}
		mean /= count

		var variance float32
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * channelSize
			for i := 0; i < channelSize; i++ {
				d := data[base+i] - mean
				variance += d * d
			}
		}
		std := float32(math.Sqrt(float64(variance/count + eps)))

		w, b := weights[pOff+c], biases[pOff+c]
		for n := 0; n < batch; n++ {
			base := (n*channels + c) * channelSize
			for i := 0; i < channelSize; i++ {
				a := w*(data[base+i]-mean)/std + b
				switch {
				case relu <= 0:
					data[base+i] = a
				case a > 0:
					data[base+i] = relu * a
				default:
					data[base+i] = 0
				}
			}
		}
	}, nil
}
