package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/accelnet/internal/compute"
)

// BatchNormParams describes a batch normalization. Weights and Biases hold
// one value per channel. A positive ReLU slope applies slope*max(a, 0).
type BatchNormParams struct {
	Batch       int
	Channels    int
	ChannelSize int
	Eps         float32
	Weights     []float32
	Biases      []float32
	ReLU        float32
}

// BatchNorm normalizes data in place with the mean and biased variance of
// each channel over the whole batch, then applies the affine transform
// weight*(x-mean)/sqrt(var+eps)+bias and the optional activation.
func BatchNorm(data []float32, p BatchNormParams) error {
	if p.Batch <= 0 || p.Channels <= 0 || p.ChannelSize <= 0 {
		return fmt.Errorf("cpu: batchnorm: %w: batch %d, channels %d, channel size %d",
			compute.ErrConfiguration, p.Batch, p.Channels, p.ChannelSize)
	}
	if err := need("batchnorm", "tensor", data, p.Batch*p.Channels*p.ChannelSize); err != nil {
		return err
	}
	if err := need("batchnorm", "weights", p.Weights, p.Channels); err != nil {
		return err
	}
	if err := need("batchnorm", "biases", p.Biases, p.Channels); err != nil {
		return err
	}

	count := float32(p.Batch * p.ChannelSize)
	plane := func(n, c int) []float32 {
		base := (n*p.Channels + c) * p.ChannelSize
		return data[base : base+p.ChannelSize]
	}
	for c := 0; c < p.Channels; c++ {
		var mean float32
		for n := 0; n < p.Batch; n++ {
			for _, v := range plane(n, c) {
				mean += v
			}
		}
		mean /= count

		var variance float32
		for n := 0; n < p.Batch; n++ {
			for _, v := range plane(n, c) {
				d := v - mean
				variance += d * d
			}
		}
		std := float32(math.Sqrt(float64(variance/count + p.Eps)))

		for n := 0; n < p.Batch; n++ {
			x := plane(n, c)
			for i, v := range x {
				a := p.Weights[c]*(v-mean)/std + p.Biases[c]
				if p.ReLU > 0 {
					if a > 0 {
						a *= p.ReLU
					} else {
						a = 0
					}
				}
				x[i] = a
			}
		}
	}
	return nil
}
