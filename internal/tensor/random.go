package tensor

import (
	"math/rand/v2"
	"time"

	"github.com/born-ml/accelnet/internal/compute"
)

// RandomMask keeps the low ten bits of each draw, so generated values are
// integers in [0, 1023] before scaling.
const RandomMask = 1023

// NewSource returns a deterministic generator for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// TimeSeed derives a seed from the wall clock.
func TimeSeed() uint64 {
	return uint64(time.Now().UnixNano()) //nolint:gosec // G115: any bit pattern is a valid seed
}

// GenerateRandom fills the host buffer with (draw & RandomMask)*scale+offset.
// The device copy is not touched.
func (t *Tensor) GenerateRandom(rng *rand.Rand, scale, offset float32) {
	for i := range t.data {
		t.data[i] = float32(rng.Uint32()&RandomMask)*scale + offset
	}
}

// GenerateRandomOnDevice fills the host buffer like GenerateRandom and then
// pushes it with a blocking write, allocating the device buffer from ctx
// by copy when there is none yet.
func (t *Tensor) GenerateRandomOnDevice(rng *rand.Rand, scale, offset float32, ctx compute.Context, q compute.Queue) error {
	t.GenerateRandom(rng, scale, offset)
	_, err := t.PushToDevice(ctx, q, true)
	return err
}
