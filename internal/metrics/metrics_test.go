package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	t.Run("KernelLaunches", func(t *testing.T) {
		m.KernelLaunched("Convolute")
		m.KernelLaunched("Convolute")
		m.KernelLaunched("BatchNorm")
		assert.Equal(t, float64(2), testutil.ToFloat64(m.KernelLaunches.WithLabelValues("Convolute")))
		assert.Equal(t, float64(1), testutil.ToFloat64(m.KernelLaunches.WithLabelValues("BatchNorm")))
	})

	t.Run("Validation", func(t *testing.T) {
		m.Validated(3, 0.5)
		assert.Equal(t, float64(3), testutil.ToFloat64(m.ValidationMismatch))
		assert.Equal(t, 0.5, testutil.ToFloat64(m.ValidationSimilarity))
	})

	t.Run("Histograms", func(t *testing.T) {
		m.StageFinished("conv2d", 3*time.Millisecond)
		m.Transferred("host_to_device", 4096)
		assert.Equal(t, 1, testutil.CollectAndCount(m.StageDuration))
		assert.Equal(t, 1, testutil.CollectAndCount(m.TransferBytes))
	})

	t.Run("Registration", func(t *testing.T) {
		families, err := reg.Gather()
		require.NoError(t, err)
		var names []string
		for _, f := range families {
			names = append(names, f.GetName())
		}
		assert.Contains(t, names, "accelnet_stage_duration_seconds")
		assert.Contains(t, names, "accelnet_kernel_launches_total")
		assert.Contains(t, names, "accelnet_transfer_bytes")
		assert.Contains(t, names, "accelnet_validation_mismatches")
	})

	t.Run("DuplicateRegistrationPanics", func(t *testing.T) {
		assert.Panics(t, func() { New(reg) })
	})
}
