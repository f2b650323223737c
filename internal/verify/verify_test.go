package verify

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCompare(t *testing.T) {
	r := Compare([]float32{1, 2, 3, 4}, []float32{1, 2.0005, 3.5, 3}, 1e-3)
	assert.False(t, r.OK())
	assert.Equal(t, 2, r.Mismatches)
	assert.Equal(t, 4, r.Size)
	assert.InDelta(t, 1, r.MaxAbsDiff, 1e-6)
	assert.Equal(t, []Diff{{2, 3, 3.5}, {3, 4, 3}}, r.Diffs)
	assert.Equal(t, "Found 2 errors", r.String())

	ok := Compare([]float32{1, 2}, []float32{1, 2}, 0)
	assert.True(t, ok.OK())
	assert.Equal(t, "Result is consistent with expected", ok.String())
}

func TestCompareLengthAndNaN(t *testing.T) {
	r := Compare([]float32{1, 2, 3}, []float32{1}, 1)
	assert.Equal(t, 2, r.Mismatches)

	r = Compare([]float32{1}, []float32{float32(math.NaN())}, 1)
	assert.Equal(t, 1, r.Mismatches)
}

func TestCompareCapsDiffs(t *testing.T) {
	a := make([]float32, MaxDiffs*2)
	b := make([]float32, MaxDiffs*2)
	for i := range b {
		b[i] = 1
	}
	r := Compare(a, b, 0.5)
	assert.Equal(t, MaxDiffs*2, r.Mismatches)
	assert.Len(t, r.Diffs, MaxDiffs)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1, Similarity([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-12)
	assert.InDelta(t, 0, Similarity([]float32{1, 0}, []float32{0, 1}), 1e-12)
	assert.InDelta(t, -1, Similarity([]float32{1, 1}, []float32{-1, -1}), 1e-12)
	assert.Equal(t, 1.0, Similarity([]float32{0, 0}, []float32{0, 0}))
	assert.Equal(t, 0.0, Similarity([]float32{0, 0}, []float32{1, 0}))

	assert.True(t, SimilarityOK([]float32{1, 2, 3}, []float32{1, 2, 3.001}, 1e-3))
	assert.False(t, SimilarityOK([]float32{1, 0}, []float32{0, 1}, 1e-3))
}

func TestReportLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	r := Compare([]float32{1, 2}, []float32{0, 2}, 1e-3)
	r.Log(logger, true)
	entries := logs.AllUntimed()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "mismatch", entries[0].Message)
		assert.Equal(t, "Found 1 errors", entries[1].Message)
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	}

	logs.TakeAll()
	r.Log(logger, false)
	assert.Equal(t, 1, logs.Len())
}
