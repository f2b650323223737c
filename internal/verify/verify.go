// Package verify compares device results with reference results.
//
// Discrepancies are counted and reported, never raised: a comparison that
// finds mismatches still succeeds and leaves the decision to the caller.
package verify

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
)

// MaxDiffs caps how many per-element differences a Report keeps.
const MaxDiffs = 64

// Diff is one element outside tolerance.
type Diff struct {
	Index    int
	Expected float32
	Got      float32
}

// Report summarizes a comparison.
type Report struct {
	Size       int
	Mismatches int
	MaxAbsDiff float32
	// Diffs holds the first MaxDiffs mismatches in index order.
	Diffs []Diff
}

// OK reports whether every element was within tolerance.
func (r Report) OK() bool { return r.Mismatches == 0 }

// String returns the one-line summary.
func (r Report) String() string {
	if r.OK() {
		return "Result is consistent with expected"
	}
	return fmt.Sprintf("Found %d errors", r.Mismatches)
}

// Compare counts elements where |expected-got| exceeds tol. Only the
// common prefix is compared; a length difference counts every extra
// element as a mismatch.
func Compare(expected, got []float32, tol float32) Report {
	n := min(len(expected), len(got))
	r := Report{Size: max(len(expected), len(got))}
	for i := 0; i < n; i++ {
		d := float32(math.Abs(float64(expected[i] - got[i])))
		if d > r.MaxAbsDiff || math.IsNaN(float64(d)) {
			r.MaxAbsDiff = d
		}
		if d > tol || math.IsNaN(float64(d)) {
			r.Mismatches++
			if len(r.Diffs) < MaxDiffs {
				r.Diffs = append(r.Diffs, Diff{Index: i, Expected: expected[i], Got: got[i]})
			}
		}
	}
	r.Mismatches += r.Size - n
	return r
}

// Log writes the summary and, when verbose, every kept difference.
func (r Report) Log(logger *zap.Logger, verbose bool) {
	if verbose {
		for _, d := range r.Diffs {
			logger.Info("mismatch",
				zap.Int("index", d.Index),
				zap.Float32("expected", d.Expected),
				zap.Float32("got", d.Got))
		}
	}
	fields := []zap.Field{
		zap.Int("size", r.Size),
		zap.Int("mismatches", r.Mismatches),
		zap.Float32("max_abs_diff", r.MaxAbsDiff),
	}
	if r.OK() {
		logger.Info(r.String(), fields...)
		return
	}
	logger.Warn(r.String(), fields...)
}

// Similarity returns the cosine similarity of a and b over their common
// prefix. Two zero vectors are identical; one zero vector gives 0.
func Similarity(a, b []float32) float64 {
	n := min(len(a), len(b))
	x, y := widen(a[:n]), widen(b[:n])
	na, nb := floats.Norm(x, 2), floats.Norm(y, 2)
	switch {
	case na == 0 && nb == 0:
		return 1
	case na == 0 || nb == 0:
		return 0
	}
	return floats.Dot(x, y) / (na * nb)
}

// SimilarityOK reports whether the similarity is within tol of 1.
func SimilarityOK(a, b []float32, tol float64) bool {
	return math.Abs(1-Similarity(a, b)) <= tol
}

func widen(s []float32) []float64 {
	out := make([]float64, len(s))
	for i, v := range s {
		out[i] = float64(v)
	}
	return out
}
