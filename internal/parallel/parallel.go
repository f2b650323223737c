// Package parallel spreads work-group execution of the host accelerator
// across goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 4,
	}
}

// Sequential returns a Config that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1, MinChunkSize: 1}
}

// PanicError carries a panic recovered from a worker.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in worker: %v", e.Value)
}

// For executes f(i) for i in [0, n). A panic in any f is recovered and
// returned as *PanicError; other chunks still run to completion.
func For(n int, f func(i int), cfg Config) error {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*cfg.MinChunkSize {
		return runChunk(0, n, f)
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			if err := runChunk(s, e, f); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}(start, end)
	}
	wg.Wait()
	return firstErr
}

func runChunk(start, end int, f func(i int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	for i := start; i < end; i++ {
		f(i)
	}
	return nil
}

// ForGroups runs f once per work-group of a 3D grid of groups[0] x
// groups[1] x groups[2] groups. Groups are independent and may run
// concurrently.
func ForGroups(groups [3]int, f func(g [3]int), cfg Config) error {
	gx, gy := groups[0], groups[1]
	n := groups[0] * groups[1] * groups[2]
	return For(n, func(k int) {
		f([3]int{k % gx, (k / gx) % gy, k / (gx * gy)})
	}, cfg)
}
