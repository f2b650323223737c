package compute

import (
	"errors"
	"fmt"
)

// Error taxonomy. Every error is fatal to the call that returned it.
var (
	// ErrConfiguration reports bad construction parameters or a missing collaborator.
	ErrConfiguration = errors.New("configuration error")
	// ErrShapeMismatch reports a rank, channel-count or size mismatch.
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrUnboundBuffer reports a required buffer reference that was never wired.
	ErrUnboundBuffer = errors.New("unbound buffer")
	// ErrOutOfRange reports an invalid tensor index or coordinate.
	ErrOutOfRange = errors.New("out of range")
	// ErrIO reports a truncated parameter stream.
	ErrIO = errors.New("i/o error")
	// ErrPrecondition reports an operation invoked in the wrong state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDevice reports a failed device API call: allocation, enqueue, transfer or launch.
	ErrDevice = errors.New("device error")
	// ErrBuild is matched by every *BuildError.
	ErrBuild = errors.New("build error")
)

// BuildLogSize caps the compiler diagnostic kept in a BuildError.
const BuildLogSize = 2048

// BuildError reports a kernel program that failed to compile.
type BuildError struct {
	Program string
	Entry   string
	Log     string
}

// NewBuildError truncates log to BuildLogSize bytes.
func NewBuildError(program, entry, log string) *BuildError {
	if len(log) > BuildLogSize {
		log = log[:BuildLogSize]
	}
	return &BuildError{Program: program, Entry: entry, Log: log}
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build error: %s (entry %s)\n--- Build Log ---\n%s", e.Program, e.Entry, e.Log)
}

// Is makes errors.Is(err, ErrBuild) hold for any *BuildError.
func (e *BuildError) Is(target error) bool {
	return target == ErrBuild
}
