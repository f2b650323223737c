package compute

import (
	"fmt"
	"math"
)

// ArgList records kernel arguments by index. Backends snapshot it at
// enqueue time, so rebinding after a launch never affects that launch.
type ArgList struct {
	values []any
}

// Set stores value at index. Only BufferRef, int32 and float32 are accepted.
func (a *ArgList) Set(index int, value any) error {
	if index < 0 {
		return fmt.Errorf("%w: argument index %d is negative", ErrDevice, index)
	}
	switch v := value.(type) {
	case BufferRef:
		if !v.Bound() {
			return fmt.Errorf("%w: argument %d: nil buffer", ErrDevice, index)
		}
	case int32, float32:
	default:
		return fmt.Errorf("%w: argument %d: unsupported type %T", ErrDevice, index, value)
	}
	for len(a.values) <= index {
		a.values = append(a.values, nil)
	}
	a.values[index] = value
	return nil
}

// Len returns one past the highest index set.
func (a *ArgList) Len() int {
	return len(a.values)
}

// Snapshot copies the list, failing if any index below Len is unset or if
// fewer than want arguments were bound.
func (a *ArgList) Snapshot(want int) (ArgList, error) {
	if len(a.values) < want {
		return ArgList{}, fmt.Errorf("%w: kernel expects %d arguments, %d set", ErrDevice, want, len(a.values))
	}
	for i, v := range a.values {
		if v == nil {
			return ArgList{}, fmt.Errorf("%w: argument %d is not set", ErrDevice, i)
		}
	}
	out := make([]any, len(a.values))
	copy(out, a.values)
	return ArgList{values: out}, nil
}

// Value returns the argument at index, or nil.
func (a *ArgList) Value(index int) any {
	if index < 0 || index >= len(a.values) {
		return nil
	}
	return a.values[index]
}

// Buffer returns argument index as a BufferRef.
func (a *ArgList) Buffer(index int) (BufferRef, error) {
	ref, ok := a.Value(index).(BufferRef)
	if !ok {
		return BufferRef{}, fmt.Errorf("%w: argument %d is not a buffer", ErrDevice, index)
	}
	return ref, nil
}

// Int returns argument index as an int32.
func (a *ArgList) Int(index int) (int32, error) {
	v, ok := a.Value(index).(int32)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d is not an int32", ErrDevice, index)
	}
	return v, nil
}

// Float returns argument index as a float32.
func (a *ArgList) Float(index int) (float32, error) {
	v, ok := a.Value(index).(float32)
	if !ok {
		return 0, fmt.Errorf("%w: argument %d is not a float32", ErrDevice, index)
	}
	return v, nil
}

// Buffers returns the buffer arguments in argument order.
func (a *ArgList) Buffers() []BufferRef {
	var refs []BufferRef
	for _, v := range a.values {
		if ref, ok := v.(BufferRef); ok {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ScalarWords returns the scalar arguments in argument order as raw 32-bit
// words, the layout of a uniform parameter block.
func (a *ArgList) ScalarWords() []uint32 {
	var words []uint32
	for _, v := range a.values {
		switch s := v.(type) {
		case int32:
			words = append(words, uint32(s)) //nolint:gosec // G115: bit pattern is intended
		case float32:
			words = append(words, math.Float32bits(s))
		}
	}
	return words
}
