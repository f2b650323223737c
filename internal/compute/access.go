package compute

import "fmt"

// Access is the capability a buffer or a borrowed reference grants.
type Access uint8

// Access flags.
const (
	ReadOnly Access = 1 << iota
	WriteOnly
	ReadWrite = ReadOnly | WriteOnly
)

// CanRead reports whether the capability permits kernel reads.
func (a Access) CanRead() bool { return a&ReadOnly != 0 }

// CanWrite reports whether the capability permits kernel writes.
func (a Access) CanWrite() bool { return a&WriteOnly != 0 }

// String returns the capability name.
func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "read-only"
	case WriteOnly:
		return "write-only"
	case ReadWrite:
		return "read-write"
	default:
		return fmt.Sprintf("access(%d)", uint8(a))
	}
}

// BufferRef is a borrowed reference to a buffer owned elsewhere.
// Offset is in elements. The borrower never releases the buffer.
type BufferRef struct {
	Buffer Buffer
	Offset int
	Access Access
}

// Ref borrows buf with the given capability, starting at element 0.
func Ref(buf Buffer, access Access) BufferRef {
	return BufferRef{Buffer: buf, Access: access}
}

// At returns a copy of r starting at element offset.
func (r BufferRef) At(offset int) BufferRef {
	r.Offset = offset
	return r
}

// Bound reports whether r points at a buffer.
func (r BufferRef) Bound() bool {
	return r.Buffer != nil
}

// Check verifies that r is bound, that it grants want, that the underlying
// buffer grants want too, and that it holds at least n elements past Offset.
func (r BufferRef) Check(name string, want Access, n int) error {
	if !r.Bound() {
		return fmt.Errorf("%w: %s buffer is not set", ErrUnboundBuffer, name)
	}
	if r.Access&want != want || r.Buffer.Access()&want != want {
		return fmt.Errorf("%w: %s buffer is %s, need %s", ErrConfiguration, name, r.Access, want)
	}
	if r.Offset < 0 {
		return fmt.Errorf("%w: %s buffer offset %d is negative", ErrOutOfRange, name, r.Offset)
	}
	if r.Offset+n > r.Buffer.Len() {
		return fmt.Errorf("%w: %s buffer holds %d elements, need %d at offset %d",
			ErrShapeMismatch, name, r.Buffer.Len(), n, r.Offset)
	}
	return nil
}
