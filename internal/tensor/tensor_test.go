package tensor

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/born-ml/accelnet/internal/backend/host"
	"github.com/born-ml/accelnet/internal/compute"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkspace(t *testing.T) *host.Workspace {
	t.Helper()
	ws := host.New()
	t.Cleanup(ws.Release)
	return ws
}

func floatStream(values ...float32) *bytes.Reader {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, values)
	return bytes.NewReader(buf.Bytes())
}

func TestShape(t *testing.T) {
	s := Shape{2, 3, 4, 5}
	assert.Equal(t, 120, s.NumElements())
	assert.Equal(t, 1, Shape{}.NumElements())
	assert.Equal(t, 0, Shape{2, 0}.NumElements())
	assert.Equal(t, []int{60, 20, 5, 1}, s.Strides())
	assert.True(t, s.Equal(s.Clone()))
	assert.False(t, s.Equal(Shape{2, 3, 4}))
	require.NoError(t, Shape{0, 1}.Validate())
	require.Error(t, Shape{1, -1}.Validate())

	c := s.Clone()
	c[0] = 9
	assert.Equal(t, 2, s[0])
}

func TestNewHostOnly(t *testing.T) {
	tn, err := New(Shape{1, 2, 3}, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 6, tn.Size())
	assert.Equal(t, 24, tn.ByteSize())
	assert.Equal(t, make([]float32, 6), tn.Data())
	assert.False(t, tn.HasDeviceData())
	assert.False(t, tn.Ref(compute.ReadOnly).Bound())

	_, err = New(Shape{1}, nil, true)
	require.ErrorIs(t, err, compute.ErrConfiguration)
	_, err = New(Shape{-1}, nil, false)
	require.ErrorIs(t, err, compute.ErrShapeMismatch)
}

func TestIndexing(t *testing.T) {
	tn, err := New(Shape{2, 3, 4}, nil, false)
	require.NoError(t, err)

	require.NoError(t, tn.SetAt(7, 1, 2, 3))
	v, err := tn.At(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, float32(7), v)

	off, err := tn.Offset(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 23, off)
	v, err = tn.Get(23)
	require.NoError(t, err)
	assert.Equal(t, float32(7), v)

	require.NoError(t, tn.Set(0, 5))
	assert.Equal(t, float32(5), tn.Data()[0])

	for _, coord := range [][]int{{1, 2}, {2, 0, 0}, {0, -1, 0}, {0, 0, 4}} {
		_, err = tn.At(coord...)
		require.ErrorIs(t, err, compute.ErrOutOfRange, "coord %v", coord)
	}
	_, err = tn.Get(24)
	require.ErrorIs(t, err, compute.ErrOutOfRange)
	require.ErrorIs(t, tn.Set(-1, 0), compute.ErrOutOfRange)
}

func TestFromSlice(t *testing.T) {
	tn, err := FromSlice(Shape{2, 2}, []float32{1, 2, 3, 4})
	require.NoError(t, err)
	v, err := tn.At(1, 0)
	require.NoError(t, err)
	assert.Equal(t, float32(3), v)

	_, err = FromSlice(Shape{2, 2}, []float32{1})
	require.ErrorIs(t, err, compute.ErrShapeMismatch)
}

func TestFromSliceOwnsItsData(t *testing.T) {
	src := []float32{1, 2, 3, 4}
	tn, err := FromSlice(Shape{4}, src)
	require.NoError(t, err)

	src[0] = 100
	require.NoError(t, tn.Set(1, -2))
	assert.Equal(t, []float32{1, -2, 3, 4}, tn.Data())
	assert.Equal(t, []float32{100, 2, 3, 4}, src)
}

func TestPushPopRoundTrip(t *testing.T) {
	ws := newWorkspace(t)
	tn, err := FromSlice(Shape{1, 1, 2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	_, err = tn.PopToHost(ws.Queue(), true)
	require.ErrorIs(t, err, compute.ErrPrecondition)

	ev, err := tn.PushToDevice(ws.Context(), ws.Queue(), true)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	assert.True(t, tn.HasDeviceData())

	// A second push writes through the queue and is idempotent.
	_, err = tn.PushToDevice(ws.Context(), ws.Queue(), true)
	require.NoError(t, err)

	for i := range tn.Data() {
		tn.Data()[i] = 0
	}
	_, err = tn.PopToHost(ws.Queue(), true)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, tn.Data())

	tn.Release()
	assert.False(t, tn.HasDeviceData())
	tn.Release()
}

func TestPushNonBlockingThenPop(t *testing.T) {
	ws := newWorkspace(t)
	tn, err := New(Shape{4}, ws.Context(), true)
	require.NoError(t, err)
	copy(tn.Data(), []float32{4, 3, 2, 1})

	ev, err := tn.PushToDevice(ws.Context(), ws.Queue(), false)
	require.NoError(t, err)

	other, err := New(Shape{4}, nil, false)
	require.NoError(t, err)
	_, err = ws.Queue().EnqueueRead(tn.DeviceBuffer(), true, other.Data(), ev)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 3, 2, 1}, other.Data())
}

func TestAllocateDeviceWithoutCopy(t *testing.T) {
	ws := newWorkspace(t)
	tn, err := FromSlice(Shape{2}, []float32{1, 2})
	require.NoError(t, err)

	_, err = tn.AllocateDevice(ws.Context(), ws.Queue(), false, true)
	require.NoError(t, err)
	require.True(t, tn.HasDeviceData())

	_, err = tn.AllocateDevice(ws.Context(), ws.Queue(), true, true)
	require.NoError(t, err)
	got := make([]float32, 2)
	_, err = ws.Queue().EnqueueRead(tn.DeviceBuffer(), true, got)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got)
}

func TestFromReader(t *testing.T) {
	ws := newWorkspace(t)
	tn, err := FromReader(Shape{1, 3}, floatStream(1.5, -2, 3), ws.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, []float32{1.5, -2, 3}, tn.Data())

	got := make([]float32, 3)
	_, err = ws.Queue().EnqueueRead(tn.DeviceBuffer(), true, got)
	require.NoError(t, err)
	assert.Equal(t, tn.Data(), got)

	_, err = FromReader(Shape{4}, floatStream(1, 2), nil, false)
	require.ErrorIs(t, err, compute.ErrIO)
}

func TestReadPartial(t *testing.T) {
	ws := newWorkspace(t)
	tn, err := FromSlice(Shape{4}, []float32{9, 9, 9, 9})
	require.NoError(t, err)
	_, err = tn.PushToDevice(ws.Context(), ws.Queue(), true)
	require.NoError(t, err)

	require.NoError(t, tn.ReadPartial(floatStream(1, 2), 2, ws.Queue(), true))
	assert.Equal(t, []float32{1, 2, 9, 9}, tn.Data())

	got := make([]float32, 4)
	_, err = ws.Queue().EnqueueRead(tn.DeviceBuffer(), true, got)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 9, 9}, got)

	require.ErrorIs(t, tn.ReadPartial(floatStream(1), 5, nil, false), compute.ErrOutOfRange)
	require.ErrorIs(t, tn.ReadPartial(floatStream(1), 3, nil, false), compute.ErrIO)
}

func TestGenerateRandom(t *testing.T) {
	tn, err := New(Shape{1000}, nil, false)
	require.NoError(t, err)
	tn.GenerateRandom(NewSource(42), 0.5, -1)
	for _, v := range tn.Data() {
		assert.GreaterOrEqual(t, v, float32(-1))
		assert.LessOrEqual(t, v, float32(RandomMask)*0.5-1)
	}

	again, err := New(Shape{1000}, nil, false)
	require.NoError(t, err)
	again.GenerateRandom(NewSource(42), 0.5, -1)
	assert.Equal(t, tn.Data(), again.Data())
}

func TestGenerateRandomOnDevice(t *testing.T) {
	ws := newWorkspace(t)
	q := ws.Queue()
	read := func(tn *Tensor) []float32 {
		got := make([]float32, tn.Size())
		_, err := q.EnqueueRead(tn.DeviceBuffer(), true, got)
		require.NoError(t, err)
		return got
	}

	// Without a device buffer one is allocated by copy.
	fresh, err := New(Shape{1, 2, 4, 4}, nil, false)
	require.NoError(t, err)
	require.NoError(t, fresh.GenerateRandomOnDevice(NewSource(7), 1.0/512, -1, ws.Context(), q))
	require.True(t, fresh.HasDeviceData())
	assert.Equal(t, fresh.Data(), read(fresh))
	allocated := ws.Buffers()

	// An existing buffer is overwritten in place.
	first := append([]float32(nil), fresh.Data()...)
	require.NoError(t, fresh.GenerateRandomOnDevice(NewSource(8), 1.0/512, -1, ws.Context(), q))
	assert.Equal(t, allocated, ws.Buffers())
	assert.NotEqual(t, first, fresh.Data())
	assert.Equal(t, fresh.Data(), read(fresh))

	hostOnly, err := New(Shape{4}, nil, false)
	require.NoError(t, err)
	err = hostOnly.GenerateRandomOnDevice(NewSource(1), 1, 0, nil, q)
	require.ErrorIs(t, err, compute.ErrConfiguration)
}
