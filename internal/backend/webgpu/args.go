package webgpu

import (
	"encoding/binary"

	"github.com/born-ml/accelnet/internal/compute"
)

// uniformAlign is the size granularity of a uniform buffer.
const uniformAlign = 16

// uniformBlock packs the scalar arguments of args as little-endian 32-bit
// words, padded to a multiple of 16 bytes. An argument list without
// scalars still yields one empty block.
func uniformBlock(args *compute.ArgList) []byte {
	words := args.ScalarWords()
	size := max(alignUp(len(words)*4, uniformAlign), uniformAlign)
	block := make([]byte, size)
	for i, w := range words {
		binary.LittleEndian.PutUint32(block[i*4:], w)
	}
	return block
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// bufferBytes is the allocation size of n float32 elements. WebGPU copies
// work in multiples of 4 bytes and zero-sized buffers cannot be bound.
func bufferBytes(n int) uint64 {
	return uint64(max(n, 1)) * 4 //nolint:gosec // G115: n is a validated element count
}
