package rag

import (
	"encoding/binary"
	"math"
)

// serializeFloat32 packs a vector as tightly-packed little-endian float32
// values, the raw-blob format sqlite-vec's vec0 MATCH operator accepts
// directly (as an alternative to its JSON-text form), so callers don't need
// the cgo bindings package in scope to issue a KNN query.
func serializeFloat32(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeFloat32(buf []byte) []float32 {
	n := len(buf) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
