// Package checksum computes the 32-bit word-sum checksum used by the
// pointer table: the sum, mod 2^32, of a region's content interpreted as
// little-endian 32-bit words.
package checksum

import "encoding/binary"

// WordSum32 returns the sum, modulo 2^32, of data interpreted as a
// sequence of little-endian uint32 words. A trailing partial word (data
// length not a multiple of 4) is zero-padded before summing, matching how
// the pointer table treats a region whose size is not word-aligned.
func WordSum32(data []byte) uint32 {
	var sum uint32
	n := len(data) / 4
	for i := 0; i < n; i++ {
		sum += binary.LittleEndian.Uint32(data[i*4 : i*4+4])
	}
	if rem := len(data) % 4; rem != 0 {
		var last [4]byte
		copy(last[:], data[n*4:])
		sum += binary.LittleEndian.Uint32(last[:])
	}
	return sum
}

// WordCount returns the number of 32-bit words needed to hold n bytes,
// rounding up — the "word count" field of a pointer-table region triple.
func WordCount(n uint32) uint32 {
	return (n + 3) / 4
}
