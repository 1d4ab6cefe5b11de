// Package header encodes and decodes the pointer/header table written at
// the start of each core's allocated SDRAM: two header words followed by
// 32 region triples (pointer, checksum, word count).
package header

import "encoding/binary"

const (
	// Magic is the fixed first header word.
	Magic uint32 = 0xAD130AD6
	// Version is the fixed second header word.
	Version uint32 = 0x00010000

	// MaxRegions is the number of region slots in the table.
	MaxRegions = 32

	// Size is the total encoded size in bytes: 2 header words plus
	// 32 region triples of 3 words each, all 4 bytes wide.
	Size = (2 + 3*MaxRegions) * 4
)

// Region is one region's entry in the pointer table.
type Region struct {
	Pointer  uint32
	Checksum uint32
	NWords   uint32
}

// IsZero reports whether the triple is the all-zero "absent or dangling
// reference" sentinel.
func (r Region) IsZero() bool {
	return r.Pointer == 0 && r.Checksum == 0 && r.NWords == 0
}

// Table is the decoded form of a pointer table.
type Table struct {
	Regions [MaxRegions]Region
}

// Encode writes the 392-byte little-endian pointer table into dst, which
// must be at least Size bytes long.
func Encode(t Table, dst []byte) {
	if len(dst) < Size {
		panic("header: destination buffer too small")
	}
	binary.LittleEndian.PutUint32(dst[0:4], Magic)
	binary.LittleEndian.PutUint32(dst[4:8], Version)
	off := 8
	for i := 0; i < MaxRegions; i++ {
		r := t.Regions[i]
		binary.LittleEndian.PutUint32(dst[off:off+4], r.Pointer)
		binary.LittleEndian.PutUint32(dst[off+4:off+8], r.Checksum)
		binary.LittleEndian.PutUint32(dst[off+8:off+12], r.NWords)
		off += 12
	}
}

// Decode parses a Size-byte little-endian pointer table from src.
// It does not validate the magic/version; callers that care should check
// the returned fields themselves (e.g. diagnostics reading a live table).
func Decode(src []byte) (Table, uint32, uint32, error) {
	var t Table
	if len(src) < Size {
		return t, 0, 0, ErrShortBuffer
	}
	magic := binary.LittleEndian.Uint32(src[0:4])
	version := binary.LittleEndian.Uint32(src[4:8])
	off := 8
	for i := 0; i < MaxRegions; i++ {
		t.Regions[i] = Region{
			Pointer:  binary.LittleEndian.Uint32(src[off : off+4]),
			Checksum: binary.LittleEndian.Uint32(src[off+4 : off+8]),
			NWords:   binary.LittleEndian.Uint32(src[off+8 : off+12]),
		}
		off += 12
	}
	return t, magic, version, nil
}
