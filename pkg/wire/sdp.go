// Package wire implements the Fast Data-In and Fast Data-Out packet
// codecs: building outbound SDP payloads and parsing gatherer/monitor
// replies, bit-exact per spec.md §4.2/§4.4/§6.
package wire

import (
	"encoding/binary"

	"github.com/cortexmesh/fastdata/pkg/coord"
)

// Flags used in the SDP header's flags byte.
const (
	FlagReplyNotExpected byte = 0x07
)

// SDPHeader is the fixed-size header shared by every Fast Data-In/-Out
// packet: reply-not-expected flag, destination/source core and port.
// It does not count towards the per-packet payload-word budgets used
// throughout this package; those describe the command-specific body only.
type SDPHeader struct {
	Flags    byte
	DestPort uint8
	DestCore coord.CoreAddress
	SrcPort  uint8
	SrcCore  coord.CoreAddress
}

// HeaderSize is the encoded size of an SDPHeader in bytes.
const HeaderSize = 8

// Encode writes the 8-byte legacy SpiNNaker-style SDP header into dst.
func (h SDPHeader) Encode(dst []byte) {
	if len(dst) < HeaderSize {
		panic("wire: destination buffer too small for SDP header")
	}
	dst[0] = h.Flags
	dst[1] = 0xFF // tag, unused by this protocol
	dst[2] = (h.DestPort << 5) | (h.DestCore.P & 0x1F)
	dst[3] = (h.SrcPort << 5) | (h.SrcCore.P & 0x1F)
	dst[4] = byte(h.DestCore.Y)
	dst[5] = byte(h.DestCore.X)
	dst[6] = byte(h.SrcCore.Y)
	dst[7] = byte(h.SrcCore.X)
}

// DecodeSDPHeader parses the 8-byte SDP header from src.
func DecodeSDPHeader(src []byte) SDPHeader {
	return SDPHeader{
		Flags:    src[0],
		DestPort: src[2] >> 5,
		DestCore: coord.CoreAddress{X: uint16(src[5]), Y: uint16(src[4]), P: src[2] & 0x1F},
		SrcPort:  src[3] >> 5,
		SrcCore:  coord.CoreAddress{X: uint16(src[7]), Y: uint16(src[6]), P: src[3] & 0x1F},
	}
}

func putUint32(dst []byte, v uint32) { binary.LittleEndian.PutUint32(dst, v) }
func getUint32(src []byte) uint32    { return binary.LittleEndian.Uint32(src) }
