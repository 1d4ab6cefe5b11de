package wire

import "fmt"

// Fast Data-Out command codes (spec.md §4.4/§6).
const (
	CmdStartSendingData uint32 = 100
	CmdClearData        uint32 = 101
	CmdStartMissingSeqs uint32 = 1000
	CmdNextMissingSeqs  uint32 = 1001
)

// LastFlag marks the final packet of a download stream in the high bit
// of its leading seq word.
const LastFlag uint32 = 0x80000000

// ResendBatchWords is the total word capacity of a resend-request SDP
// packet.
const ResendBatchWords = 68

// firstHeaderWords/nextHeaderWords account for cmd+txid+batch_pkts (First)
// and cmd+txid (Next) against the bit-exact wire layout in spec.md §6;
// the remaining words of each packet hold seq-nums.
const (
	firstHeaderWords = 3
	nextHeaderWords  = 2
)

// MaxSeqsPerFirst/MaxSeqsPerNext are the number of seq-nums that fit in a
// First-Missing / Next-Missing packet.
const (
	MaxSeqsPerFirst = ResendBatchWords - firstHeaderWords
	MaxSeqsPerNext  = ResendBatchWords - nextHeaderWords
)

// DataOutPayloadHeaderWords is the single header word (seq|LAST_FLAG) of
// a monitor->host data packet.
const DataOutPayloadHeaderWords = 1

// FastDataOutWindow (W_dl) is the payload byte capacity of one data
// packet from the monitor, excluding its header word.
const FastDataOutWindow = (ResendBatchWords - DataOutPayloadHeaderWords) * 4

// MaxSeq returns the (inclusive) last legal seq number for a download of
// the given byte size: ceil(size / W_dl).
func MaxSeq(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + FastDataOutWindow - 1) / FastDataOutWindow
}

// EncodeStart builds the Start packet payload.
func EncodeStart(txID, address, length uint32) []byte {
	buf := make([]byte, 16)
	putUint32(buf[0:4], CmdStartSendingData)
	putUint32(buf[4:8], txID)
	putUint32(buf[8:12], address)
	putUint32(buf[12:16], length)
	return buf
}

// EncodeClear builds the Clear packet payload.
func EncodeClear(txID uint32) []byte {
	buf := make([]byte, 8)
	putUint32(buf[0:4], CmdClearData)
	putUint32(buf[4:8], txID)
	return buf
}

// EncodeResendBatch splits a set of missing seq numbers into a First
// packet followed by zero or more Next packets, per spec.md §4.4's
// ResendBatch iterator. An empty seqNums slice still produces a single
// First packet carrying zero entries and a batch count of 0.
func EncodeResendBatch(txID uint32, seqNums []uint32) [][]byte {
	var packets [][]byte

	first := seqNums
	rest := []uint32(nil)
	if len(first) > MaxSeqsPerFirst {
		first, rest = seqNums[:MaxSeqsPerFirst], seqNums[MaxSeqsPerFirst:]
	}

	numFollowUp := 0
	if len(rest) > 0 {
		numFollowUp = (len(rest) + MaxSeqsPerNext - 1) / MaxSeqsPerNext
	}

	firstPkt := make([]byte, 12+4*len(first))
	putUint32(firstPkt[0:4], CmdStartMissingSeqs)
	putUint32(firstPkt[4:8], txID)
	putUint32(firstPkt[8:12], uint32(numFollowUp))
	for i, s := range first {
		putUint32(firstPkt[12+4*i:16+4*i], s)
	}
	packets = append(packets, firstPkt)

	for len(rest) > 0 {
		n := len(rest)
		if n > MaxSeqsPerNext {
			n = MaxSeqsPerNext
		}
		chunk := rest[:n]
		rest = rest[n:]
		pkt := make([]byte, 8+4*len(chunk))
		putUint32(pkt[0:4], CmdNextMissingSeqs)
		putUint32(pkt[4:8], txID)
		for i, s := range chunk {
			putUint32(pkt[8+4*i:12+4*i], s)
		}
		packets = append(packets, pkt)
	}
	return packets
}

// DataPacket is the parsed form of a monitor->host streamed data packet.
type DataPacket struct {
	Seq     uint32
	Last    bool
	Payload []byte
}

// DecodeDataPacket parses a Fast Data-Out streamed packet: the leading
// word encodes seq|LAST_FLAG, the rest is payload.
func DecodeDataPacket(raw []byte) (DataPacket, error) {
	if len(raw) < 4 {
		return DataPacket{}, fmt.Errorf("wire: %w: data packet shorter than 4 bytes", ErrProtocol)
	}
	word := getUint32(raw[0:4])
	return DataPacket{
		Seq:     word &^ LastFlag,
		Last:    word&LastFlag != 0,
		Payload: raw[4:],
	}, nil
}

// EncodeDataPacket builds a monitor->host data packet (used by the test
// harness to simulate a monitor, never by the host itself).
func EncodeDataPacket(seq uint32, last bool, payload []byte) []byte {
	word := seq
	if last {
		word |= LastFlag
	}
	buf := make([]byte, 4+len(payload))
	putUint32(buf[0:4], word)
	copy(buf[4:], payload)
	return buf
}
