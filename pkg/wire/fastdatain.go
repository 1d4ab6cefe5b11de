package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/cortexmesh/fastdata/pkg/fderrors"
)

// ErrProtocol is returned for malformed payloads — unknown command codes,
// misaligned replies, or a seq number that addresses past a region.
var ErrProtocol = fderrors.ErrProtocol

// Fast Data-In command codes (spec.md §4.2/§6).
const (
	CmdSendDataToLocation      uint32 = 200
	CmdSendSeqData             uint32 = 2000
	CmdSendTellDataIn          uint32 = 2001
	CmdReceiveMissingSeqDataIn uint32 = 2002
	CmdReceiveFinishedDataIn   uint32 = 2003
)

// Sentinels carried literally on the wire in a missing-seq reply; these
// must round-trip as exact 32-bit values, never as host-native enums.
const (
	SeqAllMissing uint32 = 0xFFFFFFFE
	SeqEndOfList  uint32 = 0xFFFFFFFF
)

// SDPPayloadWordsIn is the total word capacity of a Fast Data-In Seq
// packet's SDP payload (command + transaction-id + seq-num + data).
const SDPPayloadWordsIn = 71

// seqHeaderWords is the word count consumed by the Seq packet's
// command/transaction-id/seq-num fields, leaving the rest for data.
const seqHeaderWords = 3

// FastDataInWindow (W) is the maximum number of content bytes carried by
// one Seq packet.
const FastDataInWindow = (SDPPayloadWordsIn - seqHeaderWords) * 4

// NumPackets returns the number of Seq packets (ceil(size/W)) needed to
// transfer a region of the given size.
func NumPackets(size uint32) uint32 {
	if size == 0 {
		return 0
	}
	return (size + FastDataInWindow - 1) / FastDataInWindow
}

// EncodeLocation builds the Location packet payload: cmd, txid, base
// address, Δy/Δx packed into one word, and numPackets-1. A numPackets of
// 0 (a zero-size region) is encoded as 0, the same as numPackets=1.
func EncodeLocation(txID, baseAddress uint32, deltaY, deltaX uint16, numPackets uint32) []byte {
	buf := make([]byte, 20)
	putUint32(buf[0:4], CmdSendDataToLocation)
	putUint32(buf[4:8], txID)
	putUint32(buf[8:12], baseAddress)
	binary.LittleEndian.PutUint16(buf[12:14], deltaY)
	binary.LittleEndian.PutUint16(buf[14:16], deltaX)
	var n uint32
	if numPackets > 0 {
		n = numPackets - 1
	}
	putUint32(buf[16:20], n)
	return buf
}

// EncodeSeq builds a Seq packet carrying payload starting at byte offset
// seq*W of region. Requesting a seq whose window starts at or beyond
// len(region) fails with an ErrProtocol-wrapped error.
func EncodeSeq(txID, seq uint32, region []byte) ([]byte, error) {
	offset := uint64(seq) * uint64(FastDataInWindow)
	if offset >= uint64(len(region)) {
		return nil, fmt.Errorf("wire: %w: seq %d offset %d exceeds region size %d", ErrProtocol, seq, offset, len(region))
	}
	end := offset + uint64(FastDataInWindow)
	if end > uint64(len(region)) {
		end = uint64(len(region))
	}
	chunk := region[offset:end]
	buf := make([]byte, 12+len(chunk))
	putUint32(buf[0:4], CmdSendSeqData)
	putUint32(buf[4:8], txID)
	putUint32(buf[8:12], seq)
	copy(buf[12:], chunk)
	return buf, nil
}

// EncodeTell builds the Tell packet payload.
func EncodeTell(txID uint32) []byte {
	buf := make([]byte, 8)
	putUint32(buf[0:4], CmdSendTellDataIn)
	putUint32(buf[4:8], txID)
	return buf
}

// MissingSeqReply is the parsed form of a RECEIVE_MISSING_SEQ_DATA_IN
// reply.
type MissingSeqReply struct {
	TxID     uint32
	SeqNums  []uint32
	SeenAll  bool // 0xFFFFFFFE sentinel encountered
	SeenEnd  bool // 0xFFFFFFFF sentinel encountered
}

// DecodeGathererReply parses a gatherer->host reply, dispatching on the
// leading command word. It returns (cmd, *MissingSeqReply, txID, err);
// for CmdReceiveFinishedDataIn, only the txID is meaningful.
func DecodeGathererReply(payload []byte) (cmd uint32, missing *MissingSeqReply, txID uint32, err error) {
	if len(payload) < 8 {
		return 0, nil, 0, fmt.Errorf("wire: %w: reply shorter than 8 bytes", ErrProtocol)
	}
	cmd = getUint32(payload[0:4])
	txID = getUint32(payload[4:8])
	switch cmd {
	case CmdReceiveFinishedDataIn:
		return cmd, nil, txID, nil
	case CmdReceiveMissingSeqDataIn:
		rest := payload[8:]
		if len(rest)%4 != 0 {
			return 0, nil, 0, fmt.Errorf("wire: %w: missing-seq reply not word aligned", ErrProtocol)
		}
		m := &MissingSeqReply{TxID: txID}
		for i := 0; i+4 <= len(rest); i += 4 {
			v := getUint32(rest[i : i+4])
			switch v {
			case SeqEndOfList:
				m.SeenEnd = true
			case SeqAllMissing:
				m.SeenAll = true
			default:
				m.SeqNums = append(m.SeqNums, v)
			}
		}
		return cmd, m, txID, nil
	default:
		return 0, nil, 0, fmt.Errorf("wire: %w: unknown command %d", ErrProtocol, cmd)
	}
}
