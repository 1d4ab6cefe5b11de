package testharness

import (
	"net"
	"time"

	"github.com/cortexmesh/fastdata/pkg/wire"
)

// MockMonitor plays the monitor core's role in a Fast Data-Out
// transfer: on a Start packet it streams every data packet for the
// declared length (skipping any seq named in drop, exactly once, so a
// test can exercise the downloader's missing-seq request path), and on
// a ResendBatch it replays whatever was skipped.
type MockMonitor struct {
	conn    *net.UDPConn
	content []byte
	drop    map[uint32]bool
	sentOnce map[uint32]bool
	done    chan struct{}
}

// NewMockMonitor binds a loopback UDP socket serving content for every
// Start request it receives. drop names seq numbers skipped on their
// first send attempt only (a ResendBatch for them is honored).
func NewMockMonitor(content []byte, drop ...uint32) (*MockMonitor, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	dropSet := make(map[uint32]bool, len(drop))
	for _, d := range drop {
		dropSet[d] = true
	}
	return &MockMonitor{
		conn:     conn,
		content:  content,
		drop:     dropSet,
		sentOnce: make(map[uint32]bool),
		done:     make(chan struct{}),
	}, nil
}

// Addr returns the "host:port" the downloader should dial.
func (m *MockMonitor) Addr() string { return m.conn.LocalAddr().String() }

// Close stops the serve loop and releases the socket.
func (m *MockMonitor) Close() {
	close(m.done)
	_ = m.conn.Close()
}

// Serve runs the reply loop until Close is called. Call it in its own
// goroutine.
func (m *MockMonitor) Serve() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-m.done:
			return
		default:
		}
		_ = m.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		m.handle(append([]byte(nil), buf[:n]...), addr)
	}
}

func (m *MockMonitor) handle(pkt []byte, addr *net.UDPAddr) {
	if len(pkt) < 8 {
		return
	}
	cmd := le32(pkt[0:4])
	txid := le32(pkt[4:8])

	switch cmd {
	case wire.CmdStartSendingData:
		m.streamAll(txid, addr)
	case wire.CmdClearData:
		m.sentOnce = make(map[uint32]bool)
	case wire.CmdStartMissingSeqs:
		m.resend(txid, pkt[12:], addr)
	case wire.CmdNextMissingSeqs:
		m.resend(txid, pkt[8:], addr)
	}
}

func (m *MockMonitor) streamAll(txid uint32, addr *net.UDPAddr) {
	maxSeq := wire.MaxSeq(uint32(len(m.content)))
	for seq := uint32(0); seq <= maxSeq; seq++ {
		if m.drop[seq] && !m.sentOnce[seq] {
			m.sentOnce[seq] = true
			continue
		}
		m.sendSeq(seq, maxSeq, addr)
	}
}

func (m *MockMonitor) resend(txid uint32, seqWords []byte, addr *net.UDPAddr) {
	maxSeq := wire.MaxSeq(uint32(len(m.content)))
	for i := 0; i+4 <= len(seqWords); i += 4 {
		seq := le32(seqWords[i : i+4])
		if seq == wire.SeqEndOfList {
			continue
		}
		m.sendSeq(seq, maxSeq, addr)
	}
}

func (m *MockMonitor) sendSeq(seq, maxSeq uint32, addr *net.UDPAddr) {
	offset := uint64(seq) * uint64(wire.FastDataOutWindow)
	if offset >= uint64(len(m.content)) {
		return
	}
	end := offset + uint64(wire.FastDataOutWindow)
	if end > uint64(len(m.content)) {
		end = uint64(len(m.content))
	}
	pkt := wire.EncodeDataPacket(seq, seq+1 == maxSeq, m.content[offset:end])
	_, _ = m.conn.WriteToUDP(pkt, addr)
}
