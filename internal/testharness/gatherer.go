// Package testharness provides scripted UDP peers that replay the
// worked examples from spec.md §8 end to end, grounded on the
// teacher's pkg/sdo/server.go response-construction idiom (build the
// exact wire bytes a real peer would send, drive it off a small
// internal state machine) — used only as an integration-test double,
// never shipped by the CLIs.
package testharness

import (
	"net"
	"sort"
	"time"

	"github.com/cortexmesh/fastdata/pkg/wire"
)

// MockGatherer plays the data-gatherer core's role in a Fast Data-In
// transfer: it receives Location/Seq/Tell bursts over UDP and replies
// with RECEIVE_MISSING_SEQ_DATA_IN or RECEIVE_FINISHED_DATA_IN,
// tracking which sequence words it has "received" so a test can script
// specific drops.
type MockGatherer struct {
	conn     *net.UDPConn
	received map[uint32]map[uint32]struct{} // txid -> seq set
	drop     map[uint32]bool                // seq numbers dropped on first arrival (true until dropped)
	done     chan struct{}
}

// NewMockGatherer binds a loopback UDP socket and returns the
// listening gatherer. drop names sequence numbers that are discarded the
// first time they arrive and reported missing, forcing the uploader to
// retransmit them once (spec.md §8's "drop a seq mid-burst" scenario).
func NewMockGatherer(drop ...uint32) (*MockGatherer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	dropSet := make(map[uint32]bool, len(drop))
	for _, d := range drop {
		dropSet[d] = true
	}
	g := &MockGatherer{
		conn:     conn,
		received: make(map[uint32]map[uint32]struct{}),
		drop:     dropSet,
		done:     make(chan struct{}),
	}
	return g, nil
}

// Addr returns the "host:port" the uploader should dial.
func (g *MockGatherer) Addr() string { return g.conn.LocalAddr().String() }

// Close stops the serve loop and releases the socket.
func (g *MockGatherer) Close() {
	close(g.done)
	_ = g.conn.Close()
}

// Serve runs the reply loop until Close is called or an unrecoverable
// read error occurs. Call it in its own goroutine.
func (g *MockGatherer) Serve() {
	buf := make([]byte, 2048)
	for {
		select {
		case <-g.done:
			return
		default:
		}
		_ = g.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := g.conn.ReadFromUDP(buf)
		if err != nil {
			continue
		}
		g.handle(append([]byte(nil), buf[:n]...), addr)
	}
}

func (g *MockGatherer) handle(pkt []byte, addr *net.UDPAddr) {
	if len(pkt) < 8 {
		return
	}
	cmd := le32(pkt[0:4])
	txid := le32(pkt[4:8])

	set := g.received[txid]
	if set == nil {
		set = make(map[uint32]struct{})
		g.received[txid] = set
	}

	switch cmd {
	case wire.CmdSendDataToLocation:
		// carries base address only, nothing to track
	case wire.CmdSendSeqData:
		if len(pkt) < 12 {
			return
		}
		seq := le32(pkt[8:12])
		if g.drop[seq] {
			g.drop[seq] = false // dropped once; the retransmission is accepted
		} else {
			set[seq] = struct{}{}
		}
	case wire.CmdSendTellDataIn:
		g.replyTo(txid, set, addr)
	}
}

func (g *MockGatherer) replyTo(txid uint32, set map[uint32]struct{}, addr *net.UDPAddr) {
	missing := missingAgainst(set, g.drop)
	if len(missing) == 0 {
		reply := make([]byte, 8)
		putLE32(reply[0:4], wire.CmdReceiveFinishedDataIn)
		putLE32(reply[4:8], txid)
		_, _ = g.conn.WriteToUDP(reply, addr)
		return
	}
	reply := make([]byte, 8+4*(len(missing)+1))
	putLE32(reply[0:4], wire.CmdReceiveMissingSeqDataIn)
	putLE32(reply[4:8], txid)
	off := 8
	for _, seq := range missing {
		putLE32(reply[off:off+4], seq)
		off += 4
	}
	putLE32(reply[off:off+4], wire.SeqEndOfList)
	_, _ = g.conn.WriteToUDP(reply, addr)
}

func missingAgainst(set map[uint32]struct{}, drop map[uint32]bool) []uint32 {
	out := make([]uint32, 0, len(drop))
	for seq := range drop {
		if _, ok := set[seq]; !ok {
			out = append(out, seq)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
