package fastdataout

import (
	"context"
	"testing"
	"time"

	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/wire"
)

type fakeMonitor struct {
	sent      [][]byte
	replies   [][]byte
	nextReply int
	timeout   bool
}

func (f *fakeMonitor) Send(ctx context.Context, payload []byte) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeMonitor) Receive(timeout time.Duration) ([]byte, error) {
	if f.nextReply >= len(f.replies) {
		return nil, fderrors.ErrTimeout
	}
	r := f.replies[f.nextReply]
	f.nextReply++
	return r, nil
}

func TestDownloadSinglePacketStream(t *testing.T) {
	monitor := &fakeMonitor{}
	data := []byte("small payload")
	monitor.replies = append(monitor.replies, wire.EncodeDataPacket(0, true, data))

	d := New(monitor, &TxIDAllocator{}, DefaultConfig, nil)
	got, err := d.Download(context.Background(), 0x2000, uint32(len(data)))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
	if len(monitor.sent) != 1 {
		t.Fatalf("expected only a Start packet to be sent, got %d", len(monitor.sent))
	}
}

func TestDownloadRequestsMissingThenFinishes(t *testing.T) {
	monitor := &fakeMonitor{}
	w := wire.FastDataOutWindow
	full := make([]byte, 2*w)
	for i := range full {
		full[i] = byte(i)
	}

	// seq 1 (last) arrives first, seq 0 is "missing" until requested.
	monitor.replies = append(monitor.replies, wire.EncodeDataPacket(1, true, full[w:]))
	monitor.replies = append(monitor.replies, wire.EncodeDataPacket(0, false, full[:w]))

	cfg := DefaultConfig
	cfg.DelayPerSend = time.Millisecond
	d := New(monitor, &TxIDAllocator{}, cfg, nil)

	got, err := d.Download(context.Background(), 0, uint32(len(full)))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if string(got) != string(full) {
		t.Fatalf("payload mismatch after missing-seq retransmit")
	}
}

func TestDownloadFailsAfterTimeoutBudgetExhausted(t *testing.T) {
	monitor := &fakeMonitor{} // no replies queued: every Receive times out
	cfg := DefaultConfig
	cfg.ReceiveTimeout = time.Millisecond
	cfg.TimeoutRetryLimit = 2
	d := New(monitor, &TxIDAllocator{}, cfg, nil)

	_, err := d.Download(context.Background(), 0, 100)
	if !fderrors.IsKind(err, fderrors.KindTimeoutExhausted) {
		t.Fatalf("got %v, want timeout-exhausted", err)
	}
}
