package fastdatain

import (
	"context"
	"testing"
	"time"

	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/wire"
)

// fakeGatherer plays the role of a data gatherer core: it records every
// outbound packet and drives scripted replies back to the uploader.
type fakeGatherer struct {
	sent      [][]byte
	replies   [][]byte
	nextReply int
	timeoutAt map[int]bool
	sendCount int
}

func (f *fakeGatherer) Send(ctx context.Context, payload []byte) error {
	f.sent = append(f.sent, append([]byte(nil), payload...))
	f.sendCount++
	return nil
}

func (f *fakeGatherer) Receive(timeout time.Duration) ([]byte, error) {
	if f.timeoutAt[f.nextReply] {
		f.nextReply++
		return nil, fderrors.ErrTimeout
	}
	// Wait up to timeout for a scripted reply, as a real endpoint would.
	deadline := time.Now().Add(timeout)
	for f.nextReply >= len(f.replies) {
		if !time.Now().Before(deadline) {
			return nil, fderrors.ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
	r := f.replies[f.nextReply]
	f.nextReply++
	return r, nil
}

func TestUploadCompletesOnFirstFinishedReply(t *testing.T) {
	region := make([]byte, 600)
	gatherer := &fakeGatherer{}
	txIDs := &TxIDAllocator{}
	u := New(gatherer, txIDs, DefaultConfig, nil)

	done := make(chan error, 1)
	go func() {
		done <- u.Upload(context.Background(), 1, 2, 0x1000, region)
	}()

	// Let IssueBurst run, then inject the finished reply.
	time.Sleep(10 * time.Millisecond)
	finished := make([]byte, 8)
	copyUint32(finished[0:4], wire.CmdReceiveFinishedDataIn)
	copyUint32(finished[4:8], txIDForSentLocation(gatherer.sent))
	gatherer.replies = append(gatherer.replies, finished)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("upload did not complete")
	}

	wantPackets := wire.NumPackets(uint32(len(region)))
	// Location + N Seq + Tell
	if uint32(len(gatherer.sent)) != wantPackets+2 {
		t.Fatalf("sent %d packets, want %d", len(gatherer.sent), wantPackets+2)
	}
}

func TestUploadRetransmitsMissingSeqs(t *testing.T) {
	region := make([]byte, 600)
	gatherer := &fakeGatherer{}
	txIDs := &TxIDAllocator{}
	u := New(gatherer, txIDs, DefaultConfig, nil)

	resultCh := make(chan error, 1)
	go func() { resultCh <- u.Upload(context.Background(), 0, 0, 0, region) }()
	time.Sleep(10 * time.Millisecond)

	txID := txIDForSentLocation(gatherer.sent)

	missing := make([]byte, 16)
	copyUint32(missing[0:4], wire.CmdReceiveMissingSeqDataIn)
	copyUint32(missing[4:8], txID)
	copyUint32(missing[8:12], 1)
	copyUint32(missing[12:16], wire.SeqEndOfList)
	gatherer.replies = append(gatherer.replies, missing)

	time.Sleep(10 * time.Millisecond)

	finished := make([]byte, 8)
	copyUint32(finished[0:4], wire.CmdReceiveFinishedDataIn)
	copyUint32(finished[4:8], txID)
	gatherer.replies = append(gatherer.replies, finished)

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("upload failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("upload did not complete")
	}
}

func TestUploadFailsAfterTimeoutBudgetExhausted(t *testing.T) {
	region := make([]byte, 10)
	gatherer := &fakeGatherer{timeoutAt: map[int]bool{}}
	for i := 0; i < 200; i++ {
		gatherer.timeoutAt[i] = true
	}
	txIDs := &TxIDAllocator{}
	cfg := DefaultConfig
	cfg.AwaitRepliesTimeout = time.Millisecond
	cfg.TimeoutRetryLimit = 3
	u := New(gatherer, txIDs, cfg, nil)

	err := u.Upload(context.Background(), 0, 0, 0, region)
	if !fderrors.IsKind(err, fderrors.KindTimeoutExhausted) {
		t.Fatalf("got %v, want timeout-exhausted", err)
	}
}

func copyUint32(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}

func txIDForSentLocation(sent [][]byte) uint32 {
	if len(sent) == 0 {
		return 0
	}
	loc := sent[0]
	return uint32(loc[4]) | uint32(loc[5])<<8 | uint32(loc[6])<<16 | uint32(loc[7])<<24
}
