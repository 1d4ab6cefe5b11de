package testharness

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/cortexmesh/fastdata/pkg/fastdatain"
	"github.com/cortexmesh/fastdata/pkg/fastdataout"
	"github.com/cortexmesh/fastdata/pkg/transport"
)

func TestUploadSurvivesADroppedSeq(t *testing.T) {
	gatherer, err := NewMockGatherer(1)
	if err != nil {
		t.Fatalf("gatherer setup failed: %v", err)
	}
	defer gatherer.Close()
	go gatherer.Serve()

	ep, err := transport.Dial(gatherer.Addr(), 0, nil, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ep.Close()

	cfg := fastdatain.DefaultConfig
	cfg.AwaitRepliesTimeout = 500 * time.Millisecond
	u := fastdatain.New(ep, &fastdatain.TxIDAllocator{}, cfg, nil)

	region := make([]byte, 600)
	rand.New(rand.NewSource(1)).Read(region)

	if err := u.Upload(context.Background(), 0, 0, 0x2000, region); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
}

func TestDownloadRecoversADroppedPacket(t *testing.T) {
	content := make([]byte, 600)
	rand.New(rand.NewSource(2)).Read(content)

	monitor, err := NewMockMonitor(content, 1)
	if err != nil {
		t.Fatalf("monitor setup failed: %v", err)
	}
	defer monitor.Close()
	go monitor.Serve()

	ep, err := transport.Dial(monitor.Addr(), 0, nil, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer ep.Close()

	cfg := fastdataout.DefaultConfig
	cfg.ReceiveTimeout = 300 * time.Millisecond
	d := fastdataout.New(ep, &fastdataout.TxIDAllocator{}, cfg, nil)

	got, err := d.Download(context.Background(), 0x2000, uint32(len(content)))
	if err != nil {
		t.Fatalf("download failed: %v", err)
	}
	if len(got) != len(content) {
		t.Fatalf("got %d bytes, want %d", len(got), len(content))
	}
	for i := range content {
		if got[i] != content[i] {
			t.Fatalf("byte %d mismatch: got %d want %d", i, got[i], content[i])
		}
	}
}
