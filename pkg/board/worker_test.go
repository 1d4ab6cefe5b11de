package board

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cortexmesh/fastdata/pkg/adapters"
	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/execctx"
	"github.com/cortexmesh/fastdata/pkg/fastdatain"
)

// fakeStorage is a minimal in-memory adapters.Storage for worker tests;
// the real default is adapters.SQLiteStorage.
type fakeStorage struct {
	mu       sync.Mutex
	appID    uint8
	sizes    map[coord.CoreAddress]map[int]uint32
	pointers map[coord.CoreAddress]map[int]uint32
	content  map[coord.CoreAddress]map[int][]byte
}

func newFakeStorage(appID uint8) *fakeStorage {
	return &fakeStorage{
		appID:    appID,
		sizes:    make(map[coord.CoreAddress]map[int]uint32),
		pointers: make(map[coord.CoreAddress]map[int]uint32),
		content:  make(map[coord.CoreAddress]map[int][]byte),
	}
}

func (s *fakeStorage) AppID() uint8 { return s.appID }
func (s *fakeStorage) ListEthernetsToLoad() ([]adapters.BoardDescriptor, error) {
	return nil, nil
}
func (s *fakeStorage) ListCoresToLoad(board adapters.BoardDescriptor, systemOnly bool) ([]coord.CoreAddress, error) {
	return nil, nil
}

func (s *fakeStorage) RegionSizes(core coord.CoreAddress) (map[int]uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizes[core], nil
}

func (s *fakeStorage) SetStartAddress(core coord.CoreAddress, addr uint32) error {
	return nil
}

func (s *fakeStorage) SetRegionPointer(core coord.CoreAddress, regionIndex int, addr uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pointers[core] == nil {
		s.pointers[core] = make(map[int]uint32)
	}
	s.pointers[core][regionIndex] = addr
	return nil
}

func (s *fakeStorage) RegionPointersAndContent(core coord.CoreAddress) (map[int]adapters.RegionContent, error) {
	return nil, nil
}

func (s *fakeStorage) AppendRegionContents(core coord.CoreAddress, region int, data []byte) error {
	return s.StoreRegionContents(core, region, data)
}

func (s *fakeStorage) StoreRegionContents(core coord.CoreAddress, region int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.content[core] == nil {
		s.content[core] = make(map[int][]byte)
	}
	s.content[core][region] = data
	return nil
}

func (s *fakeStorage) setSizes(core coord.CoreAddress, sizes map[int]uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sizes[core] = sizes
}

func listenGatherer(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	return conn
}

func TestWorkerRunUploadsSingleCoreRegion(t *testing.T) {
	gatherer := listenGatherer(t)
	defer gatherer.Close()

	go serveFakeGatherer(t, gatherer)

	core := coord.CoreAddress{X: 0, Y: 0, P: 1}
	storage := newFakeStorage(30)
	storage.setSizes(core, map[int]uint32{0: 4})

	tr := adapters.NewMockTransceiver(0x70000000)
	ref := execctx.RefID(0)
	_ = ref
	executor := adapters.NewNullExecutor([]adapters.RegionSpec{
		{Slot: 0, Content: []byte{9, 9, 9, 9}},
	})

	desc := Descriptor{
		Label:        "board-0",
		Host:         gatherer.LocalAddr().String(),
		Root:         coord.ChipAddress{X: 0, Y: 0},
		IPTag:        1,
		GathererCore: coord.CoreAddress{X: 0, Y: 0, P: 0},
		Cores:        []coord.CoreAddress{core},
	}
	jobs := []CoreJob{{Core: core, Executor: executor}}

	cfg := fastdatain.DefaultConfig
	cfg.AwaitRepliesTimeout = 500 * time.Millisecond

	w := New(desc, jobs, storage, tr, cfg, 0, 0, nil)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

// serveFakeGatherer answers every Location/Seq/Tell burst with an
// immediate RECEIVE_FINISHED_DATA_IN reply using the observed txid.
func serveFakeGatherer(t *testing.T, conn *net.UDPConn) {
	buf := make([]byte, 2048)
	for i := 0; i < 64; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n < 8 {
			continue
		}
		cmd := leUint32(buf[0:4])
		if cmd != 2001 { // SEND_TELL_DATA_IN
			continue
		}
		txID := leUint32(buf[4:8])
		reply := make([]byte, 8)
		putLE(reply[0:4], 2003) // RECEIVE_FINISHED_DATA_IN
		putLE(reply[4:8], txID)
		_, _ = conn.WriteToUDP(reply, addr)
	}
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putLE(dst []byte, v uint32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
	dst[3] = byte(v >> 24)
}
