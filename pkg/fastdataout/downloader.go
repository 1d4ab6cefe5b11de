// Package fastdataout implements the Fast Data-Out downloader state
// machine: a windowed, flag-terminated transfer of one memory region
// from an extra monitor back to the host, grounded on the same
// SDO-client driving-loop idiom as pkg/fastdatain.
package fastdataout

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/wire"
)

// State names the downloader's current step, purely for logging.
type State int

const (
	StateIssueStart State = iota
	StateReceive
	StateFinish
	StateFailedTimeout
)

func (s State) String() string {
	switch s {
	case StateIssueStart:
		return "issue-start"
	case StateReceive:
		return "receive"
	case StateFinish:
		return "finish"
	case StateFailedTimeout:
		return "failed-timeout"
	default:
		return "unknown"
	}
}

// Config bundles the timing/retry knobs for one download.
type Config struct {
	ReceiveTimeout    time.Duration
	TimeoutRetryLimit int
	DelayPerSend      time.Duration
}

// DefaultConfig matches the nominal values.
var DefaultConfig = Config{
	ReceiveTimeout:    2 * time.Second,
	TimeoutRetryLimit: 20,
	DelayPerSend:      10 * time.Millisecond,
}

// Sender is the subset of transport.Endpoint the downloader needs.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// TxIDAllocator hands out transaction IDs for one extra monitor,
// incremented atomically mod 2^32. Kept distinct from
// fastdatain.TxIDAllocator: Fast Data-In and Fast Data-Out maintain
// independent transaction-id spaces per gatherer/monitor.
type TxIDAllocator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (a *TxIDAllocator) Next() uint32 {
	return atomic.AddUint32(&a.counter, 1)
}

// Downloader drives one region retrieval to completion over a Sender.
type Downloader struct {
	endpoint Sender
	txIDs    *TxIDAllocator
	cfg      Config
	logger   *logrus.Entry
}

// New constructs a Downloader. logger may be nil.
func New(endpoint Sender, txIDs *TxIDAllocator, cfg Config, logger *logrus.Entry) *Downloader {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Downloader{endpoint: endpoint, txIDs: txIDs, cfg: cfg, logger: logger}
}

// Download retrieves a region of the given size from address on the
// monitor reached through the endpoint, returning its bytes.
func (d *Downloader) Download(ctx context.Context, address, size uint32) ([]byte, error) {
	txID := d.txIDs.Next()
	log := d.logger.WithFields(logrus.Fields{"txid": txID, "size": size})

	buf := make([]byte, size)
	maxSeq := wire.MaxSeq(size)
	received := make(map[uint32]struct{})
	everReceived := false
	timeouts := 0

	state := StateIssueStart
	for {
		select {
		case <-ctx.Done():
			return nil, fderrors.WithLocation(fderrors.KindCancelled, "", "", "download", ctx.Err())
		default:
		}

		switch state {
		case StateIssueStart:
			if err := d.endpoint.Send(ctx, wire.EncodeStart(txID, address, size)); err != nil {
				return nil, err
			}
			state = StateReceive

		case StateReceive:
			payload, err := d.endpoint.Receive(d.cfg.ReceiveTimeout)
			if err != nil {
				if !fderrors.IsKind(err, fderrors.KindTimeout) {
					return nil, err
				}
				timeouts++
				if !everReceived && timeouts > d.cfg.TimeoutRetryLimit {
					return nil, fderrors.ErrTimeoutExhausted
				}
				log.Warn("receive timed out, treating as implicit end of stream")
				missing := missingSeqs(received, maxSeq)
				if len(missing) == 0 {
					state = StateFinish
					continue
				}
				if err := d.requestMissing(ctx, txID, missing); err != nil {
					return nil, err
				}
				continue
			}

			pkt, err := wire.DecodeDataPacket(payload)
			if err != nil {
				log.WithError(err).Debug("ignoring malformed data packet")
				continue
			}
			if pkt.Seq > maxSeq {
				log.WithField("seq", pkt.Seq).Debug("ignoring out-of-range seq")
				continue
			}
			everReceived = true

			offset := uint64(pkt.Seq) * uint64(wire.FastDataOutWindow)
			if offset < uint64(len(buf)) {
				end := offset + uint64(len(pkt.Payload))
				if end > uint64(len(buf)) {
					end = uint64(len(buf))
				}
				copy(buf[offset:end], pkt.Payload)
			}
			received[pkt.Seq] = struct{}{}

			if pkt.Last {
				missing := missingSeqs(received, maxSeq)
				if len(missing) == 0 {
					state = StateFinish
				} else {
					if err := d.requestMissing(ctx, txID, missing); err != nil {
						return nil, err
					}
				}
			}

		case StateFinish:
			return buf, nil

		case StateFailedTimeout:
			return nil, fderrors.ErrTimeoutExhausted
		}
	}
}

func (d *Downloader) requestMissing(ctx context.Context, txID uint32, missing []uint32) error {
	packets := wire.EncodeResendBatch(txID, missing)
	for i, pkt := range packets {
		if err := d.endpoint.Send(ctx, pkt); err != nil {
			return err
		}
		if i < len(packets)-1 {
			select {
			case <-time.After(d.cfg.DelayPerSend):
			case <-ctx.Done():
				return fderrors.WithLocation(fderrors.KindCancelled, "", "", "request_missing", ctx.Err())
			}
		}
	}
	return nil
}

func missingSeqs(received map[uint32]struct{}, maxSeq uint32) []uint32 {
	var missing []uint32
	for k := uint32(0); k < maxSeq; k++ {
		if _, ok := received[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
