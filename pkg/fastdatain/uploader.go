// Package fastdatain implements the Fast Data-In uploader state machine:
// a windowed, NACK-driven transfer of one memory region to a target
// core's SDRAM via a data gatherer, grounded on the teacher's SDO client
// upload loop (pkg/sdo/client.go) — an explicit state field, a step
// function driven from a small loop, and timeout/retry counters.
package fastdatain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cortexmesh/fastdata/pkg/coord"
	"github.com/cortexmesh/fastdata/pkg/fderrors"
	"github.com/cortexmesh/fastdata/pkg/wire"
)

// State names the uploader's current step, purely for logging.
type State int

const (
	StateIssueBurst State = iota
	StateAwaitReplies
	StateRetransmit
	StateDone
	StateFailedTimeout
)

func (s State) String() string {
	switch s {
	case StateIssueBurst:
		return "issue-burst"
	case StateAwaitReplies:
		return "await-replies"
	case StateRetransmit:
		return "retransmit"
	case StateDone:
		return "done"
	case StateFailedTimeout:
		return "failed-timeout"
	default:
		return "unknown"
	}
}

// Config bundles the timing/retry knobs a board-model revision tunes;
// see spec's open question on THROTTLE_NS-style values living in
// configuration rather than being baked in.
type Config struct {
	AwaitRepliesTimeout time.Duration
	TimeoutRetryLimit   int
}

// DefaultConfig matches the nominal values.
var DefaultConfig = Config{
	AwaitRepliesTimeout: 2 * time.Second,
	TimeoutRetryLimit:   100,
}

// Sender is the subset of transport.Endpoint the uploader needs.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
	Receive(timeout time.Duration) ([]byte, error)
}

// TxIDAllocator hands out transaction IDs for one gatherer, incremented
// atomically mod 2^32.
type TxIDAllocator struct {
	counter uint32
}

// Next returns the next transaction ID.
func (a *TxIDAllocator) Next() uint32 {
	return atomic.AddUint32(&a.counter, 1)
}

// Uploader drives one region transfer to completion over a Sender.
type Uploader struct {
	endpoint Sender
	txIDs    *TxIDAllocator
	cfg      Config
	logger   *logrus.Entry
}

// New constructs an Uploader. logger may be nil.
func New(endpoint Sender, txIDs *TxIDAllocator, cfg Config, logger *logrus.Entry) *Uploader {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Uploader{endpoint: endpoint, txIDs: txIDs, cfg: cfg, logger: logger}
}

// Upload streams region to core at baseAddress via the gatherer reached
// through the endpoint, using (deltaY, deltaX) as the root-relative
// coordinate delta the gatherer needs to route Seq packets onward.
func (u *Uploader) Upload(ctx context.Context, deltaY, deltaX uint16, baseAddress uint32, region []byte) error {
	txID := u.txIDs.Next()
	numPackets := wire.NumPackets(uint32(len(region)))
	log := u.logger.WithFields(logrus.Fields{"txid": txID, "num_packets": numPackets})

	var missing map[uint32]struct{}
	var everReceived bool
	timeouts := 0

	state := StateIssueBurst
	for {
		select {
		case <-ctx.Done():
			return fderrors.WithLocation(fderrors.KindCancelled, "", "", "upload", ctx.Err())
		default:
		}

		switch state {
		case StateIssueBurst:
			if err := u.issueBurst(ctx, txID, baseAddress, deltaY, deltaX, numPackets, region); err != nil {
				return err
			}
			state = StateAwaitReplies

		case StateRetransmit:
			if err := u.retransmit(ctx, txID, baseAddress, deltaY, deltaX, numPackets, region, missing); err != nil {
				return err
			}
			missing = nil
			state = StateAwaitReplies

		case StateAwaitReplies:
			payload, err := u.endpoint.Receive(u.cfg.AwaitRepliesTimeout)
			if err != nil {
				if !fderrors.IsKind(err, fderrors.KindTimeout) {
					return err
				}
				timeouts++
				if timeouts > u.cfg.TimeoutRetryLimit {
					return fderrors.ErrTimeoutExhausted
				}
				if missing == nil && !everReceived {
					log.Warn("await-replies timed out before any reply, re-issuing burst")
					state = StateIssueBurst
				} else {
					log.Warn("await-replies timed out, retransmitting current missing set")
					if missing == nil {
						missing = map[uint32]struct{}{}
					}
					state = StateRetransmit
				}
				continue
			}

			cmd, reply, replyTxID, err := wire.DecodeGathererReply(payload)
			if err != nil {
				log.WithError(err).Debug("ignoring malformed reply")
				continue
			}
			if replyTxID != txID {
				continue
			}
			everReceived = true

			switch cmd {
			case wire.CmdReceiveFinishedDataIn:
				state = StateDone
			case wire.CmdReceiveMissingSeqDataIn:
				missing = map[uint32]struct{}{}
				if reply.SeenAll {
					for k := uint32(0); k < numPackets; k++ {
						missing[k] = struct{}{}
					}
				}
				for _, k := range reply.SeqNums {
					missing[k] = struct{}{}
				}
				if reply.SeenAll || reply.SeenEnd {
					state = StateRetransmit
				}
			}

		case StateDone:
			return nil

		case StateFailedTimeout:
			return fderrors.ErrTimeoutExhausted
		}
	}
}

func (u *Uploader) issueBurst(ctx context.Context, txID, baseAddress uint32, deltaY, deltaX uint16, numPackets uint32, region []byte) error {
	if err := u.endpoint.Send(ctx, wire.EncodeLocation(txID, baseAddress, deltaY, deltaX, numPackets)); err != nil {
		return err
	}
	for seq := uint32(0); seq < numPackets; seq++ {
		pkt, err := wire.EncodeSeq(txID, seq, region)
		if err != nil {
			return err
		}
		if err := u.endpoint.Send(ctx, pkt); err != nil {
			return err
		}
	}
	return u.endpoint.Send(ctx, wire.EncodeTell(txID))
}

func (u *Uploader) retransmit(ctx context.Context, txID, baseAddress uint32, deltaY, deltaX uint16, numPackets uint32, region []byte, missing map[uint32]struct{}) error {
	if err := u.endpoint.Send(ctx, wire.EncodeLocation(txID, baseAddress, deltaY, deltaX, numPackets)); err != nil {
		return err
	}
	seqs := sortedKeys(missing)
	for _, seq := range seqs {
		pkt, err := wire.EncodeSeq(txID, seq, region)
		if err != nil {
			return err
		}
		if err := u.endpoint.Send(ctx, pkt); err != nil {
			return err
		}
	}
	return u.endpoint.Send(ctx, wire.EncodeTell(txID))
}

func sortedKeys(m map[uint32]struct{}) []uint32 {
	out := make([]uint32, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}
