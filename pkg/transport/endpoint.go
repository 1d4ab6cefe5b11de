// Package transport implements the per-board throttled UDP endpoint:
// minimum inter-send spacing, bounded-timeout receive, and IP-tag
// reprogramming, grounded on the teacher's BusManager/Bus pairing (a
// thin bookkeeping wrapper around a raw transport).
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/cortexmesh/fastdata/pkg/fderrors"
)

// CloseGrace is the delay before the underlying socket is actually
// closed, preventing port reuse from racing the gatherer still draining
// the tag.
const CloseGrace = 1 * time.Second

// TagReprogrammer retargets a machine-side IP tag to a local address.
// Implemented per-machine-type; the endpoint only calls it.
type TagReprogrammer interface {
	ReprogramTag(ctx context.Context, tag uint8, localAddr net.Addr) error
}

// Endpoint is a single-board SDP/UDP transport enforcing a minimum
// spacing between sends and bounded receive timeouts. Not safe for
// concurrent Send calls from multiple goroutines; Receive may run
// concurrently with Send.
type Endpoint struct {
	logger      *logrus.Entry
	conn        *net.UDPConn
	throttle    time.Duration
	mu          sync.Mutex
	lastSend    time.Time
	reprogram   TagReprogrammer
	closeOnce   sync.Once
}

// Dial opens a UDP socket to addr with the given minimum inter-send
// spacing.
func Dial(addr string, throttle time.Duration, reprogram TagReprogrammer, logger *logrus.Entry) (*Endpoint, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindIO, "", "", "dial", err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fderrors.WithLocation(fderrors.KindIO, "", "", "dial", err)
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if err := setReuseAddr(conn); err != nil {
		logger.WithError(err).Debug("SO_REUSEADDR tuning failed, continuing without it")
	}
	return &Endpoint{
		logger:    logger,
		conn:      conn,
		throttle:  throttle,
		reprogram: reprogram,
	}, nil
}

// setReuseAddr sets SO_REUSEADDR on the raw socket backing conn so a
// dial to a recently-vacated board address does not block on the OS's
// TIME_WAIT teardown, complementing Close's CloseGrace delay.
func setReuseAddr(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return sockErr
}

// Send waits on a timer until at least Endpoint.throttle has elapsed since the
// previous send on this endpoint, then transmits. Returns a
// KindCancelled error if ctx is done before the wait completes.
func (e *Endpoint) Send(ctx context.Context, payload []byte) error {
	e.mu.Lock()
	wait := e.throttle - time.Since(e.lastSend)
	e.mu.Unlock()

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fderrors.WithLocation(fderrors.KindCancelled, "", "", "send", ctx.Err())
		}
	}

	_, err := e.conn.Write(payload)
	e.mu.Lock()
	e.lastSend = time.Now()
	e.mu.Unlock()
	if err != nil {
		return fderrors.WithLocation(fderrors.KindIO, "", "", "send", err)
	}
	return nil
}

// Receive blocks for at most timeout for the next datagram, returning
// its payload. It never blocks indefinitely: a zero or negative timeout
// is treated as an immediate poll. This is a direct blocking recv with a
// deadline rather than a background reader goroutine plus queue — the
// latter is unneeded ergonomics baggage once the socket call itself
// supports deadlines.
func (e *Endpoint) Receive(timeout time.Duration) ([]byte, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fderrors.WithLocation(fderrors.KindIO, "", "", "receive", err)
	}
	buf := make([]byte, 2048)
	n, err := e.conn.Read(buf)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, fderrors.ErrTimeout
		}
		return nil, fderrors.WithLocation(fderrors.KindIO, "", "", "receive", err)
	}
	return buf[:n], nil
}

// ReprogramTagAttempts is the fixed retry budget for ReprogramTag.
const ReprogramTagAttempts = 3

// ReprogramTagBackoff is the fixed delay between ReprogramTag attempts.
const ReprogramTagBackoff = 50 * time.Millisecond

// ReprogramTag retargets a machine-side IP tag so that traffic bearing
// it is delivered to this endpoint's local address. Fails with a
// KindProtocol error if the final attempt does not succeed.
func (e *Endpoint) ReprogramTag(ctx context.Context, tag uint8) error {
	if e.reprogram == nil {
		return nil
	}
	local := e.conn.LocalAddr()
	var lastErr error
	for attempt := 1; attempt <= ReprogramTagAttempts; attempt++ {
		lastErr = e.reprogram.ReprogramTag(ctx, tag, local)
		if lastErr == nil {
			return nil
		}
		e.logger.WithError(lastErr).WithField("attempt", attempt).Warn("iptag reprogram attempt failed")
		if attempt < ReprogramTagAttempts {
			select {
			case <-time.After(ReprogramTagBackoff):
			case <-ctx.Done():
				return fderrors.WithLocation(fderrors.KindCancelled, "", "", "reprogram_tag", ctx.Err())
			}
		}
	}
	return fmt.Errorf("transport: %w: iptag %d reprogram failed after %d attempts: %v", fderrors.ErrProtocol, tag, ReprogramTagAttempts, lastErr)
}

// Close schedules the underlying socket to be closed after CloseGrace,
// matching the empirical workaround for socket-layer reuse races while
// the gatherer still drains the tag. Close is idempotent.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		time.AfterFunc(CloseGrace, func() {
			if err := e.conn.Close(); err != nil {
				e.logger.WithError(err).Debug("endpoint close")
			}
		})
	})
}
