package solarmanv5

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

// transport owns the TCP connection lifecycle state machine:
// Disconnected -> Connecting -> Connected -> Disconnecting, an idle
// watchdog that closes an unused connection, and the read loop that feeds
// the streaming decoder and hands completed frames to the response gate.
//
// Modeled after grid-x/modbus's tcpTransporter idle-timer fields
// (IdleTimeout, lastActivity, closeTimer), generalized into an explicit
// state machine with pluggable reconnection policy.
type transport struct {
	cfg      Config
	log      *logrus.Entry
	observer Observer

	mu         sync.Mutex
	state      ClientState
	conn       net.Conn
	decoder    *Decoder
	gate       *responseGate
	closeTimer *time.Timer
	readerDone chan struct{}

	boff backoff.BackOff
}

func newTransport(cfg Config, log *logrus.Entry, observer Observer) *transport {
	return &transport{
		cfg:      cfg,
		log:      log,
		observer: observer,
		state:    Disconnected,
		decoder:  NewDecoder(),
		gate:     newResponseGate(),
	}
}

func (t *transport) State() ClientState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *transport) IsConnected() bool {
	return t.State() == Connected
}

// Connect dials the configured address. Returns AlreadyConnected if the
// state machine is already past Disconnected.
func (t *transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Disconnected {
		t.mu.Unlock()
		return errAlreadyConnected()
	}
	t.state = Connecting
	t.mu.Unlock()

	if err := t.dial(ctx); err != nil {
		t.mu.Lock()
		t.state = Disconnected
		t.mu.Unlock()
		return err
	}
	return nil
}

func (t *transport) dial(ctx context.Context) error {
	dialer := net.Dialer{}
	deadline, hasDeadline := ctx.Deadline()
	if hasDeadline {
		dialer.Deadline = deadline
	} else if t.cfg.Timeout > 0 {
		dialer.Timeout = t.cfg.Timeout
	}

	conn, err := dialer.DialContext(ctx, "tcp", t.cfg.Address())
	if err != nil {
		return errConnectionFailed("dial failed", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.state = Connected
	t.decoder = NewDecoder()
	t.readerDone = make(chan struct{})
	done := t.readerDone
	t.armIdleTimerLocked()
	t.mu.Unlock()

	t.log.WithField("addr", t.cfg.Address()).Info("connected")
	t.observer.Connect()

	go t.readLoop(conn, done)
	return nil
}

// Close disconnects the transport, releasing any request awaiting a
// response with a ChannelClosed error.
func (t *transport) Close() error {
	t.mu.Lock()
	if t.state == Disconnected {
		t.mu.Unlock()
		return nil
	}
	t.state = Disconnecting
	conn := t.conn
	t.conn = nil
	if t.closeTimer != nil {
		t.closeTimer.Stop()
		t.closeTimer = nil
	}
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}

	t.gate.closeAwaiting()

	t.mu.Lock()
	t.state = Disconnected
	t.mu.Unlock()

	t.log.Info("disconnected")
	t.observer.Disconnect()
	return err
}

// ensureConnected consults the reconnection policy when the transport is
// not Connected, returning NotConnected immediately if reconnection is
// disabled.
func (t *transport) ensureConnected(ctx context.Context) error {
	if t.IsConnected() {
		return nil
	}

	switch t.cfg.Reconnect.kind {
	case reconnectDisabled:
		return errNotConnected()
	case reconnectImmediate:
		t.observer.ReconnectionAttempt()
		return t.reconnect(ctx)
	case reconnectExponential:
		return t.reconnectWithBackoff(ctx)
	default:
		return errNotConnected()
	}
}

func (t *transport) reconnect(ctx context.Context) error {
	t.mu.Lock()
	if t.state != Disconnected {
		t.state = Disconnected
		if t.conn != nil {
			t.conn.Close()
			t.conn = nil
		}
	}
	t.state = Disconnected
	t.mu.Unlock()
	return t.Connect(ctx)
}

func (t *transport) reconnectWithBackoff(ctx context.Context) error {
	policy := t.cfg.Reconnect
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.Initial
	b.MaxInterval = policy.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		t.observer.ReconnectionAttempt()
		err := t.reconnect(ctx)
		if err != nil {
			t.log.WithError(err).Warn("reconnect attempt failed")
		}
		return err
	}, backoff.WithContext(b, ctx))

	if ctx.Err() != nil {
		return errConnectionFailed("cancelled", ctx.Err())
	}
	return err
}

// Exchange writes request and waits for the next frame the read loop
// delivers, honoring ctx's deadline. Exactly one exchange may be in flight
// at a time (enforced by the engine's dispatch mutex, not here).
func (t *transport) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	if err := t.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ch, err := t.gate.register()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	conn := t.conn
	t.resetIdleTimerLocked()
	t.mu.Unlock()

	if conn == nil {
		t.gate.cancel(ch)
		return nil, errNotConnected()
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	t.log.WithField("frame", hexString(request)).Debug("SENT")
	if _, err := conn.Write(request); err != nil {
		t.gate.cancel(ch)
		return nil, errIO("write failed", err)
	}

	select {
	case result := <-ch:
		if result.err != nil {
			return nil, result.err
		}
		t.log.WithField("frame", hexString(result.frame)).Debug("RECV")
		return result.frame, nil
	case <-ctx.Done():
		t.gate.cancel(ch)
		return nil, errTimeout()
	}
}

func (t *transport) readLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			t.mu.Lock()
			t.decoder.Write(buf[:n])
			t.resetIdleTimerLocked()
			for {
				frame, ok, ferr := t.decoder.Next()
				if ferr != nil {
					t.mu.Unlock()
					var frameErr *Error
					if de, isDecodeErr := ferr.(*DecodeError); isDecodeErr {
						frameErr = errV5FrameFromDecode(de)
					} else {
						frameErr = errV5Frame(FrameErrorKind("DecodeFailure"))
					}
					t.gate.deliver(gateResult{err: frameErr})
					t.teardown(conn)
					return
				}
				if !ok {
					break
				}
				t.mu.Unlock()
				t.gate.deliver(gateResult{frame: frame})
				t.mu.Lock()
			}
			t.mu.Unlock()
		}
		if err != nil {
			t.mu.Lock()
			pending := t.decoder.Pending()
			t.mu.Unlock()
			if pending > 0 {
				t.gate.deliver(gateResult{err: errV5FrameFromDecode(errIncompleteFrameAtEOF(pending))})
			}
			t.teardown(conn)
			return
		}
	}
}

// teardown reacts to a read-side failure (EOF, reset, idle-timer close) by
// moving the state machine back to Disconnected and releasing any waiting
// request. It is a no-op if conn was already replaced by a newer
// connection (e.g. a concurrent reconnect already tore this one down).
func (t *transport) teardown(conn net.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
		t.state = Disconnected
		if t.closeTimer != nil {
			t.closeTimer.Stop()
			t.closeTimer = nil
		}
	}
	t.mu.Unlock()
	conn.Close()
	t.gate.closeAwaiting()
}

// armIdleTimerLocked and resetIdleTimerLocked must be called with t.mu held.
func (t *transport) armIdleTimerLocked() {
	if !t.cfg.idleWatchdogEnabled() {
		return
	}
	conn := t.conn
	t.closeTimer = time.AfterFunc(*t.cfg.IdleTimeout, func() {
		t.log.Warn("idle timeout, closing connection")
		t.teardown(conn)
	})
}

func (t *transport) resetIdleTimerLocked() {
	if !t.cfg.idleWatchdogEnabled() || t.closeTimer == nil {
		return
	}
	t.closeTimer.Reset(*t.cfg.IdleTimeout)
}

func hexString(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xF]
	}
	return string(out)
}
