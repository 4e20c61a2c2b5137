package solarmanv5

import (
	"errors"
	"sync"
)

// gateResult is what the response gate hands to a registered awaiter: either
// a complete frame or a terminal error (transport failure or inactivity).
type gateResult struct {
	frame []byte
	err   error
}

// responseGate is the single-slot rendezvous between the network read path
// and the one outstanding request awaiting its reply.
// At most one awaiter may be registered at a time; registration is
// synchronous, before any suspension, so the read path can never observe a
// half-registered awaiter. Completion (deliver/closeAwaiting) is
// idempotent: once a slot has been completed once, further completions are
// silently discarded rather than delivered or double-sent. There is no
// buffering beyond the single slot — unsolicited inbound frames, arriving
// with no registered awaiter, are dropped on the floor, by design, to
// prevent memory growth from unsolicited traffic.
type responseGate struct {
	mu      sync.Mutex
	pending chan gateResult
}

func newResponseGate() *responseGate {
	return &responseGate{}
}

// errAwaiterAlreadyRegistered signals a programming error: the request
// engine guarantees at most one in-flight request, so this should be
// unreachable in practice.
var errAwaiterAlreadyRegistered = errors.New("solarmanv5: response gate already has a registered awaiter")

// register installs a new awaiter slot and returns the channel it will
// receive its result on. Must be called before the corresponding request
// is written to the transport, so that a response racing the write can
// never be missed.
func (g *responseGate) register() (<-chan gateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil {
		return nil, errAwaiterAlreadyRegistered
	}
	ch := make(chan gateResult, 1)
	g.pending = ch
	return ch, nil
}

// cancel clears ch's slot without delivering anything, if it is still the
// current awaiter. Used when the caller gives up waiting (context
// cancellation/timeout) after having registered. Idempotent and safe to
// call even if the slot was already completed or replaced.
func (g *responseGate) cancel(ch <-chan gateResult) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending != nil && sameChan(g.pending, ch) {
		g.pending = nil
	}
}

func sameChan(a chan gateResult, b <-chan gateResult) bool {
	return (<-chan gateResult)(a) == b
}

// deliver completes the current awaiter's slot with result, if one is
// registered, and reports whether delivery happened. A second call after
// the slot has already been completed (by this or any other deliver) is a
// no-op that returns false — this is what makes "deliver twice, only one
// awaiter" safe.
func (g *responseGate) deliver(result gateResult) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return false
	}
	ch := g.pending
	g.pending = nil
	ch <- result
	return true
}

// closeAwaiting completes any pending awaiter with ChannelClosed, used when
// the transport becomes inactive while a request is outstanding.
func (g *responseGate) closeAwaiting() {
	g.deliver(gateResult{err: errChannelClosed()})
}
