// Package trigger provides a one-shot condition that can be observed either
// as a channel or as a flow publisher.
package trigger

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/gated/flow"
)

type state byte

const (
	pending state = iota
	valued        // Set: one value, then completion
	completed     // Close: completion only
	failed        // Fail: error only
)

// Cond is a one-shot condition shared by multiple goroutines. It is
// inactive when created, and is activated by the first call to Set, Close,
// or Fail. Later calls have no effect. An active Cond stays active.
//
// A Cond is a [flow.Publisher]. Each subscriber receives a signal that
// reflects how the Cond was activated:
//
//   - Set delivers one value (once the subscriber has requested it),
//     followed by completion.
//   - Close delivers completion without a value.
//   - Fail delivers the error.
//
// Subscribers that arrive after activation receive the same signals.
// A zero Cond is ready for use, but must not be copied after any of its
// methods have been called.
type Cond struct {
	μ     sync.Mutex
	ch    chan struct{} // closed on activation; lazily initialized
	state state
	err   error
	subs  map[*condSub]struct{}
}

// New constructs a new inactive Cond.
func New() *Cond { return new(Cond) }

// Set activates c so that subscribers receive a value and then complete.
func (c *Cond) Set() { c.activate(valued, nil) }

// Close activates c so that subscribers complete without a value.
func (c *Cond) Close() { c.activate(completed, nil) }

// Fail activates c so that subscribers receive err.
func (c *Cond) Fail(err error) { c.activate(failed, err) }

// Ready returns a channel that is closed when c is activated. If c is
// already active, the channel is already closed.
func (c *Cond) Ready() <-chan struct{} {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.readyLocked()
}

func (c *Cond) readyLocked() chan struct{} {
	if c.ch == nil {
		c.ch = make(chan struct{})
		if c.state != pending {
			close(c.ch)
		}
	}
	return c.ch
}

func (c *Cond) activate(st state, err error) {
	c.μ.Lock()
	if c.state != pending {
		c.μ.Unlock()
		return
	}
	c.state, c.err = st, err
	if c.ch != nil {
		close(c.ch) // wake any pending waiters
	}
	subs := make([]*condSub, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = nil
	c.μ.Unlock()

	for _, s := range subs {
		s.deliver()
	}
}

func (c *Cond) snapshot() (state, error) {
	c.μ.Lock()
	defer c.μ.Unlock()
	return c.state, c.err
}

// Subscribe implements flow.Publisher.
func (c *Cond) Subscribe(dst flow.Subscriber[struct{}]) {
	s := &condSub{c: c, dst: dst}
	c.μ.Lock()
	if c.state == pending {
		if c.subs == nil {
			c.subs = make(map[*condSub]struct{})
		}
		c.subs[s] = struct{}{}
	}
	c.μ.Unlock()

	dst.OnSubscribe(s)
	s.subscribed.Store(true)
	s.deliver()
}

type condSub struct {
	c   *Cond
	dst flow.Subscriber[struct{}]

	subscribed atomic.Bool // OnSubscribe has returned
	requested  atomic.Bool
	invalid    atomic.Bool
	cancelled  atomic.Bool
	sent       atomic.Bool // the terminal signals have been delivered
}

func (s *condSub) Request(n int64) {
	if n <= 0 {
		s.invalid.Store(true)
	}
	s.requested.Store(true)
	s.deliver()
}

func (s *condSub) Cancel() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.c.μ.Lock()
		delete(s.c.subs, s)
		s.c.μ.Unlock()
	}
}

// deliver sends the signals for the state of the Cond, if it is active
// and the subscriber is ready for them. At most one call delivers.
// Nothing is delivered until OnSubscribe has returned; Subscribe then
// delivers whatever arrived in the meantime.
func (s *condSub) deliver() {
	if !s.subscribed.Load() || s.cancelled.Load() {
		return
	}
	if s.invalid.Load() {
		if s.sent.CompareAndSwap(false, true) {
			s.Cancel()
			s.dst.OnError(flow.ErrInvalidDemand)
		}
		return
	}
	st, err := s.c.snapshot()
	switch st {
	case pending:
		return
	case valued:
		if !s.requested.Load() || !s.sent.CompareAndSwap(false, true) {
			return
		}
		s.dst.OnNext(struct{}{})
		if !s.cancelled.Load() {
			s.dst.OnComplete()
		}
	case completed:
		if s.sent.CompareAndSwap(false, true) {
			s.dst.OnComplete()
		}
	case failed:
		if s.sent.CompareAndSwap(false, true) {
			s.dst.OnError(err)
		}
	}
}
