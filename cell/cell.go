// Package cell implements a single-assignment holder for a flow subscription.
//
// A [Slot] is in one of three states: empty, assigned, or closed. It moves
// from empty to assigned at most once, and from either of those to closed
// at most once. A closed slot holds [flow.Cancelled], a tombstone that
// distinguishes "closed" from "never assigned".
package cell

import (
	"sync/atomic"

	"github.com/bobg/errors"
	"github.com/creachadair/gated/flow"
)

var (
	// ErrAlreadySet is reported by [Slot.Set] when the slot already holds a
	// live subscription. This indicates a protocol violation by the publisher.
	ErrAlreadySet = errors.New("subscription already set")

	// ErrClosed is reported by [Slot.Set] when the slot was closed before the
	// subscription arrived. This is the expected outcome of a cancellation
	// racing a late subscription.
	ErrClosed = errors.New("subscription slot is closed")
)

// holder boxes an interface value for storage in an atomic pointer.
type holder struct{ s flow.Subscription }

// tomb is the unique closed state shared by all slots.
var tomb = &holder{s: flow.Cancelled}

// A Slot holds at most one subscription. A zero Slot is empty and ready for
// use, but must not be copied after first use.
type Slot struct {
	p atomic.Pointer[holder]
}

// Set stores s in an empty slot and returns nil. If the slot is not empty,
// s is cancelled and Set reports ErrClosed if the slot is closed, or
// ErrAlreadySet if it holds another subscription. Set panics if s == nil.
func (c *Slot) Set(s flow.Subscription) error {
	if s == nil {
		panic("cell: nil subscription")
	}
	if c.p.CompareAndSwap(nil, &holder{s: s}) {
		return nil
	}
	s.Cancel()
	if c.p.Load() == tomb {
		return ErrClosed
	}
	return ErrAlreadySet
}

// Get returns the subscription stored in c. It returns nil if c is empty,
// and [flow.Cancelled] if c is closed.
func (c *Slot) Get() flow.Subscription {
	if h := c.p.Load(); h != nil {
		return h.s
	}
	return nil
}

// IsClosed reports whether c is closed.
func (c *Slot) IsClosed() bool { return c.p.Load() == tomb }

// Close marks c closed without cancelling its contents. It returns the live
// subscription c held (nil if c was empty) and reports whether this call
// closed the slot. Only one call to Close or Cancel on a slot reports true.
func (c *Slot) Close() (flow.Subscription, bool) {
	if c.p.Load() == tomb {
		return nil, false // fast path, already closed
	}
	old := c.p.Swap(tomb)
	if old == tomb {
		return nil, false
	}
	if old == nil {
		return nil, true
	}
	return old.s, true
}

// CloseEmpty closes c only if no subscription was ever stored in it, and
// reports whether it did so.
func (c *Slot) CloseEmpty() bool { return c.p.CompareAndSwap(nil, tomb) }

// Cancel closes c and cancels the live subscription it held, if any. It
// reports whether this call closed the slot. Cancel is safe to call
// concurrently and repeatedly; the stored subscription is cancelled at most
// once.
func (c *Slot) Cancel() bool {
	s, ok := c.Close()
	if s != nil {
		s.Cancel()
	}
	return ok
}
