// Package serial provides a subscriber wrapper that serializes signals
// arriving from multiple goroutines.
package serial

import (
	"sync/atomic"

	"github.com/creachadair/gated/flow"
	"github.com/creachadair/mds/queue"
)

type kind byte

const (
	next kind = iota
	fail
	complete
)

type signal[T any] struct {
	kind  kind
	value T
	err   error
}

// A Subscriber forwards signals to a destination subscriber so that at most
// one goroutine is inside a destination callback at a time.
//
// Signals are pushed onto a lock-free inbox, and a work-in-progress counter
// elects an emitter: the goroutine that moves the counter off zero drains
// the inbox, delivering signals in the order each sender sent them, and
// keeps draining until the counter returns to zero. Any other goroutine
// pushes its signal and returns at once without waiting for delivery.
//
// Signals that arrive before OnSubscribe has returned are held in the
// inbox and delivered after it, so the destination always sees its
// subscription first. OnSubscribe must be called at most once.
//
// Once a terminal signal (OnError or OnComplete) has been accepted, all
// later signals are discarded. A discarded error is passed to the dropped
// callback, if one was provided.
type Subscriber[T any] struct {
	dst     flow.Subscriber[T]
	dropped func(error) // may be nil

	inbox atomic.Pointer[node[T]] // pending signals, newest first
	wip   atomic.Int64            // pushes not yet drained, plus one until subscribed
	done  atomic.Bool             // a terminal signal has been accepted

	// Owned by the emitter.
	q        *queue.Queue[signal[T]]
	finished bool // a terminal signal has been delivered
}

type node[T any] struct {
	sig  signal[T]
	next *node[T]
}

// New constructs a Subscriber that delivers to dst. If dropped != nil, it is
// called with each error that arrives after a terminal signal.
func New[T any](dst flow.Subscriber[T], dropped func(error)) *Subscriber[T] {
	s := &Subscriber[T]{dst: dst, dropped: dropped, q: queue.New[signal[T]]()}
	s.wip.Store(1) // released by OnSubscribe
	return s
}

// OnSubscribe passes sub to the destination directly, then delivers any
// signals that arrived while it was in progress.
func (s *Subscriber[T]) OnSubscribe(sub flow.Subscription) {
	s.dst.OnSubscribe(sub)
	s.drain()
}

// OnNext enqueues v for delivery.
func (s *Subscriber[T]) OnNext(v T) {
	if !s.done.Load() {
		s.emit(signal[T]{kind: next, value: v})
	}
}

// OnError enqueues err as the terminal signal, unless a terminal signal was
// already accepted.
func (s *Subscriber[T]) OnError(err error) {
	if !s.done.CompareAndSwap(false, true) {
		if s.dropped != nil {
			s.dropped(err)
		}
		return
	}
	s.emit(signal[T]{kind: fail, err: err})
}

// OnComplete enqueues completion as the terminal signal, unless a terminal
// signal was already accepted.
func (s *Subscriber[T]) OnComplete() {
	if s.done.CompareAndSwap(false, true) {
		s.emit(signal[T]{kind: complete})
	}
}

// Terminated reports whether s has accepted a terminal signal. The signal
// may not yet have been delivered.
func (s *Subscriber[T]) Terminated() bool { return s.done.Load() }

// emit pushes sig onto the inbox and drains it if no other goroutine is
// doing so.
func (s *Subscriber[T]) emit(sig signal[T]) {
	n := &node[T]{sig: sig}
	for {
		n.next = s.inbox.Load()
		if s.inbox.CompareAndSwap(n.next, n) {
			break
		}
	}
	if s.wip.Add(1) == 1 {
		s.drain()
	}
}

// drain delivers the contents of the inbox until no work remains. The
// caller must hold the emitter role, which accounts for one unit of wip.
func (s *Subscriber[T]) drain() {
	missed := int64(1)
	for {
		s.takeInbox()
		for {
			sig, ok := s.q.Pop()
			if !ok {
				break
			}
			s.deliver(sig)
		}
		missed = s.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

// takeInbox moves the inbox onto the emitter's queue, oldest first.
func (s *Subscriber[T]) takeInbox() {
	var rev *node[T]
	for n := s.inbox.Swap(nil); n != nil; {
		next := n.next
		n.next = rev
		rev, n = n, next
	}
	for ; rev != nil; rev = rev.next {
		s.q.Add(rev.sig)
	}
}

func (s *Subscriber[T]) deliver(sig signal[T]) {
	if s.finished {
		return // a value that raced with the terminal signal
	}
	switch sig.kind {
	case next:
		s.dst.OnNext(sig.value)
	case fail:
		s.finished = true
		s.dst.OnError(sig.err)
	case complete:
		s.finished = true
		s.dst.OnComplete()
	}
}
