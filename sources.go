package gated

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/creachadair/gated/flow"
)

// FromSlice returns a publisher that emits the elements of vs in order to
// each subscriber, as demand permits, and then completes. Values are
// emitted on the goroutine that calls Request.
func FromSlice[T any](vs []T) flow.Publisher[T] {
	return flow.PublisherFunc[T](func(s flow.Subscriber[T]) {
		if len(vs) == 0 {
			s.OnSubscribe(flow.Cancelled)
			s.OnComplete()
			return
		}
		s.OnSubscribe(&sliceSub[T]{dst: s, vs: vs})
	})
}

// Just returns a publisher that emits vs in order and then completes.
func Just[T any](vs ...T) flow.Publisher[T] { return FromSlice(vs) }

// Empty returns a publisher that completes at once without emitting.
func Empty[T any]() flow.Publisher[T] {
	return flow.PublisherFunc[T](func(s flow.Subscriber[T]) {
		s.OnSubscribe(flow.Cancelled)
		s.OnComplete()
	})
}

// Never returns a publisher that never signals after OnSubscribe.
func Never[T any]() flow.Publisher[T] {
	return flow.PublisherFunc[T](func(s flow.Subscriber[T]) {
		s.OnSubscribe(flow.Cancelled)
	})
}

// Fail returns a publisher that fails at once with err.
func Fail[T any](err error) flow.Publisher[T] {
	return flow.PublisherFunc[T](func(s flow.Subscriber[T]) {
		s.OnSubscribe(flow.Cancelled)
		s.OnError(err)
	})
}

type sliceSub[T any] struct {
	dst flow.Subscriber[T]
	vs  []T
	pos int // owned by the emitting goroutine

	requested atomic.Int64
	cancelled atomic.Bool
	invalid   atomic.Bool
}

func (s *sliceSub[T]) Request(n int64) {
	if n <= 0 {
		s.invalid.Store(true)
		n = 1 // wake the emitter to report the error
	}
	if flow.AddDemand(&s.requested, n) == 0 {
		s.emit()
	}
}

func (s *sliceSub[T]) Cancel() { s.cancelled.Store(true) }

// emit delivers values while demand is outstanding. Only the goroutine
// that raised demand from zero runs emit; other requests only add to the
// counter, which emit re-checks before returning.
func (s *sliceSub[T]) emit() {
	var sent int64
	want := s.requested.Load()
	for {
		for sent != want && s.pos < len(s.vs) {
			if s.cancelled.Load() {
				return
			}
			if s.invalid.Load() {
				s.cancelled.Store(true)
				s.dst.OnError(flow.ErrInvalidDemand)
				return
			}
			s.dst.OnNext(s.vs[s.pos])
			s.pos++
			if want != flow.Unbounded {
				sent++
			}
		}
		if s.cancelled.Load() {
			return
		}
		if s.pos == len(s.vs) {
			s.cancelled.Store(true)
			s.dst.OnComplete()
			return
		}
		if want = s.requested.Load(); want == sent {
			if want = s.requested.Add(-sent); want == 0 {
				return
			}
			sent = 0
		}
	}
}

// FromChan returns a publisher that relays values received from ch to each
// subscriber, as demand permits, and completes when ch is closed. Each
// subscription runs a goroutine that receives from ch, so concurrent
// subscribers share the values of ch between them.
//
// If ctx ends before ch is closed, subscribers receive the context error.
// The goroutine exits when ch closes, ctx ends, or the subscription is
// cancelled.
func FromChan[T any](ctx context.Context, ch <-chan T) flow.Publisher[T] {
	return flow.PublisherFunc[T](func(s flow.Subscriber[T]) {
		sub := &chanSub[T]{wake: newRelay(), stop: make(chan struct{})}
		s.OnSubscribe(sub)
		go sub.run(ctx, ch, s)
	})
}

type chanSub[T any] struct {
	requested atomic.Int64
	invalid   atomic.Bool
	wake      relay

	stopOnce sync.Once
	stop     chan struct{}
}

func (c *chanSub[T]) Request(n int64) {
	if n <= 0 {
		c.invalid.Store(true)
	} else {
		flow.AddDemand(&c.requested, n)
	}
	c.wake.set()
}

func (c *chanSub[T]) Cancel() { c.stopOnce.Do(func() { close(c.stop) }) }

func (c *chanSub[T]) run(ctx context.Context, ch <-chan T, dst flow.Subscriber[T]) {
	defer c.Cancel()
	for {
		for c.requested.Load() == 0 && !c.invalid.Load() {
			select {
			case <-c.stop:
				return
			case <-ctx.Done():
				dst.OnError(ctx.Err())
				return
			case <-c.wake.ready():
			}
		}
		if c.invalid.Load() {
			dst.OnError(flow.ErrInvalidDemand)
			return
		}

		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			dst.OnError(ctx.Err())
			return
		case v, ok := <-ch:
			if !ok {
				dst.OnComplete()
				return
			}
			if c.requested.Load() != flow.Unbounded {
				c.requested.Add(-1)
			}
			dst.OnNext(v)
		}
	}
}
