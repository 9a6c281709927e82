package gated

import (
	"sync/atomic"

	"github.com/bobg/errors"
	"github.com/creachadair/gated/cell"
	"github.com/creachadair/gated/flow"
	"github.com/creachadair/gated/serial"
)

var (
	// ErrNilSource is reported by [SkipUntil] when the primary publisher is nil.
	ErrNilSource = errors.New("nil source publisher")

	// ErrNilOther is reported by [SkipUntil] when the other publisher is nil.
	ErrNilOther = errors.New("nil other publisher")
)

// Gated is a publisher that discards values from a source publisher until
// another publisher emits a value or completes. Construct one with
// [SkipUntil]. A Gated may be subscribed to any number of times; each
// subscription subscribes afresh to both publishers.
type Gated[T, U any] struct {
	source flow.Publisher[T]
	other  flow.Publisher[U]
	cfg    config
	stats  counters
}

// SkipUntil constructs a publisher that relays values from source, but
// only after other has emitted a value or completed. Values source emits
// before then are discarded, and each is replaced by a request for one more
// value. The values of other are ignored.
//
// If other fails before it emits or completes, the error terminates the
// stream. If source fails, the error terminates the stream regardless of
// the state of other.
func SkipUntil[T, U any](source flow.Publisher[T], other flow.Publisher[U], opts ...Option) (*Gated[T, U], error) {
	if source == nil {
		return nil, ErrNilSource
	}
	if other == nil {
		return nil, ErrNilOther
	}
	return &Gated[T, U]{source: source, other: other, cfg: newConfig(opts)}, nil
}

// Prefetch reports the demand g requests from the other publisher, which
// is always flow.Unbounded.
func (g *Gated[T, U]) Prefetch() int64 { return flow.Unbounded }

// Stats returns a snapshot of the counters for g.
func (g *Gated[T, U]) Stats() Stats { return g.stats.snapshot() }

// Subscribe subscribes s to g. The other publisher is subscribed before the
// source, so a gate signal delivered synchronously is already in effect
// when the first source value arrives.
func (g *Gated[T, U]) Subscribe(s flow.Subscriber[T]) {
	g.stats.subscriptions.Add(1)
	m := &mainSubscriber[T]{cfg: &g.cfg, stats: &g.stats}
	m.actual = serial.New[T](counted[T]{Subscriber: s, n: &g.stats.delivered}, m.dropped)

	g.other.Subscribe(&otherSubscriber[T, U]{main: m})
	g.source.Subscribe(m)
}

// mainSubscriber consumes the source publisher and is the subscription
// seen by the downstream subscriber. It holds the state shared with the
// otherSubscriber.
type mainSubscriber[T any] struct {
	actual *serial.Subscriber[T]
	cfg    *config
	stats  *counters

	main  cell.Slot   // source subscription
	other cell.Slot   // other subscription
	open  atomic.Bool // set once, when other signals
}

func (m *mainSubscriber[T]) OnSubscribe(s flow.Subscription) {
	if err := m.main.Set(s); err != nil {
		m.report("source", err)
		return
	}
	m.actual.OnSubscribe(m)
}

// setOther stores the subscription for the other publisher.
func (m *mainSubscriber[T]) setOther(s flow.Subscription) bool {
	if err := m.other.Set(s); err != nil {
		m.report("other", err)
		return false
	}
	return true
}

// report passes a failed slot assignment to the violation hook, unless the
// slot was closed by our own cancellation.
func (m *mainSubscriber[T]) report(side string, err error) {
	if errors.Is(err, cell.ErrAlreadySet) {
		m.stats.violations.Add(1)
		m.cfg.hooks.OnViolation(errors.Wrapf(err, "%s publisher", side))
	}
}

func (m *mainSubscriber[T]) dropped(err error) {
	m.stats.dropped.Add(1)
	m.cfg.hooks.OnDropped(err)
}

// Request implements flow.Subscription. Demand is forwarded to the source
// only; the other publisher always has unbounded demand.
func (m *mainSubscriber[T]) Request(n int64) { m.main.Get().Request(n) }

// Cancel implements flow.Subscription. It cancels both upstream
// subscriptions, each at most once.
func (m *mainSubscriber[T]) Cancel() {
	m.main.Cancel()
	m.other.Cancel()
}

func (m *mainSubscriber[T]) OnNext(v T) {
	if m.open.Load() {
		m.actual.OnNext(v)
		return
	}
	m.stats.suppressed.Add(1)
	m.main.Get().Request(1)
}

func (m *mainSubscriber[T]) OnError(err error) {
	if m.main.CloseEmpty() {
		// The error arrived before the source subscription, so the downstream
		// has not been subscribed yet.
		m.other.Cancel()
		m.actual.OnSubscribe(flow.Cancelled)
		m.actual.OnError(err)
		return
	}
	m.Cancel()
	m.actual.OnError(err)
}

func (m *mainSubscriber[T]) OnComplete() {
	m.other.Cancel()
	m.actual.OnComplete()
}

// counted forwards signals to the downstream subscriber, counting the values
// that reach it.
type counted[T any] struct {
	flow.Subscriber[T]
	n *atomic.Int64
}

func (c counted[T]) OnNext(v T) {
	c.n.Add(1)
	c.Subscriber.OnNext(v)
}

// otherSubscriber consumes the other publisher and opens the gate on its
// first value or completion.
type otherSubscriber[T, U any] struct {
	main *mainSubscriber[T]
}

func (o *otherSubscriber[T, U]) OnSubscribe(s flow.Subscription) {
	if o.main.setOther(s) {
		s.Request(flow.Unbounded)
	}
}

func (o *otherSubscriber[T, U]) OnNext(U) {
	if o.main.open.Load() {
		return
	}
	// Whoever closes the slot opens the gate. If the slot was already closed
	// by a cancellation, the gate stays shut.
	if s, ok := o.main.other.Close(); ok {
		if s != nil {
			s.Cancel()
		}
		o.main.open.Store(true)
	}
}

func (o *otherSubscriber[T, U]) OnError(err error) {
	if o.main.open.Load() {
		return
	}
	if _, ok := o.main.other.Close(); ok {
		o.main.OnError(err)
	}
}

func (o *otherSubscriber[T, U]) OnComplete() {
	if o.main.open.Load() {
		return
	}
	if _, ok := o.main.other.Close(); ok {
		o.main.open.Store(true)
	}
}
