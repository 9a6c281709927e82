// Package gated implements a stream operator that holds back a primary
// stream until a secondary stream signals.
//
// [SkipUntil] subscribes to a secondary ("other") publisher and discards
// every value from the primary ("source") publisher until the other
// publisher emits its first value or completes. From then on, primary
// values pass through unchanged. An error from the other publisher before
// that point is fatal; afterward it is ignored.
//
// The operator speaks the demand-controlled protocol defined by package
// [flow]. The package also provides a few simple publishers ([FromSlice],
// [FromChan], [Empty], [Never], [Fail]) and a [Collector] that bridges a
// publisher to a Go channel.
package gated

import (
	"os"
	"sync/atomic"

	"github.com/creachadair/gated/flow"
	"github.com/rs/zerolog"
)

// Type aliases for the protocol types, for convenience.
type (
	Subscription      = flow.Subscription
	Subscriber[T any] = flow.Subscriber[T]
	Publisher[T any]  = flow.Publisher[T]
)

// Hooks receive diagnostics that cannot be delivered through the data
// callbacks of a subscriber. A nil field uses the default, which logs.
type Hooks struct {
	// OnViolation is called when a publisher breaks the protocol, for
	// example by calling OnSubscribe twice. The error wraps
	// cell.ErrAlreadySet.
	OnViolation func(error)

	// OnDropped is called with an error that arrived after the downstream
	// subscriber had already received a terminal signal.
	OnDropped func(error)
}

// An Option configures an operator constructed by [SkipUntil].
type Option func(*config)

type config struct {
	log   zerolog.Logger
	hooks Hooks
}

// WithLogger sets the logger used by the default hooks.
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithHooks sets the diagnostic hooks. Nil fields in h keep their defaults.
func WithHooks(h Hooks) Option {
	return func(c *config) {
		if h.OnViolation != nil {
			c.hooks.OnViolation = h.OnViolation
		}
		if h.OnDropped != nil {
			c.hooks.OnDropped = h.OnDropped
		}
	}
}

var defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Str("component", "gated").Logger()

func newConfig(opts []Option) config {
	c := config{log: defaultLogger}
	for _, opt := range opts {
		opt(&c)
	}
	if c.hooks.OnViolation == nil {
		log := c.log
		c.hooks.OnViolation = func(err error) {
			log.Warn().Err(err).Msg("protocol violation")
		}
	}
	if c.hooks.OnDropped == nil {
		log := c.log
		c.hooks.OnDropped = func(err error) {
			log.Error().Err(err).Msg("error dropped after terminal signal")
		}
	}
	return c
}

// Stats are cumulative counters for an operator, summed over all of its
// subscriptions.
type Stats struct {
	Subscriptions int64 // downstream subscribers
	Delivered     int64 // primary values passed downstream
	Suppressed    int64 // primary values discarded while the gate was closed
	Violations    int64 // protocol violations reported
	Dropped       int64 // errors dropped after a terminal signal
}

type counters struct {
	subscriptions atomic.Int64
	delivered     atomic.Int64
	suppressed    atomic.Int64
	violations    atomic.Int64
	dropped       atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Subscriptions: c.subscriptions.Load(),
		Delivered:     c.delivered.Load(),
		Suppressed:    c.suppressed.Load(),
		Violations:    c.violations.Load(),
		Dropped:       c.dropped.Load(),
	}
}
