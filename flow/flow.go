// Package flow defines the push-based, demand-controlled stream protocol
// shared by the publishers and subscribers in this module.
//
// A [Subscriber] receives at most one OnSubscribe, then zero or more OnNext
// calls, then at most one of OnError or OnComplete. No signal follows a
// terminal one. A subscriber pulls values by calling Request on the
// [Subscription] it was given, and stops the flow with Cancel.
package flow

import (
	"math"
	"sync/atomic"

	"github.com/bobg/errors"
)

// Unbounded is the largest demand a subscriber can request. Demand that
// reaches Unbounded is never decremented.
const Unbounded int64 = math.MaxInt64

// ErrInvalidDemand is signalled by a publisher whose subscriber requested a
// non-positive number of values.
var ErrInvalidDemand = errors.New("demand must be positive")

// A Subscription links one subscriber to one publisher.
//
// Request adds n to the outstanding demand; n must be positive. Cancel asks
// the publisher to stop sending signals. Both methods may be called
// concurrently from any goroutine, and Cancel may be called repeatedly.
type Subscription interface {
	Request(n int64)
	Cancel()
}

// A Subscriber consumes the signals of a single subscription.
type Subscriber[T any] interface {
	OnSubscribe(Subscription)
	OnNext(T)
	OnError(error)
	OnComplete()
}

// A Publisher produces a stream of values to each subscriber that
// subscribes to it.
type Publisher[T any] interface {
	Subscribe(Subscriber[T])
}

// PublisherFunc adapts a function to the [Publisher] interface.
type PublisherFunc[T any] func(Subscriber[T])

// Subscribe calls f(s).
func (f PublisherFunc[T]) Subscribe(s Subscriber[T]) { f(s) }

// Cancelled is a stateless Subscription whose methods do nothing. It marks
// a subscription slot that has been permanently closed, and is handed to
// subscribers that must be terminated before a real subscription exists.
var Cancelled Subscription = cancelled{}

type cancelled struct{}

func (cancelled) Request(int64) {}
func (cancelled) Cancel()       {}

// SubscriberFuncs adapts a set of callbacks to the [Subscriber] interface.
// Nil callbacks are ignored, except that a nil Subscribe requests
// [Unbounded] demand as soon as the subscription arrives.
type SubscriberFuncs[T any] struct {
	Subscribe func(Subscription)
	Next      func(T)
	Error     func(error)
	Complete  func()
}

func (f SubscriberFuncs[T]) OnSubscribe(s Subscription) {
	if f.Subscribe == nil {
		s.Request(Unbounded)
		return
	}
	f.Subscribe(s)
}

func (f SubscriberFuncs[T]) OnNext(v T) {
	if f.Next != nil {
		f.Next(v)
	}
}

func (f SubscriberFuncs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

func (f SubscriberFuncs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// AddDemand atomically adds n to the demand counter v and returns the
// previous value. The counter saturates at [Unbounded].
func AddDemand(v *atomic.Int64, n int64) int64 {
	for {
		old := v.Load()
		if old == Unbounded {
			return old
		}
		sum := old + n
		if sum < 0 {
			sum = Unbounded
		}
		if v.CompareAndSwap(old, sum) {
			return old
		}
	}
}
