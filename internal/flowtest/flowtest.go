// Package flowtest provides manually driven publishers and recording
// subscribers for testing flow operators.
package flowtest

import (
	"sync"
	"sync/atomic"

	"github.com/creachadair/gated/flow"
)

// Subscription is a flow.Subscription that records the calls made to it.
type Subscription struct {
	μ        sync.Mutex
	requests []int64
	cancels  atomic.Int32
}

// Request records a request for n values.
func (s *Subscription) Request(n int64) {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.requests = append(s.requests, n)
}

// Cancel records a cancellation.
func (s *Subscription) Cancel() { s.cancels.Add(1) }

// Requests returns a copy of the demand values requested, in order.
func (s *Subscription) Requests() []int64 {
	s.μ.Lock()
	defer s.μ.Unlock()
	return append([]int64(nil), s.requests...)
}

// Demand returns the total demand requested, saturating at flow.Unbounded.
func (s *Subscription) Demand() int64 {
	var sum int64
	for _, n := range s.Requests() {
		if sum += n; sum < 0 || n == flow.Unbounded {
			return flow.Unbounded
		}
	}
	return sum
}

// Cancels reports how many times Cancel was called.
func (s *Subscription) Cancels() int { return int(s.cancels.Load()) }

// Publisher is a flow.Publisher whose signals are driven by the test.
// A zero Publisher is ready for use.
type Publisher[T any] struct {
	// If Manual is true, Subscribe records the subscriber but does not call
	// its OnSubscribe method; the test must do so.
	Manual bool

	μ    sync.Mutex
	subs []flow.Subscriber[T]
	sess []*Subscription
}

// Subscribe records s and, unless p.Manual is set, hands it a new
// Subscription.
func (p *Publisher[T]) Subscribe(s flow.Subscriber[T]) {
	sub := new(Subscription)
	p.μ.Lock()
	p.subs = append(p.subs, s)
	p.sess = append(p.sess, sub)
	p.μ.Unlock()
	if !p.Manual {
		s.OnSubscribe(sub)
	}
}

// Subscribers reports the number of Subscribe calls made to p.
func (p *Publisher[T]) Subscribers() int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return len(p.subs)
}

// Subscriber returns the most recent subscriber to p.
// It panics if p has no subscribers.
func (p *Publisher[T]) Subscriber() flow.Subscriber[T] {
	p.μ.Lock()
	defer p.μ.Unlock()
	if len(p.subs) == 0 {
		panic("flowtest: publisher has no subscribers")
	}
	return p.subs[len(p.subs)-1]
}

// Subscription returns the subscription created for the most recent
// subscriber to p. It panics if p has no subscribers.
func (p *Publisher[T]) Subscription() *Subscription {
	p.μ.Lock()
	defer p.μ.Unlock()
	if len(p.sess) == 0 {
		panic("flowtest: publisher has no subscribers")
	}
	return p.sess[len(p.sess)-1]
}

// Next delivers v to the most recent subscriber.
func (p *Publisher[T]) Next(v T) { p.Subscriber().OnNext(v) }

// Error delivers err to the most recent subscriber.
func (p *Publisher[T]) Error(err error) { p.Subscriber().OnError(err) }

// Complete delivers completion to the most recent subscriber.
func (p *Publisher[T]) Complete() { p.Subscriber().OnComplete() }

// Recorder is a flow.Subscriber that records every signal it receives, and
// counts signals that violate the protocol or that overlap in time.
type Recorder[T any] struct {
	// Initial is the demand requested when the subscription arrives.
	// Zero means no initial request.
	Initial int64

	active   atomic.Int32
	overlaps atomic.Int32

	μ          sync.Mutex
	sub        flow.Subscription
	subscribes int
	values     []T
	err        error
	completed  bool
	terminals  int
	late       int // signals after a terminal
	done       chan struct{}
}

// NewRecorder constructs a Recorder that requests initial values on
// subscription.
func NewRecorder[T any](initial int64) *Recorder[T] {
	return &Recorder[T]{Initial: initial}
}

func (r *Recorder[T]) enter() func() {
	if r.active.Add(1) > 1 {
		r.overlaps.Add(1)
	}
	return func() { r.active.Add(-1) }
}

func (r *Recorder[T]) doneLocked() chan struct{} {
	if r.done == nil {
		r.done = make(chan struct{})
	}
	return r.done
}

// OnSubscribe implements flow.Subscriber.
func (r *Recorder[T]) OnSubscribe(s flow.Subscription) {
	exit := r.enter()
	r.μ.Lock()
	r.subscribes++
	if r.sub == nil {
		r.sub = s
	}
	r.μ.Unlock()
	exit() // N.B. before requesting, which may deliver values synchronously

	if r.Initial > 0 {
		s.Request(r.Initial)
	}
}

// OnNext implements flow.Subscriber.
func (r *Recorder[T]) OnNext(v T) {
	defer r.enter()()
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.terminals > 0 {
		r.late++
		return
	}
	r.values = append(r.values, v)
}

// OnError implements flow.Subscriber.
func (r *Recorder[T]) OnError(err error) {
	defer r.enter()()
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.terminals > 0 {
		r.late++
		return
	}
	r.terminals++
	r.err = err
	close(r.doneLocked())
}

// OnComplete implements flow.Subscriber.
func (r *Recorder[T]) OnComplete() {
	defer r.enter()()
	r.μ.Lock()
	defer r.μ.Unlock()
	if r.terminals > 0 {
		r.late++
		return
	}
	r.terminals++
	r.completed = true
	close(r.doneLocked())
}

// Request requests n more values on the recorded subscription.
func (r *Recorder[T]) Request(n int64) { r.Subscription().Request(n) }

// Cancel cancels the recorded subscription.
func (r *Recorder[T]) Cancel() { r.Subscription().Cancel() }

// Subscription returns the first subscription delivered to r, or nil.
func (r *Recorder[T]) Subscription() flow.Subscription {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.sub
}

// Values returns a copy of the values received.
func (r *Recorder[T]) Values() []T {
	r.μ.Lock()
	defer r.μ.Unlock()
	return append([]T(nil), r.values...)
}

// Err returns the error received, or nil.
func (r *Recorder[T]) Err() error {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.err
}

// Completed reports whether OnComplete was received.
func (r *Recorder[T]) Completed() bool {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.completed
}

// Done returns a channel that is closed when r receives a terminal signal.
func (r *Recorder[T]) Done() <-chan struct{} {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.doneLocked()
}

// Subscribes reports how many times OnSubscribe was called.
func (r *Recorder[T]) Subscribes() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.subscribes
}

// Terminals reports how many terminal signals were accepted. It is at most 1.
func (r *Recorder[T]) Terminals() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.terminals
}

// Late reports how many signals arrived after a terminal signal.
func (r *Recorder[T]) Late() int {
	r.μ.Lock()
	defer r.μ.Unlock()
	return r.late
}

// Overlaps reports how many signals were delivered while another signal was
// still being handled.
func (r *Recorder[T]) Overlaps() int { return int(r.overlaps.Load()) }
