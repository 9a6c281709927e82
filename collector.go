package gated

import (
	"context"
	"sync"

	"github.com/bobg/errors"
	"github.com/creachadair/gated/cell"
	"github.com/creachadair/gated/flow"
)

// ErrClosed is the sentinel error reported by a collector that is closed
// before its publisher terminated.
var ErrClosed = errors.New("collector is closed")

// A Collector is a subscriber that delivers the values of a publisher to a
// Go channel. It requests one value at a time, so a publisher is never
// ahead of the reader by more than one value.
//
// Construct a Collector with [NewCollector], subscribe it to a publisher,
// and receive from [Collector.Recv] until it is closed. Then [Collector.Err]
// reports why the stream ended.
//
// OnNext blocks until the reader receives the value, so a publisher that
// emits on the goroutine that subscribes must be subscribed from a
// goroutine other than the reader's.
type Collector[T any] struct {
	sub cell.Slot

	// μ protects the fields below:
	// Lock μ shared to send to ch.
	// Lock μ exclusively to close ch or modify any field.
	μ    sync.RWMutex
	ch   chan T        // delivers values to the receiver
	done chan struct{} // closed when the collector is closed by its reader
	err  error         // the terminal error, if any
	end  bool          // ch has been closed
}

// NewCollector creates a new collector with the specified channel buffer
// capacity. If cap == 0, the collector is unbuffered.
func NewCollector[T any](cap int) *Collector[T] {
	return &Collector[T]{ch: make(chan T, cap), done: make(chan struct{})}
}

// Recv returns a channel to which received values are delivered. The
// channel is closed when the publisher terminates or c is closed.
func (c *Collector[T]) Recv() <-chan T { return c.ch }

// Err reports the error that ended the stream: nil if the publisher
// completed, the publisher's error if it failed, or ErrClosed if c was
// closed first. Err is meaningful once the channel from Recv is closed.
func (c *Collector[T]) Err() error {
	c.μ.RLock()
	defer c.μ.RUnlock()
	return c.err
}

// OnSubscribe implements flow.Subscriber.
func (c *Collector[T]) OnSubscribe(s flow.Subscription) {
	if c.sub.Set(s) == nil {
		s.Request(1)
	}
}

// OnNext implements flow.Subscriber. It blocks until the value is received
// or c is closed.
func (c *Collector[T]) OnNext(v T) {
	c.μ.RLock()
	if c.end {
		c.μ.RUnlock()
		return
	}
	select {
	case <-c.done:
		c.μ.RUnlock()
		return
	case c.ch <- v:
	}
	c.μ.RUnlock()
	c.sub.Get().Request(1)
}

// OnError implements flow.Subscriber.
func (c *Collector[T]) OnError(err error) { c.finish(err) }

// OnComplete implements flow.Subscriber.
func (c *Collector[T]) OnComplete() { c.finish(nil) }

// Close cancels the subscription and closes the receiver channel. If the
// stream already ended, Close reports ErrClosed. Close can be called
// repeatedly, but from at most one goroutine at a time.
func (c *Collector[T]) Close() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
		close(c.done)
		c.sub.Cancel()
		if !c.finish(ErrClosed) {
			return ErrClosed
		}
		return nil
	}
}

// finish records err and closes the receiver channel, and reports whether
// it did so.
func (c *Collector[T]) finish(err error) bool {
	c.sub.Close()

	c.μ.Lock()
	defer c.μ.Unlock()
	if c.end {
		return false
	}
	c.end = true
	c.err = err
	close(c.ch)
	return true
}

// Collect subscribes to p and returns all the values it emits. It returns
// when p terminates or ctx ends; in the latter case the subscription is
// cancelled and Collect reports the values received so far along with the
// context error.
func Collect[T any](ctx context.Context, p flow.Publisher[T]) ([]T, error) {
	c := NewCollector[T](0)
	go p.Subscribe(c) // a synchronous publisher emits while subscribing

	var out []T
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return out, ctx.Err()
		case v, ok := <-c.Recv():
			if !ok {
				return out, c.Err()
			}
			out = append(out, v)
		}
	}
}
