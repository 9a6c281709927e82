package gated

// A relay is a level-triggered wakeup shared by one waiting goroutine and
// any number of notifiers. A notifier calls set to post a wakeup, and the
// waiter receives from ready to consume it.
//
// Posting does not block: once a wakeup is pending, further posts are
// discarded until the waiter consumes it. Thus a post made between the
// waiter's last check of its condition and its receive is never lost.
type relay struct {
	ch chan struct{}
}

func newRelay() relay { return relay{ch: make(chan struct{}, 1)} }

// set posts a wakeup, and reports whether it was buffered (true) or
// discarded because one was already pending (false).
func (r relay) set() bool {
	select {
	case r.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// ready returns a channel that delivers a pending wakeup.
func (r relay) ready() <-chan struct{} { return r.ch }
