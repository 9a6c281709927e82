package gated_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/gated"
	"github.com/creachadair/gated/flow"
	"github.com/creachadair/gated/internal/flowtest"
	"github.com/fortytw2/leaktest"
)

func TestFromSlice(t *testing.T) {
	t.Run("Demand", func(t *testing.T) {
		rec := flowtest.NewRecorder[int](2)
		gated.Just(1, 2, 3, 4, 5).Subscribe(rec)

		if got := rec.Values(); !slices.Equal(got, []int{1, 2}) {
			t.Errorf("After Request(2): got %v, want [1 2]", got)
		}
		rec.Request(2)
		if got := rec.Values(); !slices.Equal(got, []int{1, 2, 3, 4}) {
			t.Errorf("After Request(2): got %v, want [1 2 3 4]", got)
		}
		if rec.Completed() {
			t.Error("Completed early")
		}
		rec.Request(1)
		if !rec.Completed() {
			t.Error("Did not complete")
		}
	})

	t.Run("Unbounded", func(t *testing.T) {
		rec := flowtest.NewRecorder[string](flow.Unbounded)
		gated.Just("a", "b", "c").Subscribe(rec)
		if got := rec.Values(); !slices.Equal(got, []string{"a", "b", "c"}) || !rec.Completed() {
			t.Errorf("Got %v, completed=%v; want [a b c], true", got, rec.Completed())
		}
	})

	t.Run("Empty", func(t *testing.T) {
		rec := flowtest.NewRecorder[int](0)
		gated.FromSlice[int](nil).Subscribe(rec)
		if !rec.Completed() || rec.Subscribes() != 1 {
			t.Errorf("Empty slice: completed=%v subscribes=%d", rec.Completed(), rec.Subscribes())
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		rec := flowtest.NewRecorder[int](flow.Unbounded)
		stop := flow.SubscriberFuncs[int]{
			Subscribe: rec.OnSubscribe,
			Next: func(v int) {
				rec.OnNext(v)
				if v == 2 {
					rec.Cancel()
				}
			},
			Error:    rec.OnError,
			Complete: rec.OnComplete,
		}
		gated.Just(1, 2, 3, 4).Subscribe(stop)
		if got := rec.Values(); !slices.Equal(got, []int{1, 2}) || rec.Terminals() != 0 {
			t.Errorf("Got %v, terminals=%d; want [1 2], 0", got, rec.Terminals())
		}
	})

	t.Run("InvalidDemand", func(t *testing.T) {
		rec := flowtest.NewRecorder[int](0)
		gated.Just(1, 2).Subscribe(rec)
		rec.Request(-1)
		if err := rec.Err(); !errors.Is(err, flow.ErrInvalidDemand) {
			t.Errorf("Request(-1): got %v, want %v", err, flow.ErrInvalidDemand)
		}
		if got := rec.Values(); len(got) != 0 {
			t.Errorf("Values: got %v, want none", got)
		}
	})

	t.Run("ConcurrentRequest", func(t *testing.T) {
		defer leaktest.Check(t)()

		vs := make([]int, 1000)
		for i := range vs {
			vs[i] = i
		}
		rec := flowtest.NewRecorder[int](0)
		gated.FromSlice(vs).Subscribe(rec)

		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					rec.Request(1)
				}
			}()
		}
		wg.Wait()

		if got := rec.Values(); !slices.Equal(got, vs) {
			t.Errorf("Got %d values, want %d in order", len(got), len(vs))
		}
		if !rec.Completed() || rec.Overlaps() != 0 {
			t.Errorf("Completed=%v overlaps=%d; want true, 0", rec.Completed(), rec.Overlaps())
		}
	})
}

func TestSimpleSources(t *testing.T) {
	bad := errors.New("bad")

	rec := flowtest.NewRecorder[int](1)
	gated.Empty[int]().Subscribe(rec)
	if !rec.Completed() {
		t.Error("Empty: did not complete")
	}

	rec = flowtest.NewRecorder[int](1)
	gated.Never[int]().Subscribe(rec)
	if rec.Subscribes() != 1 || rec.Terminals() != 0 {
		t.Errorf("Never: subscribes=%d terminals=%d; want 1, 0", rec.Subscribes(), rec.Terminals())
	}

	rec = flowtest.NewRecorder[int](1)
	gated.Fail[int](bad).Subscribe(rec)
	if rec.Err() != bad {
		t.Errorf("Fail: got %v, want %v", rec.Err(), bad)
	}
}

func TestFromChan(t *testing.T) {
	defer leaktest.Check(t)()

	t.Run("Values", func(t *testing.T) {
		ch := make(chan int, 3)
		ch <- 1
		ch <- 2
		ch <- 3
		close(ch)

		got, err := gated.Collect(context.Background(), gated.FromChan(context.Background(), ch))
		if err != nil || !slices.Equal(got, []int{1, 2, 3}) {
			t.Errorf("Collect: got %v, %v; want [1 2 3], nil", got, err)
		}
	})

	t.Run("Demand", func(t *testing.T) {
		ch := make(chan int, 5)
		for i := range 5 {
			ch <- i
		}
		close(ch)

		rec := flowtest.NewRecorder[int](2)
		gated.FromChan(context.Background(), ch).Subscribe(rec)

		// Only the requested values are received.
		for deadline := time.Now().Add(5 * time.Second); len(rec.Values()) < 2; {
			if time.Now().After(deadline) {
				t.Fatal("Timed out waiting for values")
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(10 * time.Millisecond)
		if got := rec.Values(); !slices.Equal(got, []int{0, 1}) {
			t.Errorf("After Request(2): got %v, want [0 1]", got)
		}
		rec.Request(flow.Unbounded)
		select {
		case <-rec.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for completion")
		}
		if got := rec.Values(); !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
			t.Errorf("After Request(max): got %v", got)
		}
	})

	t.Run("ContextEnds", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		rec := flowtest.NewRecorder[int](1)
		gated.FromChan(ctx, make(chan int)).Subscribe(rec)
		cancel()

		select {
		case <-rec.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for error")
		}
		if err := rec.Err(); !errors.Is(err, context.Canceled) {
			t.Errorf("Err: got %v, want %v", err, context.Canceled)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		ch := make(chan int)
		rec := flowtest.NewRecorder[int](1)
		gated.FromChan(context.Background(), ch).Subscribe(rec)
		rec.Cancel()
		rec.Cancel()
		// The goroutine exits without a terminal signal; leaktest checks it.
	})

	t.Run("InvalidDemand", func(t *testing.T) {
		rec := flowtest.NewRecorder[int](0)
		gated.FromChan(context.Background(), make(chan int)).Subscribe(rec)
		rec.Request(0)

		select {
		case <-rec.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("Timed out waiting for error")
		}
		if err := rec.Err(); !errors.Is(err, flow.ErrInvalidDemand) {
			t.Errorf("Err: got %v, want %v", err, flow.ErrInvalidDemand)
		}
	})
}
