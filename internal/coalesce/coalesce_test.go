package coalesce

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/wudi/routelookup/internal/lookup"
)

func TestConcurrentCallsShareOneExecution(t *testing.T) {
	var g Group
	var calls atomic.Int32
	release := make(chan struct{})

	const n = 10
	outs := make([]<-chan Outcome, n)
	var start sync.WaitGroup
	start.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer start.Done()
			outs[i] = g.DoChan("key", func() (*lookup.Result, error) {
				calls.Add(1)
				<-release
				return &lookup.Result{Target: "b1"}, nil
			})
		}(i)
	}
	start.Wait()
	close(release)

	for i := 0; i < n; i++ {
		out := <-outs[i]
		if out.Err != nil {
			t.Fatalf("caller %d: %v", i, out.Err)
		}
		if out.Res.Target != "b1" {
			t.Fatalf("caller %d: target %q", i, out.Res.Target)
		}
		if !out.Shared {
			t.Errorf("caller %d: outcome not marked shared", i)
		}
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("fn ran %d times, want 1", got)
	}

	st := g.Stats()
	if st.Started != 1 || st.Coalesced != int64(n-1) {
		t.Errorf("Stats() = %+v, want 1 started, %d coalesced", st, n-1)
	}
}

func TestDistinctKeysDoNotCoalesce(t *testing.T) {
	var g Group
	var calls atomic.Int32

	a := g.DoChan("a", func() (*lookup.Result, error) {
		calls.Add(1)
		return &lookup.Result{Target: "ta"}, nil
	})
	b := g.DoChan("b", func() (*lookup.Result, error) {
		calls.Add(1)
		return &lookup.Result{Target: "tb"}, nil
	})

	if out := <-a; out.Res.Target != "ta" {
		t.Errorf("a: %+v", out)
	}
	if out := <-b; out.Res.Target != "tb" {
		t.Errorf("b: %+v", out)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("fn ran %d times, want 2", got)
	}
}

func TestErrorFansOutToAllWaiters(t *testing.T) {
	var g Group
	boom := errors.New("boom")
	release := make(chan struct{})

	first := g.DoChan("key", func() (*lookup.Result, error) {
		<-release
		return nil, boom
	})
	second := g.DoChan("key", func() (*lookup.Result, error) {
		t.Error("second fn must not run")
		return nil, nil
	})
	close(release)

	for _, ch := range []<-chan Outcome{first, second} {
		out := <-ch
		if !errors.Is(out.Err, boom) {
			t.Errorf("Err = %v, want %v", out.Err, boom)
		}
		if out.Res != nil {
			t.Errorf("Res = %+v, want nil", out.Res)
		}
	}
}

func TestAbandonedChannelDoesNotBlockResult(t *testing.T) {
	var g Group
	done := make(chan struct{})

	g.DoChan("key", func() (*lookup.Result, error) {
		defer close(done)
		return &lookup.Result{Target: "b1"}, nil
	})

	// Nobody reads the returned channel; the buffered send must not stall
	// the executing goroutine.
	<-done
}
