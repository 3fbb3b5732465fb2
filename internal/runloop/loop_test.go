package runloop

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestDoPreservesSubmissionOrder(t *testing.T) {
	l := New()
	defer l.Close()

	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		l.Do(func() { got = append(got, i) })
	}
	l.Do(func() { close(done) })
	<-done

	for i, v := range got {
		if v != i {
			t.Fatalf("call %d ran out of order: got %d", i, v)
		}
	}
}

func TestDoSyncFromLoopRunsInline(t *testing.T) {
	l := New()
	defer l.Close()

	done := make(chan struct{})
	l.Do(func() {
		// Would deadlock if DoSync queued instead of running inline.
		l.DoSync(func() {})
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DoSync from loop goroutine deadlocked")
	}
}

func TestOnLoop(t *testing.T) {
	l := New()
	defer l.Close()

	if l.OnLoop() {
		t.Fatal("test goroutine should not be the loop")
	}
	var on atomic.Bool
	l.DoSync(func() { on.Store(l.OnLoop()) })
	if !on.Load() {
		t.Fatal("loop goroutine not recognized as owner")
	}
}

func TestCloseDropsLateWork(t *testing.T) {
	l := New()
	l.Close()

	var ran atomic.Bool
	l.Do(func() { ran.Store(true) })
	l.DoSync(func() { ran.Store(true) })
	if ran.Load() {
		t.Fatal("work ran after Close")
	}
}
