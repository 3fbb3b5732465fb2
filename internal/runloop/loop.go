// Package runloop provides the serial executor that owns the audio graph.
// Every structural graph mutation (node construction, teardown, rebuild,
// voice switching) is marshalled onto a single Loop so the render thread
// and mutation threads never race on graph topology.
package runloop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

type Loop struct {
	calls chan func()
	gid   int64
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New starts the loop goroutine and returns immediately.
func New() *Loop {
	l := &Loop{calls: make(chan func(), 256)}
	ready := make(chan struct{})
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.gid = currentGID()
		close(ready)
		for fn := range l.calls {
			fn()
		}
	}()
	<-ready
	return l
}

// Do queues fn for execution on the loop, preserving submission order per
// caller. If called from the loop goroutine itself, fn runs inline so loop
// code can reuse helpers that marshal.
func (l *Loop) Do(fn func()) {
	if l.OnLoop() {
		fn()
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.calls <- fn
	l.mu.Unlock()
}

// DoSync runs fn on the loop and waits for it to finish.
func (l *Loop) DoSync(fn func()) {
	if l.OnLoop() {
		fn()
		return
	}
	done := make(chan struct{})
	l.Do(func() {
		fn()
		close(done)
	})
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}
	<-done
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (l *Loop) OnLoop() bool {
	return currentGID() == l.gid
}

// MustOwn panics unless the caller is on the loop goroutine. Graph code
// uses it to reject off-thread structural mutation early instead of
// corrupting the node tree.
func (l *Loop) MustOwn() {
	if !l.OnLoop() {
		panic("runloop: graph mutated off the owner loop")
	}
}

// Close drains pending calls and stops the loop. Queued work submitted
// before Close still runs; later submissions are dropped.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.calls)
	l.mu.Unlock()
	l.wg.Wait()
}

var gidPrefix = []byte("goroutine ")

// currentGID parses the goroutine id from a stack header. Only used on
// control paths (ownership checks, loop startup), never per sample.
func currentGID() int64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, gidPrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		if id, err := strconv.ParseInt(string(buf[:i]), 10, 64); err == nil {
			return id
		}
	}
	return -1
}
