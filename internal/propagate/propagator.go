// Package propagate routes committed entity changes onto the owner loop
// and translates them into graph-node updates. One pump goroutine per
// watched node keeps per-entity commit order intact all the way to the
// audio graph.
package propagate

import (
	"log/slog"
	"sync"

	"looptree/internal/entity"
	"looptree/internal/graph"
	"looptree/internal/runloop"
)

type Propagator struct {
	store entity.Store
	loop  *runloop.Loop
	log   *slog.Logger
	wg    sync.WaitGroup
}

func New(store entity.Store, loop *runloop.Loop, log *slog.Logger) *Propagator {
	return &Propagator{store: store, loop: loop, log: log}
}

// Watch subscribes n to its entity's change stream. The returned cancel
// func is idempotent and safe to call from the owner loop.
func (p *Propagator) Watch(n *graph.Node) func() {
	sub := p.store.Observe(n.ID())
	done := make(chan struct{})
	p.wg.Add(1)
	go p.pump(n, sub, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Cancel()
			close(done)
		})
	}
}

// Close waits for all pump goroutines to exit. Cancel every watch (by
// destroying the nodes) before calling it.
func (p *Propagator) Close() {
	p.wg.Wait()
}

func (p *Propagator) pump(n *graph.Node, sub *entity.Subscription, done <-chan struct{}) {
	defer p.wg.Done()
	for {
		select {
		case c := <-sub.C:
			p.loop.Do(func() { p.apply(n, c) })
		case <-done:
			return
		}
	}
}

// apply maps one committed change onto the node. Structural changes are
// handled before parameter writes: a kind or child-list change stops the
// subtree and rebuilds it without resuming, an offset change re-aims the
// scheduler and resumes if the node was playing, and parameter fields
// write straight into the running stages. A change that was already in
// flight when the node was destroyed is dropped.
func (p *Propagator) apply(n *graph.Node, c entity.Change) {
	if n.Destroyed() {
		return
	}
	if c.Has(entity.FieldKind, entity.FieldChildren) {
		n.Stop()
		if err := n.RebuildChildren(c.Snapshot); err != nil {
			p.log.Error("rebuild after structural change failed",
				"entity", n.ID(), "err", err)
		}
	} else if c.Has(entity.FieldStartOffset, entity.FieldStopOffset) {
		if err := n.Reconfigure(c.Snapshot.StartOffset, c.Snapshot.StopOffset); err != nil {
			p.log.Error("offset change rejected", "entity", n.ID(), "err", err)
		}
	}

	if c.Has(entity.FieldVolume) {
		n.ApplyVolume(c.Snapshot.Volume)
	}
	if c.Has(entity.FieldPitchShift) {
		n.ApplyPitch(c.Snapshot.PitchShift)
	}
	if c.Has(entity.FieldPlaybackRate) {
		n.ApplyRate(c.Snapshot.PlaybackRate)
	}
}
