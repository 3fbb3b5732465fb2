// Package graph builds and drives the per-entity render chains. A node
// wraps a varispeed and pitch stage around either a segment scheduler
// (leaf) or a mixing stage fanning into child nodes (composite). All
// structural mutation happens on the owner loop; the render thread only
// ever calls Process.
package graph

import (
	"errors"
	"fmt"
	"log/slog"

	"looptree/internal/entity"
	"looptree/internal/runloop"
	"looptree/internal/sched"
	"looptree/internal/source"
)

// Builder constructs nodes from entity snapshots. Built and Watch are
// installed by the registry and the change propagator before the first
// Build call.
type Builder struct {
	Store      entity.Store
	Clips      source.Loader
	SampleRate int
	Loop       *runloop.Loop
	Log        *slog.Logger

	// Built is called for every node the builder creates, including
	// children of composites. Destroyed is its inverse.
	Built     func(*Node)
	Destroyed func(*Node)
	// Watch subscribes a node to its entity's changes and returns a
	// cancel func.
	Watch func(*Node) func()
}

// voice is the playable half of a node: a scheduler for a leaf, a set
// of child nodes behind a mixer for a composite.
type voice interface {
	play() error
	stop()
	playing() bool
	position() float64
	duration() float64
	setRange(start, stop float64) error
	upstream() renderer
	teardown()
}

// Node is the ephemeral render-side counterpart of one entity.
type Node struct {
	id entity.ID
	b  *Builder

	vs  *varispeed
	ps  *pitchShift
	out *gainStage

	v       voice
	cancelW func()

	// destroyed is loop-confined. Change pumps check it so a
	// notification already in flight when the node dies is dropped
	// instead of resurrecting the subtree.
	destroyed bool
}

// Build creates the node for id, recursively building children for
// composites. A missing entity is an error; an unreadable source clip
// degrades the node to silence instead (Play reports the failure, the
// rest of the tree keeps working).
func (b *Builder) Build(id entity.ID) (*Node, error) {
	b.Loop.MustOwn()
	snap, ok := b.Store.Get(id)
	if !ok {
		return nil, fmt.Errorf("build node: %w (%s)", entity.ErrNotFound, id)
	}

	n := &Node{id: id, b: b}
	n.vs = newVarispeed()
	n.ps = newPitchShift(b.SampleRate, n.vs)
	n.out = newGainStage(n.ps, float32(snap.Volume))
	n.ps.SetCents(snap.PitchShift)
	n.vs.SetRate(snap.PlaybackRate)

	if err := n.buildVoice(snap); err != nil {
		return nil, err
	}
	if b.Built != nil {
		b.Built(n)
	}
	if b.Watch != nil {
		n.cancelW = b.Watch(n)
	}
	return n, nil
}

func (n *Node) buildVoice(snap entity.Snapshot) error {
	switch snap.Kind {
	case entity.KindLeaf:
		clip, err := n.b.Clips.Load(snap.SourceRef)
		if err == nil {
			var s *sched.Scheduler
			s, err = sched.New(clip, snap.StartOffset, snap.StopOffset)
			if err == nil {
				n.v = &leafVoice{s: s}
				break
			}
		}
		n.b.Log.Error("leaf source unavailable, rendering silence",
			"entity", snap.ID, "source", snap.SourceRef, "err", err)
		n.v = &deadVoice{err: fmt.Errorf("entity %s: %w", snap.ID, err)}

	case entity.KindComposite:
		ids := n.b.Store.Children(snap.ID)
		cv := &compositeVoice{mix: newMixStage()}
		for _, cid := range ids {
			child, err := n.b.Build(cid)
			if err != nil {
				cv.teardown()
				return err
			}
			cv.nodes = append(cv.nodes, child)
		}
		rs := make([]renderer, len(cv.nodes))
		for i, c := range cv.nodes {
			rs[i] = c.out
		}
		cv.mix.SetChildren(rs)
		n.v = cv

	default:
		return fmt.Errorf("entity %s: unknown kind %v", snap.ID, snap.Kind)
	}

	n.vs.SetSource(n.v.upstream())
	return nil
}

// Process renders one block. Called from the render thread only.
func (n *Node) Process(dst []float32) { n.out.Process(dst) }

func (n *Node) ID() entity.ID { return n.id }

func (n *Node) Play() error {
	n.b.Loop.MustOwn()
	return n.v.play()
}

func (n *Node) Stop() {
	n.b.Loop.MustOwn()
	n.v.stop()
}

func (n *Node) Playing() bool {
	n.b.Loop.MustOwn()
	return n.v.playing()
}

// Position is the render-clock offset into the node's segment.
func (n *Node) Position() float64 {
	n.b.Loop.MustOwn()
	return n.v.position()
}

func (n *Node) Duration() float64 {
	n.b.Loop.MustOwn()
	return n.v.duration()
}

func (n *Node) ApplyVolume(v float64)  { n.out.SetGain(float32(v)) }
func (n *Node) ApplyPitch(c float64)   { n.ps.SetCents(c) }
func (n *Node) ApplyRate(rate float64) { n.vs.SetRate(rate) }

// Reconfigure re-aims the scheduler at a new offset range. A playing
// node is stopped first so no callback fires against the stale range,
// then resumed against the new one.
func (n *Node) Reconfigure(start, stop float64) error {
	n.b.Loop.MustOwn()
	wasPlaying := n.v.playing()
	n.v.stop()
	if err := n.v.setRange(start, stop); err != nil {
		return err
	}
	if wasPlaying {
		return n.v.play()
	}
	return nil
}

// RebuildChildren replaces the node's voice to match snap, covering
// both child-list changes and a Leaf/Composite kind flip. The node is
// stopped and does not resume.
func (n *Node) RebuildChildren(snap entity.Snapshot) error {
	n.b.Loop.MustOwn()
	n.v.stop()
	n.vs.SetSource(nil)
	n.v.teardown()
	return n.buildVoice(snap)
}

// Destroyed reports whether Destroy has run. Owner loop only.
func (n *Node) Destroyed() bool {
	n.b.Loop.MustOwn()
	return n.destroyed
}

// Destroy stops the node, unsubscribes it, and tears down its subtree.
// Calling it again is a no-op.
func (n *Node) Destroy() {
	n.b.Loop.MustOwn()
	if n.destroyed {
		return
	}
	n.destroyed = true
	n.v.stop()
	if n.cancelW != nil {
		n.cancelW()
		n.cancelW = nil
	}
	n.vs.SetSource(nil)
	n.v.teardown()
	if n.b.Destroyed != nil {
		n.b.Destroyed(n)
	}
}

type leafVoice struct {
	s *sched.Scheduler
}

func (l *leafVoice) play() error                        { l.s.Play(); return nil }
func (l *leafVoice) stop()                              { l.s.Stop() }
func (l *leafVoice) playing() bool                      { return l.s.Playing() }
func (l *leafVoice) position() float64                  { return l.s.Position() }
func (l *leafVoice) duration() float64                  { return l.s.Duration() }
func (l *leafVoice) setRange(start, stop float64) error { return l.s.SetRange(start, stop) }
func (l *leafVoice) upstream() renderer                 { return l.s }
func (l *leafVoice) teardown()                          {}

type compositeVoice struct {
	mix   *mixStage
	nodes []*Node
}

func (c *compositeVoice) play() error {
	var errs []error
	for _, n := range c.nodes {
		if err := n.Play(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *compositeVoice) stop() {
	for _, n := range c.nodes {
		n.Stop()
	}
}

func (c *compositeVoice) playing() bool {
	for _, n := range c.nodes {
		if n.Playing() {
			return true
		}
	}
	return false
}

// The first child anchors a composite's clock and nominal duration.
func (c *compositeVoice) position() float64 {
	if len(c.nodes) == 0 {
		return 0
	}
	return c.nodes[0].Position()
}

func (c *compositeVoice) duration() float64 {
	if len(c.nodes) == 0 {
		return 0
	}
	return c.nodes[0].Duration()
}

func (c *compositeVoice) setRange(start, stop float64) error { return nil }
func (c *compositeVoice) upstream() renderer                 { return c.mix }

func (c *compositeVoice) teardown() {
	c.mix.SetChildren(nil)
	for _, n := range c.nodes {
		n.Destroy()
	}
	c.nodes = nil
}

// deadVoice stands in for a leaf whose source could not be loaded.
type deadVoice struct {
	err error
}

func (d *deadVoice) play() error                 { return d.err }
func (d *deadVoice) stop()                       {}
func (d *deadVoice) playing() bool               { return false }
func (d *deadVoice) position() float64           { return 0 }
func (d *deadVoice) duration() float64           { return 0 }
func (d *deadVoice) setRange(_, _ float64) error { return d.err }
func (d *deadVoice) upstream() renderer          { return silence{} }
func (d *deadVoice) teardown()                   {}
