// Package voice caches graph nodes per entity and enforces the
// single-voice rule: at most one node is attached to the output at a
// time, and starting a new one stops whatever was playing.
package voice

import (
	"log/slog"

	"looptree/internal/entity"
	"looptree/internal/graph"
	"looptree/internal/runloop"
)

// Registry owns the node cache. All methods run on the owner loop.
type Registry struct {
	loop *runloop.Loop
	b    *graph.Builder
	log  *slog.Logger

	// attach makes a node the live output source; detach silences it.
	attach func(*graph.Node)
	detach func(*graph.Node)

	nodes  map[entity.ID]*graph.Node
	active *graph.Node
}

func NewRegistry(loop *runloop.Loop, b *graph.Builder, log *slog.Logger, attach, detach func(*graph.Node)) *Registry {
	r := &Registry{
		loop:   loop,
		b:      b,
		log:    log,
		attach: attach,
		detach: detach,
		nodes:  make(map[entity.ID]*graph.Node),
	}
	b.Built = r.register
	b.Destroyed = r.unregister
	return r
}

func (r *Registry) register(n *graph.Node) {
	r.loop.MustOwn()
	r.nodes[n.ID()] = n
}

func (r *Registry) unregister(n *graph.Node) {
	r.loop.MustOwn()
	if r.nodes[n.ID()] == n {
		delete(r.nodes, n.ID())
	}
	if r.active == n {
		r.active = nil
		r.detach(n)
	}
}

// NodeFor returns the cached node for id, building it on first use.
// Children built for a composite are cached individually as well.
func (r *Registry) NodeFor(id entity.ID) (*graph.Node, error) {
	r.loop.MustOwn()
	if n, ok := r.nodes[id]; ok {
		return n, nil
	}
	return r.b.Build(id)
}

// Lookup returns the cached node without building.
func (r *Registry) Lookup(id entity.ID) (*graph.Node, bool) {
	r.loop.MustOwn()
	n, ok := r.nodes[id]
	return n, ok
}

// Play starts id as the single active voice, stopping the previous one.
func (r *Registry) Play(id entity.ID) error {
	r.loop.MustOwn()
	n, err := r.NodeFor(id)
	if err != nil {
		return err
	}
	if r.active != nil && r.active != n {
		r.log.Debug("switching voice", "from", r.active.ID(), "to", id)
		r.active.Stop()
		r.detach(r.active)
		r.active = nil
	}
	err = n.Play()
	if n.Playing() {
		r.attach(n)
		r.active = n
	}
	return err
}

// Stop silences id if it is the active voice. Stopping a non-active or
// never-played entity is a no-op.
func (r *Registry) Stop(id entity.ID) {
	r.loop.MustOwn()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.Stop()
	if r.active == n {
		r.detach(n)
		r.active = nil
	}
}

// StopAll silences the active voice, if any.
func (r *Registry) StopAll() {
	r.loop.MustOwn()
	if r.active == nil {
		return
	}
	r.active.Stop()
	r.detach(r.active)
	r.active = nil
}

// Active returns the entity whose node is currently attached.
func (r *Registry) Active() (entity.ID, bool) {
	r.loop.MustOwn()
	if r.active == nil {
		return "", false
	}
	return r.active.ID(), true
}

// DestroyAll tears down every cached node, for engine shutdown.
func (r *Registry) DestroyAll() {
	r.loop.MustOwn()
	ids := make([]entity.ID, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	// Destroying a composite removes its children from the cache, so
	// re-check each id before touching it.
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			n.Destroy()
		}
	}
}

// Evict destroys the cached node for id, detaching it first if active.
// The node cache self-cleans through the builder's Destroyed hook.
func (r *Registry) Evict(id entity.ID) {
	r.loop.MustOwn()
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	n.Destroy()
}
