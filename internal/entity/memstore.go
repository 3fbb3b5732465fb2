package entity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-memory Store for a single session: a map of snapshots
// guarded by a mutex, staged transactions, and per-entity subscriber lists.
type MemStore struct {
	mu       sync.Mutex
	entities map[ID]Snapshot
	subs     map[ID][]*Subscription

	// notifyMu serializes notification delivery so changes from successive
	// commits reach every subscriber in commit order.
	notifyMu sync.Mutex
}

func NewMemStore() *MemStore {
	return &MemStore{
		entities: make(map[ID]Snapshot),
		subs:     make(map[ID][]*Subscription),
	}
}

func (m *MemStore) Get(id ID) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entities[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

func (m *MemStore) Children(id ID) []ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.entities[id]
	if !ok || len(s.Children) == 0 {
		return nil
	}
	return append([]ID(nil), s.Children...)
}

func (m *MemStore) Observe(id ID) *Subscription {
	sub := newSubscription()
	m.mu.Lock()
	m.subs[id] = append(m.subs[id], sub)
	m.mu.Unlock()
	return sub
}

// Update runs fn against a staged view of the store. On success the staged
// snapshots replace the stored ones and one Change per touched entity is
// delivered, in the order the transaction first touched each entity.
func (m *MemStore) Update(fn func(tx *Tx) error) error {
	m.mu.Lock()
	tx := &Tx{store: m, staged: make(map[ID]*MutableHandle)}
	if err := fn(tx); err != nil {
		tx.finished = true
		m.mu.Unlock()
		return err
	}
	tx.finished = true

	changes := make([]Change, 0, len(tx.touched))
	for _, id := range tx.touched {
		h := tx.staged[id]
		m.entities[id] = h.snap.clone()
		if len(h.dirty) == 0 {
			continue
		}
		changes = append(changes, Change{Fields: h.dirty, Snapshot: h.snap.clone()})
	}
	// Snapshot the subscriber lists while still locked, pruning cancelled
	// subscriptions as we go.
	targets := make([][]*Subscription, len(changes))
	for i, c := range changes {
		targets[i] = m.liveSubsLocked(c.Snapshot.ID)
	}
	m.mu.Unlock()

	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for i, c := range changes {
		for _, sub := range targets[i] {
			sub.deliver(c)
		}
	}
	return nil
}

func (m *MemStore) liveSubsLocked(id ID) []*Subscription {
	list := m.subs[id]
	live := list[:0]
	for _, sub := range list {
		if !sub.cancelled() {
			live = append(live, sub)
		}
	}
	if len(live) == 0 {
		delete(m.subs, id)
		return nil
	}
	m.subs[id] = live
	return append([]*Subscription(nil), live...)
}

// Tx is a scoped, all-or-nothing view of the store. Handles created by a
// Tx are invalid once Update returns.
type Tx struct {
	store    *MemStore
	staged   map[ID]*MutableHandle
	touched  []ID
	finished bool
}

// LeafConfig describes a new source-backed leaf entity.
type LeafConfig struct {
	Name        string
	SourceRef   string
	StartOffset float64
	StopOffset  float64
}

// Get returns the staged view of an entity within this transaction.
func (tx *Tx) Get(id ID) (Snapshot, bool) {
	if h, ok := tx.staged[id]; ok {
		return h.snap.clone(), true
	}
	s, ok := tx.store.entities[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

// Edit returns a mutable handle for an existing entity.
func (tx *Tx) Edit(id ID) (*MutableHandle, error) {
	if h, ok := tx.staged[id]; ok {
		return h, nil
	}
	s, ok := tx.store.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	h := &MutableHandle{tx: tx, snap: s.clone(), dirty: make(map[Field]bool)}
	tx.staged[id] = h
	tx.touched = append(tx.touched, id)
	return h, nil
}

// CreateLeaf persists a new leaf entity with neutral parameters.
func (tx *Tx) CreateLeaf(cfg LeafConfig) (Snapshot, error) {
	if cfg.StopOffset <= cfg.StartOffset {
		return Snapshot{}, fmt.Errorf("%w: start=%.3f stop=%.3f",
			ErrInvalidOffsets, cfg.StartOffset, cfg.StopOffset)
	}
	snap := Snapshot{
		ID:           newID(),
		Name:         cfg.Name,
		CreatedAt:    time.Now(),
		StartOffset:  cfg.StartOffset,
		StopOffset:   cfg.StopOffset,
		PitchShift:   0,
		PlaybackRate: 1,
		Volume:       1,
		Kind:         KindLeaf,
		SourceRef:    cfg.SourceRef,
	}
	h := &MutableHandle{tx: tx, snap: snap, dirty: make(map[Field]bool)}
	tx.staged[snap.ID] = h
	tx.touched = append(tx.touched, snap.ID)
	return snap.clone(), nil
}

// AddChild attaches child under parent. When the parent is a leaf it is
// promoted: a new leaf cloning the parent's parameters and source becomes
// the first child, the parent's own parameters reset to neutral, and the
// parent flips to composite.
func (tx *Tx) AddChild(parentID, childID ID) error {
	if parentID == childID {
		return ErrCycle
	}
	parent, err := tx.Edit(parentID)
	if err != nil {
		return err
	}
	child, err := tx.Edit(childID)
	if err != nil {
		return err
	}
	if child.snap.Parent != "" {
		return fmt.Errorf("%w: %s", ErrAlreadyParented, childID)
	}
	if tx.isAncestor(childID, parentID) {
		return ErrCycle
	}

	if parent.snap.Kind == KindLeaf {
		clone, err := tx.CreateLeaf(LeafConfig{
			Name:        parent.snap.Name,
			SourceRef:   parent.snap.SourceRef,
			StartOffset: parent.snap.StartOffset,
			StopOffset:  parent.snap.StopOffset,
		})
		if err != nil {
			return err
		}
		ch := tx.staged[clone.ID]
		ch.snap.PitchShift = parent.snap.PitchShift
		ch.snap.PlaybackRate = parent.snap.PlaybackRate
		ch.snap.Volume = parent.snap.Volume
		ch.snap.Parent = parentID

		parent.snap.Kind = KindComposite
		parent.snap.SourceRef = ""
		parent.snap.PitchShift = 0
		parent.snap.PlaybackRate = 1
		parent.snap.Volume = 1
		parent.snap.Children = []ID{clone.ID}
		parent.mark(FieldKind, FieldSourceRef, FieldPitchShift,
			FieldPlaybackRate, FieldVolume)
	}

	parent.snap.Children = append(parent.snap.Children, childID)
	parent.mark(FieldChildren)
	child.snap.Parent = parentID
	child.mark(FieldParent)
	tx.recomputeDuration(parent)
	return nil
}

// RemoveChild detaches child from parent. A composite keeps at least one
// child; removing the last one fails.
func (tx *Tx) RemoveChild(parentID, childID ID) error {
	parent, err := tx.Edit(parentID)
	if err != nil {
		return err
	}
	idx := -1
	for i, id := range parent.snap.Children {
		if id == childID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %s under %s", ErrNotChild, childID, parentID)
	}
	if len(parent.snap.Children) == 1 {
		return fmt.Errorf("%w: %s", ErrLastChild, parentID)
	}
	child, err := tx.Edit(childID)
	if err != nil {
		return err
	}
	parent.snap.Children = append(parent.snap.Children[:idx], parent.snap.Children[idx+1:]...)
	parent.mark(FieldChildren)
	child.snap.Parent = ""
	child.mark(FieldParent)
	tx.recomputeDuration(parent)
	return nil
}

// isAncestor reports whether candidate appears on the parent chain of id.
func (tx *Tx) isAncestor(candidate, id ID) bool {
	for cur := id; cur != ""; {
		s, ok := tx.Get(cur)
		if !ok || s.Parent == "" {
			return false
		}
		if s.Parent == candidate {
			return true
		}
		cur = s.Parent
	}
	return false
}

// recomputeDuration keeps a composite's nominal duration derived from its
// anchor (first) child, which also defines the composite's timeline.
func (tx *Tx) recomputeDuration(parent *MutableHandle) {
	if parent.snap.Kind != KindComposite || len(parent.snap.Children) == 0 {
		return
	}
	anchor, ok := tx.Get(parent.snap.Children[0])
	if !ok {
		return
	}
	start, stop := 0.0, anchor.Duration()
	if parent.snap.StartOffset != start {
		parent.snap.StartOffset = start
		parent.mark(FieldStartOffset)
	}
	if parent.snap.StopOffset != stop {
		parent.snap.StopOffset = stop
		parent.mark(FieldStopOffset)
	}
}

// MutableHandle is the transaction-bound mutable view of one entity. It is
// only valid while its transaction runs; Snapshot converts back to the
// immutable cross-thread form.
type MutableHandle struct {
	tx    *Tx
	snap  Snapshot
	dirty map[Field]bool
}

func (h *MutableHandle) check() {
	if h.tx.finished {
		panic(ErrTxFinished)
	}
}

func (h *MutableHandle) mark(fields ...Field) {
	for _, f := range fields {
		h.dirty[f] = true
	}
}

// Snapshot freezes the handle's current state into an immutable copy.
func (h *MutableHandle) Snapshot() Snapshot {
	h.check()
	return h.snap.clone()
}

func (h *MutableHandle) SetName(name string) {
	h.check()
	if h.snap.Name == name {
		return
	}
	h.snap.Name = name
	h.mark(FieldName)
}

func (h *MutableHandle) SetVolume(v float64) error {
	h.check()
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %f", ErrVolumeOutOfRange, v)
	}
	h.snap.Volume = v
	h.mark(FieldVolume)
	return nil
}

func (h *MutableHandle) SetPitchShift(cents float64) error {
	h.check()
	if cents < MinPitchCents || cents > MaxPitchCents {
		return fmt.Errorf("%w: %f", ErrPitchOutOfRange, cents)
	}
	h.snap.PitchShift = cents
	h.mark(FieldPitchShift)
	return nil
}

func (h *MutableHandle) SetPlaybackRate(rate float64) error {
	h.check()
	if rate < MinRate || rate > MaxRate {
		return fmt.Errorf("%w: %f", ErrRateOutOfRange, rate)
	}
	h.snap.PlaybackRate = rate
	h.mark(FieldPlaybackRate)
	return nil
}

func (h *MutableHandle) SetOffsets(start, stop float64) error {
	h.check()
	if stop <= start {
		return fmt.Errorf("%w: start=%.3f stop=%.3f", ErrInvalidOffsets, start, stop)
	}
	h.snap.StartOffset = start
	h.snap.StopOffset = stop
	h.mark(FieldStartOffset, FieldStopOffset)
	return nil
}

func newID() ID {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("entity: id generation: %v", err))
	}
	return ID(hex.EncodeToString(b[:]))
}
