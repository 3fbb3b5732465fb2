package entity

import "sync"

// Store is the persistence capability the engine consumes. The engine never
// owns entity lifetime; it reads snapshots, observes mutation streams, and
// issues scoped all-or-nothing transactions.
type Store interface {
	// Get returns an immutable snapshot of the entity.
	Get(id ID) (Snapshot, bool)
	// Children returns the ordered child list, empty for leaves.
	Children(id ID) []ID
	// Observe returns the entity's change-notification stream. Changes from
	// one entity arrive in commit order; cross-entity ordering is
	// unspecified. Cancel the subscription when done.
	Observe(id ID) *Subscription
	// Update runs fn inside a transaction. If fn returns an error nothing
	// is persisted and no notifications fire.
	Update(fn func(tx *Tx) error) error
}

// Subscription is one observer of one entity's change stream.
type Subscription struct {
	// C receives changes in delivery order. It is never closed while the
	// subscription is live; stop reading only after Cancel.
	C <-chan Change

	ch   chan Change
	done chan struct{}
	once sync.Once
}

func newSubscription() *Subscription {
	ch := make(chan Change, 16)
	return &Subscription{C: ch, ch: ch, done: make(chan struct{})}
}

// Cancel releases the subscription. Idempotent; pending sends are abandoned.
func (s *Subscription) Cancel() {
	s.once.Do(func() { close(s.done) })
}

func (s *Subscription) cancelled() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// deliver blocks until the change is consumed or the subscription is
// cancelled, so an observer that keeps reading never misses or reorders a
// change.
func (s *Subscription) deliver(c Change) {
	select {
	case s.ch <- c:
	case <-s.done:
	}
}
