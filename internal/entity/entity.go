// Package entity models the persisted track/loop tree and provides the
// persistence capability the engine consumes: snapshot reads, ordered
// change-notification streams, and scoped write transactions.
package entity

import "time"

// ID identifies a persisted entity.
type ID string

// Kind distinguishes source-backed leaves from mixed composites.
type Kind int

const (
	KindLeaf Kind = iota
	KindComposite
)

func (k Kind) String() string {
	if k == KindComposite {
		return "composite"
	}
	return "leaf"
}

// Parameter bounds shared by validation and the audio graph.
const (
	MinPitchCents = -2400.0
	MaxPitchCents = 2400.0
	MinRate       = 1.0 / 32.0
	MaxRate       = 32.0
)

// Field names a mutable attribute in a change notification.
type Field string

const (
	FieldName         Field = "name"
	FieldStartOffset  Field = "startOffset"
	FieldStopOffset   Field = "stopOffset"
	FieldPitchShift   Field = "pitchShift"
	FieldPlaybackRate Field = "playbackRate"
	FieldVolume       Field = "volume"
	FieldKind         Field = "kind"
	FieldChildren     Field = "children"
	FieldSourceRef    Field = "sourceRef"
	FieldParent       Field = "parent"
)

// Snapshot is an immutable copy of one entity, safe to pass across
// goroutines. Mutation happens only through a MutableHandle inside a
// transaction; the store converts back to snapshots on commit.
type Snapshot struct {
	ID        ID
	Name      string
	CreatedAt time.Time

	StartOffset float64 // seconds into source
	StopOffset  float64 // seconds into source; always > StartOffset

	PitchShift   float64 // cents, [-2400, 2400]
	PlaybackRate float64 // multiplier, [1/32, 32]
	Volume       float64 // multiplier, [0, 1]

	Kind      Kind
	Children  []ID // ordered; composite only
	Parent    ID   // empty for a root
	SourceRef string
}

// Duration returns the nominal duration in seconds. For composites this is
// derived from the anchor (first) child and kept up to date by the store.
func (s Snapshot) Duration() float64 {
	return s.StopOffset - s.StartOffset
}

func (s Snapshot) clone() Snapshot {
	c := s
	if s.Children != nil {
		c.Children = append([]ID(nil), s.Children...)
	}
	return c
}

// Change is one entry of an entity's notification stream: the set of fields
// the committing transaction touched plus the post-commit snapshot.
type Change struct {
	Fields   map[Field]bool
	Snapshot Snapshot
}

// Has reports whether any of the given fields changed.
func (c Change) Has(fields ...Field) bool {
	for _, f := range fields {
		if c.Fields[f] {
			return true
		}
	}
	return false
}
