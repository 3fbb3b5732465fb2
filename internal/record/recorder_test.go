package record

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"looptree/internal/entity"
	"looptree/internal/source"
)

func newRecorder(t *testing.T) (*Recorder, *entity.MemStore) {
	t.Helper()
	store := entity.NewMemStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, t.TempDir(), 44100, log), store
}

func TestRecordPersistsLeafWithReadableTake(t *testing.T) {
	r, store := newRecorder(t)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if err := r.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second start: %v", err)
	}

	// Half a second of a 440Hz tone, fed in capture-sized chunks.
	tone := make([]float32, 22050)
	for i := range tone {
		tone[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	for i := 0; i < len(tone); i += 512 {
		end := i + 512
		if end > len(tone) {
			end = len(tone)
		}
		r.Feed(tone[i:end])
	}
	if e := r.Elapsed(); math.Abs(e-0.5) > 1e-6 {
		t.Fatalf("elapsed = %f, want 0.5", e)
	}

	snap, err := r.Stop("")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Kind != entity.KindLeaf || snap.Parent != "" {
		t.Fatalf("take persisted as %v parent=%q", snap.Kind, snap.Parent)
	}
	if math.Abs(snap.Duration()-0.5) > 1e-6 {
		t.Fatalf("duration = %f, want 0.5", snap.Duration())
	}
	if _, ok := store.Get(snap.ID); !ok {
		t.Fatal("take entity not in store")
	}

	clip, err := source.FileLoader{}.Load(snap.SourceRef)
	if err != nil {
		t.Fatalf("written take unreadable: %v", err)
	}
	if clip.SampleRate() != 44100 || clip.Frames() != 22050 {
		t.Fatalf("clip %dHz %d frames, want 44100Hz 22050", clip.SampleRate(), clip.Frames())
	}
	if e := r.Elapsed(); e != 0 {
		t.Fatalf("elapsed after stop = %f", e)
	}
}

func TestStopAttachesToParentAndPromotes(t *testing.T) {
	r, store := newRecorder(t)

	var parent entity.ID
	if err := store.Update(func(tx *entity.Tx) error {
		snap, err := tx.CreateLeaf(entity.LeafConfig{
			Name: "base", SourceRef: "base.wav", StartOffset: 0, StopOffset: 2,
		})
		parent = snap.ID
		return err
	}); err != nil {
		t.Fatal(err)
	}

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	r.Feed(make([]float32, 4410))
	snap, err := r.Stop(parent)
	if err != nil {
		t.Fatal(err)
	}

	p, _ := store.Get(parent)
	if p.Kind != entity.KindComposite {
		t.Fatal("parent leaf not promoted")
	}
	if len(p.Children) != 2 || p.Children[1] != snap.ID {
		t.Fatalf("children = %v, want clone then take %v", p.Children, snap.ID)
	}
	if got, _ := store.Get(snap.ID); got.Parent != parent {
		t.Fatalf("take parent = %q, want %q", got.Parent, parent)
	}
}

func TestStopWithoutSamples(t *testing.T) {
	r, _ := newRecorder(t)
	if _, err := r.Stop(""); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("stop while idle: %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Stop(""); !errors.Is(err, ErrNothingRecorded) {
		t.Fatalf("stop with empty take: %v", err)
	}
}
