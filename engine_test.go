package looptree

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"looptree/internal/audio"
	"looptree/internal/entity"
	"looptree/internal/source"
)

type fakeSink struct {
	src     audio.SampleSource
	started bool
	closed  bool
}

func (s *fakeSink) Start()       { s.started = true }
func (s *fakeSink) Close() error { s.closed = true; return nil }

// pull renders one hardware-sized block through the engine's switch.
func (s *fakeSink) pull(frames int) []float32 {
	dst := make([]float32, frames*2)
	s.src.Process(dst)
	return dst
}

type fakeInput struct {
	rate     int
	tap      func([]float32)
	startErr error
	stopped  bool
}

func (f *fakeInput) Start(tap func([]float32)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.tap = tap
	return nil
}
func (f *fakeInput) Stop() error     { f.stopped = true; return nil }
func (f *fakeInput) SampleRate() int { return f.rate }

type mapLoader map[string]*source.Clip

func (m mapLoader) Load(ref string) (*source.Clip, error) {
	if c, ok := m[ref]; ok {
		return c, nil
	}
	return nil, source.ErrUnreadable
}

type harness struct {
	eng   *Engine
	sink  *fakeSink
	in    *fakeInput
	clips mapLoader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sink:  &fakeSink{},
		in:    &fakeInput{rate: 44100},
		clips: mapLoader{},
	}
	eng, err := NewEngine(
		WithSampleRate(44100),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClipLoader(h.clips),
		WithOutput(func(rate int, src audio.SampleSource) (audio.Sink, error) {
			h.sink.src = src
			return h.sink, nil
		}),
		WithInputDevice(h.in),
		WithRecordingDir(t.TempDir()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { eng.Close() })
	h.eng = eng
	return h
}

func (h *harness) createLeaf(t *testing.T, ref string, value float32, seconds float64) entity.ID {
	t.Helper()
	mono := make([]float32, int(seconds*44100))
	for i := range mono {
		mono[i] = value
	}
	clip, err := source.FromSamples(44100, 1, mono)
	if err != nil {
		t.Fatal(err)
	}
	h.clips[ref] = clip

	var id entity.ID
	err = h.eng.Store().Update(func(tx *entity.Tx) error {
		snap, err := tx.CreateLeaf(entity.LeafConfig{
			Name: ref, SourceRef: ref, StartOffset: 0, StopOffset: seconds,
		})
		id = snap.ID
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestEngineRejectsUnsupportedSampleRate(t *testing.T) {
	if _, err := NewEngine(WithSampleRate(22050)); err == nil {
		t.Fatal("22050Hz accepted")
	}
}

func TestEnginePlaybackLifecycle(t *testing.T) {
	h := newHarness(t)
	if !h.sink.started {
		t.Fatal("output stream not started")
	}
	id := h.createLeaf(t, "take.wav", 0.25, 1.0)

	out := h.sink.pull(64)
	if out[0] != 0 {
		t.Fatal("audio before play")
	}

	if err := h.eng.Play(id); err != nil {
		t.Fatal(err)
	}
	if !h.eng.IsPlaying(id) {
		t.Fatal("IsPlaying = false after Play")
	}
	out = h.sink.pull(64)
	for i, v := range out {
		if v != 0.25 {
			t.Fatalf("sample %d = %f, want 0.25", i, v)
		}
	}
	pos := h.eng.Position(id)
	if pos < 0 || pos >= 1.0 {
		t.Fatalf("position %f outside [0, 1)", pos)
	}

	h.eng.Stop(id)
	if h.eng.IsPlaying(id) {
		t.Fatal("still playing after Stop")
	}
	if p := h.eng.Position(id); p != 0 {
		t.Fatalf("position = %f after stop", p)
	}
	out = h.sink.pull(64)
	if out[0] != 0 {
		t.Fatal("audio after stop")
	}
}

func TestEngineSingleVoice(t *testing.T) {
	h := newHarness(t)
	a := h.createLeaf(t, "a.wav", 0.25, 1.0)
	b := h.createLeaf(t, "b.wav", 0.5, 1.0)

	if err := h.eng.Play(a); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Play(b); err != nil {
		t.Fatal(err)
	}
	if h.eng.IsPlaying(a) {
		t.Fatal("first voice survived second Play")
	}
	out := h.sink.pull(16)
	if out[0] != 0.5 {
		t.Fatalf("output %f, want second voice 0.5", out[0])
	}

	h.eng.StopAll()
	if h.eng.IsPlaying(b) {
		t.Fatal("StopAll left voice playing")
	}
}

func TestEngineEditPropagatesWhilePlaying(t *testing.T) {
	h := newHarness(t)
	id := h.createLeaf(t, "take.wav", 0.5, 1.0)
	if err := h.eng.Play(id); err != nil {
		t.Fatal(err)
	}

	if err := h.eng.Store().Update(func(tx *entity.Tx) error {
		hd, err := tx.Edit(id)
		if err != nil {
			return err
		}
		return hd.SetVolume(0.5)
	}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out := h.sink.pull(16)
		if out[0] == 0.25 {
			if !h.eng.IsPlaying(id) {
				t.Fatal("volume edit interrupted playback")
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("volume edit never reached the running voice")
}

func TestEngineRecordingFlow(t *testing.T) {
	h := newHarness(t)
	parent := h.createLeaf(t, "base.wav", 0.25, 1.0)
	if err := h.eng.Play(parent); err != nil {
		t.Fatal(err)
	}

	if err := h.eng.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if h.eng.IsPlaying(parent) {
		t.Fatal("recording did not stop playback")
	}
	if !h.eng.IsRecording() {
		t.Fatal("IsRecording = false")
	}

	// A second of 440Hz through the capture tap drives both the
	// recorder and the pitch monitor.
	tone := make([]float32, 44100)
	for i := range tone {
		tone[i] = 0.5 * float32(math.Sin(2*math.Pi*440*float64(i)/44100))
	}
	for i := 0; i < len(tone); i += 512 {
		end := i + 512
		if end > len(tone) {
			end = len(tone)
		}
		h.in.tap(tone[i:end])
	}

	if e := h.eng.RecordingElapsed(); math.Abs(e-1.0) > 1e-6 {
		t.Fatalf("elapsed = %f, want 1.0", e)
	}
	if s, ok := h.eng.LatestPitch(); !ok || s.NoteName != "A" || s.Octave != 4 {
		t.Fatalf("latest pitch = %+v %v, want A4", s, ok)
	}

	snap, err := h.eng.StopRecording(parent)
	if err != nil {
		t.Fatal(err)
	}
	if h.eng.IsRecording() {
		t.Fatal("still recording after stop")
	}
	p, _ := h.eng.Store().Get(parent)
	if p.Kind != entity.KindComposite || len(p.Children) != 2 || p.Children[1] != snap.ID {
		t.Fatalf("take not attached: kind=%v children=%v", p.Kind, p.Children)
	}
}

func TestEnginePlayRefusedWhileRecording(t *testing.T) {
	h := newHarness(t)
	id := h.createLeaf(t, "take.wav", 0.25, 1.0)

	if err := h.eng.StartRecording(); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Play(id); !errors.Is(err, ErrRecordingActive) {
		t.Fatalf("Play during a take = %v, want ErrRecordingActive", err)
	}
	if h.eng.IsPlaying(id) {
		t.Fatal("voice started while recording")
	}

	h.in.tap(make([]float32, 256))
	if _, err := h.eng.StopRecording(""); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Play(id); err != nil {
		t.Fatalf("Play after the take closed: %v", err)
	}
}

func TestEngineWithoutInputRefusesRecording(t *testing.T) {
	sink := &fakeSink{}
	eng, err := NewEngine(
		WithSampleRate(48000),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithOutput(func(rate int, src audio.SampleSource) (audio.Sink, error) {
			sink.src = src
			return sink, nil
		}),
		WithInputDevice(&fakeInput{rate: 48000, startErr: errors.New("no such device")}),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer eng.Close()

	if err := eng.StartRecording(); !errors.Is(err, ErrNoInputDevice) {
		t.Fatalf("StartRecording = %v, want ErrNoInputDevice", err)
	}
	if _, ok := eng.LatestPitch(); ok {
		t.Fatal("pitch reported without an input")
	}
}

func TestEngineCloseReleasesDevices(t *testing.T) {
	h := newHarness(t)
	id := h.createLeaf(t, "take.wav", 0.25, 1.0)
	if err := h.eng.Play(id); err != nil {
		t.Fatal(err)
	}
	if err := h.eng.Close(); err != nil {
		t.Fatal(err)
	}
	if !h.sink.closed || !h.in.stopped {
		t.Fatalf("sink closed=%v input stopped=%v", h.sink.closed, h.in.stopped)
	}
}
