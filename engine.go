// Package looptree is a hierarchical audio playback and capture engine
// for looping and mixing recorded takes. Entities form a tree of leaf
// takes and composite mixes; the engine plays one voice at a time,
// keeps pitch, rate, and volume adjustable while playing, records new
// takes from the microphone, and reports the live input pitch.
package looptree

import (
	"errors"
	"fmt"
	"log/slog"

	"looptree/internal/audio"
	"looptree/internal/entity"
	"looptree/internal/graph"
	"looptree/internal/pitch"
	"looptree/internal/propagate"
	"looptree/internal/record"
	"looptree/internal/runloop"
	"looptree/internal/source"
	"looptree/internal/voice"
)

type EngineOption func(*engineConfig)

type engineConfig struct {
	sampleRate int
	log        *slog.Logger
	store      entity.Store
	loader     source.Loader
	output     func(sampleRate int, src audio.SampleSource) (audio.Sink, error)
	input      audio.InputDevice
	inputSet   bool
	recDir     string
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		sampleRate: 48000,
		log:        slog.Default(),
		loader:     source.FileLoader{},
		recDir:     ".",
	}
}

// WithSampleRate sets the engine rate. The hardware stream and every
// clip decode run at this rate; 44100 and 48000 are the supported
// values.
func WithSampleRate(rate int) EngineOption {
	return func(cfg *engineConfig) { cfg.sampleRate = rate }
}

func WithLogger(log *slog.Logger) EngineOption {
	return func(cfg *engineConfig) { cfg.log = log }
}

// WithStore replaces the default in-memory entity store.
func WithStore(store entity.Store) EngineOption {
	return func(cfg *engineConfig) { cfg.store = store }
}

// WithClipLoader replaces the file-based clip loader.
func WithClipLoader(l source.Loader) EngineOption {
	return func(cfg *engineConfig) { cfg.loader = l }
}

// WithOutput replaces the hardware output stream, mainly for tests and
// offline hosts.
func WithOutput(factory func(sampleRate int, src audio.SampleSource) (audio.Sink, error)) EngineOption {
	return func(cfg *engineConfig) { cfg.output = factory }
}

// WithInputDevice replaces the default microphone capture device. Pass
// nil to run without capture; StartRecording then fails and LatestPitch
// never reports.
func WithInputDevice(dev audio.InputDevice) EngineOption {
	return func(cfg *engineConfig) { cfg.input = dev; cfg.inputSet = true }
}

// WithRecordingDir sets where finished takes are written.
func WithRecordingDir(dir string) EngineOption {
	return func(cfg *engineConfig) { cfg.recDir = dir }
}

var (
	ErrNoInputDevice   = errors.New("looptree: no input device")
	ErrRecordingActive = errors.New("looptree: recording in progress")
)

// Engine is the UI-facing surface. Every method is safe to call from
// any goroutine; graph work is serialized onto the engine's owner loop.
type Engine struct {
	sampleRate int
	log        *slog.Logger
	store      entity.Store
	loader     source.Loader
	loop       *runloop.Loop

	sw      *audio.Switch
	out     audio.Sink
	reg     *voice.Registry
	prop    *propagate.Propagator
	rec     *record.Recorder
	monitor *pitch.Monitor
	input   audio.InputDevice
	inputOn bool
}

func NewEngine(opts ...EngineOption) (*Engine, error) {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sampleRate != 44100 && cfg.sampleRate != 48000 {
		return nil, fmt.Errorf("looptree: unsupported sample rate %d", cfg.sampleRate)
	}
	if cfg.store == nil {
		cfg.store = entity.NewMemStore()
	}
	if cfg.output == nil {
		cfg.output = func(rate int, src audio.SampleSource) (audio.Sink, error) {
			return audio.NewOutput(rate, src)
		}
	}
	if !cfg.inputSet {
		cfg.input = audio.NewMalgoInput(cfg.sampleRate)
	}

	e := &Engine{
		sampleRate: cfg.sampleRate,
		log:        cfg.log.With("component", "engine"),
		store:      cfg.store,
		loader:     cfg.loader,
		loop:       runloop.New(),
		sw:         audio.NewSwitch(),
		rec:        record.New(cfg.store, cfg.recDir, cfg.sampleRate, cfg.log.With("component", "record")),
		monitor:    pitch.NewMonitor(pitch.NewEstimator(cfg.sampleRate)),
		input:      cfg.input,
	}

	out, err := cfg.output(cfg.sampleRate, e.sw)
	if err != nil {
		e.loop.Close()
		return nil, fmt.Errorf("open output: %w", err)
	}
	e.out = out

	e.prop = propagate.New(cfg.store, e.loop, cfg.log.With("component", "propagate"))
	builder := &graph.Builder{
		Store:      cfg.store,
		Clips:      cfg.loader,
		SampleRate: cfg.sampleRate,
		Loop:       e.loop,
		Log:        cfg.log.With("component", "graph"),
		Watch:      e.prop.Watch,
	}
	e.reg = voice.NewRegistry(e.loop, builder, cfg.log.With("component", "voice"),
		func(n *graph.Node) { e.sw.Set(n) },
		func(*graph.Node) { e.sw.Set(nil) },
	)

	// The capture tap feeds pitch monitoring continuously and the
	// recorder while a take is open. A machine without a usable input
	// still plays back; recording is refused instead.
	if e.input != nil {
		if err := e.input.Start(func(buf []float32) {
			e.monitor.Push(buf)
			e.rec.Feed(buf)
		}); err != nil {
			e.log.Warn("input device unavailable, recording disabled", "err", err)
			e.input = nil
		} else {
			e.inputOn = true
		}
	}

	out.Start()
	return e, nil
}

// Store exposes the entity store; edits made through it propagate to
// any playing node.
func (e *Engine) Store() entity.Store { return e.store }

// Play starts the entity as the single active voice, stopping whatever
// was playing. While a take is open Play is refused; the microphone
// would capture the playback otherwise.
func (e *Engine) Play(id entity.ID) error {
	var err error
	e.loop.DoSync(func() {
		if e.rec.Recording() {
			err = ErrRecordingActive
			return
		}
		err = e.reg.Play(id)
	})
	return err
}

// Stop silences the entity if it is the active voice.
func (e *Engine) Stop(id entity.ID) {
	e.loop.DoSync(func() { e.reg.Stop(id) })
}

func (e *Engine) StopAll() {
	e.loop.DoSync(e.reg.StopAll)
}

// Position returns seconds into the entity's segment, in
// [0, duration) while playing and 0 otherwise.
func (e *Engine) Position(id entity.ID) float64 {
	var pos float64
	e.loop.DoSync(func() {
		if n, ok := e.reg.Lookup(id); ok {
			pos = n.Position()
		}
	})
	return pos
}

func (e *Engine) IsPlaying(id entity.ID) bool {
	var playing bool
	e.loop.DoSync(func() {
		if n, ok := e.reg.Lookup(id); ok {
			playing = n.Playing()
		}
	})
	return playing
}

// LatestPitch reports the most recent pitch detected on the input, or
// false when the input is silent, aperiodic, or disabled.
func (e *Engine) LatestPitch() (pitch.Sample, bool) {
	return e.monitor.Latest()
}

// StartRecording opens a take. Playback and recording never overlap:
// the active voice is stopped first.
func (e *Engine) StartRecording() error {
	if e.input == nil {
		return ErrNoInputDevice
	}
	var err error
	e.loop.DoSync(func() {
		e.reg.StopAll()
		err = e.rec.Start()
	})
	return err
}

// StopRecording finishes the take and persists it as a leaf entity,
// attached under parent when one is given. An empty parent leaves the
// take as a new root.
func (e *Engine) StopRecording(parent entity.ID) (entity.Snapshot, error) {
	var snap entity.Snapshot
	var err error
	e.loop.DoSync(func() { snap, err = e.rec.Stop(parent) })
	return snap, err
}

func (e *Engine) IsRecording() bool { return e.rec.Recording() }

// RecordingElapsed is the captured length of the open take in seconds.
func (e *Engine) RecordingElapsed() float64 { return e.rec.Elapsed() }

// Close stops playback and capture and releases the output stream.
func (e *Engine) Close() error {
	var errs []error
	e.loop.DoSync(func() {
		e.reg.StopAll()
		e.reg.DestroyAll()
	})
	e.prop.Close()
	if e.inputOn {
		if err := e.input.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.out.Close(); err != nil {
		errs = append(errs, err)
	}
	e.loop.Close()
	return errors.Join(errs...)
}
