// Package record accumulates microphone samples into a take, writes it
// out as a WAV file, and persists it as a new leaf entity.
package record

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"looptree/internal/entity"
)

var (
	ErrAlreadyRecording = errors.New("record: already recording")
	ErrNotRecording     = errors.New("record: not recording")
	ErrNothingRecorded  = errors.New("record: take is empty")
)

// Recorder captures one take at a time. Feed runs on the capture
// thread; Start and Stop run on the owner loop. A mutex guards the
// sample buffer across the two.
type Recorder struct {
	store      entity.Store
	dir        string
	sampleRate int
	log        *slog.Logger

	mu        sync.Mutex
	recording bool
	samples   []float32
}

func New(store entity.Store, dir string, sampleRate int, log *slog.Logger) *Recorder {
	return &Recorder{store: store, dir: dir, sampleRate: sampleRate, log: log}
}

func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return ErrAlreadyRecording
	}
	r.recording = true
	r.samples = r.samples[:0]
	return nil
}

// Feed appends captured mono samples to the current take. Outside a
// take it drops the buffer, so the capture tap can run continuously.
func (r *Recorder) Feed(buf []float32) {
	r.mu.Lock()
	if r.recording {
		r.samples = append(r.samples, buf...)
	}
	r.mu.Unlock()
}

func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Elapsed is the length of the take so far in seconds of captured
// audio, zero when idle.
func (r *Recorder) Elapsed() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return 0
	}
	return float64(len(r.samples)) / float64(r.sampleRate)
}

// Stop finishes the take: the samples are written to a WAV file under
// the recorder's directory and persisted as a leaf entity. With a
// non-empty parent the leaf is attached to it in the same transaction,
// promoting a leaf parent to composite.
func (r *Recorder) Stop(parent entity.ID) (entity.Snapshot, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return entity.Snapshot{}, ErrNotRecording
	}
	r.recording = false
	samples := r.samples
	r.samples = nil
	r.mu.Unlock()

	if len(samples) == 0 {
		return entity.Snapshot{}, ErrNothingRecorded
	}

	name := fmt.Sprintf("take-%s.wav", time.Now().Format("20060102-150405.000"))
	path := filepath.Join(r.dir, name)
	if err := r.writeWAV(path, samples); err != nil {
		return entity.Snapshot{}, err
	}
	duration := float64(len(samples)) / float64(r.sampleRate)

	var snap entity.Snapshot
	err := r.store.Update(func(tx *entity.Tx) error {
		var err error
		snap, err = tx.CreateLeaf(entity.LeafConfig{
			Name:        name,
			SourceRef:   path,
			StartOffset: 0,
			StopOffset:  duration,
		})
		if err != nil {
			return err
		}
		if parent != "" {
			return tx.AddChild(parent, snap.ID)
		}
		return nil
	})
	if err != nil {
		return entity.Snapshot{}, fmt.Errorf("persist take: %w", err)
	}
	r.log.Info("take recorded", "entity", snap.ID, "file", path, "seconds", duration)
	return snap, nil
}

func (r *Recorder) writeWAV(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create take file: %w", err)
	}

	enc := wav.NewEncoder(f, r.sampleRate, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		buf.Data[i] = int(s * 32767)
	}
	if err := enc.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write take: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize take: %w", err)
	}
	return f.Close()
}
