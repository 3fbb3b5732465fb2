// Package sched implements the leaf-level playback scheduler: it renders a
// fixed frame range of a source clip and re-schedules the same range before
// the current pass finishes, which is what makes looping gapless.
package sched

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"looptree/internal/source"
)

// ErrInvalidRange rejects zero- or negative-length segments before anything
// is scheduled.
var ErrInvalidRange = errors.New("sched: stop offset must be greater than start offset")

type State int32

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

// Scheduler drives one clip segment. Play/Pause/Resume/Stop are called on
// the graph-owner loop; Process runs on the render thread. The two sides
// share only atomics: state, generation, the packed frame range, and the
// published position.
type Scheduler struct {
	clip       *source.Clip
	sampleRate int

	state      atomic.Int32
	generation atomic.Uint64
	rangeBits  atomic.Uint64 // startFrame<<32 | frameCount
	rendered   atomic.Int64  // output frames since Play (render clock)
	posBits    atomic.Uint64 // float64 position seconds

	// Advanced by the render thread, reset by Play. Atomic because a
	// stop/replay on the owner loop can overlap an in-flight render pass.
	cursor     atomic.Int64
	nextQueued atomic.Bool

	// onSchedule observes every segment scheduling call (including the one
	// issued by Play). Set before first Play; used by tests to verify the
	// loop has no gap.
	onSchedule func(generation uint64)
}

// New validates the segment against the clip and returns an idle scheduler.
func New(clip *source.Clip, startOffset, stopOffset float64) (*Scheduler, error) {
	s := &Scheduler{clip: clip, sampleRate: clip.SampleRate()}
	if err := s.SetRange(startOffset, stopOffset); err != nil {
		return nil, err
	}
	return s, nil
}

// SetRange replaces the scheduled frame range. When called while playing it
// stops and restarts so no completion fires against a stale range. The old
// range is kept on error.
func (s *Scheduler) SetRange(startOffset, stopOffset float64) error {
	if stopOffset <= startOffset {
		return fmt.Errorf("%w: start=%.3f stop=%.3f", ErrInvalidRange, startOffset, stopOffset)
	}
	startFrame := int(math.Round(startOffset * float64(s.sampleRate)))
	stopFrame := int(math.Round(stopOffset * float64(s.sampleRate)))
	if stopFrame > s.clip.Frames() {
		stopFrame = s.clip.Frames()
	}
	if startFrame >= stopFrame {
		return fmt.Errorf("%w: segment [%.3f, %.3f) is outside the %.3fs source",
			ErrInvalidRange, startOffset, stopOffset, s.clip.Duration())
	}

	wasPlaying := s.State() == StatePlaying
	if wasPlaying {
		s.Stop()
	}
	s.rangeBits.Store(uint64(startFrame)<<32 | uint64(uint32(stopFrame-startFrame)))
	if wasPlaying {
		s.Play()
	}
	return nil
}

func (s *Scheduler) segment() (startFrame, frameCount int) {
	bits := s.rangeBits.Load()
	return int(bits >> 32), int(uint32(bits))
}

// Duration returns the segment length in seconds.
func (s *Scheduler) Duration() float64 {
	_, count := s.segment()
	return float64(count) / float64(s.sampleRate)
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) Playing() bool { return s.State() == StatePlaying }

// Play schedules the segment from its start. No-op while already playing.
func (s *Scheduler) Play() {
	if s.State() == StatePlaying {
		return
	}
	gen := s.generation.Add(1)
	s.cursor.Store(0)
	s.nextQueued.Store(false)
	s.rendered.Store(0)
	s.posBits.Store(0)
	s.fireSchedule(gen)
	s.state.Store(int32(StatePlaying))
}

// Pause halts rendering but keeps the cursor so Resume continues in place.
func (s *Scheduler) Pause() {
	s.state.CompareAndSwap(int32(StatePlaying), int32(StatePaused))
}

// Resume continues a paused scheduler, or starts from the beginning when
// idle.
func (s *Scheduler) Resume() {
	if !s.state.CompareAndSwap(int32(StatePaused), int32(StatePlaying)) {
		s.Play()
	}
}

// Stop rewinds to idle. Idempotent, callable from the owner loop in any
// state; bumping the generation makes any in-flight completion on the
// render thread detect the stop and skip re-scheduling.
func (s *Scheduler) Stop() {
	s.generation.Add(1)
	s.state.Store(int32(StateIdle))
	s.rendered.Store(0)
	s.posBits.Store(0)
}

// Position returns the current playback position in seconds: the rendered
// frame clock modulo the segment duration. 0 when idle and before the first
// render.
func (s *Scheduler) Position() float64 {
	if s.State() == StateIdle {
		return 0
	}
	return math.Float64frombits(s.posBits.Load())
}

// Process renders the next block of interleaved stereo frames. While
// emitting the block that contains the current segment's final frame it
// schedules the next pass first, so segment N+1 is queued strictly before
// segment N finishes rendering.
func (s *Scheduler) Process(dst []float32) {
	frames := len(dst) / 2
	if s.State() != StatePlaying {
		zero(dst)
		return
	}
	gen := s.generation.Load()
	startFrame, frameCount := s.segment()

	i := 0
	for i < frames {
		cursor := int(s.cursor.Load())
		if cursor >= frameCount {
			if !s.nextQueued.Load() {
				break // stopped mid-pass, no next segment
			}
			s.cursor.Store(0)
			s.nextQueued.Store(false)
			continue
		}
		rem := frameCount - cursor
		n := min(rem, frames-i)
		if rem <= frames-i && !s.nextQueued.Load() &&
			s.State() == StatePlaying && s.generation.Load() == gen {
			s.nextQueued.Store(true)
			s.fireSchedule(gen)
		}
		for k := 0; k < n; k++ {
			l, r := s.clip.At(startFrame + cursor + k)
			dst[2*(i+k)] = l
			dst[2*(i+k)+1] = r
		}
		s.cursor.Add(int64(n))
		i += n
	}
	for ; i < frames; i++ {
		dst[2*i] = 0
		dst[2*i+1] = 0
	}

	rendered := s.rendered.Add(int64(frames))
	pos := float64(rendered%int64(frameCount)) / float64(s.sampleRate)
	s.posBits.Store(math.Float64bits(pos))
}

func (s *Scheduler) fireSchedule(gen uint64) {
	if s.onSchedule != nil {
		s.onSchedule(gen)
	}
}

// SetScheduleHook installs an observer for segment scheduling calls. Only
// for tests; set before the first Play.
func (s *Scheduler) SetScheduleHook(fn func(generation uint64)) {
	s.onSchedule = fn
}

func zero(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}
