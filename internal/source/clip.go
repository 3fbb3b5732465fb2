// Package source decodes recorded audio into in-memory clips the playback
// graph reads from. Decoding happens once at node construction; the render
// thread only ever indexes into a clip's sample slice.
package source

import "fmt"

// Clip is fully-decoded audio, stored interleaved stereo regardless of the
// source channel count (mono is duplicated into both channels at load).
type Clip struct {
	sampleRate int
	frames     int
	samples    []float32 // interleaved stereo, len = frames*2
}

// FromSamples builds a clip from interleaved PCM in [-1, 1]. channels must
// be 1 or 2.
func FromSamples(sampleRate, channels int, data []float32) (*Clip, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("source: sample rate must be positive: %d", sampleRate)
	}
	switch channels {
	case 1:
		frames := len(data)
		out := make([]float32, frames*2)
		for i, s := range data {
			out[2*i] = s
			out[2*i+1] = s
		}
		return &Clip{sampleRate: sampleRate, frames: frames, samples: out}, nil
	case 2:
		frames := len(data) / 2
		out := make([]float32, frames*2)
		copy(out, data[:frames*2])
		return &Clip{sampleRate: sampleRate, frames: frames, samples: out}, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedLayout, channels)
	}
}

func (c *Clip) SampleRate() int { return c.sampleRate }
func (c *Clip) Frames() int     { return c.frames }

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	return float64(c.frames) / float64(c.sampleRate)
}

// At returns the stereo frame at the given index, silence outside the clip.
func (c *Clip) At(frame int) (l, r float32) {
	if frame < 0 || frame >= c.frames {
		return 0, 0
	}
	return c.samples[2*frame], c.samples[2*frame+1]
}
