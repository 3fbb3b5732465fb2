package looptree

import (
	"encoding/binary"
	"math"

	"looptree/internal/entity"
	"looptree/internal/graph"
)

// bounceBlock is the render granularity of an offline bounce, matching
// a typical hardware callback size.
const bounceBlock = 512

// Bounce renders the entity offline into an interleaved stereo float32
// buffer, looping its segment exactly as live playback would. With
// seconds <= 0 one full pass of the entity's segment is rendered. The
// bounce uses a private node so the live graph and the single-voice
// rule are untouched.
func (e *Engine) Bounce(id entity.ID, seconds float64) ([]float32, error) {
	var out []float32
	var err error
	e.loop.DoSync(func() {
		b := &graph.Builder{
			Store:      e.store,
			Clips:      e.loader,
			SampleRate: e.sampleRate,
			Loop:       e.loop,
			Log:        e.log,
		}
		var n *graph.Node
		n, err = b.Build(id)
		if err != nil {
			return
		}
		defer n.Destroy()

		if seconds <= 0 {
			seconds = n.Duration()
		}
		if err = n.Play(); err != nil {
			return
		}
		frames := int(float64(e.sampleRate) * seconds)
		out = make([]float32, frames*2)
		for off := 0; off < frames*2; off += bounceBlock * 2 {
			end := off + bounceBlock*2
			if end > frames*2 {
				end = frames * 2
			}
			n.Process(out[off:end])
		}
		n.Stop()
	})
	return out, err
}

// BounceWAV renders the entity offline and encodes it as a float32 WAV
// file image.
func (e *Engine) BounceWAV(id entity.ID, seconds float64) ([]byte, error) {
	samples, err := e.Bounce(id, seconds)
	if err != nil {
		return nil, err
	}
	return EncodeWAVFloat32LE(samples, e.sampleRate, 2), nil
}

// EncodeWAVFloat32LE wraps raw float32 samples in a RIFF/WAVE container
// (format tag 3, IEEE float).
func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
