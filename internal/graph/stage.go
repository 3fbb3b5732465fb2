package graph

import (
	"math"
	"sync/atomic"
)

// renderer produces interleaved stereo float32 frames. Implemented by
// the scheduler, the mixing stage, and every shifting stage so nodes
// compose into a single pull chain.
type renderer interface {
	Process(dst []float32)
}

// silence renders zero frames. Used as the upstream of a node whose
// source could not be loaded and as the placeholder during rebuilds.
type silence struct{}

func (silence) Process(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
}

// srcHolder boxes a renderer so stages can swap their upstream with an
// atomic pointer while the render thread is mid-pass.
type srcHolder struct{ r renderer }

// gainStage scales its input by a runtime-adjustable factor. The gain
// is stored as a float32 bit pattern for lock-free reads from the
// audio thread.
type gainStage struct {
	src  renderer
	bits atomic.Uint32
}

func newGainStage(src renderer, gain float32) *gainStage {
	g := &gainStage{src: src}
	g.SetGain(gain)
	return g
}

func (g *gainStage) SetGain(v float32) { g.bits.Store(math.Float32bits(v)) }
func (g *gainStage) Gain() float32     { return math.Float32frombits(g.bits.Load()) }

func (g *gainStage) Process(dst []float32) {
	g.src.Process(dst)
	v := g.Gain()
	if v == 1 {
		return
	}
	for i := range dst {
		dst[i] *= v
	}
}

const pullFrames = 256

// varispeed resamples its upstream by a runtime-adjustable rate,
// shifting tempo and pitch together like a tape transport. Output
// frames are interpolated with a Catmull-Rom spline over the last four
// input frames.
type varispeed struct {
	src      atomic.Pointer[srcHolder]
	rateBits atomic.Uint64 // float64 bit pattern

	hist  [4][2]float32 // input frame history, hist[3] newest
	frac  float64       // read position between hist[1] and hist[2]
	in    []float32
	inPos int // next unread frame in `in`
	inLen int // frames valid in `in`
}

func newVarispeed() *varispeed {
	v := &varispeed{in: make([]float32, pullFrames*2)}
	v.SetSource(nil)
	v.SetRate(1)
	return v
}

// SetSource swaps the upstream. A nil source renders silence.
func (v *varispeed) SetSource(src renderer) {
	if src == nil {
		src = silence{}
	}
	v.src.Store(&srcHolder{r: src})
}

func (v *varispeed) SetRate(rate float64) { v.rateBits.Store(math.Float64bits(rate)) }
func (v *varispeed) Rate() float64        { return math.Float64frombits(v.rateBits.Load()) }

func (v *varispeed) Process(dst []float32) {
	src := v.src.Load().r
	rate := v.Rate()
	if rate == 1 {
		// Unity rate passes frames through untouched. The resample
		// state restarts if the rate later moves off unity.
		src.Process(dst)
		v.frac = 0
		v.inPos, v.inLen = 0, 0
		v.hist = [4][2]float32{}
		return
	}

	frames := len(dst) / 2
	for f := 0; f < frames; f++ {
		for v.frac >= 1 {
			v.advance(src)
			v.frac--
		}
		t := float32(v.frac)
		dst[2*f] = catmullRom(v.hist[0][0], v.hist[1][0], v.hist[2][0], v.hist[3][0], t)
		dst[2*f+1] = catmullRom(v.hist[0][1], v.hist[1][1], v.hist[2][1], v.hist[3][1], t)
		v.frac += rate
	}
}

// advance shifts one upstream frame into the history window.
func (v *varispeed) advance(src renderer) {
	if v.inPos >= v.inLen {
		src.Process(v.in)
		v.inPos = 0
		v.inLen = len(v.in) / 2
	}
	v.hist[0] = v.hist[1]
	v.hist[1] = v.hist[2]
	v.hist[2] = v.hist[3]
	v.hist[3] = [2]float32{v.in[2*v.inPos], v.in[2*v.inPos+1]}
	v.inPos++
}

func catmullRom(p0, p1, p2, p3, t float32) float32 {
	t2 := t * t
	t3 := t2 * t
	return 0.5 * (2*p1 + (p2-p0)*t + (2*p0-5*p1+4*p2-p3)*t2 + (3*p1-p0-3*p2+p3)*t3)
}

// pitchShiftWindowMS sizes the delay line. 50ms keeps tap modulation
// artifacts below the granularity a loop take tolerates.
const pitchShiftWindowMS = 50

// pitchShift transposes its input by a cent offset without changing
// tempo, using two delay-line taps swept against the write head and
// crossfaded with half-sine windows.
type pitchShift struct {
	src       renderer
	centsBits atomic.Uint64 // float64 bit pattern

	ring  []float32 // interleaved stereo, win frames
	win   int       // frames
	w     int       // write frame index
	phase float64   // sweep phase of tap A, [0,1)
	in    []float32
}

func newPitchShift(sampleRate int, src renderer) *pitchShift {
	win := sampleRate * pitchShiftWindowMS / 1000
	return &pitchShift{
		src:  src,
		ring: make([]float32, win*2),
		win:  win,
	}
}

func (p *pitchShift) SetCents(c float64) { p.centsBits.Store(math.Float64bits(c)) }
func (p *pitchShift) Cents() float64     { return math.Float64frombits(p.centsBits.Load()) }

func (p *pitchShift) Process(dst []float32) {
	cents := p.Cents()
	if cents == 0 {
		p.src.Process(dst)
		p.phase = 0
		p.w = 0
		for i := range p.ring {
			p.ring[i] = 0
		}
		return
	}
	ratio := math.Exp2(cents / 1200)

	frames := len(dst) / 2
	if cap(p.in) < frames*2 {
		p.in = make([]float32, frames*2)
	}
	in := p.in[:frames*2]
	p.src.Process(in)

	step := (1 - ratio) / float64(p.win)
	for f := 0; f < frames; f++ {
		p.ring[2*p.w] = in[2*f]
		p.ring[2*p.w+1] = in[2*f+1]
		p.w = (p.w + 1) % p.win

		phaseB := p.phase + 0.5
		if phaseB >= 1 {
			phaseB--
		}
		la, ra := p.tap(p.phase)
		lb, rb := p.tap(phaseB)
		ga := float32(math.Sin(math.Pi * p.phase))
		gb := float32(math.Sin(math.Pi * phaseB))
		dst[2*f] = la*ga + lb*gb
		dst[2*f+1] = ra*ga + rb*gb

		p.phase += step
		if p.phase >= 1 {
			p.phase--
		} else if p.phase < 0 {
			p.phase++
		}
	}
}

// tap reads the ring `phase*win` frames behind the write head with
// linear interpolation.
func (p *pitchShift) tap(phase float64) (float32, float32) {
	delay := phase * float64(p.win-2)
	d0 := int(delay)
	t := float32(delay - float64(d0))

	i0 := (p.w - 1 - d0 + 2*p.win) % p.win
	i1 := (i0 - 1 + p.win) % p.win
	l := p.ring[2*i0]*(1-t) + p.ring[2*i1]*t
	r := p.ring[2*i0+1]*(1-t) + p.ring[2*i1+1]*t
	return l, r
}

// mixStage sums an atomically swappable set of child renderers.
type mixStage struct {
	children atomic.Pointer[[]renderer]
	scratch  []float32
}

func newMixStage() *mixStage {
	m := &mixStage{}
	m.SetChildren(nil)
	return m
}

func (m *mixStage) SetChildren(cs []renderer) {
	m.children.Store(&cs)
}

func (m *mixStage) Process(dst []float32) {
	for i := range dst {
		dst[i] = 0
	}
	cs := *m.children.Load()
	if len(cs) == 0 {
		return
	}
	if cap(m.scratch) < len(dst) {
		m.scratch = make([]float32, len(dst))
	}
	s := m.scratch[:len(dst)]
	for _, c := range cs {
		c.Process(s)
		for i := range dst {
			dst[i] += s[i]
		}
	}
}
