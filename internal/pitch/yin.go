// Package pitch estimates the fundamental frequency of a mono signal
// using the YIN algorithm and maps it onto the equal-tempered scale.
package pitch

import "math"

// Sample is one pitch reading derived from a capture buffer.
type Sample struct {
	Frequency float64 // Hz
	Period    float64 // samples
	NoteName  string
	Octave    int
	Cents     float64 // deviation from the named note, [-50, 50)
}

// Estimator runs YIN over fixed-size windows. All scratch buffers are
// allocated up front so Estimate performs no allocation on the capture
// thread.
type Estimator struct {
	sampleRate int
	minPeriod  int
	maxPeriod  int
	threshold  float64

	diff []float64
	cmnd []float64
}

type EstimatorOption func(*Estimator)

// WithThreshold sets the CMND acceptance threshold. Lower values demand
// a cleaner periodicity before a pitch is reported.
func WithThreshold(t float64) EstimatorOption {
	return func(e *Estimator) { e.threshold = t }
}

// WithPeriodRange bounds the detectable period in samples.
func WithPeriodRange(min, max int) EstimatorOption {
	return func(e *Estimator) {
		e.minPeriod, e.maxPeriod = min, max
	}
}

func NewEstimator(sampleRate int, opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		sampleRate: sampleRate,
		minPeriod:  10,
		maxPeriod:  2048,
		threshold:  0.1,
	}
	for _, o := range opts {
		o(e)
	}
	e.diff = make([]float64, e.maxPeriod+1)
	e.cmnd = make([]float64, e.maxPeriod+1)
	return e
}

// WindowSize is the minimum buffer length Estimate accepts.
func (e *Estimator) WindowSize() int { return 2 * e.maxPeriod }

// Estimate runs the detector over buf. It returns (Sample, true) when a
// period clears the threshold and (zero, false) otherwise, as on silence
// or aperiodic input. Only the first WindowSize() samples are inspected.
func (e *Estimator) Estimate(buf []float32) (Sample, bool) {
	if len(buf) < e.WindowSize() {
		return Sample{}, false
	}
	w := e.maxPeriod

	// Difference function d(tau) = r(0) + r_tau(0) - 2*r(tau).
	// r_tau(0) is maintained incrementally: shifting the window by one
	// removes buf[tau-1]^2 and admits buf[tau-1+w]^2.
	var energy0 float64
	for i := 0; i < w; i++ {
		v := float64(buf[i])
		energy0 += v * v
	}
	energyTau := energy0
	e.diff[0] = 0
	for tau := 1; tau <= w; tau++ {
		out := float64(buf[tau-1])
		in := float64(buf[tau-1+w])
		energyTau += in*in - out*out

		var corr float64
		for i := 0; i < w; i++ {
			corr += float64(buf[i]) * float64(buf[i+tau])
		}
		e.diff[tau] = energy0 + energyTau - 2*corr
	}

	// Cumulative mean normalized difference.
	e.cmnd[0] = 1
	var running float64
	for tau := 1; tau <= w; tau++ {
		running += e.diff[tau]
		if running == 0 {
			e.cmnd[tau] = 1
		} else {
			e.cmnd[tau] = e.diff[tau] * float64(tau) / running
		}
	}

	// First threshold crossing, then walk down the slope to the local
	// minimum so the parabolic fit is centered on the dip rather than
	// its shoulder.
	tau := -1
	for t := e.minPeriod; t <= e.maxPeriod; t++ {
		if e.cmnd[t] < e.threshold {
			for t < e.maxPeriod && e.cmnd[t+1] < e.cmnd[t] {
				t++
			}
			tau = t
			break
		}
	}
	if tau < 0 {
		return Sample{}, false
	}

	period := e.refine(tau)
	if period < float64(e.minPeriod) {
		period = float64(e.minPeriod)
	} else if period > float64(e.maxPeriod) {
		period = float64(e.maxPeriod)
	}

	freq := float64(e.sampleRate) / period
	name, octave, cents := NoteFor(freq)
	return Sample{
		Frequency: freq,
		Period:    period,
		NoteName:  name,
		Octave:    octave,
		Cents:     cents,
	}, true
}

// refine fits a parabola through cmnd[tau-1..tau+1] and returns the
// abscissa of its vertex.
func (e *Estimator) refine(tau int) float64 {
	if tau <= 0 || tau >= e.maxPeriod {
		return float64(tau)
	}
	a := e.cmnd[tau-1]
	b := e.cmnd[tau]
	c := e.cmnd[tau+1]
	denom := a - 2*b + c
	if denom == 0 {
		return float64(tau)
	}
	return float64(tau) + (a-c)/(2*denom)
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteFor maps a frequency to the nearest equal-tempered note and the
// residual deviation in cents.
func NoteFor(freq float64) (name string, octave int, cents float64) {
	exact := 12*math.Log2(freq/440) + 69
	midi := int(math.Round(exact))
	name = noteNames[((midi%12)+12)%12]
	octave = midi/12 - 1
	cents = 100 * (exact - float64(midi))
	return name, octave, cents
}
