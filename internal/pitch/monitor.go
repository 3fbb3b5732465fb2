package pitch

import "sync/atomic"

// Monitor feeds capture buffers into an Estimator over a sliding window
// and keeps the most recent reading available to pollers. Push runs on
// the capture thread and takes no locks; its only allocation is the
// published Sample, once per analysis window. Latest can be called from
// any goroutine.
type Monitor struct {
	est    *Estimator
	window []float32
	filled int
	hop    int
	latest atomic.Pointer[Sample]
}

func NewMonitor(est *Estimator) *Monitor {
	size := est.WindowSize()
	return &Monitor{
		est:    est,
		window: make([]float32, size),
		hop:    size / 4,
	}
}

// Push appends mono samples to the analysis window, running the
// estimator each time a full window is available and sliding by a
// quarter window between runs.
func (m *Monitor) Push(buf []float32) {
	for len(buf) > 0 {
		n := copy(m.window[m.filled:], buf)
		m.filled += n
		buf = buf[n:]

		if m.filled < len(m.window) {
			return
		}
		if s, ok := m.est.Estimate(m.window); ok {
			m.latest.Store(&s)
		} else {
			m.latest.Store(nil)
		}
		copy(m.window, m.window[m.hop:])
		m.filled = len(m.window) - m.hop
	}
}

// Latest returns the most recent pitch reading, or false if the last
// full window held no detectable pitch or no window has completed yet.
func (m *Monitor) Latest() (Sample, bool) {
	p := m.latest.Load()
	if p == nil {
		return Sample{}, false
	}
	return *p, true
}

// Reset discards buffered samples and the published reading.
func (m *Monitor) Reset() {
	m.filled = 0
	m.latest.Store(nil)
}
