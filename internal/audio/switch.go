package audio

import "sync/atomic"

// Switch is the single attach point between the node graph and the
// output stream. The output pulls from it for its whole lifetime; the
// registry swaps the source atomically when the active voice changes.
// With no source attached it renders silence, which keeps the hardware
// stream running between takes.
type Switch struct {
	src atomic.Pointer[sourceBox]
}

type sourceBox struct{ s SampleSource }

func NewSwitch() *Switch {
	sw := &Switch{}
	sw.Set(nil)
	return sw
}

// Set swaps the live source. nil detaches.
func (sw *Switch) Set(s SampleSource) {
	sw.src.Store(&sourceBox{s: s})
}

func (sw *Switch) Process(dst []float32) {
	s := sw.src.Load().s
	if s == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	s.Process(dst)
}
