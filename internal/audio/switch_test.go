package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

type constSource float32

func (c constSource) Process(dst []float32) {
	for i := range dst {
		dst[i] = float32(c)
	}
}

func TestSwitchDetachedRendersSilence(t *testing.T) {
	sw := NewSwitch()
	dst := []float32{1, 2, 3, 4}
	sw.Process(dst)
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("sample %d = %f, want 0", i, v)
		}
	}

	sw.Set(constSource(0.5))
	sw.Process(dst)
	if dst[0] != 0.5 {
		t.Fatalf("sample = %f, want 0.5", dst[0])
	}

	sw.Set(nil)
	sw.Process(dst)
	if dst[0] != 0 {
		t.Fatalf("sample = %f after detach, want 0", dst[0])
	}
}

func TestStreamReaderEncodesFloat32LE(t *testing.T) {
	r := NewStreamReader(constSource(0.25))
	p := make([]byte, 3*8) // three frames
	n, err := r.Read(p)
	if err != nil || n != len(p) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	for i := 0; i < 6; i++ {
		got := math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
		if got != 0.25 {
			t.Fatalf("sample %d = %f, want 0.25", i, got)
		}
	}

	// Short reads round down to whole frames.
	if n, _ := r.Read(make([]byte, 7)); n != 0 {
		t.Fatalf("partial frame read = %d bytes, want 0", n)
	}
}
