package source

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func writeTestWAV(t *testing.T, path string, sampleRate int, mono []float32) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	ints := make([]int, len(mono))
	for i, s := range mono {
		ints[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
}

func TestFileLoaderWAVRoundTrip(t *testing.T) {
	const rate = 44100
	mono := make([]float32, rate/10)
	for i := range mono {
		mono[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/rate))
	}
	path := filepath.Join(t.TempDir(), "tone.wav")
	writeTestWAV(t, path, rate, mono)

	clip, err := FileLoader{}.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if clip.SampleRate() != rate {
		t.Fatalf("sample rate = %d, want %d", clip.SampleRate(), rate)
	}
	if clip.Frames() != len(mono) {
		t.Fatalf("frames = %d, want %d", clip.Frames(), len(mono))
	}
	for _, i := range []int{0, 100, len(mono) - 1} {
		l, r := clip.At(i)
		if l != r {
			t.Fatalf("mono upmix differs at frame %d: l=%f r=%f", i, l, r)
		}
		if math.Abs(float64(l)-float64(mono[i])) > 1.0/32000 {
			t.Fatalf("frame %d = %f, want ~%f", i, l, mono[i])
		}
	}
}

func TestFileLoaderRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "take.xyz")
	if err := os.WriteFile(path, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := FileLoader{}.Load(path)
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFileLoaderMissingFile(t *testing.T) {
	_, err := FileLoader{}.Load(filepath.Join(t.TempDir(), "missing.wav"))
	if !errors.Is(err, ErrUnreadable) {
		t.Fatalf("expected ErrUnreadable, got %v", err)
	}
}

func TestClipOutOfRangeIsSilence(t *testing.T) {
	clip, err := FromSamples(44100, 1, []float32{0.25, 0.5})
	if err != nil {
		t.Fatal(err)
	}
	if l, r := clip.At(-1); l != 0 || r != 0 {
		t.Fatal("negative frame not silent")
	}
	if l, r := clip.At(2); l != 0 || r != 0 {
		t.Fatal("past-end frame not silent")
	}
}
