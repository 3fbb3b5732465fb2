package source

import (
	"encoding/binary"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 reads a full MP3 stream into a clip. go-mp3 always emits
// 16-bit little-endian stereo PCM.
func DecodeMP3(r io.Reader) (*Clip, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	samples := len(raw) / 2
	data := make([]float32, samples)
	for i := 0; i < samples; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		data[i] = float32(v) / 32768.0
	}
	return FromSamples(dec.SampleRate(), 2, data)
}
