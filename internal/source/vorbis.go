package source

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// DecodeVorbis reads a full Ogg Vorbis stream into a clip.
func DecodeVorbis(r io.Reader) (*Clip, error) {
	data, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return FromSamples(format.SampleRate, format.Channels, data)
}
