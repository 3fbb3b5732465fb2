package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Loader resolves a source-audio reference to a decoded clip.
type Loader interface {
	Load(ref string) (*Clip, error)
}

// FileLoader decodes local files, picking the decoder from the extension.
type FileLoader struct{}

func (FileLoader) Load(ref string) (*Clip, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(ref)) {
	case ".wav", ".wave":
		return DecodeWAV(f)
	case ".mp3":
		return DecodeMP3(f)
	case ".ogg", ".oga":
		return DecodeVorbis(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(ref))
	}
}
