package source

import "errors"

var (
	ErrUnreadable        = errors.New("source: audio file unreadable")
	ErrUnsupportedFormat = errors.New("source: unsupported audio format")
	ErrUnsupportedLayout = errors.New("source: unsupported channel layout")
)
