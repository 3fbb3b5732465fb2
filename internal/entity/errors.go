package entity

import "errors"

var (
	ErrNotFound         = errors.New("entity: not found")
	ErrInvalidOffsets   = errors.New("entity: stop offset must be greater than start offset")
	ErrPitchOutOfRange  = errors.New("entity: pitch shift outside [-2400, 2400] cents")
	ErrRateOutOfRange   = errors.New("entity: playback rate outside [1/32, 32]")
	ErrVolumeOutOfRange = errors.New("entity: volume outside [0, 1]")
	ErrAlreadyParented  = errors.New("entity: child already has a parent")
	ErrCycle            = errors.New("entity: child is an ancestor of the parent")
	ErrLastChild        = errors.New("entity: composite must keep at least one child")
	ErrNotChild         = errors.New("entity: not a child of this parent")
	ErrTxFinished       = errors.New("entity: mutable handle used outside its transaction")
)
