package deck

import "errors"

var (
	// ErrOutOfRangeBPM is returned when a requested tempo lies outside [MinBPM, MaxBPM].
	ErrOutOfRangeBPM = errors.New("bpm out of range")

	// ErrNoReferenceBPM is returned when syncing to a deck that has no tempo.
	ErrNoReferenceBPM = errors.New("no reference bpm to sync to")

	// ErrStaleResult is returned when a detection settles after its deck was loaded with another track.
	ErrStaleResult = errors.New("detection result is stale")

	// ErrNoTrack is returned by operations that need a loaded track.
	ErrNoTrack = errors.New("no track loaded")
)
