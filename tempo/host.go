package tempo

import (
	"context"

	"github.com/robmorgan/halodeck/media"
)

// ProgressFunc receives the completion of a detection as a percentage in [0,100].
type ProgressFunc func(percent float64)

// Handle is a muted playback of a track, independent from any deck playing the same file.
type Handle interface {
	Play() error
	Pause()

	// CurrentTime is the playback position in seconds.
	CurrentTime() float64
	Seek(seconds float64) error
	Duration() float64

	Paused() bool
	Ended() bool

	// Sample fills dst with the most recent time-domain amplitudes in [-1,1] and returns how many
	// were written.
	Sample(dst []float64) int

	// Err reports a playback failure that stopped the handle.
	Err() error

	// Close stops playback and releases everything created for the analysis. Calling it twice is harmless.
	Close() error
}

// Host is the audio I/O layer the estimator samples from.
type Host interface {
	OpenAnalysis(ctx context.Context, t media.Track) (Handle, error)

	// Now is the audio clock in seconds. It is monotonic and shared by every handle.
	Now() float64
}
