package tempo

import (
	"errors"

	"github.com/robmorgan/halodeck/media"
)

var (
	// ErrAlreadyInProgress is returned when a detection is requested for a track that is already being analyzed.
	ErrAlreadyInProgress = errors.New("bpm detection already in progress")

	// ErrNoDuration is the cause of an AnalysisError for sources without a usable duration.
	ErrNoDuration = errors.New("track has no accessible duration")
)

// Analysis operations reported by AnalysisError.
const (
	OpOpen     = "open"
	OpMetadata = "metadata"
	OpSeek     = "seek"
	OpPlay     = "play"
	OpSample   = "sample"
)

// AnalysisError reports a failure while preparing or sampling the analysis handle of a track.
type AnalysisError struct {
	Track media.Track
	Op    string
	Cause error
}

func newAnalysisError(t media.Track, op string, cause error) *AnalysisError {
	return &AnalysisError{Track: t, Op: op, Cause: cause}
}

func (e *AnalysisError) Error() string {
	msg := "bpm analysis of " + e.Track.DisplayName + " failed during " + e.Op
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}
