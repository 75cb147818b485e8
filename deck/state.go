package deck

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/robmorgan/halodeck/tempo"
	"github.com/robmorgan/halodeck/utils"
)

const (
	MinSpeedRatio = 0.5
	MaxSpeedRatio = 1.5
)

// TempoState relates the reference tempo of a track to its playback speed. While OriginalBPM is set,
// CurrentBPM is OriginalBPM*SpeedRatio rounded to one decimal.
//
// Transitions are pure: they return the next state and never modify the receiver.
type TempoState struct {
	// OriginalBPM is the reference tempo of the track at speed 1, 0 when unknown.
	OriginalBPM float64 `json:"original_bpm" yaml:"original_bpm"`
	CurrentBPM  float64 `json:"current_bpm" yaml:"current_bpm"`
	SpeedRatio  float64 `json:"speed_ratio" yaml:"speed_ratio"`
}

// DefaultTempoState is the state of a freshly loaded deck.
func DefaultTempoState() TempoState {
	return TempoState{
		OriginalBPM: 0,
		CurrentBPM:  tempo.DefaultBPM,
		SpeedRatio:  1,
	}
}

func (s TempoState) HasReference() bool {
	return s.OriginalBPM > 0
}

func (s TempoState) OnTrackLoad() TempoState {
	return DefaultTempoState()
}

// OnSpeedChanged applies a new speed ratio, clamped to [MinSpeedRatio, MaxSpeedRatio]. The derived tempo
// follows the ratio without being clamped to the bpm range.
func (s TempoState) OnSpeedChanged(ratio float64) TempoState {
	if math.IsNaN(ratio) {
		return s
	}
	s.SpeedRatio = utils.Clamp(ratio, MinSpeedRatio, MaxSpeedRatio)
	if s.HasReference() {
		s.CurrentBPM = utils.RoundTo(s.OriginalBPM*s.SpeedRatio, 1)
	}
	return s
}

// OnDetectionComplete makes a detected tempo the reference. The speed ratio is kept as it is.
func (s TempoState) OnDetectionComplete(bpm float64) TempoState {
	s.OriginalBPM = bpm
	s.CurrentBPM = bpm
	return s
}

// SetBPM asks for a playing tempo. Without a reference the request becomes the reference, otherwise the
// speed ratio moves as close to the request as [MinSpeedRatio, MaxSpeedRatio] allows.
func (s TempoState) SetBPM(bpm float64) (TempoState, error) {
	if math.IsNaN(bpm) || bpm < tempo.MinBPM || bpm > tempo.MaxBPM {
		return s, fmt.Errorf("%w: %.1f is not within %.0f-%.0f", ErrOutOfRangeBPM, bpm, tempo.MinBPM, tempo.MaxBPM)
	}

	if !s.HasReference() {
		s.OriginalBPM = bpm
		s.CurrentBPM = bpm
		return s, nil
	}
	return s.OnSpeedChanged(bpm / s.OriginalBPM), nil
}

// SyncTo matches the playing tempo of another deck. A deck without a reference takes its current tempo
// as the reference first. On failure the receiver is returned untouched.
func (s TempoState) SyncTo(sourceBPM float64) (TempoState, error) {
	if math.IsNaN(sourceBPM) || sourceBPM <= 0 {
		return s, ErrNoReferenceBPM
	}

	seeded := s
	if !seeded.HasReference() {
		seeded.OriginalBPM = tempo.DefaultBPM
		if seeded.CurrentBPM > 0 {
			seeded.OriginalBPM = seeded.CurrentBPM
		}
	}

	next, err := seeded.SetBPM(sourceBPM)
	if err != nil {
		return s, err
	}
	return next, nil
}

func (s TempoState) String() string {
	if !s.HasReference() {
		return fmt.Sprintf("%.1f BPM (no reference) x%.2f", s.CurrentBPM, s.SpeedRatio)
	}
	return fmt.Sprintf("%.1f BPM (%.1f x%.2f)", s.CurrentBPM, s.OriginalBPM, s.SpeedRatio)
}

// NormalizeBPMInput turns free text typed by a user into a displayable tempo: garbage becomes
// DefaultBPM, everything else is clamped into the bpm range.
func NormalizeBPMInput(input string) float64 {
	bpm, err := strconv.ParseFloat(strings.TrimSpace(input), 64)
	if err != nil || math.IsNaN(bpm) {
		return tempo.DefaultBPM
	}
	return utils.Clamp(bpm, tempo.MinBPM, tempo.MaxBPM)
}
