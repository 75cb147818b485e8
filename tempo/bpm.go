package tempo

import (
	"github.com/robmorgan/halodeck/utils"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
)

const (
	MinBPM     = 60.0
	MaxBPM     = 200.0
	DefaultBPM = 120.0

	minBeats = 4
)

// CalculateBPM resolves a sequence of beat timestamps (seconds) into a tempo. Intervals further than
// half a median away from the median interval are treated as spurious or missed beats. Half and double
// tempo readings are folded back into [MinBPM,MaxBPM].
func CalculateBPM(beats []float64) float64 {
	if len(beats) < minBeats {
		return DefaultBPM
	}

	intervals := make([]float64, 0, len(beats)-1)
	for i := 1; i < len(beats); i++ {
		intervals = append(intervals, beats[i]-beats[i-1])
	}

	sorted := slices.Clone(intervals)
	slices.Sort(sorted)
	median := sorted[len(sorted)/2]

	valid := make([]float64, 0, len(intervals))
	for _, interval := range intervals {
		if interval >= median*0.5 && interval <= median*1.5 {
			valid = append(valid, interval)
		}
	}
	if len(valid) == 0 {
		return DefaultBPM
	}

	bpm := 60 / stat.Mean(valid, nil)

	if bpm < MinBPM && bpm*2 <= MaxBPM {
		bpm *= 2
	} else if bpm > MaxBPM && bpm/2 >= MinBPM {
		bpm /= 2
	}

	return utils.RoundTo(utils.Clamp(bpm, MinBPM, MaxBPM), 1)
}
