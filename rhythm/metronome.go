package rhythm

import (
	"fmt"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

const (
	DefaultTempo         = 120.0
	DefaultBeatsPerBar   = 4
	DefaultBarsPerPhrase = 8
)

// Metronome keeps a beat grid running at a tempo. Changing the tempo keeps the current beat and phase.
// Originally based on https://github.com/Deep-Symmetry/electro/blob/main/src/main/java/org/deepsymmetry/electro/Metronome.java#L449
type Metronome struct {
	mu            sync.Mutex
	clock         clock.PassiveClock
	startTime     time.Time
	tempo         float64
	beatsPerBar   int
	barsPerPhrase int
}

// NewMetronome creates a new Metronome with default values, starting now.
func NewMetronome(clk clock.PassiveClock) *Metronome {
	return &Metronome{
		clock:         clk,
		startTime:     clk.Now(),
		tempo:         DefaultTempo,
		beatsPerBar:   DefaultBeatsPerBar,
		barsPerPhrase: DefaultBarsPerPhrase,
	}
}

func (m *Metronome) GetTempo() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempo
}

// SetTempo sets a new tempo for the Metronome. The start time will be adjusted so that the current beat and phase are
// unaffected by the tempo change. Non-positive tempos are ignored.
func (m *Metronome) SetTempo(bpm float64) {
	if bpm <= 0 || math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	instant := m.clock.Now()
	interval := m.beatInterval()
	beat := markerNumber(instant, m.startTime, interval)
	phase := markerPhase(instant, m.startTime, interval)
	newInterval := beatsToMilliseconds(1, bpm)
	m.startTime = instant.Add(-millisToDuration(newInterval * (phase + float64(beat) - 1)))
	m.tempo = bpm
}

// Restart moves the first beat to now.
func (m *Metronome) Restart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = m.clock.Now()
}

// GetBeatInterval returns the number of milliseconds a beat lasts.
func (m *Metronome) GetBeatInterval() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beatInterval()
}

func (m *Metronome) beatInterval() float64 {
	return beatsToMilliseconds(1, m.tempo)
}

// Snapshot is the state of the beat grid at one instant.
type Snapshot struct {
	Instant       time.Time
	Tempo         float64
	BeatInterval  float64
	Beat          int
	Bar           int
	Phrase        int
	BeatPhase     float64
	BeatWithinBar int
}

// IsDownBeat reports whether the snapshot lies on the first beat of a bar.
func (s Snapshot) IsDownBeat() bool {
	return s.BeatWithinBar == 1
}

// Marker formats the snapshot as "phrase.bar.beat", bar and beat counted within their parents.
func (s Snapshot) Marker() string {
	beatsPerPhrase := DefaultBeatsPerBar * DefaultBarsPerPhrase
	barWithinPhrase := ((s.Beat-1)%beatsPerPhrase)/DefaultBeatsPerBar + 1
	return fmt.Sprintf("%d.%d.%d", s.Phrase, barWithinPhrase, s.BeatWithinBar)
}

// GetSnapshot captures the beat grid addedDuration from now.
func (m *Metronome) GetSnapshot(addedDuration time.Duration) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	instant := m.clock.Now().Add(addedDuration)
	interval := m.beatInterval()
	beat := markerNumber(instant, m.startTime, interval)

	return Snapshot{
		Instant:       instant,
		Tempo:         m.tempo,
		BeatInterval:  interval,
		Beat:          beat,
		Bar:           (beat-1)/m.beatsPerBar + 1,
		Phrase:        (beat-1)/(m.beatsPerBar*m.barsPerPhrase) + 1,
		BeatPhase:     markerPhase(instant, m.startTime, interval),
		BeatWithinBar: (beat-1)%m.beatsPerBar + 1,
	}
}

// beatsToMilliseconds calculates milliseconds for given beats and tempo
func beatsToMilliseconds(beats int, tempo float64) float64 {
	return (60000.0 / tempo) * float64(beats)
}

func millisToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

// markerNumber calculates the marker number
func markerNumber(instant, start time.Time, interval float64) int {
	return int(math.Floor(instant.Sub(start).Seconds()*1000/interval)) + 1
}

// markerPhase calculates the phase of a marker
func markerPhase(instant, start time.Time, interval float64) float64 {
	ratio := instant.Sub(start).Seconds() * 1000 / interval
	return ratio - math.Floor(ratio)
}
