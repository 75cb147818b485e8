package deck

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/rhythm"
	"github.com/robmorgan/halodeck/tempo"
	"github.com/robmorgan/halodeck/utils"
	"github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// DefaultVolume is the volume of a new deck.
const DefaultVolume = 0.8

// Player is the audible playback of a deck.
type Player interface {
	Play()
	Pause()
	Paused() bool
	Seek(seconds float64) error
	Position() float64
	Ended() bool
	SetRate(rate float64)
	SetVolume(gain float64)
}

// Estimator detects the tempo of a track.
type Estimator interface {
	Estimate(ctx context.Context, t media.Track, position float64, progress tempo.ProgressFunc) (float64, error)
}

// Deck is one playback deck: a track, its player and the tempo state tying them together.
type Deck struct {
	id        ID
	estimator Estimator
	metronome *rhythm.Metronome

	lock      sync.Mutex
	track     *media.Track
	player    Player
	state     TempoState
	detecting string
	volume    float64
	gain      float64
	cue       float64
}

// New creates an empty deck. The beat clock of the deck runs on clk.
func New(id ID, estimator Estimator, clk clock.PassiveClock, volume float64) *Deck {
	return &Deck{
		id:        id,
		estimator: estimator,
		metronome: rhythm.NewMetronome(clk),
		state:     DefaultTempoState(),
		volume:    utils.Clamp(volume, 0, 1),
		gain:      1,
	}
}

func (d *Deck) ID() ID {
	return d.id
}

// Load puts t on the deck, replacing and closing the previous player. The tempo state is reset, an
// in-flight detection of the previous track is left to settle as stale.
func (d *Deck) Load(t media.Track, p Player) TempoState {
	logger := logger.GetProjectLogger()

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.player != nil {
		d.player.Pause()
		if closer, ok := d.player.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.WithFields(d.fields()).Warnf("could not close previous player: %v", err)
			}
		}
	}

	d.track = &t
	d.player = p
	d.cue = 0
	d.state = d.state.OnTrackLoad()
	d.apply()
	d.applyVolume()
	d.metronome.Restart()

	logger.WithFields(d.fields()).Info("Loaded track")
	return d.state
}

// Track returns the loaded track, false when the deck is empty.
func (d *Deck) Track() (media.Track, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.track == nil {
		return media.Track{}, false
	}
	return *d.track, true
}

func (d *Deck) State() TempoState {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.state
}

// Detect estimates the tempo of the loaded track from around the playback position and makes it the
// reference tempo. The deck stays usable while the estimation runs.
func (d *Deck) Detect(ctx context.Context, progress tempo.ProgressFunc) (TempoState, error) {
	logger := logger.GetProjectLogger()

	d.lock.Lock()
	if d.track == nil {
		d.lock.Unlock()
		return d.State(), ErrNoTrack
	}
	if d.detecting != "" {
		state := d.state
		d.lock.Unlock()
		return state, tempo.ErrAlreadyInProgress
	}
	t := *d.track
	position := d.player.Position()
	d.detecting = t.ID
	d.lock.Unlock()

	bpm, err := d.estimator.Estimate(ctx, t, position, progress)

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.detecting == t.ID {
		d.detecting = ""
	}
	if err != nil {
		return d.state, err
	}
	if d.track == nil || d.track.ID != t.ID {
		logger.WithFields(d.fields()).WithFields(logrus.Fields{
			"stale_track": t.DisplayName,
			"bpm":         bpm,
		}).Warn("Discarding bpm detected for a track that is no longer loaded")
		return d.state, ErrStaleResult
	}

	d.state = d.state.OnDetectionComplete(bpm)
	d.apply()
	logger.WithFields(d.fields()).Debug("Detection complete")
	return d.state, nil
}

// Detecting reports whether a detection is running on the deck. A session started before a reload
// keeps the deck busy until it settles.
func (d *Deck) Detecting() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.detecting != ""
}

func (d *Deck) SetBPM(bpm float64) (TempoState, error) {
	return d.transition(func(s TempoState) (TempoState, error) {
		return s.SetBPM(bpm)
	})
}

// SyncTo matches sourceBPM, the playing tempo of another deck.
func (d *Deck) SyncTo(sourceBPM float64) (TempoState, error) {
	return d.transition(func(s TempoState) (TempoState, error) {
		return s.SyncTo(sourceBPM)
	})
}

func (d *Deck) SetSpeed(ratio float64) TempoState {
	state, _ := d.transition(func(s TempoState) (TempoState, error) {
		return s.OnSpeedChanged(ratio), nil
	})
	return state
}

func (d *Deck) transition(fn func(TempoState) (TempoState, error)) (TempoState, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	next, err := fn(d.state)
	if err != nil {
		return d.state, err
	}
	d.state = next
	d.apply()

	logger.GetProjectLogger().WithFields(d.fields()).Debug("Tempo changed")
	return d.state, nil
}

// apply pushes the tempo state to the player and the beat clock. Callers hold the lock.
func (d *Deck) apply() {
	if d.player != nil {
		d.player.SetRate(d.state.SpeedRatio)
	}
	d.metronome.SetTempo(d.state.CurrentBPM)
}

// SetVolume sets the deck volume, clamped to [0,1].
func (d *Deck) SetVolume(volume float64) float64 {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.volume = utils.Clamp(volume, 0, 1)
	d.applyVolume()
	return d.volume
}

func (d *Deck) setCrossfadeGain(gain float64) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.gain = gain
	d.applyVolume()
}

// applyVolume sends volume*gain to the player. Callers hold the lock.
func (d *Deck) applyVolume() {
	if d.player != nil {
		d.player.SetVolume(d.volume * d.gain)
	}
}

// TogglePlay starts or pauses playback and reports whether the deck is now playing. A track that played
// to its end starts again from the cue point.
func (d *Deck) TogglePlay() (bool, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.player == nil {
		return false, ErrNoTrack
	}

	switch {
	case d.player.Ended():
		if err := d.player.Seek(d.cue); err != nil {
			return false, fmt.Errorf("could not return to cue point: %w", err)
		}
		d.player.Play()
		d.metronome.Restart()
	case d.player.Paused():
		d.player.Play()
	default:
		d.player.Pause()
	}
	return !d.player.Paused(), nil
}

// SetCue marks the current position as the cue point and returns it.
func (d *Deck) SetCue() (float64, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.player == nil {
		return 0, ErrNoTrack
	}
	d.cue = d.player.Position()
	return d.cue, nil
}

// Stop pauses the deck and returns to the cue point.
func (d *Deck) Stop() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.player == nil {
		return ErrNoTrack
	}
	d.player.Pause()
	return d.player.Seek(d.cue)
}

// Snapshot is a point in time view of a deck for display.
type Snapshot struct {
	ID        ID
	Track     string
	State     TempoState
	Volume    float64
	Gain      float64
	Cue       float64
	Position  float64
	Playing   bool
	Detecting bool
	Beat      rhythm.Snapshot
}

func (d *Deck) Snapshot() Snapshot {
	d.lock.Lock()
	defer d.lock.Unlock()

	s := Snapshot{
		ID:        d.id,
		State:     d.state,
		Volume:    d.volume,
		Gain:      d.gain,
		Cue:       d.cue,
		Detecting: d.detecting != "",
		Beat:      d.metronome.GetSnapshot(0),
	}
	if d.track != nil {
		s.Track = d.track.DisplayName
	}
	if d.player != nil {
		s.Position = d.player.Position()
		s.Playing = !d.player.Paused()
	}
	return s
}

// fields describe the deck in log entries. Callers hold the lock.
func (d *Deck) fields() logrus.Fields {
	fields := logrus.Fields{
		"deck":        d.id.String(),
		"current_bpm": d.state.CurrentBPM,
		"speed":       d.state.SpeedRatio,
	}
	if d.track != nil {
		fields["track"] = d.track.DisplayName
	}
	return fields
}
