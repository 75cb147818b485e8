package deck

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/robmorgan/halodeck/crossfade"
	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/utils"
	"github.com/sirupsen/logrus"
)

// ID identifies one of the two decks.
type ID int

const (
	Left ID = iota + 1
	Right
)

func (id ID) String() string {
	return fmt.Sprintf("Deck %d", int(id))
}

// Other returns the opposite deck.
func (id ID) Other() ID {
	if id == Left {
		return Right
	}
	return Left
}

// ParseID accepts a deck number or "left"/"right".
func ParseID(s string) (ID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return Left, nil
	case "right", "r":
		return Right, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || (ID(n) != Left && ID(n) != Right) {
		return 0, fmt.Errorf("unknown deck %q", s)
	}
	return ID(n), nil
}

// Mixer owns the two decks and the crossfader between them.
type Mixer struct {
	left  *Deck
	right *Deck

	lock     sync.Mutex
	curve    crossfade.Curve
	position float64
}

// NewMixer puts two decks behind a crossfader at position.
func NewMixer(left, right *Deck, curve crossfade.Curve, position float64) *Mixer {
	m := &Mixer{
		left:  left,
		right: right,
		curve: curve,
	}
	m.SetCrossfader(position)
	return m
}

// Deck returns the deck with the given id, nil when there is none.
func (m *Mixer) Deck(id ID) *Deck {
	switch id {
	case Left:
		return m.left
	case Right:
		return m.right
	}
	return nil
}

// Sync sets the tempo of follower to the playing tempo of leader. Both decks need a track.
func (m *Mixer) Sync(follower, leader ID) (TempoState, error) {
	f, l := m.Deck(follower), m.Deck(leader)
	if f == nil || l == nil || f == l {
		return TempoState{}, fmt.Errorf("cannot sync %s to %s", follower, leader)
	}

	if _, ok := l.Track(); !ok {
		return f.State(), fmt.Errorf("%s: %w", leader, ErrNoTrack)
	}
	if _, ok := f.Track(); !ok {
		return f.State(), fmt.Errorf("%s: %w", follower, ErrNoTrack)
	}

	source := l.State().CurrentBPM
	state, err := f.SyncTo(source)
	if err != nil {
		return state, err
	}

	logger.GetProjectLogger().WithFields(logrus.Fields{
		"follower": follower.String(),
		"leader":   leader.String(),
		"bpm":      state.CurrentBPM,
	}).Info("Synced decks")
	return state, nil
}

// SetCrossfader moves the crossfader, clamped to [0,1], and returns the new position.
func (m *Mixer) SetCrossfader(position float64) float64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	if math.IsNaN(position) {
		position = crossfade.Center
	}
	m.position = utils.Clamp(position, 0, 1)
	left, right := m.curve.Gains(m.position)
	m.left.setCrossfadeGain(left)
	m.right.setCrossfadeGain(right)
	return m.position
}

func (m *Mixer) Crossfader() float64 {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.position
}

// Snapshot returns both decks, left first.
func (m *Mixer) Snapshot() []Snapshot {
	return []Snapshot{m.left.Snapshot(), m.right.Snapshot()}
}
