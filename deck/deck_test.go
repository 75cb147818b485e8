package deck

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/robmorgan/halodeck/crossfade"
	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/tempo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type fakePlayer struct {
	lock sync.Mutex

	playing  bool
	ended    bool
	position float64
	rate     float64
	volume   float64
	closed   bool
	seekErr  error
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{rate: 1, volume: 1}
}

func (p *fakePlayer) Play() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.ended {
		p.playing = true
	}
}

func (p *fakePlayer) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.playing = false
}

func (p *fakePlayer) Paused() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return !p.playing
}

func (p *fakePlayer) Seek(seconds float64) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.seekErr != nil {
		return p.seekErr
	}
	p.position = seconds
	p.ended = false
	return nil
}

func (p *fakePlayer) Position() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.position
}

func (p *fakePlayer) Ended() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ended
}

func (p *fakePlayer) SetRate(rate float64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.rate = rate
}

func (p *fakePlayer) SetVolume(gain float64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.volume = gain
}

func (p *fakePlayer) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.closed = true
	return nil
}

func (p *fakePlayer) finish() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.playing = false
	p.ended = true
}

// fakeEstimator returns bpm, optionally blocking until release is closed.
type fakeEstimator struct {
	bpm     float64
	err     error
	started chan struct{}
	release chan struct{}

	lock     sync.Mutex
	calls    int
	position float64
	track    media.Track
}

func (e *fakeEstimator) Estimate(ctx context.Context, t media.Track, position float64, progress tempo.ProgressFunc) (float64, error) {
	e.lock.Lock()
	e.calls++
	e.position = position
	e.track = t
	e.lock.Unlock()

	if e.started != nil {
		close(e.started)
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if progress != nil {
		progress(100)
	}
	return e.bpm, e.err
}

func track(name string) media.Track {
	return media.Track{ID: name + "-id", Path: name + ".wav", DisplayName: name, Format: media.FormatWAV}
}

func newTestDeck(est Estimator) *Deck {
	return New(Left, est, testingclock.NewFakePassiveClock(time.Now()), DefaultVolume)
}

func TestLoadResetsTheDeck(t *testing.T) {
	t.Parallel()

	d := newTestDeck(&fakeEstimator{bpm: 128})
	first := newFakePlayer()
	d.Load(track("first"), first)
	assert.Equal(t, DefaultVolume, first.volume)

	_, err := d.SetBPM(128)
	require.NoError(t, err)
	_, err = d.SetBPM(140.8)
	require.NoError(t, err)
	assert.InDelta(t, 1.1, first.rate, 1e-9)

	second := newFakePlayer()
	state := d.Load(track("second"), second)
	assert.Equal(t, DefaultTempoState(), state)
	assert.Equal(t, 1.0, second.rate)
	assert.True(t, first.closed)

	loaded, ok := d.Track()
	require.True(t, ok)
	assert.Equal(t, "second", loaded.DisplayName)
}

func TestDetectMakesTheResultTheReference(t *testing.T) {
	t.Parallel()

	est := &fakeEstimator{bpm: 126.5}
	d := newTestDeck(est)
	p := newFakePlayer()
	d.Load(track("love sensation"), p)
	d.SetSpeed(1.2)
	require.NoError(t, p.Seek(42))

	var progress []float64
	state, err := d.Detect(context.Background(), func(pct float64) {
		progress = append(progress, pct)
	})
	require.NoError(t, err)

	assert.Equal(t, TempoState{OriginalBPM: 126.5, CurrentBPM: 126.5, SpeedRatio: 1.2}, state)
	assert.Equal(t, 42.0, est.position)
	assert.Equal(t, "love sensation-id", est.track.ID)
	assert.Equal(t, []float64{100}, progress)
	assert.False(t, d.Detecting())
	assert.Equal(t, 126.5, d.Snapshot().Beat.Tempo)
}

func TestDetectNeedsATrack(t *testing.T) {
	t.Parallel()

	est := &fakeEstimator{bpm: 126}
	d := newTestDeck(est)

	_, err := d.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoTrack)
	assert.Zero(t, est.calls)
}

func TestDetectFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	cause := errors.New("no duration")
	d := newTestDeck(&fakeEstimator{err: cause})
	d.Load(track("broken"), newFakePlayer())

	state, err := d.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, DefaultTempoState(), state)
	assert.False(t, d.Detecting())
}

func TestDetectRejectsASecondRequest(t *testing.T) {
	t.Parallel()

	est := &fakeEstimator{bpm: 124, started: make(chan struct{}), release: make(chan struct{})}
	d := newTestDeck(est)
	d.Load(track("first"), newFakePlayer())

	done := make(chan error, 1)
	go func() {
		_, err := d.Detect(context.Background(), nil)
		done <- err
	}()
	<-est.started
	assert.True(t, d.Detecting())

	_, err := d.Detect(context.Background(), nil)
	assert.ErrorIs(t, err, tempo.ErrAlreadyInProgress)

	// the deck keeps working while the detection runs
	state, err := d.SetBPM(100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, state.OriginalBPM)

	close(est.release)
	require.NoError(t, <-done)
	assert.Equal(t, 124.0, d.State().OriginalBPM)
	assert.Equal(t, 1, est.calls)
}

func TestReloadDuringDetectionDiscardsTheResult(t *testing.T) {
	t.Parallel()

	est := &fakeEstimator{bpm: 124, started: make(chan struct{}), release: make(chan struct{})}
	d := newTestDeck(est)
	d.Load(track("first"), newFakePlayer())

	done := make(chan error, 1)
	go func() {
		_, err := d.Detect(context.Background(), nil)
		done <- err
	}()
	<-est.started

	second := newFakePlayer()
	d.Load(track("second"), second)
	_, err := d.SetBPM(90)
	require.NoError(t, err)
	expected := d.State()

	// the old session still samples, the deck takes no second one
	assert.True(t, d.Detecting())
	_, err = d.Detect(context.Background(), nil)
	require.ErrorIs(t, err, tempo.ErrAlreadyInProgress)
	est.lock.Lock()
	assert.Equal(t, 1, est.calls)
	est.lock.Unlock()

	close(est.release)
	assert.ErrorIs(t, <-done, ErrStaleResult)
	assert.Equal(t, expected, d.State())
	assert.Equal(t, 1.0, second.rate)
	assert.False(t, d.Detecting())
}

func TestTempoOperationsDriveThePlayer(t *testing.T) {
	t.Parallel()

	d := newTestDeck(&fakeEstimator{})
	p := newFakePlayer()
	d.Load(track("deck"), p)

	_, err := d.SetBPM(120)
	require.NoError(t, err)

	state := d.SetSpeed(0.9)
	assert.Equal(t, 108.0, state.CurrentBPM)
	assert.Equal(t, 0.9, p.rate)

	state, err = d.SyncTo(126)
	require.NoError(t, err)
	assert.InDelta(t, 1.05, p.rate, 1e-9)
	assert.Equal(t, 126.0, state.CurrentBPM)

	state, err = d.SetBPM(201)
	assert.ErrorIs(t, err, ErrOutOfRangeBPM)
	assert.Equal(t, 126.0, state.CurrentBPM)
	assert.InDelta(t, 1.05, p.rate, 1e-9)

	_, err = d.SyncTo(0)
	assert.ErrorIs(t, err, ErrNoReferenceBPM)
}

func TestTransport(t *testing.T) {
	t.Parallel()

	d := newTestDeck(&fakeEstimator{})

	_, err := d.TogglePlay()
	assert.ErrorIs(t, err, ErrNoTrack)
	_, err = d.SetCue()
	assert.ErrorIs(t, err, ErrNoTrack)
	assert.ErrorIs(t, d.Stop(), ErrNoTrack)

	p := newFakePlayer()
	d.Load(track("deck"), p)

	playing, err := d.TogglePlay()
	require.NoError(t, err)
	assert.True(t, playing)

	require.NoError(t, p.Seek(12.5))
	cue, err := d.SetCue()
	require.NoError(t, err)
	assert.Equal(t, 12.5, cue)

	playing, err = d.TogglePlay()
	require.NoError(t, err)
	assert.False(t, playing)

	require.NoError(t, p.Seek(30))
	require.NoError(t, d.Stop())
	assert.Equal(t, 12.5, p.position)
	assert.False(t, d.Snapshot().Playing)

	// a finished track starts again from the cue point
	p.finish()
	playing, err = d.TogglePlay()
	require.NoError(t, err)
	assert.True(t, playing)
	assert.Equal(t, 12.5, p.position)

	p.seekErr = errors.New("seek failed")
	p.finish()
	_, err = d.TogglePlay()
	assert.ErrorIs(t, err, p.seekErr)
}

func TestVolumeAndCrossfade(t *testing.T) {
	t.Parallel()

	left := New(Left, &fakeEstimator{}, testingclock.NewFakePassiveClock(time.Now()), DefaultVolume)
	right := New(Right, &fakeEstimator{}, testingclock.NewFakePassiveClock(time.Now()), DefaultVolume)
	lp, rp := newFakePlayer(), newFakePlayer()
	left.Load(track("left"), lp)
	right.Load(track("right"), rp)

	m := NewMixer(left, right, crossfade.Linear, 0.25)
	assert.InDelta(t, 0.8*0.75, lp.volume, 1e-9)
	assert.InDelta(t, 0.8*0.25, rp.volume, 1e-9)

	assert.Equal(t, 1.0, m.SetCrossfader(1.7))
	assert.InDelta(t, 0, lp.volume, 1e-9)
	assert.InDelta(t, 0.8, rp.volume, 1e-9)

	assert.Equal(t, 0.5, right.SetVolume(0.5))
	assert.InDelta(t, 0.5, rp.volume, 1e-9)
	assert.Equal(t, 1.0, right.SetVolume(3))

	// a new track keeps the volume and crossfade gain of the deck
	rp2 := newFakePlayer()
	right.Load(track("next"), rp2)
	assert.InDelta(t, 1.0, rp2.volume, 1e-9)
}
