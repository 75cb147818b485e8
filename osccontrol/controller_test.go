package osccontrol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/robmorgan/halodeck/crossfade"
	"github.com/robmorgan/halodeck/deck"
	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/tempo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type stubPlayer struct {
	lock     sync.Mutex
	playing  bool
	position float64
	rate     float64
	volume   float64
}

func (p *stubPlayer) Play() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.playing = true
}

func (p *stubPlayer) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.playing = false
}

func (p *stubPlayer) Paused() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return !p.playing
}

func (p *stubPlayer) Seek(seconds float64) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.position = seconds
	return nil
}

func (p *stubPlayer) Position() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.position
}

func (p *stubPlayer) Ended() bool { return false }

func (p *stubPlayer) SetRate(rate float64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.rate = rate
}

func (p *stubPlayer) SetVolume(gain float64) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.volume = gain
}

type stubEstimator struct{ bpm float64 }

func (e stubEstimator) Estimate(_ context.Context, _ media.Track, _ float64, progress tempo.ProgressFunc) (float64, error) {
	progress(50)
	progress(100)
	return e.bpm, nil
}

type recorder struct {
	lock    sync.Mutex
	packets []osc.Packet
}

func (r *recorder) Send(packet osc.Packet) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.packets = append(r.packets, packet)
	return nil
}

func (r *recorder) addresses() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	var out []string
	for _, p := range r.packets {
		switch p := p.(type) {
		case *osc.Message:
			out = append(out, p.Address)
		case *osc.Bundle:
			for _, m := range p.Messages {
				out = append(out, m.Address)
			}
		}
	}
	return out
}

type fixture struct {
	mixer    *deck.Mixer
	players  map[deck.ID]*stubPlayer
	feedback *recorder
	ctrl     *Controller
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	clk := testingclock.NewFakePassiveClock(time.Now())
	left := deck.New(deck.Left, stubEstimator{bpm: 124}, clk, deck.DefaultVolume)
	right := deck.New(deck.Right, stubEstimator{bpm: 130}, clk, deck.DefaultVolume)

	players := map[deck.ID]*stubPlayer{deck.Left: {}, deck.Right: {}}
	left.Load(media.Track{ID: "a", DisplayName: "a"}, players[deck.Left])
	right.Load(media.Track{ID: "b", DisplayName: "b"}, players[deck.Right])

	mixer := deck.NewMixer(left, right, crossfade.Linear, crossfade.Center)
	feedback := &recorder{}
	return fixture{
		mixer:    mixer,
		players:  players,
		feedback: feedback,
		ctrl:     New(context.Background(), mixer, feedback),
	}
}

func TestTempoMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	f.ctrl.Dispatch(osc.NewMessage("/deck/1/bpm", float32(128)))
	assert.Equal(t, 128.0, f.mixer.Deck(deck.Left).State().OriginalBPM)

	f.ctrl.Dispatch(osc.NewMessage("/deck/1/speed", float64(1.25)))
	assert.Equal(t, 160.0, f.mixer.Deck(deck.Left).State().CurrentBPM)
	assert.Equal(t, 1.25, f.players[deck.Left].rate)

	f.ctrl.Dispatch(osc.NewMessage("/deck/2/bpm", int32(120)))
	f.ctrl.Dispatch(osc.NewMessage("/deck/2/sync"))
	state := f.mixer.Deck(deck.Right).State()
	assert.Equal(t, 160.0, state.CurrentBPM)
	assert.InDelta(t, 4.0/3, state.SpeedRatio, 1e-9)

	assert.Equal(t, []string{
		"/deck/1/bpm", "/deck/1/speed", "/deck/1/pitch",
		"/deck/1/bpm", "/deck/1/speed", "/deck/1/pitch",
		"/deck/2/bpm", "/deck/2/speed", "/deck/2/pitch",
		"/deck/2/bpm", "/deck/2/speed", "/deck/2/pitch",
	}, f.feedback.addresses())
}

func TestPitchFader(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.mixer.Deck(deck.Left).SetBPM(120)
	require.NoError(t, err)

	f.ctrl.Dispatch(osc.NewMessage("/deck/1/pitch", float32(0.75)))
	assert.Equal(t, 1.25, f.mixer.Deck(deck.Left).State().SpeedRatio)
	assert.Equal(t, 150.0, f.mixer.Deck(deck.Left).State().CurrentBPM)

	f.ctrl.Dispatch(osc.NewMessage("/deck/1/pitch", float32(-3)))
	assert.Equal(t, deck.MinSpeedRatio, f.mixer.Deck(deck.Left).State().SpeedRatio)

	f.feedback.lock.Lock()
	defer f.feedback.lock.Unlock()
	last := f.feedback.packets[len(f.feedback.packets)-1].(*osc.Bundle)
	require.Len(t, last.Messages, 3)
	assert.Equal(t, float32(0), last.Messages[2].Arguments[0])
}

func TestInvalidMessagesAreRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	before := f.mixer.Deck(deck.Left).State()

	require.ErrorIs(t, f.ctrl.handle(osc.NewMessage("/deck/1/bpm", float32(250))), deck.ErrOutOfRangeBPM)
	require.ErrorIs(t, f.ctrl.handle(osc.NewMessage("/deck/1/bpm")), ErrMissingValue)
	require.ErrorIs(t, f.ctrl.handle(osc.NewMessage("/deck/1/bpm", "fast")), ErrMissingValue)
	require.ErrorIs(t, f.ctrl.handle(osc.NewMessage("/deck/1/scratch")), ErrUnknownAddress)
	require.ErrorIs(t, f.ctrl.handle(osc.NewMessage("/mixer/eq")), ErrUnknownAddress)
	require.Error(t, f.ctrl.handle(osc.NewMessage("/deck/3/bpm", float32(120))))

	assert.Equal(t, before, f.mixer.Deck(deck.Left).State())
	assert.Empty(t, f.feedback.addresses())
}

func TestTransportAndMixerMessages(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	left := f.players[deck.Left]

	f.ctrl.Dispatch(osc.NewMessage("/deck/1/play"))
	assert.False(t, left.Paused())

	require.NoError(t, left.Seek(8))
	f.ctrl.Dispatch(osc.NewMessage("/deck/1/cue"))
	require.NoError(t, left.Seek(20))
	f.ctrl.Dispatch(osc.NewMessage("/deck/1/stop"))
	assert.True(t, left.Paused())
	assert.Equal(t, 8.0, left.Position())

	f.ctrl.Dispatch(osc.NewMessage("/deck/2/volume", float32(0.5)))
	assert.InDelta(t, 0.25, f.players[deck.Right].volume, 1e-9)

	f.ctrl.Dispatch(osc.NewMessage("/crossfader", float32(0)))
	assert.Equal(t, 0.0, f.mixer.Crossfader())
	assert.InDelta(t, 0.8, left.volume, 1e-9)
	assert.InDelta(t, 0, f.players[deck.Right].volume, 1e-9)
}

func TestBundlesAreUnpacked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	bundle := osc.NewBundle(time.Now())
	require.NoError(t, bundle.Append(osc.NewMessage("/deck/1/bpm", float32(100))))
	require.NoError(t, bundle.Append(osc.NewMessage("/deck/2/bpm", float32(110))))

	f.ctrl.Dispatch(bundle)
	assert.Equal(t, 100.0, f.mixer.Deck(deck.Left).State().CurrentBPM)
	assert.Equal(t, 110.0, f.mixer.Deck(deck.Right).State().CurrentBPM)
}

func TestDetectMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctrl.Dispatch(osc.NewMessage("/deck/2/detect"))
	f.ctrl.Wait()

	assert.Equal(t, 130.0, f.mixer.Deck(deck.Right).State().OriginalBPM)
	assert.Equal(t, []string{
		"/deck/2/progress", "/deck/2/progress",
		"/deck/2/bpm", "/deck/2/speed", "/deck/2/pitch",
	}, f.feedback.addresses())
}

func TestNewFeedback(t *testing.T) {
	t.Parallel()

	client, err := NewFeedback("127.0.0.1:9000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", client.IP())
	assert.Equal(t, 9000, client.Port())

	_, err = NewFeedback("localhost")
	assert.Error(t, err)
	_, err = NewFeedback("localhost:osc")
	assert.Error(t, err)
}

// rawPacket is a packet type bundles can't carry.
type rawPacket []byte

func (p rawPacket) MarshalBinary() ([]byte, error) {
	return p, nil
}

func TestFeedbackBundles(t *testing.T) {
	t.Parallel()

	bundle, err := newBundle(osc.NewMessage("/deck/1/bpm", float32(120)), osc.NewBundle(time.Now()))
	require.NoError(t, err)
	assert.Len(t, bundle.Messages, 1)
	assert.Len(t, bundle.Bundles, 1)

	_, err = newBundle(osc.NewMessage("/deck/1/bpm", float32(120)), rawPacket("raw"))
	require.Error(t, err)

	f := newFixture(t)
	f.ctrl.sendBundle(osc.NewMessage("/deck/1/bpm", float32(120)), rawPacket("raw"))
	assert.Empty(t, f.feedback.addresses())

	f.ctrl.sendBundle(osc.NewMessage("/deck/1/bpm", float32(120)))
	assert.Equal(t, []string{"/deck/1/bpm"}, f.feedback.addresses())
}
