package audio

import (
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/robmorgan/halodeck/media"
)

const resampleQuality = 4

// Player is the audible playback of a deck. It is a beep.Streamer that never drains: once the decoder
// runs out it keeps producing silence so it can stay in a mixer for the whole session.
//
// The playback rate is a plain resample, pitch moves with the tempo.
type Player struct {
	lock sync.Mutex

	track     media.Track
	source    beep.StreamSeekCloser
	format    beep.Format
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	volume    *effects.Volume

	rate   float64
	ended  bool
	closed bool
}

// NewPlayer decodes t for playback. The player starts paused at the beginning of the track.
func NewPlayer(t media.Track) (*Player, error) {
	source, format, err := Open(t)
	if err != nil {
		return nil, err
	}
	return newPlayer(t, source, format), nil
}

func newPlayer(t media.Track, source beep.StreamSeekCloser, format beep.Format) *Player {
	ctrl := &beep.Ctrl{Streamer: source, Paused: true}
	resampler := beep.ResampleRatio(resampleQuality, 1, ctrl)
	return &Player{
		track:     t,
		source:    source,
		format:    format,
		ctrl:      ctrl,
		resampler: resampler,
		volume:    &effects.Volume{Streamer: resampler, Base: 2},
		rate:      1,
	}
}

// Stream fills samples with the processed audio, padding with silence past the end of the track.
func (p *Player) Stream(samples [][2]float64) (int, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	// a paused player pulls nothing so the resampler never buffers silence ahead of the audio
	n := 0
	if !p.closed && !p.ended && !p.ctrl.Paused {
		var ok bool
		n, ok = p.volume.Stream(samples)
		if !ok || n < len(samples) {
			p.ended = true
			p.ctrl.Paused = true
		}
	}
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

// Err reports a decoding error of the underlying stream.
func (p *Player) Err() error {
	return p.source.Err()
}

func (p *Player) Track() media.Track {
	return p.track
}

func (p *Player) Format() beep.Format {
	return p.format
}

func (p *Player) Play() {
	p.lock.Lock()
	defer p.lock.Unlock()
	if !p.ended {
		p.ctrl.Paused = false
	}
}

func (p *Player) Pause() {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.ctrl.Paused = true
}

func (p *Player) Paused() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ctrl.Paused
}

func (p *Player) Ended() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.ended
}

// Position is the playback position in seconds.
func (p *Player) Position() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.format.SampleRate.D(p.source.Position()).Seconds()
}

// Duration is the length of the track in seconds.
func (p *Player) Duration() float64 {
	return p.format.SampleRate.D(p.source.Len()).Seconds()
}

// Seek moves the playback to seconds, clamped to the track. Seeking clears the ended flag unless it
// lands on the very end.
func (p *Player) Seek(seconds float64) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	pos := p.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if pos < 0 {
		pos = 0
	}
	if pos > p.source.Len() {
		pos = p.source.Len()
	}
	if err := p.source.Seek(pos); err != nil {
		return err
	}

	// the resampler buffers ahead, rebuild it so no stale audio plays after the jump
	p.resampler = beep.ResampleRatio(resampleQuality, p.rate, p.ctrl)
	p.volume.Streamer = p.resampler
	p.ended = pos >= p.source.Len()
	return nil
}

// SetRate changes the playback rate, 1 being the original speed.
func (p *Player) SetRate(rate float64) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	p.rate = rate
	p.resampler.SetRatio(rate)
}

func (p *Player) Rate() float64 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.rate
}

// SetVolume sets the linear gain of the player, anything at or below zero is silence.
func (p *Player) SetVolume(gain float64) {
	p.lock.Lock()
	defer p.lock.Unlock()

	if gain <= 0 || math.IsNaN(gain) {
		p.volume.Silent = true
		p.volume.Volume = 0
		return
	}
	p.volume.Silent = false
	p.volume.Volume = math.Log2(gain)
}

// Close releases the decoder. The player only produces silence afterwards.
func (p *Player) Close() error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	p.ctrl.Paused = true
	return p.source.Close()
}
