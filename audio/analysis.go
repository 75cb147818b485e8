package audio

import (
	"errors"
	"sync"
	"time"

	"github.com/faiface/beep"
	"k8s.io/utils/clock"
)

// ErrClosed is returned by operations on a torn down analysis handle.
var ErrClosed = errors.New("analysis handle is closed")

const pullChunk = 512

// AnalysisHandle is a muted playback of a track. Nothing is routed to the speaker: while playing, the
// decoder is drained lazily at the pace of the clock and every drained frame lands in a tap.
type AnalysisHandle struct {
	lock sync.Mutex

	stream  beep.StreamSeekCloser
	format  beep.Format
	tap     *Tap
	clock   clock.PassiveClock
	scratch [][2]float64

	playing  bool
	ended    bool
	closed   bool
	lastPull time.Time
	err      error
}

func newAnalysisHandle(stream beep.StreamSeekCloser, format beep.Format, clk clock.PassiveClock, tapSize int) *AnalysisHandle {
	return &AnalysisHandle{
		stream:  stream,
		format:  format,
		tap:     NewTap(stream, tapSize),
		clock:   clk,
		scratch: make([][2]float64, pullChunk),
	}
}

// advance drains the frames that would have played since the last pull. Callers hold the lock.
func (h *AnalysisHandle) advance() {
	if !h.playing || h.ended || h.closed {
		return
	}

	owed := h.format.SampleRate.N(h.clock.Since(h.lastPull))
	if owed <= 0 {
		return
	}
	h.lastPull = h.lastPull.Add(h.format.SampleRate.D(owed))

	for owed > 0 {
		chunk := h.scratch
		if owed < len(chunk) {
			chunk = chunk[:owed]
		}
		n, ok := h.tap.Stream(chunk)
		owed -= n
		if !ok || n < len(chunk) {
			h.ended = true
			h.playing = false
			h.err = h.tap.Err()
			return
		}
	}
}

func (h *AnalysisHandle) Play() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return ErrClosed
	}
	if h.err != nil {
		return h.err
	}
	if !h.playing && !h.ended {
		h.playing = true
		h.lastPull = h.clock.Now()
	}
	return nil
}

func (h *AnalysisHandle) Pause() {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.advance()
	h.playing = false
}

// CurrentTime is the decoder position in seconds.
func (h *AnalysisHandle) CurrentTime() float64 {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.advance()
	return h.format.SampleRate.D(h.stream.Position()).Seconds()
}

func (h *AnalysisHandle) Seek(seconds float64) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return ErrClosed
	}

	p := h.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if p < 0 {
		p = 0
	}
	if p > h.stream.Len() {
		p = h.stream.Len()
	}
	if err := h.stream.Seek(p); err != nil {
		return err
	}

	h.tap.Reset()
	h.ended = p >= h.stream.Len()
	if h.playing {
		h.lastPull = h.clock.Now()
	}
	return nil
}

func (h *AnalysisHandle) Duration() float64 {
	return h.format.SampleRate.D(h.stream.Len()).Seconds()
}

func (h *AnalysisHandle) Paused() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.advance()
	return !h.playing && !h.ended
}

func (h *AnalysisHandle) Ended() bool {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.advance()
	return h.ended
}

// Sample fills dst with the most recent amplitudes that went through the tap.
func (h *AnalysisHandle) Sample(dst []float64) int {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.advance()
	return h.tap.Samples(dst)
}

// Err reports a decoding error met while draining the stream.
func (h *AnalysisHandle) Err() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.err
}

// Close stops the handle and closes its decoder. Only the first call does any work.
func (h *AnalysisHandle) Close() error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	h.playing = false
	return h.stream.Close()
}
