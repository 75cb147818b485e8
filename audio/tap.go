package audio

import (
	"sync"

	"github.com/faiface/beep"
)

// Tap sits between the decoder and an analysis handle. It keeps the amplitude of the most recently
// drained frames, mixed down to mono, so the tempo estimator can read a window of what just "played"
// without anything reaching the speaker. The window is sized by the estimator's buffer size.
type Tap struct {
	source beep.Streamer

	lock   sync.Mutex
	window []float64
	next   int
}

// NewTap keeps the last size amplitudes streamed out of source.
func NewTap(source beep.Streamer, size int) *Tap {
	return &Tap{
		source: source,
		window: make([]float64, size),
	}
}

// Stream drains the source and records the mono amplitude of every frame it returns.
func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.source.Stream(samples)

	t.lock.Lock()
	defer t.lock.Unlock()
	for _, s := range samples[:n] {
		t.window[t.next] = (s[0] + s[1]) / 2
		t.next = (t.next + 1) % len(t.window)
	}
	return n, ok
}

func (t *Tap) Err() error {
	return t.source.Err()
}

// Samples copies the newest amplitudes into dst, oldest first. Slots nothing was drained into yet read
// as silence, so a window right after a seek starts with zeros.
func (t *Tap) Samples(dst []float64) int {
	t.lock.Lock()
	defer t.lock.Unlock()

	n := len(dst)
	if n > len(t.window) {
		n = len(t.window)
	}
	from := t.next - n
	if from < 0 {
		from += len(t.window)
	}
	for i := range dst[:n] {
		dst[i] = t.window[(from+i)%len(t.window)]
	}
	return n
}

// Reset empties the window, a seek must not leak audio from the old position into the next sample.
func (t *Tap) Reset() {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := range t.window {
		t.window[i] = 0
	}
	t.next = 0
}
