package audio

import (
	"context"
	"time"

	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/tempo"
	"k8s.io/utils/clock"
)

// Host opens muted analysis handles and provides the audio clock they share.
type Host struct {
	clock   clock.PassiveClock
	epoch   time.Time
	tapSize int
}

// NewHost creates a Host whose handles keep the last tapSize amplitudes.
func NewHost(clk clock.PassiveClock, tapSize int) *Host {
	return &Host{
		clock:   clk,
		epoch:   clk.Now(),
		tapSize: tapSize,
	}
}

// OpenAnalysis decodes a second, independent copy of the track.
func (h *Host) OpenAnalysis(ctx context.Context, t media.Track) (tempo.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stream, format, err := Open(t)
	if err != nil {
		return nil, err
	}
	return newAnalysisHandle(stream, format, h.clock, h.tapSize), nil
}

// Now is the number of seconds since the host was created.
func (h *Host) Now() float64 {
	return h.clock.Since(h.epoch).Seconds()
}
