package osccontrol

import (
	"context"
	"fmt"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/robmorgan/halodeck/deck"
	"k8s.io/utils/clock"
)

var (
	deckColors = map[deck.ID]colorful.Color{
		deck.Left:  mustHex("#00a0ff"),
		deck.Right: mustHex("#ff5000"),
	}
	downBeatColor = mustHex("#ffffff")
	off           = colorful.Color{}
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(fmt.Sprintf("invalid color %q: %v", s, err))
	}
	return c
}

// BeatColor is the color of the beat LED of a deck. It flashes on every beat and fades out over the
// beat, down beats flash white. A stopped deck is dark.
func BeatColor(s deck.Snapshot) colorful.Color {
	if !s.Playing {
		return off
	}

	flash, ok := deckColors[s.ID]
	if !ok || s.Beat.IsDownBeat() {
		flash = downBeatColor
	}
	return off.BlendRgb(flash, 1-s.Beat.BeatPhase).Clamped()
}

// Pulse sends the beat LED color and the beat marker of both decks.
func (c *Controller) Pulse() {
	if c.feedback == nil {
		return
	}

	var packets []osc.Packet
	for _, s := range c.mixer.Snapshot() {
		packets = append(packets,
			osc.NewMessage(address(s.ID, "led"), BeatColor(s).Hex()),
			osc.NewMessage(address(s.ID, "beat"), s.Beat.Marker()),
		)
	}
	c.sendBundle(packets...)
}

// RunFeedback pulses every interval until ctx is done.
func (c *Controller) RunFeedback(ctx context.Context, clk clock.WithTicker, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			c.Pulse()
		}
	}
}
