// Package osccontrol drives the mixer from an OSC control surface.
//
// Addresses:
//
//	/deck/{1,2}/bpm f       set the playing tempo
//	/deck/{1,2}/speed f     set the speed ratio
//	/deck/{1,2}/pitch f     set the speed from a fader, 0 is the slowest and 1 the fastest
//	/deck/{1,2}/volume f    set the deck volume
//	/deck/{1,2}/sync        sync the deck to the other one
//	/deck/{1,2}/detect      detect the tempo of the loaded track
//	/deck/{1,2}/play        toggle play/pause
//	/deck/{1,2}/cue         set the cue point
//	/deck/{1,2}/stop        stop and return to the cue point
//	/crossfader f           move the crossfader
package osccontrol

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/robmorgan/halodeck/deck"
	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/utils"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
)

var (
	faderToSpeed = utils.ScaleClamp(0, 1, deck.MinSpeedRatio, deck.MaxSpeedRatio)
	speedToFader = utils.ToUnitClamp(deck.MinSpeedRatio, deck.MaxSpeedRatio)
)

var (
	ErrUnknownAddress = errors.New("unknown osc address")
	ErrMissingValue   = errors.New("osc message has no numeric value")
)

// Sender delivers feedback packets, *osc.Client is one.
type Sender interface {
	Send(packet osc.Packet) error
}

// Controller is an osc.Dispatcher applying control messages to a mixer.
type Controller struct {
	ctx      context.Context
	mixer    *deck.Mixer
	feedback Sender

	detections conc.WaitGroup
}

// New creates a Controller. Detections it starts are bound to ctx. feedback may be nil.
func New(ctx context.Context, mixer *deck.Mixer, feedback Sender) *Controller {
	return &Controller{
		ctx:      ctx,
		mixer:    mixer,
		feedback: feedback,
	}
}

// Dispatch implements osc.Dispatcher. Bundles are unpacked, failures are logged.
func (c *Controller) Dispatch(packet osc.Packet) {
	logger := logger.GetProjectLogger()

	switch packet := packet.(type) {
	case *osc.Message:
		if err := c.handle(packet); err != nil {
			logger.WithFields(logrus.Fields{"address": packet.Address}).Warnf("Ignoring osc message: %v", err)
		}
	case *osc.Bundle:
		for _, msg := range packet.Messages {
			c.Dispatch(msg)
		}
		for _, bundle := range packet.Bundles {
			c.Dispatch(bundle)
		}
	}
}

// Wait blocks until every detection started by the controller settled.
func (c *Controller) Wait() {
	c.detections.Wait()
}

func (c *Controller) handle(msg *osc.Message) error {
	if msg.Address == "/crossfader" {
		v, err := value(msg)
		if err != nil {
			return err
		}
		c.mixer.SetCrossfader(v)
		return nil
	}

	parts := strings.Split(strings.Trim(msg.Address, "/"), "/")
	if len(parts) != 3 || parts[0] != "deck" {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, msg.Address)
	}
	id, err := deck.ParseID(parts[1])
	if err != nil {
		return err
	}
	d := c.mixer.Deck(id)

	switch parts[2] {
	case "bpm":
		v, err := value(msg)
		if err != nil {
			return err
		}
		state, err := d.SetBPM(v)
		if err != nil {
			return err
		}
		c.sendTempo(id, state)
	case "speed":
		v, err := value(msg)
		if err != nil {
			return err
		}
		c.sendTempo(id, d.SetSpeed(v))
	case "pitch":
		v, err := value(msg)
		if err != nil {
			return err
		}
		c.sendTempo(id, d.SetSpeed(faderToSpeed(v)))
	case "volume":
		v, err := value(msg)
		if err != nil {
			return err
		}
		d.SetVolume(v)
	case "sync":
		state, err := c.mixer.Sync(id, id.Other())
		if err != nil {
			return err
		}
		c.sendTempo(id, state)
	case "detect":
		c.detect(id, d)
	case "play":
		if _, err := d.TogglePlay(); err != nil {
			return err
		}
	case "cue":
		if _, err := d.SetCue(); err != nil {
			return err
		}
	case "stop":
		return d.Stop()
	default:
		return fmt.Errorf("%w: %s", ErrUnknownAddress, msg.Address)
	}
	return nil
}

// detect runs a detection in the background, reporting progress and the result as feedback.
func (c *Controller) detect(id deck.ID, d *deck.Deck) {
	c.detections.Go(func() {
		logger := logger.GetProjectLogger()

		state, err := d.Detect(c.ctx, func(percent float64) {
			c.send(osc.NewMessage(address(id, "progress"), float32(percent)))
		})
		if err != nil {
			logger.WithFields(logrus.Fields{"deck": id.String()}).Warnf("Detection failed: %v", err)
			return
		}
		c.sendTempo(id, state)
	})
}

func (c *Controller) sendTempo(id deck.ID, state deck.TempoState) {
	c.sendBundle(
		osc.NewMessage(address(id, "bpm"), float32(state.CurrentBPM)),
		osc.NewMessage(address(id, "speed"), float32(state.SpeedRatio)),
		osc.NewMessage(address(id, "pitch"), float32(speedToFader(state.SpeedRatio))),
	)
}

// sendBundle sends packets as one timestamped bundle. Nothing is sent when a packet can't be bundled.
func (c *Controller) sendBundle(packets ...osc.Packet) {
	if c.feedback == nil {
		return
	}

	bundle, err := newBundle(packets...)
	if err != nil {
		logger.GetProjectLogger().Warnf("Could not bundle osc feedback: %v", err)
		return
	}
	c.send(bundle)
}

func newBundle(packets ...osc.Packet) (*osc.Bundle, error) {
	bundle := osc.NewBundle(time.Now())
	for _, p := range packets {
		if err := bundle.Append(p); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func (c *Controller) send(packet osc.Packet) {
	if c.feedback == nil {
		return
	}
	if err := c.feedback.Send(packet); err != nil {
		logger.GetProjectLogger().Debugf("Could not send osc feedback: %v", err)
	}
}

func address(id deck.ID, name string) string {
	return fmt.Sprintf("/deck/%d/%s", int(id), name)
}

// value reads the first argument of msg as a number.
func value(msg *osc.Message) (float64, error) {
	if len(msg.Arguments) == 0 {
		return 0, ErrMissingValue
	}
	switch v := msg.Arguments[0].(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("%w: got %T", ErrMissingValue, msg.Arguments[0])
}
