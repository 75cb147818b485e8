package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/halodeck/audio"
	"github.com/robmorgan/halodeck/audio/output"
	"github.com/robmorgan/halodeck/config"
	"github.com/robmorgan/halodeck/crossfade"
	"github.com/robmorgan/halodeck/deck"
	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/osccontrol"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"k8s.io/utils/clock"
)

const (
	statusInterval   = 2 * time.Second
	feedbackInterval = 50 * time.Millisecond
)

var (
	mixSync    string
	mixNoPlay  bool
	mixSkipBPM bool
)

var mixCmd = &cobra.Command{
	Use:   "mix <left> <right>",
	Short: "Play two tracks on two decks",
	Long: `Load one track per deck, detect both tempos, optionally sync one deck to the
other and play both through the speaker until interrupted.

While running, the decks are controlled over OSC (see osc.listen).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		if err := runMix(ctx, cfg, args[0], args[1]); err != nil {
			return errors.WithStackTrace(err)
		}
		return nil
	},
}

func init() {
	mixCmd.Flags().StringVar(&mixSync, "sync", "",
		"deck that follows the tempo of the other one after detection (left, right)")
	mixCmd.Flags().BoolVar(&mixNoPlay, "no-play", false,
		"load the decks without starting playback")
	mixCmd.Flags().BoolVar(&mixSkipBPM, "skip-detection", false,
		"do not detect the tempo of the loaded tracks")
	mixCmd.Flags().Float64("crossfader", 0.5,
		"crossfader position, 0 is the left deck and 1 the right deck")
	mixCmd.Flags().String("curve", string(crossfade.EqualPower),
		"crossfader curve (equal-power, linear, smooth)")

	viper.BindPFlag("mixer.crossfader", mixCmd.Flags().Lookup("crossfader"))
	viper.BindPFlag("mixer.curve", mixCmd.Flags().Lookup("curve"))
}

// runMix runs the two decks until ctx is done
func runMix(ctx context.Context, c *config.Config, leftPath, rightPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := logger.GetProjectLogger()
	clk := clock.RealClock{}

	var follower deck.ID
	if mixSync != "" {
		id, err := deck.ParseID(mixSync)
		if err != nil {
			return err
		}
		follower = id
	}

	curve, err := crossfade.ParseCurve(c.Mixer.Curve)
	if err != nil {
		return err
	}

	// initialize the decks
	logger.Info("Initializing decks...")
	est := newEstimator(c)
	left := deck.New(deck.Left, est, clk, c.Deck.Volume)
	right := deck.New(deck.Right, est, clk, c.Deck.Volume)

	var players []*audio.Player
	defer func() {
		for _, p := range players {
			p.Close()
		}
	}()
	for _, load := range []struct {
		deck *deck.Deck
		path string
	}{{left, leftPath}, {right, rightPath}} {
		track, err := media.NewTrack(load.path)
		if err != nil {
			return err
		}
		player, err := audio.NewPlayer(track)
		if err != nil {
			return err
		}
		players = append(players, player)
		load.deck.Load(track, player)
	}

	mixer := deck.NewMixer(left, right, curve, c.Mixer.Crossfader)

	// initialize the speaker at the rate of the left deck
	logger.Info("Initializing speaker...")
	out, err := output.New(players[0].Format().SampleRate, c.Output.Buffer)
	if err != nil {
		return fmt.Errorf("could not open the speaker: %w", err)
	}
	defer out.Close()
	for _, p := range players {
		out.Add(p)
	}

	if !mixSkipBPM {
		logger.Info("Detecting bpm of both decks...")
		detectDecks(ctx, left, right)
	}

	if follower != 0 {
		if _, err := mixer.Sync(follower, follower.Other()); err != nil {
			logger.Warnf("Could not sync %s: %v", follower, err)
		}
	}

	if !mixNoPlay {
		for _, d := range []*deck.Deck{left, right} {
			if _, err := d.TogglePlay(); err != nil {
				return err
			}
		}
	}

	var wg conc.WaitGroup
	var controller *osccontrol.Controller
	if c.OSC.Enabled {
		var feedback osccontrol.Sender
		if c.OSC.Feedback != "" {
			client, err := osccontrol.NewFeedback(c.OSC.Feedback)
			if err != nil {
				return err
			}
			feedback = client
		}

		logger.Info("Starting osc control surface...")
		controller = osccontrol.New(ctx, mixer, feedback)
		wg.Go(func() {
			if err := osccontrol.ListenAndServe(ctx, c.OSC.Listen, controller); err != nil {
				logger.Errorf("osc control surface stopped: %v", err)
			}
		})
		if feedback != nil {
			wg.Go(func() {
				controller.RunFeedback(ctx, clk, feedbackInterval)
			})
		}
	}

	wg.Go(func() {
		reportStatus(ctx, clk, mixer)
	})

	<-ctx.Done()
	logger.Info("Shutting down halodeck")
	cancel()
	if controller != nil {
		controller.Wait()
	}
	wg.Wait()
	return nil
}

// detectDecks detects the tempo of both decks concurrently. Failures leave the deck at its default tempo.
func detectDecks(ctx context.Context, decks ...*deck.Deck) {
	logger := logger.GetProjectLogger()

	var wg conc.WaitGroup
	for _, d := range decks {
		d := d
		wg.Go(func() {
			fields := logrus.Fields{"deck": d.ID().String()}
			state, err := d.Detect(ctx, func(percent float64) {
				logger.WithFields(fields).Debugf("Detecting bpm: %.0f%%", percent)
			})
			if err != nil {
				logger.WithFields(fields).Warnf("Could not detect bpm: %v", err)
				return
			}
			logger.WithFields(fields).Infof("Detected %s", state)
		})
	}
	wg.Wait()
}

// reportStatus logs the state of both decks until ctx is done
func reportStatus(ctx context.Context, clk clock.WithTicker, mixer *deck.Mixer) {
	logger := logger.GetProjectLogger()

	ticker := clk.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			for _, s := range mixer.Snapshot() {
				logger.WithFields(logrus.Fields{
					"deck":     s.ID.String(),
					"track":    s.Track,
					"bpm":      s.State.CurrentBPM,
					"speed":    s.State.SpeedRatio,
					"playing":  s.Playing,
					"position": fmt.Sprintf("%.1fs", s.Position),
					"beat":     s.Beat.Marker(),
				}).Info("Deck status")
			}
		}
	}
}
