package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"

	"github.com/gruntwork-io/go-commons/errors"
	"github.com/robmorgan/halodeck/audio"
	"github.com/robmorgan/halodeck/config"
	"github.com/robmorgan/halodeck/deck"
	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/media"
	"github.com/robmorgan/halodeck/tempo"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"k8s.io/utils/clock"
)

var (
	detectJobs     int
	detectPosition float64
)

var detectCmd = &cobra.Command{
	Use:   "detect <file>...",
	Short: "Estimate the tempo of audio files",
	Long: `Estimate the tempo of WAV and MP3 files.

Every file is played back silently from around --position (kept within the
middle half of the track) for up to analysis.max_seconds of audio. Analysis
runs in real time, several files are analysed at once.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		results := detectFiles(ctx, newEstimator(cfg), args, detectPosition, detectJobs)
		if err := writeFormatted(cmd.OutOrStdout(), cfg.OutputFormat, results); err != nil {
			return errors.WithStackTrace(err)
		}
		if failed := results.Failed(); failed > 0 {
			return errors.WithStackTrace(fmt.Errorf("%d of %d files could not be analysed", failed, len(results)))
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().IntVarP(&detectJobs, "jobs", "j", 4,
		"number of files analysed at once")
	detectCmd.Flags().Float64Var(&detectPosition, "position", 0,
		"position in seconds to start the analysis from")
}

// newEstimator wires the estimator to muted decoders paced by the wall clock.
func newEstimator(c *config.Config) *tempo.Estimator {
	clk := clock.RealClock{}
	host := audio.NewHost(clk, c.Analysis.BufferSize)
	return tempo.NewEstimator(host, clk, c.Analysis.Options())
}

// DetectResult is the tempo of one file.
type DetectResult struct {
	File  string  `json:"file" yaml:"file"`
	Track string  `json:"track,omitempty" yaml:"track,omitempty"`
	BPM   float64 `json:"bpm,omitempty" yaml:"bpm,omitempty"`
	Error string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type DetectResults []DetectResult

func (r DetectResults) Header() []string {
	return []string{"FILE", "TRACK", "BPM", "ERROR"}
}

func (r DetectResults) Rows() [][]string {
	rows := make([][]string, 0, len(r))
	for _, res := range r {
		bpm := "-"
		if res.Error == "" {
			bpm = strconv.FormatFloat(res.BPM, 'f', 1, 64)
		}
		rows = append(rows, []string{res.File, res.Track, bpm, res.Error})
	}
	return rows
}

// Failed counts the files that could not be analysed.
func (r DetectResults) Failed() int {
	failed := 0
	for _, res := range r {
		if res.Error != "" {
			failed++
		}
	}
	return failed
}

// detectFiles analyses files with at most jobs estimations running at once. Results keep the order of files.
func detectFiles(ctx context.Context, est deck.Estimator, files []string, position float64, jobs int) DetectResults {
	logger := logger.GetProjectLogger()

	if jobs < 1 {
		jobs = 1
	}
	results := make(DetectResults, len(files))
	var done atomic.Int32

	p := pool.New().WithMaxGoroutines(jobs)
	for i, file := range files {
		i, file := i, file
		p.Go(func() {
			results[i] = detectFile(ctx, est, file, position)
			logger.WithFields(logrus.Fields{
				"file":     file,
				"finished": done.Add(1),
				"total":    len(files),
			}).Debug("Analysed file")
		})
	}
	p.Wait()

	return results
}

func detectFile(ctx context.Context, est deck.Estimator, file string, position float64) DetectResult {
	res := DetectResult{File: file}

	track, err := media.NewTrack(file)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Track = track.DisplayName

	fields := logrus.Fields{"track": track.DisplayName}
	bpm, err := est.Estimate(ctx, track, position, func(percent float64) {
		logger.GetProjectLogger().WithFields(fields).Debugf("Detecting bpm: %.0f%%", percent)
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.BPM = bpm
	return res
}
