package tempo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/robmorgan/halodeck/logger"
	"github.com/robmorgan/halodeck/media"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"k8s.io/utils/clock"
)

const (
	// the analysis window is biased away from intros and outros
	startFraction = 0.25
	stopFraction  = 0.75

	initialThresholdFactor = 1.5
	thresholdDecay         = 0.85
	thresholdFollow        = 0.15
	beatFactor             = 1.2
	refractorySeconds      = 0.3

	progressEvery = 10
)

// Options tunes the sampling of an estimation run.
type Options struct {
	// BufferSize is the number of amplitude samples read on every tick.
	BufferSize int

	// FrameInterval is the time between two ticks.
	FrameInterval time.Duration

	// SamplesPerSecond and MaxSeconds size the sample budget: min(duration, MaxSeconds) * SamplesPerSecond.
	SamplesPerSecond float64
	MaxSeconds       float64
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		BufferSize:       2048,
		FrameInterval:    250 * time.Millisecond,
		SamplesPerSecond: 4,
		MaxSeconds:       12,
	}
}

// Estimator detects the tempo of tracks by sampling a muted playback of them.
type Estimator struct {
	host  Host
	clock clock.WithTicker
	opts  Options

	lock     sync.Mutex
	inFlight map[string]struct{}
}

// NewEstimator creates an Estimator sampling from host at the cadence of clk. Zero values in opts
// fall back to DefaultOptions.
func NewEstimator(host Host, clk clock.WithTicker, opts Options) *Estimator {
	defaults := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaults.BufferSize
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = defaults.FrameInterval
	}
	if opts.SamplesPerSecond <= 0 {
		opts.SamplesPerSecond = defaults.SamplesPerSecond
	}
	if opts.MaxSeconds <= 0 {
		opts.MaxSeconds = defaults.MaxSeconds
	}

	return &Estimator{
		host:     host,
		clock:    clk,
		opts:     opts,
		inFlight: make(map[string]struct{}),
	}
}

// Estimate plays t muted from around position and returns its tempo. progress may be nil.
//
// The analysis handle is always torn down before Estimate returns, including when sampling panics.
func (e *Estimator) Estimate(ctx context.Context, t media.Track, position float64, progress ProgressFunc) (float64, error) {
	if !e.acquire(t.ID) {
		return 0, ErrAlreadyInProgress
	}
	defer e.release(t.ID)

	logger := logger.GetProjectLogger()
	fields := logrus.Fields{"track": t.DisplayName, "track_id": t.ID}

	handle, err := e.host.OpenAnalysis(ctx, t)
	if err != nil {
		return 0, newAnalysisError(t, OpOpen, err)
	}
	defer func() {
		if err := handle.Close(); err != nil {
			logger.WithFields(fields).Warnf("could not tear down analysis handle: %v", err)
		}
	}()

	s, err := e.newSession(t, handle, position)
	if err != nil {
		return 0, err
	}

	logger.WithFields(fields).WithFields(logrus.Fields{
		"duration": s.duration,
		"target":   s.target,
	}).Debug("Starting bpm detection")

	if err := s.run(ctx, progress); err != nil {
		return 0, err
	}

	bpm := CalculateBPM(s.beats)
	logger.WithFields(fields).WithFields(logrus.Fields{
		"beats":   len(s.beats),
		"samples": s.samples,
		"bpm":     bpm,
	}).Info("Detected bpm")

	return bpm, nil
}

func (e *Estimator) acquire(id string) bool {
	e.lock.Lock()
	defer e.lock.Unlock()

	if _, ok := e.inFlight[id]; ok {
		return false
	}
	e.inFlight[id] = struct{}{}
	return true
}

func (e *Estimator) release(id string) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.inFlight, id)
}

// session is the state of one estimation run.
type session struct {
	track  media.Track
	handle Handle
	host   Host
	clock  clock.WithTicker
	every  time.Duration

	duration  float64
	startAt   float64
	threshold float64
	lastBeat  float64
	beats     []float64
	samples   int
	target    float64
	buf       []float64
}

func (e *Estimator) newSession(t media.Track, handle Handle, position float64) (*session, error) {
	duration := handle.Duration()
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return nil, newAnalysisError(t, OpMetadata, ErrNoDuration)
	}

	return &session{
		track:    t,
		handle:   handle,
		host:     e.host,
		clock:    e.clock,
		every:    e.opts.FrameInterval,
		duration: duration,
		target:   math.Min(duration, e.opts.MaxSeconds) * e.opts.SamplesPerSecond,
		buf:      make([]float64, e.opts.BufferSize),
		startAt:  startPosition(duration, position),
	}, nil
}

// startPosition keeps the listener's position unless it lies outside the middle half of the track.
func startPosition(duration, position float64) float64 {
	return math.Max(duration*startFraction, math.Min(position, duration*stopFraction))
}

func (s *session) run(ctx context.Context, progress ProgressFunc) error {
	if err := s.handle.Seek(s.startAt); err != nil {
		return newAnalysisError(s.track, OpSeek, err)
	}
	if err := s.handle.Play(); err != nil {
		return newAnalysisError(s.track, OpPlay, err)
	}
	defer s.handle.Pause()

	ticker := s.clock.NewTicker(s.every)
	defer ticker.Stop()

	for {
		s.step(progress)
		if s.finished() {
			if err := s.handle.Err(); err != nil {
				return newAnalysisError(s.track, OpSample, err)
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return newAnalysisError(s.track, OpSample, ctx.Err())
		case <-ticker.C():
		}
	}
}

// step processes one amplitude buffer.
func (s *session) step(progress ProgressFunc) {
	n := s.handle.Sample(s.buf)

	var energy float64
	if n > 0 {
		energy = floats.Norm(s.buf[:n], 1) / float64(n)
	}

	if s.threshold == 0 {
		s.threshold = energy * initialThresholdFactor
	} else {
		s.threshold = thresholdDecay*s.threshold + thresholdFollow*energy
	}

	now := s.host.Now()
	if energy > s.threshold*beatFactor && now-s.lastBeat > refractorySeconds {
		s.beats = append(s.beats, now)
		s.lastBeat = now
	}

	s.samples++
	if progress != nil && s.samples%progressEvery == 0 {
		progress(math.Min(100, float64(s.samples)/s.target*100))
	}
}

func (s *session) finished() bool {
	return float64(s.samples) >= s.target ||
		s.handle.CurrentTime() >= s.duration*stopFraction ||
		s.handle.Paused() ||
		s.handle.Ended()
}
