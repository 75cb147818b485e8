// Package output routes deck players to the sound card.
package output

import (
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/robmorgan/halodeck/logger"
	"github.com/sirupsen/logrus"
)

const resampleQuality = 4

// Source is anything that can be mixed to the speaker.
type Source interface {
	beep.Streamer
	Format() beep.Format
}

// Output is the speaker with a mixer in front of it.
type Output struct {
	sampleRate beep.SampleRate
	mixer      *beep.Mixer
}

// New initialises the speaker at sampleRate with the given buffer length.
func New(sampleRate beep.SampleRate, buffer time.Duration) (*Output, error) {
	if err := speaker.Init(sampleRate, sampleRate.N(buffer)); err != nil {
		return nil, err
	}

	o := &Output{
		sampleRate: sampleRate,
		mixer:      &beep.Mixer{},
	}
	speaker.Play(o.mixer)
	return o, nil
}

// Add starts mixing src, resampling it when it doesn't run at the output rate.
func (o *Output) Add(src Source) {
	var s beep.Streamer = src
	if sr := src.Format().SampleRate; sr != o.sampleRate {
		logger.GetProjectLogger().WithFields(logrus.Fields{
			"from": int(sr),
			"to":   int(o.sampleRate),
		}).Debug("Resampling source for output")
		s = beep.Resample(resampleQuality, sr, o.sampleRate, src)
	}

	speaker.Lock()
	o.mixer.Add(s)
	speaker.Unlock()
}

// Close stops the speaker.
func (o *Output) Close() {
	speaker.Clear()
	speaker.Close()
}
