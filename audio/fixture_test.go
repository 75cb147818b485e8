package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/robmorgan/halodeck/media"
	"github.com/stretchr/testify/require"
)

const fixtureRate = beep.SampleRate(8000)

// writeWAV renders seconds of 16 bit audio to a temporary wav file. amplitude is called with the frame index.
func writeWAV(t *testing.T, name string, seconds float64, amplitude func(frame int) float64) media.Track {
	t.Helper()
	return writeWAVPrecision(t, name, seconds, 2, amplitude)
}

func writeWAVPrecision(t *testing.T, name string, seconds float64, precision int, amplitude func(frame int) float64) media.Track {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	total := int(seconds * float64(fixtureRate))
	frame := 0
	source := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if frame >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && frame < total {
			v := amplitude(frame)
			samples[n] = [2]float64{v, v}
			n++
			frame++
		}
		return n, true
	})

	format := beep.Format{SampleRate: fixtureRate, NumChannels: 2, Precision: precision}
	require.NoError(t, wav.Encode(f, source, format))

	track, err := media.NewTrack(path)
	require.NoError(t, err)
	return track
}

// clicks is a 120 bpm click track: a 0.1s burst every half second over a quiet bed.
func clicks(frame int) float64 {
	if frame%4000 < 800 {
		return 0.9
	}
	return 0.02
}

func constant(v float64) func(int) float64 {
	return func(int) float64 { return v }
}

func meanAbs(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return sum / float64(len(samples))
}
