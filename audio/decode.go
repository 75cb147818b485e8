package audio

import (
	"fmt"
	"math"
	"os"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
	"github.com/robmorgan/halodeck/media"
)

// Open decodes the file behind t. The returned stream owns the file and closes it on Close.
func Open(t media.Track) (beep.StreamSeekCloser, beep.Format, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		return nil, beep.Format{}, err
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch t.Format {
	case media.FormatWAV:
		stream, format, err = wav.Decode(f)
		if err == nil {
			stream = fullScale(stream, format)
		}
	case media.FormatMP3:
		stream, format, err = mp3.Decode(f)
	default:
		err = fmt.Errorf("%w: %q", media.ErrUnsupportedFormat, t.Format)
	}
	if err != nil {
		f.Close()
		return nil, beep.Format{}, fmt.Errorf("could not decode %s: %w", t.Path, err)
	}

	return stream, format, nil
}

// pcmStream is a decoded stream with its samples rescaled on the way out.
type pcmStream struct {
	beep.StreamSeekCloser
	gain *effects.Gain
}

func (s *pcmStream) Stream(samples [][2]float64) (int, bool) {
	return s.gain.Stream(samples)
}

// fullScale undoes the wav decoder dividing 16 and 24 bit samples by 2^bits-1 instead of 2^(bits-1),
// which leaves them at half amplitude. 8 bit samples decode at full scale.
func fullScale(stream beep.StreamSeekCloser, format beep.Format) beep.StreamSeekCloser {
	if format.Precision < 2 {
		return stream
	}
	bits := float64(format.Precision * 8)
	scale := (math.Exp2(bits) - 1) / math.Exp2(bits-1)
	return &pcmStream{
		StreamSeekCloser: stream,
		gain:             &effects.Gain{Streamer: stream, Gain: scale - 1},
	}
}
