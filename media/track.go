package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var titleCaser = cases.Title(language.English)

// ErrUnsupportedFormat is returned for files the audio layer cannot decode.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Format identifies the container of an audio file.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// Track is a single loadable audio file. Every load produces a fresh ID, so two decks holding the
// same file still hold distinct tracks.
type Track struct {
	ID          string
	Path        string
	DisplayName string
	Format      Format
}

// NewTrack validates the file at path and returns a track with a new identity.
func NewTrack(path string) (Track, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Track{}, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return Track{}, fmt.Errorf("could not stat track: %w", err)
	}
	if info.IsDir() {
		return Track{}, fmt.Errorf("track path %s is a directory", path)
	}

	base := filepath.Base(path)
	return Track{
		ID:          uuid.NewString(),
		Path:        path,
		DisplayName: DisplayName(strings.TrimSuffix(base, filepath.Ext(base))),
		Format:      format,
	}, nil
}

// DisplayName cleans up a file name for display. Names are composed to NFC, underscores become spaces and
// all lower case names are title cased.
func DisplayName(name string) string {
	name = norm.NFC.String(name)
	name = strings.Join(strings.Fields(strings.ReplaceAll(name, "_", " ")), " ")
	if name == strings.ToLower(name) {
		name = titleCaser.String(name)
	}
	return name
}

// FormatOf derives the audio format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (t Track) String() string {
	return t.DisplayName
}
