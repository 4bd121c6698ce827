// Package video turns retimed frames into container files.
package video

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnsupportedFormat = errors.New("unsupported output format")

type Format string

const (
	FormatMP4 Format = "mp4"
	FormatMOV Format = "mov"
	FormatAVI Format = "avi"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimPrefix(s, "."))); f {
	case FormatMP4, FormatMOV, FormatAVI:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Extension includes the leading dot.
func (f Format) Extension() string {
	return "." + string(f)
}

type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Level maps a preset onto the 0..1 scale the backends take.
func (q Quality) Level() float64 {
	switch q {
	case QualityLow:
		return 0.4
	case QualityHigh:
		return 0.95
	default:
		return 0.85
	}
}

// Settings are the encoder knobs taken from the recording config.
type Settings struct {
	Format     Format
	FPS        int
	Quality    Quality
	Codec      string
	QueueDepth int
}

// NewEncoder validates the settings and returns an encoder that creates path on
// StartWriting. ffmpeg backed formats are cropped to even dimensions.
func NewEncoder(path string, width, height int, s Settings) (*QueueEncoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("video: invalid frame size %dx%d", width, height)
	}
	if s.FPS <= 0 {
		return nil, fmt.Errorf("video: invalid fps %d", s.FPS)
	}

	var open func() (Backend, error)
	switch s.Format {
	case FormatMP4, FormatMOV:
		w, h := width&^1, height&^1
		if w == 0 || h == 0 {
			return nil, fmt.Errorf("video: frame size %dx%d too small", width, height)
		}
		codec := s.Codec
		if codec == "" {
			codec = "libx264"
		}
		open = func() (Backend, error) {
			return openVidio(path, w, h, s.FPS, s.Quality.Level(), codec)
		}
	case FormatAVI:
		open = func() (Backend, error) {
			return openMJPEG(path, width, height, s.FPS, s.Quality.Level())
		}
	default:
		return nil, fmt.Errorf("video: %w: %q", ErrUnsupportedFormat, s.Format)
	}

	logger.Debugf("encoder for %s: %s %dx%d at %d fps, quality %s", path, s.Format, width, height, s.FPS, s.Quality)
	return NewQueueEncoder(open, s.FPS, s.QueueDepth), nil
}
