package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/video"
)

const (
	MinTimeMultiple = 1.0
	MaxTimeMultiple = 240.0
	MinFPS          = 10
	MaxFPS          = 60
)

// Validate clamps numeric settings into range and rejects unknown enumerations.
func (c *Config) Validate() error {
	c.Recording.TimeMultiple = clampFloat(c.Recording.TimeMultiple, MinTimeMultiple, MaxTimeMultiple)
	c.Recording.OutputFPS = clampInt(c.Recording.OutputFPS, MinFPS, MaxFPS)
	c.Capture.FPS = clampInt(c.Capture.FPS, MinFPS, MaxFPS)

	format, err := video.ParseFormat(c.Recording.Format)
	if err != nil {
		return err
	}
	c.Recording.Format = string(format)

	switch q := video.Quality(strings.ToLower(c.Recording.Quality)); q {
	case video.QualityLow, video.QualityMedium, video.QualityHigh:
		c.Recording.Quality = string(q)
	default:
		return fmt.Errorf("unknown quality %q (want low, medium or high)", c.Recording.Quality)
	}

	if c.Capture.CameraWidth <= 0 || c.Capture.CameraHeight <= 0 {
		return fmt.Errorf("invalid camera size %dx%d", c.Capture.CameraWidth, c.Capture.CameraHeight)
	}
	if c.Capture.InboxSize < 1 {
		c.Capture.InboxSize = 1
	}
	if c.Writer.ReadyPollInterval <= 0 {
		c.Writer.ReadyPollInterval = time.Second
	}
	if c.Writer.ReadyMaxRetries < 1 {
		c.Writer.ReadyMaxRetries = 1
	}
	if c.Writer.QueueDepth < 1 {
		c.Writer.QueueDepth = 1
	}
	if c.Writer.FinishTimeout <= 0 {
		c.Writer.FinishTimeout = 30 * time.Second
	}
	if c.Writer.StopTimeout <= 0 {
		c.Writer.StopTimeout = 10 * time.Second
	}
	if c.Devices.RefreshInterval < time.Second {
		c.Devices.RefreshInterval = time.Second
	}
	if c.Logging.FrameLogEvery < 1 {
		c.Logging.FrameLogEvery = 1
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error", "disable":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// VideoSettings is the encoder configuration for a recording.
func (c *Config) VideoSettings() video.Settings {
	return video.Settings{
		Format:     video.Format(c.Recording.Format),
		FPS:        c.Recording.OutputFPS,
		Quality:    video.Quality(c.Recording.Quality),
		Codec:      c.Recording.Codec,
		QueueDepth: c.Writer.QueueDepth,
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
