package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Recording struct {
		// TimeMultiple is how many seconds of real time become one second of video.
		TimeMultiple float64 `yaml:"time_multiple"`
		OutputFPS    int     `yaml:"output_fps"`
		Format       string  `yaml:"format"`
		Quality      string  `yaml:"quality"`
		Codec        string  `yaml:"codec"`
		SaveLocation string  `yaml:"save_location"`
		MinFreeBytes uint64  `yaml:"min_free_bytes"`
	} `yaml:"recording"`
	Capture struct {
		FPS        int  `yaml:"fps"`
		ShowCursor bool `yaml:"show_cursor"`
		// ChangeDetection lets screens skip frames that show no change. When
		// false every screen frame counts as changed.
		ChangeDetection bool   `yaml:"change_detection"`
		CameraElement   string `yaml:"camera_element"`
		CameraWidth     int    `yaml:"camera_width"`
		CameraHeight    int    `yaml:"camera_height"`
		InboxSize       int    `yaml:"inbox_size"`
	} `yaml:"capture"`
	Writer struct {
		ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`
		ReadyMaxRetries   int           `yaml:"ready_max_retries"`
		QueueDepth        int           `yaml:"queue_depth"`
		FinishTimeout     time.Duration `yaml:"finish_timeout"`
		StopTimeout       time.Duration `yaml:"stop_timeout"`
	} `yaml:"writer"`
	Notifications struct {
		Show          bool `yaml:"show"`
		ShowAfterSave bool `yaml:"show_after_save"`
	} `yaml:"notifications"`
	Control struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"control"`
	Hotkeys struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"hotkeys"`
	Devices struct {
		RefreshInterval time.Duration `yaml:"refresh_interval"`
		// Cameras lists extra device paths next to the discovered ones.
		Cameras []string `yaml:"cameras"`
	} `yaml:"devices"`
	Logging struct {
		Level         string `yaml:"level"`
		FrameLogEvery int    `yaml:"frame_log_every"`
	} `yaml:"logging"`
}

func NewConfig() *Config {
	cfg := &Config{}

	cfg.Recording.TimeMultiple = 5
	cfg.Recording.OutputFPS = 30
	cfg.Recording.Format = "mp4"
	cfg.Recording.Quality = "medium"
	cfg.Recording.Codec = "libx264"
	cfg.Recording.SaveLocation = defaultSaveLocation()
	cfg.Recording.MinFreeBytes = 256 << 20

	cfg.Capture.FPS = 30
	cfg.Capture.ChangeDetection = true
	cfg.Capture.CameraElement = "v4l2src"
	cfg.Capture.CameraWidth = 1280
	cfg.Capture.CameraHeight = 720
	cfg.Capture.InboxSize = 8

	cfg.Writer.ReadyPollInterval = time.Second
	cfg.Writer.ReadyMaxRetries = 10
	cfg.Writer.QueueDepth = 8
	cfg.Writer.FinishTimeout = 30 * time.Second
	cfg.Writer.StopTimeout = 10 * time.Second

	cfg.Control.Addr = "127.0.0.1:7878"
	cfg.Hotkeys.Enabled = true
	cfg.Devices.RefreshInterval = 30 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.FrameLogEvery = 200
	return cfg
}

func defaultSaveLocation() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return os.TempDir()
	}
	return home
}

// Load reads a YAML file over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, replacing path atomically.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("config: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("config: replace %s: %w", path, err)
	}
	return nil
}

// Clone returns a deep copy.
func (c *Config) Clone() Config {
	out := *c
	out.Devices.Cameras = append([]string(nil), c.Devices.Cameras...)
	return out
}
