package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const envPrefix = "TIMELAPSE_"

// ApplyEnv loads envFile (if present) into the process environment and applies
// TIMELAPSE_* overrides on top of c. Variables already set in the environment
// win over the file.
func (c *Config) ApplyEnv(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	if v, ok := lookup("TIME_MULTIPLE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %sTIME_MULTIPLE: %w", envPrefix, err)
		}
		c.Recording.TimeMultiple = f
	}
	if v, ok := lookup("OUTPUT_FPS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %sOUTPUT_FPS: %w", envPrefix, err)
		}
		c.Recording.OutputFPS = n
	}
	if v, ok := lookup("FORMAT"); ok {
		c.Recording.Format = v
	}
	if v, ok := lookup("QUALITY"); ok {
		c.Recording.Quality = v
	}
	if v, ok := lookup("SAVE_LOCATION"); ok {
		c.Recording.SaveLocation = v
	}
	if v, ok := lookup("SHOW_CURSOR"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %sSHOW_CURSOR: %w", envPrefix, err)
		}
		c.Capture.ShowCursor = b
	}
	if v, ok := lookup("CONTROL_ADDR"); ok {
		c.Control.Enabled = true
		c.Control.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	return c.Validate()
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
