package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
)

// State is the per-device enabled flag, persisted across runs.
type State struct {
	mu      sync.RWMutex
	Screens map[string]bool `yaml:"screens"`
	Cameras map[string]bool `yaml:"cameras"`
}

func NewState() *State {
	return &State{Screens: map[string]bool{}, Cameras: map[string]bool{}}
}

// LoadState reads path. A missing file yields an empty state.
func LoadState(path string) (*State, error) {
	st := NewState()
	if path == "" {
		return st, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", path, err)
	}
	if st.Screens == nil {
		st.Screens = map[string]bool{}
	}
	if st.Cameras == nil {
		st.Cameras = map[string]bool{}
	}
	return st, nil
}

func (s *State) Save(path string) error {
	if path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := yaml.Marshal(s)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	return writeAtomic(path, data)
}

// Enabled reports the stored flag and whether the device was seen before.
func (s *State) Enabled(kind capture.Kind, id string) (enabled, known bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, known = s.table(kind)[id]
	return enabled, known
}

func (s *State) SetEnabled(kind capture.Kind, id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table(kind)[id] = enabled
}

func (s *State) table(kind capture.Kind) map[string]bool {
	if kind == capture.KindCamera {
		return s.Cameras
	}
	return s.Screens
}
