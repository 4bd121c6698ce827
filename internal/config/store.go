package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/kataras/golog"
)

var logger = golog.Child("[config]")

// Store holds the live configuration. Recordings take a Snapshot when they
// start and never observe later edits.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	path      string
	envFile   string
	listeners []func(Config)
}

func NewStore(cfg *Config, path, envFile string) *Store {
	return &Store{cfg: cfg.Clone(), path: path, envFile: envFile}
}

func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// OnChange registers fn to run after every successful Update or Reload.
func (s *Store) OnChange(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Update applies fn to a copy of the configuration and keeps it if it validates.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	next := s.cfg.Clone()
	fn(&next)
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("config: %w", err)
	}
	s.cfg = next
	listeners := append([]func(Config){}, s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l(next.Clone())
	}
	return nil
}

// Save persists the current configuration to the store's path.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	cfg := s.Snapshot()
	return cfg.Save(s.path)
}

// Reload re-reads the file and environment. An invalid file leaves the
// current configuration in place.
func (s *Store) Reload() error {
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(s.envFile); err != nil {
		return err
	}
	return s.Update(func(c *Config) { *c = cfg.Clone() })
}

// Watch reloads the configuration whenever its file changes, until ctx is done.
// The parent directory is watched so editors that replace the file are seen.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	defer w.Close()

	target := filepath.Clean(s.path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		logger.Warnf("not watching %s: %v", target, err)
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := s.Reload(); err != nil {
				logger.Warnf("keeping previous configuration: %v", err)
				continue
			}
			logger.Infof("reloaded %s", target)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watch error: %v", err)
		}
	}
}
