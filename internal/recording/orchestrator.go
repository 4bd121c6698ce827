package recording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Orchestrator fans commands out to every enabled session. Sessions run
// independently; one failing never stops the others.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions []*Session
}

func NewOrchestrator(sessions ...*Session) *Orchestrator {
	return &Orchestrator{sessions: sessions}
}

// Add registers a session unless one with the same kind and ID exists. It
// reports whether the session was added.
func (o *Orchestrator) Add(s *Session) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, existing := range o.sessions {
		if existing.Kind() == s.Kind() && existing.ID() == s.ID() {
			return false
		}
	}
	o.sessions = append(o.sessions, s)
	return true
}

// Sessions returns the sessions in registration order.
func (o *Orchestrator) Sessions() []*Session {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]*Session(nil), o.sessions...)
}

// Find looks a session up by ID.
func (o *Orchestrator) Find(id string) (*Session, bool) {
	for _, s := range o.Sessions() {
		if s.ID() == id {
			return s, true
		}
	}
	return nil, false
}

func (o *Orchestrator) Start(ctx context.Context) error {
	return o.each(func(s *Session) error { return s.Start(ctx) })
}

func (o *Orchestrator) Pause() {
	o.each(func(s *Session) error { s.Pause(); return nil })
}

func (o *Orchestrator) Resume() {
	o.each(func(s *Session) error { s.Resume(); return nil })
}

// Stop saves every enabled session concurrently.
func (o *Orchestrator) Stop(ctx context.Context) error {
	return o.each(func(s *Session) error { return s.Stop(ctx) })
}

func (o *Orchestrator) each(fn func(*Session) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs *multierror.Error
	)
	for _, s := range o.Sessions() {
		if !s.Enabled() {
			continue
		}
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := fn(s); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// State summarizes the sessions: recording if any is, else paused if any is.
func (o *Orchestrator) State() State {
	state := StateStopped
	for _, s := range o.Sessions() {
		switch s.State() {
		case StateRecording:
			return StateRecording
		case StatePaused:
			state = StatePaused
		}
	}
	return state
}

// CurrentOutputTime is the output time of the first enabled session, for display.
func (o *Orchestrator) CurrentOutputTime() time.Duration {
	for _, s := range o.Sessions() {
		if s.Enabled() {
			return s.OutputTime()
		}
	}
	return 0
}

// RecordersDisabled reports whether no session would react to Start.
func (o *Orchestrator) RecordersDisabled() bool {
	for _, s := range o.Sessions() {
		if s.Enabled() {
			return false
		}
	}
	return true
}
