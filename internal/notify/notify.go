// Package notify delivers user-visible messages about saved recordings.
package notify

import (
	"sync"

	"github.com/kataras/golog"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

type Notification struct {
	Title   string `json:"title"`
	Body    string `json:"body"`
	FileURL string `json:"file_url,omitempty"`
	Level   Level  `json:"level"`
}

type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

func (f SinkFunc) Notify(n Notification) { f(n) }

// Log writes notifications to a golog logger.
type Log struct {
	logger *golog.Logger
}

func NewLog() *Log {
	return &Log{logger: golog.Child("[notify]")}
}

func (l *Log) Notify(n Notification) {
	if n.Level == LevelError {
		l.logger.Errorf("%s: %s", n.Title, n.Body)
		return
	}
	if n.FileURL != "" {
		l.logger.Infof("%s: %s (%s)", n.Title, n.Body, n.FileURL)
		return
	}
	l.logger.Infof("%s: %s", n.Title, n.Body)
}

// Multi fans a notification out to several sinks.
type Multi []Sink

func (m Multi) Notify(n Notification) {
	for _, s := range m {
		if s != nil {
			s.Notify(n)
		}
	}
}

// Gate forwards to its sink only while enabled.
type Gate struct {
	mu      sync.RWMutex
	enabled bool
	sink    Sink
}

func NewGate(sink Sink, enabled bool) *Gate {
	return &Gate{sink: sink, enabled: enabled}
}

func (g *Gate) SetEnabled(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabled = enabled
}

func (g *Gate) Notify(n Notification) {
	g.mu.RLock()
	enabled := g.enabled
	g.mu.RUnlock()
	if enabled {
		g.sink.Notify(n)
	}
}
