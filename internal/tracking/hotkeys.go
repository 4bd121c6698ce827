package tracking

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/kataras/golog"
	hook "github.com/robotn/gohook"
)

var logger = golog.Child("[hotkeys]")

// Binding runs Action when all Keys are held together.
type Binding struct {
	Name   string
	Keys   []string
	Action func()
}

func (b Binding) String() string {
	keys := make([]string, 0, len(b.Keys))
	// gohook takes the key first and modifiers after; people read it the other way.
	for i := len(b.Keys) - 1; i >= 0; i-- {
		keys = append(keys, b.Keys[i])
	}
	return strings.Join(keys, "+")
}

// DefaultBindings maps ctrl+shift+r to start/stop and ctrl+shift+p to pause/resume.
func DefaultBindings(toggleRecording, togglePause func()) []Binding {
	return []Binding{
		{Name: "start/stop", Keys: []string{"r", "ctrl", "shift"}, Action: toggleRecording},
		{Name: "pause/resume", Keys: []string{"p", "ctrl", "shift"}, Action: togglePause},
	}
}

// debouncer suppresses repeats of the same binding within a window, since
// holding a combination makes the OS repeat the key down event.
type debouncer struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{window: window, now: time.Now, last: map[string]time.Time{}}
}

func (d *debouncer) allow(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if last, ok := d.last[name]; ok && now.Sub(last) < d.window {
		return false
	}
	d.last[name] = now
	return true
}

// Listen registers the bindings and blocks until ctx is done. The global
// hook is process-wide, so only one Listen may run at a time.
func Listen(ctx context.Context, bindings []Binding) error {
	deb := newDebouncer(500 * time.Millisecond)

	for _, b := range bindings {
		b := b
		hook.Register(hook.KeyDown, b.Keys, func(hook.Event) {
			if !deb.allow(b.Name) {
				return
			}
			logger.Debugf("%s pressed (%s)", b, b.Name)
			go b.Action()
		})
		logger.Infof("%s: %s", b, b.Name)
	}

	events := hook.Start()
	processed := hook.Process(events)

	select {
	case <-ctx.Done():
		hook.End()
		<-processed
	case <-processed:
	}
	logger.Debugf("hook process stopped")
	return nil
}
