// Package tracking reads the pointer and listens for global hotkeys.
package tracking

import (
	"sync"
	"time"

	"github.com/go-vgo/robotgo"
)

// CursorLocator reports the pointer in global screen coordinates. Screen
// sources poll it once per captured frame, so reads are cached for a short
// window to keep concurrent displays from each querying the OS.
type CursorLocator struct {
	maxAge time.Duration
	locate func() (int, int)

	mu   sync.Mutex
	x, y int
	at   time.Time
}

func NewCursorLocator(maxAge time.Duration) *CursorLocator {
	return &CursorLocator{maxAge: maxAge, locate: robotgo.Location}
}

func (c *CursorLocator) Location() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.at.IsZero() || time.Since(c.at) > c.maxAge {
		c.x, c.y = c.locate()
		c.at = time.Now()
	}
	return c.x, c.y
}
