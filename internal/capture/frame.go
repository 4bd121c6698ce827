// Package capture produces timestamped frames from screens and cameras.
package capture

import (
	"context"
	"errors"
	"image"
	"time"
)

// ErrCaptureUnavailable means the device disappeared or access was revoked.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// Kind tells screens and cameras apart. The scheduler only dedups screens.
type Kind int

const (
	KindScreen Kind = iota
	KindCamera
)

func (k Kind) String() string {
	switch k {
	case KindScreen:
		return "screen"
	case KindCamera:
		return "camera"
	default:
		return "unknown"
	}
}

// Frame is one captured picture. Timestamps are on the source's monotonic clock.
type Frame struct {
	Seq      uint64
	PTS      time.Duration
	DTS      time.Duration
	HasDTS   bool
	Duration time.Duration
	Image    *image.RGBA
	Kind     Kind
	// Changed reports a visible change since the source's previous frame.
	// Always true for cameras.
	Changed bool
}

// Receiver is notified by a Source. Calls may arrive on any goroutine.
type Receiver interface {
	OnFrame(f Frame)
	OnError(err error)
}

// Source is a live capture device.
type Source interface {
	ID() string
	Name() string
	Kind() Kind
	Size() (width, height int)
	Start(ctx context.Context, r Receiver) error
	// Stop blocks until no further frames will be delivered.
	Stop() error
}
