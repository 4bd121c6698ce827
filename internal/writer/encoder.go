// Package writer drives an encoder/muxer through its lifecycle:
// Idle → Writing → Completed or Failed.
package writer

import (
	"errors"
	"time"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
)

var (
	// ErrLifecycle is a call that the current state does not allow.
	ErrLifecycle = errors.New("writer lifecycle violation")
	// ErrWriterSetup means the output could not be created.
	ErrWriterSetup = errors.New("writer setup failed")
	// ErrEncoderStalled means the encoder stayed busy past the retry bound.
	ErrEncoderStalled = errors.New("encoder stalled")
	// ErrEncoderFailed means the encoder reported an error mid-stream or while finishing.
	ErrEncoderFailed = errors.New("encoder failed")
	// ErrNoFrames means the writer was finished before anything was written.
	ErrNoFrames = errors.New("no frames were written")
)

// Status is what an encoder reports about itself.
type Status int

const (
	StatusUnknown Status = iota
	StatusWriting
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusWriting:
		return "writing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Encoder is the muxer that turns frames into a file.
type Encoder interface {
	StartWriting() error
	StartSession(at time.Duration)
	ReadyForMoreData() bool
	// Append returns false when the frame was not accepted.
	Append(f capture.Frame) bool
	MarkFinished()
	// FinishWriting flushes and closes the output, then calls done.
	FinishWriting(done func())
	Status() Status
	// Err is the failure behind StatusFailed.
	Err() error
}

// ReadyNotifier is implemented by encoders that can signal when they drain.
type ReadyNotifier interface {
	Ready() <-chan struct{}
}
