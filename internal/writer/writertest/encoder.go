// Package writertest provides an in-memory writer.Encoder for tests.
package writertest

import (
	"sync"
	"time"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
)

// Encoder records everything it is given. It is ready and healthy until told otherwise.
type Encoder struct {
	mu sync.Mutex

	startErr   error
	ready      bool
	readyCh    chan struct{}
	status     writer.Status
	err        error
	finishHold chan struct{}

	frames    []capture.Frame
	sessionAt time.Duration
	starts    int
	marks     int
	finishes  int
}

func NewEncoder() *Encoder {
	return &Encoder{ready: true, readyCh: make(chan struct{}, 1)}
}

// FailStart makes StartWriting return err.
func (e *Encoder) FailStart(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.startErr = err
}

// SetReady toggles backpressure. Becoming ready wakes a waiting writer.
func (e *Encoder) SetReady(ready bool) {
	e.mu.Lock()
	e.ready = ready
	e.mu.Unlock()
	if ready {
		select {
		case e.readyCh <- struct{}{}:
		default:
		}
	}
}

// Fail puts the encoder into StatusFailed.
func (e *Encoder) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status = writer.StatusFailed
	e.err = err
}

// HoldFinish delays FinishWriting's completion until the returned func is called.
func (e *Encoder) HoldFinish() (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan struct{})
	e.finishHold = ch
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (e *Encoder) StartWriting() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.startErr != nil {
		e.status = writer.StatusFailed
		e.err = e.startErr
		return e.startErr
	}
	e.status = writer.StatusWriting
	return nil
}

func (e *Encoder) StartSession(at time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionAt = at
}

func (e *Encoder) ReadyForMoreData() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready && e.status == writer.StatusWriting
}

func (e *Encoder) Append(f capture.Frame) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ready || e.status != writer.StatusWriting {
		return false
	}
	e.frames = append(e.frames, f)
	return true
}

func (e *Encoder) MarkFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.marks++
}

func (e *Encoder) FinishWriting(done func()) {
	e.mu.Lock()
	e.finishes++
	if e.status == writer.StatusWriting {
		e.status = writer.StatusCompleted
	}
	hold := e.finishHold
	e.mu.Unlock()

	go func() {
		if hold != nil {
			<-hold
		}
		done()
	}()
}

func (e *Encoder) Status() writer.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Encoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Encoder) Ready() <-chan struct{} {
	return e.readyCh
}

// Frames returns a copy of the appended frames.
func (e *Encoder) Frames() []capture.Frame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]capture.Frame(nil), e.frames...)
}

func (e *Encoder) SessionAt() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionAt
}

// Calls returns how often StartWriting, MarkFinished and FinishWriting ran.
func (e *Encoder) Calls() (starts, marks, finishes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.marks, e.finishes
}
