package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kataras/golog"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
)

var logger = golog.Child("[writer]")

type State int

const (
	StateIdle State = iota
	StateWriting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWriting:
		return "writing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	DefaultPollInterval = time.Second
	DefaultMaxRetries   = 10
)

type Options struct {
	// PollInterval is how often readiness is rechecked while the encoder is busy.
	PollInterval time.Duration
	// MaxRetries bounds the number of polls before the encoder counts as stalled.
	MaxRetries int
}

// Outcome is how a recording ended.
type Outcome struct {
	State  State
	Frames uint64
	// Start and End are the output timestamps of the first and last written frames.
	Start time.Duration
	End   time.Duration
	Err   error
}

func (o Outcome) Duration() time.Duration {
	return o.End - o.Start
}

// Writer enforces the start/append/finish protocol on an Encoder.
// Appends must come from one goroutine at a time.
type Writer struct {
	enc  Encoder
	opts Options

	mu     sync.Mutex
	state  State
	err    error
	start  time.Duration
	last   time.Duration
	frames uint64

	finishing chan struct{}
	outcome   Outcome
}

func New(enc Encoder, opts Options) *Writer {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Writer{enc: enc, opts: opts}
}

func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Err returns the error that moved the writer to Failed.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) Frames() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Start opens the encoder session at the given timestamp. Only valid from Idle.
func (w *Writer) Start(at time.Duration) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateIdle {
		return fmt.Errorf("%w: start while %s", ErrLifecycle, w.state)
	}
	if err := w.enc.StartWriting(); err != nil {
		return w.failLocked(fmt.Errorf("%w: %w", ErrWriterSetup, err))
	}
	w.enc.StartSession(at)
	w.start, w.last = at, at
	w.state = StateWriting
	logger.Debugf("session started at %v", at)
	return nil
}

// Append hands f to the encoder once it is ready. While the encoder is busy it
// polls every PollInterval, or sooner when the encoder signals readiness, for at
// most MaxRetries polls before failing with ErrEncoderStalled. A cancelled ctx
// abandons the frame without changing state.
func (w *Writer) Append(ctx context.Context, f capture.Frame) error {
	if state := w.State(); state != StateWriting {
		return fmt.Errorf("%w: append while %s", ErrLifecycle, state)
	}

	for polls := 0; ; polls++ {
		if w.enc.ReadyForMoreData() && w.enc.Append(f) {
			w.mu.Lock()
			w.frames++
			w.last = f.PTS
			w.mu.Unlock()
			return nil
		}
		if w.enc.Status() == StatusFailed {
			return w.fail(fmt.Errorf("%w: %w", ErrEncoderFailed, w.encoderErr()))
		}
		if polls >= w.opts.MaxRetries {
			return w.fail(fmt.Errorf("%w: not ready after %d polls of %v", ErrEncoderStalled, polls, w.opts.PollInterval))
		}
		if err := w.waitReady(ctx); err != nil {
			return err
		}
	}
}

func (w *Writer) waitReady(ctx context.Context) error {
	timer := time.NewTimer(w.opts.PollInterval)
	defer timer.Stop()

	var ready <-chan struct{}
	if n, ok := w.enc.(ReadyNotifier); ok {
		ready = n.Ready()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-ready:
	}
	return nil
}

// Finish ends input, waits for the encoder to close the file and resolves the
// outcome. Further calls return the same outcome without touching the encoder.
func (w *Writer) Finish(ctx context.Context) (Outcome, error) {
	w.mu.Lock()
	if done := w.finishing; done != nil {
		w.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return Outcome{State: w.State()}, ctx.Err()
		}
		return w.outcome, w.outcome.Err
	}
	done := make(chan struct{})
	w.finishing = done
	state := w.state
	w.mu.Unlock()
	defer close(done)

	switch state {
	case StateIdle:
		w.fail(ErrNoFrames)
	case StateWriting:
		if err := w.release(ctx); err != nil {
			w.fail(fmt.Errorf("%w: finalize interrupted: %w", ErrEncoderFailed, err))
		} else if w.enc.Status() == StatusCompleted {
			w.mu.Lock()
			w.state = StateCompleted
			w.mu.Unlock()
		} else {
			w.fail(fmt.Errorf("%w: %w", ErrEncoderFailed, w.encoderErr()))
		}
	case StateFailed:
		// The output may be half written; close it anyway.
		if err := w.release(ctx); err != nil {
			logger.Warnf("releasing failed encoder: %v", err)
		}
	}

	w.mu.Lock()
	w.outcome = Outcome{State: w.state, Frames: w.frames, Start: w.start, End: w.last, Err: w.err}
	w.mu.Unlock()
	logger.Debugf("finished: %s, %d frames", w.outcome.State, w.outcome.Frames)
	return w.outcome, w.outcome.Err
}

func (w *Writer) release(ctx context.Context) error {
	w.enc.MarkFinished()
	closed := make(chan struct{})
	w.enc.FinishWriting(func() { close(closed) })
	select {
	case <-closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) encoderErr() error {
	if err := w.enc.Err(); err != nil {
		return err
	}
	return errors.New("encoder reported failure without an error")
}

func (w *Writer) fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failLocked(err)
}

func (w *Writer) failLocked(err error) error {
	if w.state.Terminal() {
		return w.err
	}
	w.state = StateFailed
	w.err = err
	logger.Errorf("%v", err)
	return err
}
