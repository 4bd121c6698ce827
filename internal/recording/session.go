// Package recording runs capture sources through the retiming scheduler into
// writers, one independent pipeline per device.
package recording

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kataras/golog"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/config"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/notify"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/output"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/retiming"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/video"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
)

var logger = golog.Child("[recording]")

// ErrBusy is returned when a device is toggled during a recording.
var ErrBusy = errors.New("recording in progress")

type State int

const (
	StateStopped State = iota
	StateRecording
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// EncoderFactory opens the encoder for one recording.
type EncoderFactory func(path string, width, height int, s video.Settings) (writer.Encoder, error)

func videoEncoder(path string, width, height int, s video.Settings) (writer.Encoder, error) {
	enc, err := video.NewEncoder(path, width, height, s)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

type Options struct {
	// Config is sampled once per recording. Nil means defaults.
	Config   *config.Store
	Notifier notify.Sink
	// NewEncoder defaults to the video package encoders.
	NewEncoder EncoderFactory
	// Reveal opens a saved file for the user. Defaults to output.Reveal.
	Reveal func(path string) error
	// Now stamps output file names. Defaults to time.Now.
	Now func() time.Time
}

// Session records one capture source. Its exported methods are safe for
// concurrent use; frames are processed on a single worker goroutine per run.
type Session struct {
	source capture.Source
	opts   Options

	// lifecycle serializes Start, Stop and failure handling.
	lifecycle sync.Mutex

	mu      sync.Mutex
	enabled bool
	state   State
	run     *run
	last    writer.Outcome
	path    string

	outputTime atomic.Int64
}

func NewSession(source capture.Source, enabled bool, opts Options) *Session {
	if opts.NewEncoder == nil {
		opts.NewEncoder = videoEncoder
	}
	if opts.Reveal == nil {
		opts.Reveal = output.Reveal
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLog()
	}
	return &Session{source: source, enabled: enabled, opts: opts}
}

func (s *Session) ID() string             { return s.source.ID() }
func (s *Session) Name() string           { return s.source.Name() }
func (s *Session) Kind() capture.Kind     { return s.source.Kind() }
func (s *Session) Source() capture.Source { return s.source }

func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetEnabled flips whether commands reach the session. It fails with ErrBusy
// while a recording is running so that recording can still be stopped.
func (s *Session) SetEnabled(enabled bool) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled == enabled {
		return nil
	}
	if s.state != StateStopped {
		return fmt.Errorf("%w: %s is %s", ErrBusy, s.Name(), s.state)
	}
	s.enabled = enabled
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OutputTime is the elapsed output time of the current or last recording.
func (s *Session) OutputTime() time.Duration {
	return time.Duration(s.outputTime.Load())
}

// LastOutcome is how the previous recording ended, with the file it produced.
func (s *Session) LastOutcome() (writer.Outcome, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.path
}

// Start begins a recording. It does nothing unless the session is enabled and stopped.
func (s *Session) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if !s.enabled || s.state != StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	cfg := config.NewConfig().Clone()
	if s.opts.Config != nil {
		cfg = s.opts.Config.Snapshot()
	}

	r, err := s.prepare(cfg)
	if err != nil {
		s.notifyFailure(err)
		return err
	}

	s.outputTime.Store(0)
	s.mu.Lock()
	s.run = r
	s.state = StateRecording
	s.path = r.path
	s.mu.Unlock()

	go r.work()

	if err := s.source.Start(r.ctx, r); err != nil {
		if !errors.Is(err, capture.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %w", capture.ErrCaptureUnavailable, err)
		}
		r.closeInbox()
		r.cancel()
		<-r.done
		s.finish(r, err, false)
		return err
	}

	logger.Infof("%s: recording %s to %s (x%g, run %s)", s.Name(), s.Kind(), r.path, cfg.Recording.TimeMultiple, r.id)
	return nil
}

func (s *Session) prepare(cfg config.Config) (*run, error) {
	settings := cfg.VideoSettings()
	name := output.FileName(s.Kind(), s.ID(), s.Name(), s.opts.Now(), settings.Format.Extension())

	path, err := output.Resolve(cfg.Recording.SaveLocation, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", writer.ErrWriterSetup, err)
	}
	if err := output.CheckFreeSpace(filepath.Dir(path), cfg.Recording.MinFreeBytes); err != nil {
		return nil, fmt.Errorf("%w: %w", writer.ErrWriterSetup, err)
	}

	width, height := s.source.Size()
	enc, err := s.opts.NewEncoder(path, width, height, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", writer.ErrWriterSetup, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &run{
		session: s,
		id:      uuid.NewString(),
		cfg:     cfg,
		path:    path,
		sched:   retiming.New(cfg.Recording.TimeMultiple, clock.FrameInterval(cfg.Recording.OutputFPS)),
		w: writer.New(enc, writer.Options{
			PollInterval: cfg.Writer.ReadyPollInterval,
			MaxRetries:   cfg.Writer.ReadyMaxRetries,
		}),
		inbox:  make(chan capture.Frame, cfg.Capture.InboxSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}, nil
}

// Pause discards incoming frames until Resume.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRecording {
		return
	}
	s.run.paused.Store(true)
	s.state = StatePaused
	logger.Infof("%s: paused", s.Name())
}

// Resume continues on the existing timeline.
func (s *Session) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return
	}
	s.run.paused.Store(false)
	s.state = StateRecording
	logger.Infof("%s: resumed", s.Name())
}

// Stop ends the recording and saves the file; there is no separate save step. Queued frames are still written
// unless ctx expires first. It does nothing unless the session is enabled.
func (s *Session) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	r := s.run
	if !s.enabled || r == nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	return s.teardown(ctx, r, nil)
}

// abort ends r after a capture or writer failure, unless a Stop already did.
func (s *Session) abort(r *run, cause error) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	current := s.run == r
	s.mu.Unlock()
	if !current {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Writer.StopTimeout)
	defer cancel()
	s.teardown(ctx, r, cause)
}

// teardown must hold s.lifecycle.
func (s *Session) teardown(ctx context.Context, r *run, cause error) error {
	if err := s.source.Stop(); err != nil {
		logger.Warnf("%s: stopping capture: %v", s.Name(), err)
	}
	r.closeInbox()

	drain := true
	select {
	case <-r.done:
	case <-ctx.Done():
		logger.Warnf("%s: abandoning queued frames: %v", s.Name(), ctx.Err())
		r.cancel()
		<-r.done
		drain = false
	}
	r.cancel()

	if cause == nil {
		cause = r.failure()
	}
	return s.finish(r, cause, drain)
}

// finish drains the scheduler when asked and the writer is healthy, closes the
// writer and reports the outcome. The session reads Stopped only once the user
// has been notified.
func (s *Session) finish(r *run, cause error, drain bool) error {
	fctx, cancel := context.WithTimeout(context.Background(), r.cfg.Writer.FinishTimeout)
	defer cancel()

	if drain && r.w.State() == writer.StateWriting {
		if f, ok := r.sched.Drain(); ok {
			if err := r.w.Append(fctx, f); err != nil {
				cause = err
			}
		}
	}
	s.outputTime.Store(int64(r.sched.OutputTime()))

	outcome, err := r.w.Finish(fctx)
	if cause == nil {
		cause = err
	}

	emitted, dropped := r.sched.Stats()
	logger.Infof("%s: %s after %d frames (%d skipped by scheduler, %d dropped at ingest), output %s",
		s.Name(), outcome.State, outcome.Frames, dropped, r.dropped.Load(), clock.Format(s.OutputTime()))
	logger.Debugf("%s: scheduler emitted %d", s.Name(), emitted)

	if outcome.State != writer.StateCompleted {
		s.notifyFailure(cause)
	} else {
		s.notifySaved(r)
		if cause != nil {
			logger.Warnf("%s: saved a partial recording: %v", s.Name(), cause)
		}
	}

	s.mu.Lock()
	s.run = nil
	s.state = StateStopped
	s.last = outcome
	s.mu.Unlock()
	return cause
}

func (s *Session) notifySaved(r *run) {
	if info, err := video.Probe(r.path); err == nil {
		logger.Infof("%s: wrote %s", s.Name(), info)
	} else {
		logger.Debugf("%s: probe %s: %v", s.Name(), r.path, err)
	}

	title := "Saved video"
	body := s.Name() + " saved"
	s.opts.Notifier.Notify(notify.Notification{
		Title:   title,
		Body:    body,
		FileURL: (&url.URL{Scheme: "file", Path: r.path}).String(),
		Level:   notify.LevelInfo,
	})

	if r.cfg.Notifications.ShowAfterSave || output.InTempDir(r.path) {
		if err := s.opts.Reveal(r.path); err != nil {
			logger.Warnf("%s: reveal %s: %v", s.Name(), r.path, err)
		}
	}
}

func (s *Session) notifyFailure(err error) {
	s.opts.Notifier.Notify(notify.Notification{
		Title: "Could not save asset",
		Body:  fmt.Sprintf("%s: %s", s.Name(), Describe(err)),
		Level: notify.LevelError,
	})
}

// Describe turns a recording error into a short user-facing reason.
func Describe(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, writer.ErrEncoderStalled):
		return "encoder stalled, the last frames may be lost"
	case errors.Is(err, writer.ErrEncoderFailed):
		return "encoder failed, the file may be unusable"
	case errors.Is(err, output.ErrInsufficientSpace):
		return "not enough free disk space"
	case errors.Is(err, writer.ErrWriterSetup):
		return "could not create the output file"
	case errors.Is(err, capture.ErrCaptureUnavailable):
		return "capture device unavailable"
	case errors.Is(err, writer.ErrNoFrames):
		return "no frames were captured"
	default:
		return err.Error()
	}
}
