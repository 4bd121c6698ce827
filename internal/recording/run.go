package recording

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/config"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/retiming"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
)

// run is one recording of a session. It receives frames from the capture
// source and owns the scheduler and writer, which only its worker touches.
type run struct {
	session *Session
	id      string
	cfg     config.Config
	path    string

	sched *retiming.Scheduler
	w     *writer.Writer

	inboxMu sync.RWMutex
	inbox   chan capture.Frame
	closed  bool

	paused atomic.Bool
	// carry remembers a change seen on a frame dropped at ingest.
	carry   atomic.Bool
	dropped atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// OnFrame queues f for the worker. It never blocks: when the inbox is full the
// frame is dropped and its change flag is carried to the next accepted frame.
func (r *run) OnFrame(f capture.Frame) {
	if r.paused.Load() {
		return
	}
	if f.Kind == capture.KindScreen && !r.cfg.Capture.ChangeDetection {
		f.Changed = true
	}

	r.inboxMu.RLock()
	defer r.inboxMu.RUnlock()
	if r.closed {
		return
	}

	if r.carry.Swap(false) {
		f.Changed = true
	}
	select {
	case r.inbox <- f:
	default:
		if f.Changed {
			r.carry.Store(true)
		}
		if n := r.dropped.Add(1); (n-1)%r.logEvery() == 0 {
			logger.Warnf("%s: worker behind, %d frames dropped at ingest", r.session.Name(), n)
		}
	}
}

// OnError ends the recording.
func (r *run) OnError(err error) {
	if !errors.Is(err, capture.ErrCaptureUnavailable) {
		err = fmt.Errorf("%w: %w", capture.ErrCaptureUnavailable, err)
	}
	go r.session.abort(r, err)
}

func (r *run) closeInbox() {
	r.inboxMu.Lock()
	defer r.inboxMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.inbox)
	}
}

func (r *run) work() {
	defer close(r.done)

	var n uint64
	for f := range r.inbox {
		if r.ctx.Err() != nil {
			return
		}
		if err := r.process(f); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.setFailure(err)
			go r.session.abort(r, err)
			return
		}
		r.session.outputTime.Store(int64(r.sched.OutputTime()))

		if n++; n%r.logEvery() == 0 {
			emitted, skipped := r.sched.Stats()
			logger.Debugf("%s: %d frames in, %d written, %d skipped", r.session.Name(), n, emitted, skipped)
		}
	}
}

func (r *run) process(f capture.Frame) error {
	d := r.sched.Submit(f)
	switch d.Action {
	case retiming.ActionStartSession:
		if err := r.w.Start(d.Frame.PTS); err != nil {
			return err
		}
		return r.w.Append(r.ctx, d.Frame)
	case retiming.ActionEmit:
		return r.w.Append(r.ctx, d.Frame)
	}
	return nil
}

func (r *run) logEvery() uint64 {
	return uint64(max(1, r.cfg.Logging.FrameLogEvery))
}

func (r *run) setFailure(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

func (r *run) failure() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}
