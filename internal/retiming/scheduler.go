// Package retiming decides which captured frames make it into a time-lapse and
// rewrites their timestamps onto the compressed output timeline.
//
// A Scheduler keeps a one-frame lookback slot. Each output frame slot is
// represented by the last frame captured before the slot closed, which is only
// known once the next frame arrives past the slot boundary. Screen frames that
// show no change since the last emitted frame never open a new slot.
package retiming

import (
	"time"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
)

// Action is what the caller has to do with a Decision.
type Action int

const (
	// ActionHold means the frame went into the lookback slot. Nothing to write.
	ActionHold Action = iota
	// ActionStartSession carries the first frame unmodified; the writer opens its
	// session at its timestamp and writes it.
	ActionStartSession
	// ActionEmit carries the previously held frame, retimed.
	ActionEmit
	// ActionDrop means the frame was discarded.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "hold"
	case ActionStartSession:
		return "start-session"
	case ActionEmit:
		return "emit"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

type Decision struct {
	Action Action
	Frame  capture.Frame
}

// Scheduler is not safe for concurrent use. Each recording owns one.
type Scheduler struct {
	multiple  float64
	threshold time.Duration

	started bool
	offset  time.Duration
	// lastSeen is the newest capture timestamp accepted.
	lastSeen time.Duration
	// slotStart is the capture timestamp that opened the current output slot.
	slotStart time.Duration
	// lastOutput is the output timestamp of the last written frame.
	lastOutput time.Duration

	pending        *capture.Frame
	pendingChanged bool

	emitted uint64
	dropped uint64
}

// New returns a Scheduler compressing time by multiple, sampling one frame per
// output frame interval. multiple is clamped to at least 1.
func New(multiple float64, interval time.Duration) *Scheduler {
	if multiple < 1 {
		multiple = 1
	}
	if interval <= 0 {
		interval = clock.FrameInterval(clock.DefaultOutputFPS)
	}
	return &Scheduler{
		multiple:  multiple,
		threshold: clock.Threshold(interval, multiple),
	}
}

// Submit feeds the next frame in arrival order.
func (s *Scheduler) Submit(f capture.Frame) Decision {
	if f.Kind == capture.KindCamera {
		f.Changed = true
	}

	if !s.started {
		s.started = true
		s.offset = f.PTS
		s.lastSeen = f.PTS
		s.slotStart = f.PTS
		s.lastOutput = f.PTS
		s.emitted++
		return Decision{Action: ActionStartSession, Frame: f}
	}

	if f.PTS < s.lastSeen {
		s.dropped++
		return Decision{Action: ActionDrop}
	}
	s.lastSeen = f.PTS

	if s.pending == nil {
		s.hold(f, f.Changed)
		return Decision{Action: ActionHold}
	}

	// A screen that has not changed since the last write never opens a new
	// output slot, however long it stays static.
	if !s.pendingChanged || f.PTS <= s.slotStart+s.threshold {
		s.hold(f, s.pendingChanged || f.Changed)
		return Decision{Action: ActionHold}
	}

	out := s.emit(*s.pending)
	// The frame that closed the slot opens the next one.
	s.slotStart = f.PTS
	s.hold(f, f.Changed)
	return Decision{Action: ActionEmit, Frame: out}
}

// Drain returns the held frame, retimed, and clears the slot. It reports false
// when nothing is held.
func (s *Scheduler) Drain() (capture.Frame, bool) {
	if s.pending == nil {
		return capture.Frame{}, false
	}
	out := s.emit(*s.pending)
	s.pending = nil
	s.pendingChanged = false
	return out, true
}

// OutputTime is the elapsed output time represented so far, measured from the
// first frame to the newest accepted one.
func (s *Scheduler) OutputTime() time.Duration {
	if !s.started {
		return 0
	}
	return clock.Compress(s.lastSeen-s.offset, s.multiple)
}

// Offset is the capture timestamp of the first frame.
func (s *Scheduler) Offset() (time.Duration, bool) {
	return s.offset, s.started
}

// Pending reports whether a frame is held.
func (s *Scheduler) Pending() bool {
	return s.pending != nil
}

// Stats returns the number of frames written (including the first) and dropped.
func (s *Scheduler) Stats() (emitted, dropped uint64) {
	return s.emitted, s.dropped
}

func (s *Scheduler) hold(f capture.Frame, changed bool) {
	s.pending = &f
	s.pendingChanged = changed
}

// emit rewrites every timing field of f onto the output timeline.
func (s *Scheduler) emit(f capture.Frame) capture.Frame {
	f.PTS = s.retime(f.PTS)
	if f.PTS <= s.lastOutput {
		f.PTS = s.lastOutput + 1
	}
	if f.HasDTS {
		f.DTS = s.retime(f.DTS)
		if f.DTS > f.PTS {
			f.DTS = f.PTS
		}
	}
	f.Duration = clock.Compress(f.Duration, s.multiple)

	s.lastOutput = f.PTS
	s.emitted++
	return f
}

func (s *Scheduler) retime(ts time.Duration) time.Duration {
	return clock.Retime(ts, s.offset, s.multiple)
}
