package retiming

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
)

const base = 42 * time.Second

func frameAt(kind capture.Kind, i, fps int, changed bool) capture.Frame {
	return capture.Frame{
		Seq:      uint64(i),
		PTS:      base + time.Duration(i)*time.Second/time.Duration(fps),
		Duration: time.Second / time.Duration(fps),
		Kind:     kind,
		Changed:  changed,
	}
}

// run submits frames, drains at the end, and returns every written frame in order.
func run(s *Scheduler, frames []capture.Frame) []capture.Frame {
	var written []capture.Frame
	for _, f := range frames {
		d := s.Submit(f)
		switch d.Action {
		case ActionStartSession, ActionEmit:
			written = append(written, d.Frame)
		}
	}
	if f, ok := s.Drain(); ok {
		written = append(written, f)
	}
	return written
}

func TestFirstFrameStartsSession(t *testing.T) {
	s := New(10, 0)
	f := frameAt(capture.KindScreen, 0, 30, true)

	d := s.Submit(f)
	require.Equal(t, ActionStartSession, d.Action)
	assert.Equal(t, f, d.Frame, "first frame is passed through unmodified")
	assert.False(t, s.Pending(), "first frame is not buffered")

	offset, ok := s.Offset()
	require.True(t, ok)
	assert.Equal(t, f.PTS, offset)
}

func TestEmitsAreStrictlyMonotonic(t *testing.T) {
	for _, multiple := range []float64{1, 2.5, 10, 240} {
		s := New(multiple, 0)
		var frames []capture.Frame
		for i := 0; i < 2000; i++ {
			// Irregular spacing with duplicate timestamps and occasional bursts.
			pts := base + time.Duration(i*i%97)*time.Microsecond + time.Duration(i)*7*time.Millisecond
			if i%13 == 0 && i > 0 {
				pts = frames[len(frames)-1].PTS
			}
			frames = append(frames, capture.Frame{PTS: pts, Kind: capture.KindCamera, Changed: true})
		}

		written := run(s, frames)
		require.NotEmpty(t, written)
		for i := 1; i < len(written); i++ {
			assert.Greater(t, written[i].PTS, written[i-1].PTS, "multiple %v, emit %d", multiple, i)
		}
	}
}

func TestIdentityMultipleKeepsTimestamps(t *testing.T) {
	s := New(1, 0)
	var frames []capture.Frame
	for i := 0; i < 90; i++ {
		frames = append(frames, frameAt(capture.KindCamera, i, 30, true))
	}
	byPTS := map[time.Duration]bool{}
	for _, f := range frames {
		byPTS[f.PTS] = true
	}

	written := run(s, frames)
	require.Greater(t, len(written), 1)
	for _, f := range written {
		assert.True(t, byPTS[f.PTS], "emitted %v is a capture timestamp", f.PTS)
	}
}

func TestRetimeAppliesToEveryTimingField(t *testing.T) {
	s := New(4, time.Second/30)
	s.Submit(capture.Frame{PTS: base, Kind: capture.KindCamera})
	s.Submit(capture.Frame{PTS: base + time.Second, DTS: base + time.Second - time.Millisecond*4, HasDTS: true, Duration: 40 * time.Millisecond, Kind: capture.KindCamera})

	d := s.Submit(capture.Frame{PTS: base + 2*time.Second, Kind: capture.KindCamera})
	require.Equal(t, ActionEmit, d.Action)
	assert.Equal(t, base+250*time.Millisecond, d.Frame.PTS)
	assert.Equal(t, base+249*time.Millisecond, d.Frame.DTS)
	assert.Equal(t, 10*time.Millisecond, d.Frame.Duration)
}

func TestCompressionRatioConverges(t *testing.T) {
	for _, multiple := range []float64{2, 5, 10, 60} {
		s := New(multiple, 0)
		const fps, seconds = 30, 600
		var frames []capture.Frame
		for i := 0; i < fps*seconds; i++ {
			frames = append(frames, frameAt(capture.KindCamera, i, fps, true))
		}

		written := run(s, frames)
		real := frames[len(frames)-1].PTS - frames[0].PTS
		output := written[len(written)-1].PTS - written[0].PTS
		ratio := float64(output) / float64(real)
		assert.InDelta(t, 1/multiple, ratio, 0.01/multiple, "multiple %v", multiple)
	}
}

func TestStaticScreenEmitsTwice(t *testing.T) {
	s := New(10, 0)
	var frames []capture.Frame
	for i := 1; i <= 100; i++ {
		frames = append(frames, frameAt(capture.KindScreen, i, 30, i == 1 || i == 100))
	}

	var emits int
	for _, f := range frames {
		d := s.Submit(f)
		if d.Action == ActionEmit {
			emits++
		}
		if d.Action == ActionStartSession {
			emits++
		}
	}
	assert.Equal(t, 1, emits, "nothing is emitted while the screen is static")

	last, ok := s.Drain()
	require.True(t, ok)
	assert.Equal(t, uint64(100), last.Seq, "the final held frame is the changed one")

	_, ok = s.Drain()
	assert.False(t, ok, "the held frame is flushed exactly once")
}

func TestStaticScreenNeverAdvancesTimeline(t *testing.T) {
	s := New(10, 0)
	s.Submit(frameAt(capture.KindScreen, 0, 30, true))
	for i := 1; i < 3000; i++ {
		d := s.Submit(frameAt(capture.KindScreen, i, 30, false))
		require.Equal(t, ActionHold, d.Action, "frame %d", i)
	}
}

func TestScreenChangeIsRemembered(t *testing.T) {
	s := New(10, 0)
	s.Submit(frameAt(capture.KindScreen, 0, 30, true))
	// A change early in the slot is followed by static frames.
	s.Submit(frameAt(capture.KindScreen, 1, 30, true))
	var emitted []capture.Frame
	for i := 2; i < 40; i++ {
		if d := s.Submit(frameAt(capture.KindScreen, i, 30, false)); d.Action == ActionEmit {
			emitted = append(emitted, d.Frame)
		}
	}
	require.Len(t, emitted, 1, "the change opens exactly one more slot")
}

func TestCameraNeverSkipsOnChangedFlag(t *testing.T) {
	withFlag := New(10, 0)
	withoutFlag := New(10, 0)
	var a, b []capture.Frame
	for i := 0; i < 600; i++ {
		a = append(a, frameAt(capture.KindCamera, i, 60, true))
		b = append(b, frameAt(capture.KindCamera, i, 60, false))
	}

	wa := run(withFlag, a)
	wb := run(withoutFlag, b)
	require.Equal(t, len(wa), len(wb))
	for i := range wa {
		assert.Equal(t, wa[i].PTS, wb[i].PTS)
	}
	// 10 s of real time at 10x is about 30 output frames at 30 fps.
	assert.InDelta(t, 30, len(wa), 2)
}

func TestTenTimesScenario(t *testing.T) {
	s := New(10, 0)
	var frames []capture.Frame
	for i := 0; i < 300; i++ {
		frames = append(frames, frameAt(capture.KindCamera, i, 30, true))
	}

	written := run(s, frames)
	assert.InDelta(t, 30, len(written), 1)

	span := written[len(written)-1].PTS - written[0].PTS
	assert.InDelta(t, float64(time.Second), float64(span), float64(time.Second/30))
}

func TestBackwardsFrameIsDropped(t *testing.T) {
	s := New(2, 0)
	s.Submit(capture.Frame{PTS: base, Kind: capture.KindCamera})
	s.Submit(capture.Frame{PTS: base + time.Second, Kind: capture.KindCamera, Seq: 1})

	d := s.Submit(capture.Frame{PTS: base + time.Millisecond, Kind: capture.KindCamera, Seq: 2})
	assert.Equal(t, ActionDrop, d.Action)

	held, ok := s.Drain()
	require.True(t, ok)
	assert.Equal(t, uint64(1), held.Seq, "a dropped frame does not replace the held one")
	_, dropped := s.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestDrainWithoutPending(t *testing.T) {
	s := New(5, 0)
	_, ok := s.Drain()
	assert.False(t, ok)

	s.Submit(frameAt(capture.KindScreen, 0, 30, true))
	_, ok = s.Drain()
	assert.False(t, ok, "the session-start frame is already written")
}

func TestCollapsedTimestampsStayIncreasing(t *testing.T) {
	s := New(240, 0)
	s.Submit(capture.Frame{PTS: base, Kind: capture.KindCamera})
	s.Submit(capture.Frame{PTS: base + 10, Kind: capture.KindCamera})

	d := s.Submit(capture.Frame{PTS: base + time.Hour, Kind: capture.KindCamera})
	require.Equal(t, ActionEmit, d.Action)
	assert.Equal(t, base+1, d.Frame.PTS)
}

func TestOutputTime(t *testing.T) {
	s := New(10, 0)
	assert.Zero(t, s.OutputTime())
	s.Submit(capture.Frame{PTS: base, Kind: capture.KindCamera})
	s.Submit(capture.Frame{PTS: base + 20*time.Second, Kind: capture.KindCamera})
	assert.Equal(t, 2*time.Second, s.OutputTime())
}

func TestMultipleIsClamped(t *testing.T) {
	s := New(0.25, 0)
	s.Submit(capture.Frame{PTS: base, Kind: capture.KindCamera})
	s.Submit(capture.Frame{PTS: base + time.Second, Kind: capture.KindCamera})
	assert.Equal(t, time.Second, s.OutputTime())
	assert.False(t, math.IsNaN(s.multiple))
}

func TestActionString(t *testing.T) {
	assert.Equal(t, "emit", ActionEmit.String())
	assert.Equal(t, "hold", ActionHold.String())
	assert.Equal(t, "drop", ActionDrop.String())
	assert.Equal(t, "start-session", ActionStartSession.String())
}
