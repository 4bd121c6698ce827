package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReceiver struct {
	mu     sync.Mutex
	frames []Frame
	errs   []error
}

func (r *recordingReceiver) OnFrame(f Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingReceiver) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingReceiver) snapshot() ([]Frame, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Frame(nil), r.frames...), append([]error(nil), r.errs...)
}

type fixedPointer struct{ x, y int }

func (p fixedPointer) Location() (int, int) { return p.x, p.y }

func TestScreenSourceDeliversFrames(t *testing.T) {
	bounds := image.Rect(100, 0, 132, 32)
	grab := func(r image.Rectangle) (*image.RGBA, error) {
		return solid(r.Dx(), r.Dy(), color.RGBA{A: 255}), nil
	}
	src := newScreenSource(1, bounds, ScreenOptions{FPS: 200, ChangeDetection: true}, grab)
	rec := &recordingReceiver{}

	require.NoError(t, src.Start(context.Background(), rec))
	require.Error(t, src.Start(context.Background(), rec))
	require.Eventually(t, func() bool {
		frames, _ := rec.snapshot()
		return len(frames) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	frames, errs := rec.snapshot()
	assert.Empty(t, errs)
	assert.True(t, frames[0].Changed, "first capture is always a change")
	for i, f := range frames[1:] {
		assert.False(t, f.Changed, "frame %d repeats the same picture", i+1)
		assert.Greater(t, f.PTS, frames[i].PTS)
		assert.Equal(t, KindScreen, f.Kind)
	}

	// Nothing arrives once Stop has returned.
	time.Sleep(30 * time.Millisecond)
	after, _ := rec.snapshot()
	assert.Len(t, after, len(frames))
	assert.Equal(t, "1", src.ID())
	w, h := src.Size()
	assert.Equal(t, 32, w)
	assert.Equal(t, 32, h)
}

func TestScreenSourceRestartIsAChange(t *testing.T) {
	grab := func(r image.Rectangle) (*image.RGBA, error) {
		return solid(r.Dx(), r.Dy(), color.RGBA{B: 200, A: 255}), nil
	}
	src := newScreenSource(0, image.Rect(0, 0, 16, 16), ScreenOptions{FPS: 200, ChangeDetection: true}, grab)

	for run := 0; run < 2; run++ {
		rec := &recordingReceiver{}
		require.NoError(t, src.Start(context.Background(), rec))
		require.Eventually(t, func() bool {
			frames, _ := rec.snapshot()
			return len(frames) >= 2
		}, 2*time.Second, 5*time.Millisecond)
		require.NoError(t, src.Stop())

		frames, _ := rec.snapshot()
		assert.True(t, frames[0].Changed, "run %d opens with a change", run)
		assert.False(t, frames[1].Changed, "run %d", run)
	}
}

func TestScreenSourceWithoutChangeDetection(t *testing.T) {
	grab := func(r image.Rectangle) (*image.RGBA, error) {
		return solid(r.Dx(), r.Dy(), color.RGBA{A: 255}), nil
	}
	src := newScreenSource(0, image.Rect(0, 0, 8, 8), ScreenOptions{FPS: 200}, grab)
	rec := &recordingReceiver{}

	require.NoError(t, src.Start(context.Background(), rec))
	require.Eventually(t, func() bool {
		frames, _ := rec.snapshot()
		return len(frames) >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	frames, _ := rec.snapshot()
	for _, f := range frames {
		assert.True(t, f.Changed)
	}
}

func TestScreenSourceDrawsPointer(t *testing.T) {
	grab := func(r image.Rectangle) (*image.RGBA, error) {
		return solid(r.Dx(), r.Dy(), color.RGBA{A: 255}), nil
	}
	src := newScreenSource(0, image.Rect(100, 100, 132, 132), ScreenOptions{FPS: 200, Pointer: fixedPointer{110, 120}}, grab)
	rec := &recordingReceiver{}

	require.NoError(t, src.Start(context.Background(), rec))
	require.Eventually(t, func() bool {
		frames, _ := rec.snapshot()
		return len(frames) >= 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	frames, _ := rec.snapshot()
	assert.Equal(t, pointerColor, frames[0].Image.RGBAAt(10, 20))
}

func TestScreenSourceReportsUnavailable(t *testing.T) {
	grab := func(image.Rectangle) (*image.RGBA, error) {
		return nil, errors.New("display gone")
	}
	src := newScreenSource(0, image.Rect(0, 0, 8, 8), ScreenOptions{FPS: 500}, grab)
	rec := &recordingReceiver{}

	require.NoError(t, src.Start(context.Background(), rec))
	require.Eventually(t, func() bool {
		_, errs := rec.snapshot()
		return len(errs) == 1
	}, 3*time.Second, 5*time.Millisecond)
	require.NoError(t, src.Stop())

	_, errs := rec.snapshot()
	assert.ErrorIs(t, errs[0], ErrCaptureUnavailable)
}

func TestScreenSourceStopWithoutStart(t *testing.T) {
	src := newScreenSource(0, image.Rect(0, 0, 8, 8), ScreenOptions{}, nil)
	assert.NoError(t, src.Stop())
}
