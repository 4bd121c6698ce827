package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
)

type memBackend struct {
	mu      sync.Mutex
	frames  []*image.RGBA
	closed  int
	failAt  int
	gate    chan struct{}
	closeFn func() error
}

func (b *memBackend) WriteFrame(img *image.RGBA) error {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAt > 0 && len(b.frames)+1 >= b.failAt {
		return errors.New("pipe closed")
	}
	b.frames = append(b.frames, img)
	return nil
}

func (b *memBackend) Close() error {
	b.mu.Lock()
	b.closed++
	b.mu.Unlock()
	if b.closeFn != nil {
		return b.closeFn()
	}
	return nil
}

func (b *memBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func picture(c uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = c
	}
	return img
}

func finish(t *testing.T, e *QueueEncoder) {
	t.Helper()
	e.MarkFinished()
	done := make(chan struct{})
	e.FinishWriting(func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("FinishWriting did not complete")
	}
}

func TestQueueEncoderPadsGaps(t *testing.T) {
	b := &memBackend{}
	e := NewQueueEncoder(func() (Backend, error) { return b, nil }, 10, 4)
	require.NoError(t, e.StartWriting())
	e.StartSession(time.Second)

	first, second := picture(1), picture(2)
	require.True(t, e.Append(capture.Frame{PTS: time.Second, Image: first}))
	// Half a second later at 10 fps is frame slot 5.
	require.True(t, e.Append(capture.Frame{PTS: 1500 * time.Millisecond, Image: second}))
	finish(t, e)

	require.Equal(t, 6, b.count())
	for i := 0; i < 5; i++ {
		assert.Same(t, first, b.frames[i], "slot %d repeats the first picture", i)
	}
	assert.Same(t, second, b.frames[5])
	assert.Equal(t, writer.StatusCompleted, e.Status())
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, uint64(6), e.pictures())
}

func TestQueueEncoderBackpressure(t *testing.T) {
	b := &memBackend{gate: make(chan struct{})}
	e := NewQueueEncoder(func() (Backend, error) { return b, nil }, 30, 1)
	require.NoError(t, e.StartWriting())
	e.StartSession(0)

	require.True(t, e.Append(capture.Frame{PTS: 0, Image: picture(1)}))
	// The writing goroutine is blocked in the gate holding frame one; the queue
	// fills with frame two.
	require.Eventually(t, func() bool { return e.Append(capture.Frame{PTS: time.Second / 30, Image: picture(2)}) }, time.Second, time.Millisecond)
	assert.False(t, e.ReadyForMoreData())
	assert.False(t, e.Append(capture.Frame{PTS: 2 * time.Second / 30, Image: picture(3)}))

	close(b.gate)
	select {
	case <-e.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready signal after the queue drained")
	}
	finish(t, e)
	assert.Equal(t, 2, b.count())
}

func TestQueueEncoderWriteFailure(t *testing.T) {
	b := &memBackend{failAt: 2}
	e := NewQueueEncoder(func() (Backend, error) { return b, nil }, 30, 4)
	require.NoError(t, e.StartWriting())
	e.StartSession(0)

	require.True(t, e.Append(capture.Frame{PTS: 0, Image: picture(1)}))
	require.True(t, e.Append(capture.Frame{PTS: time.Second / 30, Image: picture(2)}))
	require.Eventually(t, func() bool { return e.Status() == writer.StatusFailed }, time.Second, time.Millisecond)
	assert.ErrorContains(t, e.Err(), "pipe closed")
	assert.False(t, e.ReadyForMoreData())
	assert.False(t, e.Append(capture.Frame{PTS: time.Second, Image: picture(3)}))

	finish(t, e)
	assert.Equal(t, writer.StatusFailed, e.Status(), "a failed encoder stays failed after close")
	assert.Equal(t, 1, b.closed)
}

func TestQueueEncoderOpenFailure(t *testing.T) {
	e := NewQueueEncoder(func() (Backend, error) { return nil, errors.New("read-only file system") }, 30, 4)
	require.Error(t, e.StartWriting())
	assert.Equal(t, writer.StatusFailed, e.Status())
	assert.False(t, e.ReadyForMoreData())
	finish(t, e)
}

func TestQueueEncoderFinishWithoutStart(t *testing.T) {
	e := NewQueueEncoder(func() (Backend, error) { return &memBackend{}, nil }, 30, 4)
	finish(t, e)
	assert.Equal(t, writer.StatusUnknown, e.Status())
}

func TestQueueEncoderCloseError(t *testing.T) {
	b := &memBackend{closeFn: func() error { return errors.New("ffmpeg exited 1") }}
	e := NewQueueEncoder(func() (Backend, error) { return b, nil }, 30, 4)
	require.NoError(t, e.StartWriting())
	require.True(t, e.Append(capture.Frame{PTS: 0, Image: picture(1)}))
	finish(t, e)
	assert.Equal(t, writer.StatusFailed, e.Status())
	assert.ErrorContains(t, e.Err(), "ffmpeg exited 1")
}

func TestQueueEncoderDrivenByWriter(t *testing.T) {
	b := &memBackend{}
	e := NewQueueEncoder(func() (Backend, error) { return b, nil }, 30, 2)
	w := writer.New(e, writer.Options{PollInterval: 5 * time.Millisecond, MaxRetries: 200})
	ctx := context.Background()

	require.NoError(t, w.Start(0))
	for i := 0; i < 20; i++ {
		require.NoError(t, w.Append(ctx, capture.Frame{PTS: time.Duration(i) * time.Second / 30, Image: picture(uint8(i))}))
	}
	outcome, err := w.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, writer.StateCompleted, outcome.State)
	assert.Equal(t, 20, b.count())
}

func TestMJPEGBackendWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.avi")
	enc, err := NewEncoder(path, 16, 16, Settings{Format: FormatAVI, FPS: 10, Quality: QualityLow, QueueDepth: 2})
	require.NoError(t, err)

	w := writer.New(enc, writer.Options{PollInterval: 5 * time.Millisecond, MaxRetries: 200})
	ctx := context.Background()
	require.NoError(t, w.Start(0))
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.SetRGBA(3, 3, color.RGBA{R: 200, A: 255})
	require.NoError(t, w.Append(ctx, capture.Frame{PTS: 0, Image: img}))
	require.NoError(t, w.Append(ctx, capture.Frame{PTS: 300 * time.Millisecond, Image: img}))

	outcome, err := w.Finish(ctx)
	require.NoError(t, err)
	assert.Equal(t, writer.StateCompleted, outcome.State)
	assert.Equal(t, uint64(4), enc.pictures())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("RIFF")))
}

func TestPackCropsRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	for i := range img.Pix {
		img.Pix[i] = uint8(i)
	}
	dst := make([]byte, 2*2*4)
	require.NoError(t, pack(img, 2, 2, dst))
	assert.Equal(t, img.Pix[0:8], dst[0:8])
	assert.Equal(t, img.Pix[12:20], dst[8:16])

	assert.Error(t, pack(img, 4, 4, make([]byte, 64)))
}
