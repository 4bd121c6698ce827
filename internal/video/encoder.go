package video

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"github.com/kataras/golog"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
)

var logger = golog.Child("[video]")

// maxPadFrames caps how many repeated frames fill a single gap (one hour at 30 fps).
const maxPadFrames = 30 * 60 * 60

// Backend writes pictures into a constant frame rate container.
type Backend interface {
	WriteFrame(img *image.RGBA) error
	Close() error
}

// QueueEncoder adapts a Backend to writer.Encoder. Frames are queued and written
// by a single goroutine; the queue depth is what the writer sees as backpressure.
// Gaps between timestamps are filled by repeating the previous picture so that
// the container's fixed frame rate reproduces the retimed timeline.
type QueueEncoder struct {
	open func() (Backend, error)
	fps  int

	mu      sync.Mutex
	status  writer.Status
	err     error
	start   time.Duration
	marked  bool
	queue   chan capture.Frame
	backend Backend
	done    chan struct{}

	ready     chan struct{}
	closeOnce sync.Once

	written uint64
	last    *image.RGBA
}

func NewQueueEncoder(open func() (Backend, error), fps, depth int) *QueueEncoder {
	if depth <= 0 {
		depth = 1
	}
	return &QueueEncoder{
		open:  open,
		fps:   fps,
		queue: make(chan capture.Frame, depth),
		ready: make(chan struct{}, 1),
	}
}

func (e *QueueEncoder) StartWriting() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != writer.StatusUnknown {
		return fmt.Errorf("video: encoder already %s", e.status)
	}

	backend, err := e.open()
	if err != nil {
		e.status = writer.StatusFailed
		e.err = err
		return err
	}
	e.backend = backend
	e.status = writer.StatusWriting
	e.done = make(chan struct{})
	go e.run(e.done)
	return nil
}

func (e *QueueEncoder) StartSession(at time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.start = at
}

func (e *QueueEncoder) ReadyForMoreData() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status == writer.StatusWriting && !e.marked && len(e.queue) < cap(e.queue)
}

func (e *QueueEncoder) Append(f capture.Frame) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status != writer.StatusWriting || e.marked || f.Image == nil {
		return false
	}
	select {
	case e.queue <- f:
		return true
	default:
		return false
	}
}

// Ready fires whenever the writing goroutine takes a frame off the queue.
func (e *QueueEncoder) Ready() <-chan struct{} {
	return e.ready
}

func (e *QueueEncoder) MarkFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.marked {
		return
	}
	e.marked = true
	close(e.queue)
}

// FinishWriting waits for queued frames to be written, closes the backend and
// calls done. An encoder that never started calls done right away.
func (e *QueueEncoder) FinishWriting(done func()) {
	e.MarkFinished()

	e.mu.Lock()
	finished := e.done
	e.mu.Unlock()

	if finished == nil {
		done()
		return
	}

	go func() {
		<-finished
		e.closeOnce.Do(e.closeBackend)
		done()
	}()
}

func (e *QueueEncoder) Status() writer.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *QueueEncoder) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// pictures is the number of pictures handed to the backend, padding included.
func (e *QueueEncoder) pictures() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.written
}

func (e *QueueEncoder) run(done chan struct{}) {
	defer close(done)
	for f := range e.queue {
		select {
		case e.ready <- struct{}{}:
		default:
		}
		if e.Status() != writer.StatusWriting {
			continue
		}
		if err := e.write(f); err != nil {
			e.setFailed(err)
		}
	}
}

func (e *QueueEncoder) write(f capture.Frame) error {
	e.mu.Lock()
	target := e.frameIndex(f.PTS)
	last := e.last
	written := e.written
	e.mu.Unlock()

	pad := uint64(0)
	if last != nil && target > written {
		pad = target - written
		if pad > maxPadFrames {
			logger.Warnf("gap of %d frames truncated to %d", pad, maxPadFrames)
			pad = maxPadFrames
		}
	}
	for i := uint64(0); i < pad; i++ {
		if err := e.backend.WriteFrame(last); err != nil {
			return fmt.Errorf("video: write repeated frame: %w", err)
		}
	}
	if err := e.backend.WriteFrame(f.Image); err != nil {
		return fmt.Errorf("video: write frame: %w", err)
	}

	e.mu.Lock()
	e.written += pad + 1
	e.last = f.Image
	e.mu.Unlock()
	return nil
}

// frameIndex is the container frame slot a timestamp falls into.
func (e *QueueEncoder) frameIndex(pts time.Duration) uint64 {
	offset := pts - e.start
	if offset <= 0 || e.fps <= 0 {
		return 0
	}
	return uint64(math.Round(offset.Seconds() * float64(e.fps)))
}

func (e *QueueEncoder) closeBackend() {
	err := e.backend.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case err != nil && e.status == writer.StatusWriting:
		e.status = writer.StatusFailed
		e.err = fmt.Errorf("video: close: %w", err)
	case e.status == writer.StatusWriting && e.written == 0:
		e.status = writer.StatusFailed
		e.err = errors.New("video: no frames were written")
	case e.status == writer.StatusWriting:
		e.status = writer.StatusCompleted
		logger.Debugf("closed output with %d pictures", e.written)
	}
}

func (e *QueueEncoder) setFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == writer.StatusWriting {
		e.status = writer.StatusFailed
		e.err = err
		logger.Errorf("%v", err)
	}
}
