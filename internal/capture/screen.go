package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"sync"
	"time"

	"github.com/kataras/golog"
	"github.com/kbinani/screenshot"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
)

var logger = golog.Child("[capture]")

// maxCaptureFailures consecutive failed grabs mean the display is gone.
const maxCaptureFailures = 30

// Pointer reports the global cursor position.
type Pointer interface {
	Location() (x, y int)
}

type ScreenOptions struct {
	FPS int
	// ChangeDetection diffs consecutive captures. When off every frame counts as changed.
	ChangeDetection bool
	// Pointer, when set, is drawn onto each capture.
	Pointer Pointer
}

// ScreenSource grabs one display on a ticker.
type ScreenSource struct {
	display int
	bounds  image.Rectangle
	opts    ScreenOptions
	grab    func(image.Rectangle) (*image.RGBA, error)

	// detector is only touched by the capture goroutine while it runs.
	detector *ChangeDetector

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	seq    uint64
}

// NewScreenSource opens display index display.
func NewScreenSource(display int, opts ScreenOptions) (*ScreenSource, error) {
	if display < 0 || display >= screenshot.NumActiveDisplays() {
		return nil, fmt.Errorf("capture: display %d: %w", display, ErrCaptureUnavailable)
	}
	bounds := screenshot.GetDisplayBounds(display)
	if bounds.Empty() {
		return nil, fmt.Errorf("capture: display %d has empty bounds: %w", display, ErrCaptureUnavailable)
	}
	return newScreenSource(display, bounds, opts, screenshot.CaptureRect), nil
}

func newScreenSource(display int, bounds image.Rectangle, opts ScreenOptions, grab func(image.Rectangle) (*image.RGBA, error)) *ScreenSource {
	if opts.FPS <= 0 {
		opts.FPS = clock.DefaultOutputFPS
	}
	return &ScreenSource{
		display:  display,
		bounds:   bounds,
		opts:     opts,
		grab:     grab,
		detector: NewChangeDetector(defaultBlockSize),
	}
}

func (s *ScreenSource) ID() string   { return strconv.Itoa(s.display) }
func (s *ScreenSource) Kind() Kind   { return KindScreen }
func (s *ScreenSource) Name() string { return fmt.Sprintf("Display %d (%dx%d)", s.display, s.bounds.Dx(), s.bounds.Dy()) }

func (s *ScreenSource) Size() (int, int) {
	return s.bounds.Dx(), s.bounds.Dy()
}

func (s *ScreenSource) Start(ctx context.Context, r Receiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return errors.New("capture: screen source already started")
	}

	// A new recording starts from a full frame, not a diff against the last one.
	s.detector.Reset()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx, r, s.done)

	logger.Infof("display %d: capturing %v at %d fps", s.display, s.bounds, s.opts.FPS)
	return nil
}

func (s *ScreenSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	logger.Infof("display %d: stopped", s.display)
	return nil
}

func (s *ScreenSource) run(ctx context.Context, r Receiver, done chan struct{}) {
	defer close(done)

	interval := clock.FrameInterval(s.opts.FPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pts := clock.Now()
		img, err := s.grab(s.bounds)
		if err != nil {
			failures++
			logger.Debugf("display %d: capture failed (%d in a row): %v", s.display, failures, err)
			if failures >= maxCaptureFailures {
				r.OnError(fmt.Errorf("capture: display %d: %w: %v", s.display, ErrCaptureUnavailable, err))
				return
			}
			continue
		}
		failures = 0

		if s.opts.Pointer != nil {
			x, y := s.opts.Pointer.Location()
			// Captures are zero-based, the pointer is in global coordinates.
			drawPointer(img, image.Pt(x, y).Sub(s.bounds.Min).Add(img.Bounds().Min))
		}

		changed := true
		if s.opts.ChangeDetection {
			changed = s.detector.Changed(img)
		}

		// A frame racing Stop must not be delivered after it returns.
		if ctx.Err() != nil {
			return
		}
		s.seq++
		r.OnFrame(Frame{
			Seq:      s.seq,
			PTS:      pts,
			Duration: interval,
			Image:    img,
			Kind:     KindScreen,
			Changed:  changed,
		})
	}
}

var pointerColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// drawPointer paints a small cross at p.
func drawPointer(img *image.RGBA, p image.Point) {
	const arm = 6
	b := img.Bounds()
	if !p.In(b) {
		return
	}
	for d := -arm; d <= arm; d++ {
		if q := image.Pt(p.X+d, p.Y); q.In(b) {
			img.SetRGBA(q.X, q.Y, pointerColor)
		}
		if q := image.Pt(p.X, p.Y+d); q.In(b) {
			img.SetRGBA(q.X, q.Y, pointerColor)
		}
	}
}
