package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
)

var gstInit sync.Once

type CameraOptions struct {
	// Device is the device path handed to the source element, e.g. /dev/video0.
	Device string
	Name   string
	// Element is the GStreamer source element, v4l2src by default.
	Element string
	Width   int
	Height  int
	FPS     int
}

// CameraSource pulls RGBA frames out of a GStreamer appsink.
type CameraSource struct {
	opts CameraOptions

	mu       sync.Mutex
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	done     chan struct{}

	// deliverMu is held while a frame is handed to the receiver so Stop can
	// wait out an in-flight callback.
	deliverMu sync.Mutex
	receiver  Receiver
	running   atomic.Bool

	seq     atomic.Uint64
	skipped atomic.Uint64
}

func NewCameraSource(opts CameraOptions) (*CameraSource, error) {
	if opts.Device == "" {
		return nil, errors.New("capture: camera device is required")
	}
	if opts.Element == "" {
		opts.Element = "v4l2src"
	}
	if opts.Name == "" {
		opts.Name = opts.Device
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("capture: camera %s: invalid size %dx%d", opts.Device, opts.Width, opts.Height)
	}
	if opts.FPS <= 0 {
		opts.FPS = clock.DefaultOutputFPS
	}
	return &CameraSource{opts: opts}, nil
}

func (c *CameraSource) ID() string   { return c.opts.Device }
func (c *CameraSource) Name() string { return c.opts.Name }
func (c *CameraSource) Kind() Kind   { return KindCamera }

func (c *CameraSource) Size() (int, int) {
	return c.opts.Width, c.opts.Height
}

func (c *CameraSource) Start(ctx context.Context, r Receiver) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pipeline != nil {
		return errors.New("capture: camera source already started")
	}

	gstInit.Do(func() { gst.Init(nil) })

	pipeline, sink, err := c.buildPipeline()
	if err != nil {
		return fmt.Errorf("capture: camera %s: %w: %v", c.opts.Device, ErrCaptureUnavailable, err)
	}

	c.deliverMu.Lock()
	c.receiver = r
	c.deliverMu.Unlock()
	c.running.Store(true)

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: c.onSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		c.running.Store(false)
		pipeline.SetState(gst.StateNull)
		return fmt.Errorf("capture: camera %s: %w: %v", c.opts.Device, ErrCaptureUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.pipeline = pipeline
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.watchBus(ctx, pipeline, r, c.done)

	logger.Infof("camera %s: capturing %dx%d at %d fps via %s",
		c.opts.Device, c.opts.Width, c.opts.Height, c.opts.FPS, c.opts.Element)
	return nil
}

func (c *CameraSource) buildPipeline() (*gst.Pipeline, *app.Sink, error) {
	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	src, err := gst.NewElement(c.opts.Element)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", c.opts.Element, err)
	}
	src.SetProperty("device", c.opts.Device)

	convert, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	scale, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videoscale: %w", err)
	}
	rate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create videorate: %w", err)
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	caps := fmt.Sprintf("video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1",
		c.opts.Width, c.opts.Height, c.opts.FPS)
	capsfilter.SetProperty("caps", gst.NewCapsFromString(caps))

	sink, err := app.NewAppSink()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	sink.SetProperty("sync", false)
	sink.SetProperty("max-buffers", 2)
	sink.SetProperty("drop", true)

	pipeline.AddMany(src, convert, scale, rate, capsfilter, sink.Element)
	if err := gst.ElementLinkMany(src, convert, scale, rate, capsfilter, sink.Element); err != nil {
		return nil, nil, fmt.Errorf("failed to link camera pipeline: %w", err)
	}
	return pipeline, sink, nil
}

func (c *CameraSource) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	pts := clock.Now()
	w, h := c.opts.Width, c.opts.Height
	data := buffer.Map(gst.MapRead).Bytes()
	if len(data) < w*h*4 {
		buffer.Unmap()
		if c.skipped.Add(1)%100 == 1 {
			logger.Warnf("camera %s: short buffer (%d bytes for %dx%d)", c.opts.Device, len(data), w, h)
		}
		return gst.FlowOK
	}
	// GStreamer reuses the buffer, so the pixels are copied out.
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, data)
	buffer.Unmap()

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if !c.running.Load() {
		return gst.FlowOK
	}
	c.receiver.OnFrame(Frame{
		Seq:      c.seq.Add(1),
		PTS:      pts,
		Duration: clock.FrameInterval(c.opts.FPS),
		Image:    img,
		Kind:     KindCamera,
		Changed:  true,
	})
	return gst.FlowOK
}

func (c *CameraSource) watchBus(ctx context.Context, pipeline *gst.Pipeline, r Receiver, done chan struct{}) {
	defer close(done)
	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			r.OnError(fmt.Errorf("capture: camera %s: %w: end of stream", c.opts.Device, ErrCaptureUnavailable))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.Errorf("camera %s: pipeline error: %s (%s)", c.opts.Device, gerr.Error(), gerr.DebugString())
			r.OnError(fmt.Errorf("capture: camera %s: %w: %s", c.opts.Device, ErrCaptureUnavailable, gerr.Error()))
			return
		}
	}
}

func (c *CameraSource) Stop() error {
	c.mu.Lock()
	pipeline, cancel, done := c.pipeline, c.cancel, c.done
	c.pipeline, c.cancel, c.done = nil, nil, nil
	c.mu.Unlock()

	if pipeline == nil {
		return nil
	}

	c.running.Store(false)
	// Wait out a callback that already passed the running check.
	c.deliverMu.Lock()
	c.receiver = nil
	c.deliverMu.Unlock()

	cancel()
	<-done

	if err := pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("capture: camera %s: failed to set pipeline to NULL: %w", c.opts.Device, err)
	}
	logger.Infof("camera %s: stopped (%d frames, %d short buffers)", c.opts.Device, c.seq.Load(), c.skipped.Load())
	return nil
}
