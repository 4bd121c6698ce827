// Package devices discovers displays and cameras and keeps one recording
// session per device.
package devices

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kataras/golog"
	"github.com/kbinani/screenshot"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/config"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/recording"
)

var logger = golog.Child("[devices]")

var ErrUnknownDevice = errors.New("unknown device")

// Registry adds a session to the orchestrator for every device it finds and
// persists which ones are enabled.
type Registry struct {
	orch      *recording.Orchestrator
	store     *config.Store
	state     *config.State
	statePath string
	session   recording.Options
	pointer   capture.Pointer

	numDisplays func() int
	cameraPaths func() []string
	newScreen   func(display int, opts capture.ScreenOptions) (capture.Source, error)
	newCamera   func(opts capture.CameraOptions) (capture.Source, error)
}

type Options struct {
	Orchestrator *recording.Orchestrator
	Store        *config.Store
	State        *config.State
	StatePath    string
	Session      recording.Options
	// Pointer draws the cursor into screen captures when show_cursor is set.
	Pointer capture.Pointer
}

func NewRegistry(opts Options) *Registry {
	return &Registry{
		orch:        opts.Orchestrator,
		store:       opts.Store,
		state:       opts.State,
		statePath:   opts.StatePath,
		session:     opts.Session,
		pointer:     opts.Pointer,
		numDisplays: screenshot.NumActiveDisplays,
		cameraPaths: videoDevices,
		newScreen: func(display int, opts capture.ScreenOptions) (capture.Source, error) {
			return capture.NewScreenSource(display, opts)
		},
		newCamera: func(opts capture.CameraOptions) (capture.Source, error) {
			return capture.NewCameraSource(opts)
		},
	}
}

// Refresh adds sessions for devices that appeared since the last call.
// Known sessions keep their state. It returns how many were added.
func (r *Registry) Refresh() (int, error) {
	cfg := r.store.Snapshot()
	var errs *multierror.Error
	added := 0

	screenOpts := capture.ScreenOptions{
		FPS:             cfg.Capture.FPS,
		ChangeDetection: cfg.Capture.ChangeDetection,
	}
	if cfg.Capture.ShowCursor {
		screenOpts.Pointer = r.pointer
	}
	for display := 0; display < r.numDisplays(); display++ {
		src, err := r.newScreen(display, screenOpts)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("display %d: %w", display, err))
			continue
		}
		if r.add(src, display == 0) {
			added++
		}
	}

	paths := append(r.cameraPaths(), cfg.Devices.Cameras...)
	for _, path := range dedupe(paths) {
		if r.has(capture.KindCamera, path) {
			continue
		}
		src, err := r.newCamera(capture.CameraOptions{
			Device:  path,
			Name:    cameraName(path),
			Element: cfg.Capture.CameraElement,
			Width:   cfg.Capture.CameraWidth,
			Height:  cfg.Capture.CameraHeight,
			FPS:     cfg.Capture.FPS,
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("camera %s: %w", path, err))
			continue
		}
		if r.add(src, false) {
			added++
		}
	}

	if added > 0 {
		logger.Infof("%d new devices, %d total", added, len(r.orch.Sessions()))
	}
	return added, errs.ErrorOrNil()
}

func (r *Registry) has(kind capture.Kind, id string) bool {
	for _, s := range r.orch.Sessions() {
		if s.Kind() == kind && s.ID() == id {
			return true
		}
	}
	return false
}

func (r *Registry) add(src capture.Source, enabledByDefault bool) bool {
	if r.has(src.Kind(), src.ID()) {
		return false
	}
	enabled, known := r.state.Enabled(src.Kind(), src.ID())
	if !known {
		enabled = enabledByDefault
		r.state.SetEnabled(src.Kind(), src.ID(), enabled)
	}
	return r.orch.Add(recording.NewSession(src, enabled, r.session))
}

// SetEnabled flips a device on or off and persists the choice. A device that
// is recording or paused cannot be changed until it stops.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	s, ok := r.orch.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	if err := s.SetEnabled(enabled); err != nil {
		return err
	}
	r.state.SetEnabled(s.Kind(), s.ID(), enabled)
	return r.state.Save(r.statePath)
}

// Toggle inverts a device's enabled flag and returns the new value.
func (r *Registry) Toggle(id string) (bool, error) {
	s, ok := r.orch.Find(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	enabled := !s.Enabled()
	return enabled, r.SetEnabled(id, enabled)
}

// Run refreshes on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.store.Snapshot().Devices.RefreshInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return r.state.Save(r.statePath)
		case <-ticker.C:
			added, err := r.Refresh()
			if err != nil {
				logger.Warnf("refresh: %v", err)
			}
			if added > 0 {
				if err := r.state.Save(r.statePath); err != nil {
					logger.Warnf("saving device state: %v", err)
				}
			}
		}
	}
}

func videoDevices() []string {
	paths, _ := filepath.Glob("/dev/video*")
	sort.Strings(paths)
	return paths
}

// cameraName prefers the V4L2 card name over the device path.
func cameraName(path string) string {
	base := filepath.Base(path)
	data, err := os.ReadFile(filepath.Join("/sys/class/video4linux", base, "name"))
	if err == nil {
		if name := strings.TrimSpace(string(data)); name != "" {
			return name
		}
	}
	return base
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
