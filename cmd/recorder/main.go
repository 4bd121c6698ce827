package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/kataras/golog"
	"golang.org/x/sync/errgroup"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/config"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/control"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/devices"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/notify"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/recording"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/tracking"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/video"
)

type Application struct {
	store     *config.Store
	state     *config.State
	statePath string

	orch     *recording.Orchestrator
	registry *devices.Registry
	hub      *control.Hub
	alerts   *notify.Gate

	statusMu sync.Mutex
	status   *video.StatusLine

	ctx    context.Context
	cancel context.CancelFunc
}

func NewApplication(store *config.Store, state *config.State, statePath string) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := store.Snapshot()

	app := &Application{
		store:     store,
		state:     state,
		statePath: statePath,
		orch:      recording.NewOrchestrator(),
		hub:       control.NewHub(),
		alerts:    notify.NewGate(notify.SinkFunc(printNotification), cfg.Notifications.Show),
		ctx:       ctx,
		cancel:    cancel,
	}
	app.registry = devices.NewRegistry(devices.Options{
		Orchestrator: app.orch,
		Store:        store,
		State:        state,
		StatePath:    statePath,
		Session: recording.Options{
			Config:   store,
			Notifier: notify.Multi{notify.NewLog(), app.alerts, app.hub},
		},
		Pointer: tracking.NewCursorLocator(10 * time.Millisecond),
	})

	store.OnChange(func(c config.Config) {
		app.alerts.SetEnabled(c.Notifications.Show)
		golog.SetLevel(c.Logging.Level)
	})
	return app
}

func printNotification(n notify.Notification) {
	fmt.Printf("\n* %s: %s\n", n.Title, n.Body)
	if n.FileURL != "" {
		fmt.Printf("  %s\n", n.FileURL)
	}
}

func (app *Application) Run() error {
	if _, err := app.registry.Refresh(); err != nil {
		golog.Warnf("device discovery: %v", err)
	}
	if err := app.state.Save(app.statePath); err != nil {
		golog.Warnf("saving device state: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go app.handleSignals(sigChan)

	cfg := app.store.Snapshot()
	g, ctx := errgroup.WithContext(app.ctx)
	g.Go(func() error { return app.store.Watch(ctx) })
	g.Go(func() error { return app.registry.Run(ctx) })
	g.Go(func() error { return app.reportStatus(ctx) })
	if cfg.Hotkeys.Enabled {
		g.Go(func() error {
			return tracking.Listen(ctx, tracking.DefaultBindings(app.toggleRecording, app.togglePause))
		})
	}
	if cfg.Control.Enabled {
		server := control.NewServer(app.orch, app.registry, app.hub, cfg.Writer.StopTimeout)
		g.Go(func() error { return server.Run(ctx, cfg.Control.Addr) })
	}

	go func() {
		for ctx.Err() == nil {
			if err := app.showMenu(); err != nil {
				golog.Errorf("%v", err)
				app.cancel()
				return
			}
		}
	}()

	<-ctx.Done()
	app.stopRecording()
	app.cancel()
	return g.Wait()
}

func (app *Application) showMenu() error {
	fmt.Println("\nCommands:")
	fmt.Println("1. Start recording")
	fmt.Println("2. Pause / resume")
	fmt.Println("3. Stop and save")
	fmt.Println("4. List devices")
	fmt.Println("5. Toggle a device")
	fmt.Println("6. Exit")
	fmt.Print("Choose an option: ")

	var choice int
	if _, err := fmt.Scanln(&choice); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("stdin closed: %w", err)
		}
		fmt.Println("Invalid option")
		return nil
	}

	switch choice {
	case 1:
		app.startRecording()
	case 2:
		app.togglePause()
	case 3:
		app.stopRecording()
	case 4:
		app.listDevices()
	case 5:
		app.toggleDevice()
	case 6:
		app.cancel()
	default:
		fmt.Println("Invalid option")
	}
	return nil
}

func (app *Application) startRecording() {
	if app.orch.State() != recording.StateStopped {
		fmt.Println("Already recording")
		return
	}
	if app.orch.RecordersDisabled() {
		fmt.Println("No devices are enabled. Toggle one on first.")
		return
	}

	app.statusMu.Lock()
	app.status = video.NewStatusLine(os.Stdout, "time-lapse")
	app.statusMu.Unlock()

	if err := app.orch.Start(app.ctx); err != nil {
		golog.Errorf("start: %v", err)
	}
	app.hub.PublishStatus(control.StatusOf(app.orch))
}

func (app *Application) stopRecording() {
	if app.orch.State() == recording.StateStopped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), app.store.Snapshot().Writer.StopTimeout)
	defer cancel()

	err := app.orch.Stop(ctx)
	app.statusMu.Lock()
	if app.status != nil {
		if err != nil {
			app.status.ReportError(err)
		} else {
			app.status.ReportComplete(app.orch.CurrentOutputTime())
		}
		app.status = nil
	}
	app.statusMu.Unlock()
	app.hub.PublishStatus(control.StatusOf(app.orch))
}

func (app *Application) toggleRecording() {
	if app.orch.State() == recording.StateStopped {
		app.startRecording()
		return
	}
	app.stopRecording()
}

func (app *Application) togglePause() {
	switch app.orch.State() {
	case recording.StateRecording:
		app.orch.Pause()
	case recording.StatePaused:
		app.orch.Resume()
	default:
		fmt.Println("Not recording")
		return
	}
	app.hub.PublishStatus(control.StatusOf(app.orch))
}

func (app *Application) listDevices() {
	for _, s := range app.orch.Sessions() {
		mark := " "
		if s.Enabled() {
			mark = "x"
		}
		fmt.Printf("[%s] %-14s %-7s %s (%s)\n", mark, s.ID(), s.Kind(), s.Name(), s.State())
	}
}

func (app *Application) toggleDevice() {
	app.listDevices()
	fmt.Print("Device ID: ")
	var id string
	if _, err := fmt.Scanln(&id); err != nil {
		fmt.Println("Invalid device")
		return
	}
	enabled, err := app.registry.Toggle(id)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("%s enabled: %v\n", id, enabled)
}

func (app *Application) reportStatus(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			state := app.orch.State()
			if state == recording.StateStopped {
				continue
			}
			app.statusMu.Lock()
			if app.status != nil {
				app.status.Report(state.String(), app.orch.CurrentOutputTime())
			}
			app.statusMu.Unlock()
		}
	}
}

// handleSignals stops an active recording on the first signal and exits on
// the next one.
func (app *Application) handleSignals(sigChan chan os.Signal) {
	for sig := range sigChan {
		fmt.Printf("\nReceived signal: %v\n", sig)
		if app.orch.State() != recording.StateStopped {
			fmt.Println("Stopping recording...")
			app.stopRecording()
			continue
		}
		fmt.Println("Exiting application...")
		app.cancel()
		return
	}
}

func defaultPath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, "screentimelapse", name)
}

func main() {
	configPath := flag.String("config", defaultPath("config.yaml"), "path to the YAML configuration")
	statePath := flag.String("state", defaultPath("devices.yaml"), "path to the persisted device state")
	envFile := flag.String("env", ".env", "optional .env file with TIMELAPSE_* overrides")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		golog.Fatalf("%v", err)
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		golog.Fatalf("%v", err)
	}
	golog.SetLevel(cfg.Logging.Level)

	state, err := config.LoadState(*statePath)
	if err != nil {
		golog.Fatalf("%v", err)
	}

	app := NewApplication(config.NewStore(cfg, *configPath, *envFile), state, *statePath)
	if err := app.Run(); err != nil {
		golog.Fatalf("Application error: %v", err)
	}
}
