package control

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/capture"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/config"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/notify"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/recording"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/video"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/writer/writertest"
)

type screen struct {
	mu sync.Mutex
	r  capture.Receiver
}

func (s *screen) ID() string         { return "0" }
func (s *screen) Name() string       { return "Display 0" }
func (s *screen) Kind() capture.Kind { return capture.KindScreen }
func (s *screen) Size() (int, int)   { return 32, 32 }
func (s *screen) Start(_ context.Context, r capture.Receiver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = r
	return nil
}
func (s *screen) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r = nil
	return nil
}
func (s *screen) frame(pts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.r.OnFrame(capture.Frame{PTS: pts, Kind: capture.KindScreen, Changed: true})
}

type toggler map[string]bool

func (t toggler) Toggle(id string) (bool, error) {
	if id == "busy" {
		return false, fmt.Errorf("%w: Display 1 is recording", recording.ErrBusy)
	}
	on, ok := t[id]
	if !ok {
		return false, errors.New("unknown device")
	}
	t[id] = !on
	return !on, nil
}

func newTestServer(t *testing.T) (*Server, *screen) {
	cfg := config.NewConfig()
	cfg.Recording.SaveLocation = t.TempDir()
	cfg.Recording.MinFreeBytes = 0

	src := &screen{}
	session := recording.NewSession(src, true, recording.Options{
		Config:   config.NewStore(cfg, "", ""),
		Notifier: notify.SinkFunc(func(notify.Notification) {}),
		NewEncoder: func(string, int, int, video.Settings) (writer.Encoder, error) {
			return writertest.NewEncoder(), nil
		},
		Reveal: func(string) error { return nil },
	})
	srv := NewServer(recording.NewOrchestrator(session), toggler{"0": true}, NewHub(), time.Second)
	return srv, src
}

func do(t *testing.T, srv *Server, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestServerCommands(t *testing.T) {
	srv, src := newTestServer(t)

	rec, body := do(t, srv, http.MethodGet, "/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["state"])
	assert.Equal(t, false, body["recorders_disabled"])

	rec, body = do(t, srv, http.MethodPost, "/start")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "recording", body["state"])

	_, body = do(t, srv, http.MethodPost, "/pause")
	assert.Equal(t, "paused", body["state"])
	_, body = do(t, srv, http.MethodPost, "/resume")
	assert.Equal(t, "recording", body["state"])

	src.frame(0)
	rec, body = do(t, srv, http.MethodPost, "/stop")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stopped", body["state"])
}

func TestServerStopWithoutFramesReportsError(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/start")

	rec, body := do(t, srv, http.MethodPost, "/stop")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "no frames")
}

func TestServerToggle(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := do(t, srv, http.MethodPost, "/sessions/0/toggle")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["enabled"])

	rec, _ = do(t, srv, http.MethodPost, "/sessions/7/toggle")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = do(t, srv, http.MethodPost, "/sessions/busy/toggle")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, body["error"], "recording in progress")
}

func TestServerStopOutlivesRequest(t *testing.T) {
	srv, src := newTestServer(t)
	do(t, srv, http.MethodPost, "/start")
	src.frame(0)
	src.frame(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil).WithContext(ctx))

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, recording.StateStopped, srv.orch.State())
	outcome, _ := srv.orch.Sessions()[0].LastOutcome()
	assert.Equal(t, writer.StateCompleted, outcome.State)
	assert.Equal(t, uint64(2), outcome.Frames)
}

func TestHubStreamsNotifications(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	srv.hub.Notify(notify.Notification{Title: "Saved video", Body: "Display 0 saved", FileURL: "file:///tmp/a.mp4"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "notification", ev.Type)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, "Saved video", ev.Notification.Title)
	assert.Equal(t, notify.Level(""), ev.Notification.Level)
}
