// Package control exposes the recorder over a local HTTP API with a
// websocket event stream.
package control

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kataras/golog"

	"github.com/wkaisertexas/ScreenTimeLapse/internal/clock"
	"github.com/wkaisertexas/ScreenTimeLapse/internal/recording"
)

var logger = golog.Child("[control]")

// Toggler flips a device's enabled flag.
type Toggler interface {
	Toggle(id string) (bool, error)
}

type SessionStatus struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Enabled    bool   `json:"enabled"`
	State      string `json:"state"`
	OutputTime string `json:"output_time"`
}

type Status struct {
	State             string          `json:"state"`
	OutputTime        string          `json:"output_time"`
	OutputMillis      int64           `json:"output_ms"`
	RecordersDisabled bool            `json:"recorders_disabled"`
	Sessions          []SessionStatus `json:"sessions"`
}

func StatusOf(o *recording.Orchestrator) Status {
	out := o.CurrentOutputTime()
	st := Status{
		State:             o.State().String(),
		OutputTime:        clock.Format(out),
		OutputMillis:      out.Milliseconds(),
		RecordersDisabled: o.RecordersDisabled(),
	}
	for _, s := range o.Sessions() {
		st.Sessions = append(st.Sessions, SessionStatus{
			ID:         s.ID(),
			Name:       s.Name(),
			Kind:       s.Kind().String(),
			Enabled:    s.Enabled(),
			State:      s.State().String(),
			OutputTime: clock.Format(s.OutputTime()),
		})
	}
	return st
}

type Server struct {
	orch    *recording.Orchestrator
	devices Toggler
	hub     *Hub
	// stopTimeout bounds how long a stop request waits for queued frames.
	stopTimeout time.Duration
	engine      *gin.Engine
}

func NewServer(orch *recording.Orchestrator, devices Toggler, hub *Hub, stopTimeout time.Duration) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{orch: orch, devices: devices, hub: hub, stopTimeout: stopTimeout, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLog)

	s.engine.GET("/status", s.status)
	s.engine.POST("/start", s.command(func(ctx context.Context) error { return s.orch.Start(ctx) }))
	s.engine.POST("/pause", s.command(func(context.Context) error { s.orch.Pause(); return nil }))
	s.engine.POST("/resume", s.command(func(context.Context) error { s.orch.Resume(); return nil }))
	s.engine.POST("/stop", s.command(s.stop))
	s.engine.POST("/sessions/:id/toggle", s.toggle)
	s.engine.GET("/events", func(c *gin.Context) { s.hub.ServeWS(c.Writer, c.Request) })
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Infof("listening on http://%s", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func requestLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	logger.Debugf("%s %s %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
}

// stop is not tied to the request: a client hanging up must not cut the
// final flush short.
func (s *Server) stop(context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	defer cancel()
	return s.orch.Stop(ctx)
}

func (s *Server) status(c *gin.Context) {
	s.writeJSON(c, http.StatusOK, StatusOf(s.orch))
}

func (s *Server) command(run func(context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := run(c.Request.Context())
		st := StatusOf(s.orch)
		s.hub.PublishStatus(st)
		if err != nil {
			s.writeJSON(c, http.StatusInternalServerError, gin.H{"error": err.Error(), "status": st})
			return
		}
		s.writeJSON(c, http.StatusOK, st)
	}
}

func (s *Server) toggle(c *gin.Context) {
	enabled, err := s.devices.Toggle(c.Param("id"))
	switch {
	case errors.Is(err, recording.ErrBusy):
		s.writeJSON(c, http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.writeJSON(c, http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	st := StatusOf(s.orch)
	s.hub.PublishStatus(st)
	s.writeJSON(c, http.StatusOK, gin.H{"id": c.Param("id"), "enabled": enabled, "status": st})
}

func (s *Server) writeJSON(c *gin.Context, code int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(code, "application/json; charset=utf-8", data)
}
