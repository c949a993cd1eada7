// Package httpapi exposes a small read-only status API over HTTP: process
// health and per-channel occupancy. It never mutates chat state.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"parley/internal/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the Echo application.
type Server struct {
	echo *echo.Echo
	reg  *core.Registry
}

// New constructs an Echo app with the status routes.
func New(reg *core.Registry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{echo: e, reg: reg}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/channels", s.handleChannels)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Channels int    `json:"channels"`
	Clients  int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	connected, queued := s.reg.ClientCount()
	return c.JSON(http.StatusOK, healthResponse{
		Status:   "ok",
		Channels: len(s.reg.Channels()),
		Clients:  connected + queued,
	})
}

type channelStatus struct {
	Name      string `json:"name"`
	Port      int    `json:"port"`
	Capacity  int    `json:"capacity"`
	Connected int    `json:"connected"`
	Queued    int    `json:"queued"`
}

type channelsResponse struct {
	Channels []channelStatus `json:"channels"`
}

func (s *Server) handleChannels(c echo.Context) error {
	channels := s.reg.Channels()
	out := make([]channelStatus, 0, len(channels))
	for _, ch := range channels {
		connected, queued := ch.Occupancy()
		out = append(out, channelStatus{
			Name:      ch.Name(),
			Port:      ch.Port(),
			Capacity:  ch.Capacity(),
			Connected: connected,
			Queued:    queued,
		})
	}
	return c.JSON(http.StatusOK, channelsResponse{Channels: out})
}
