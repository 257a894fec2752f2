// Package diagnostics serves the toggle listener's health snapshot and recent
// event lines over HTTP for operators.
package diagnostics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"dikt/internal/health"
)

const (
	DefaultAddress  = "127.0.0.1:7781"
	shutdownTimeout = 2 * time.Second
)

// Source is implemented by *health.Diagnostics.
type Source interface {
	Snapshot() health.Snapshot
	Events() []string
}

type eventsResponse struct {
	Events []string `json:"events"`
}

type Server struct {
	echo   *echo.Echo
	source Source
	logger *zap.SugaredLogger
}

func NewServer(source Source, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, source: source, logger: logger}
	e.GET("/health", s.health)
	e.GET("/events", s.events)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddress
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("diagnostics endpoint listening", "address", addr)
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// health answers 503 while the listener is unhealthy so probes can alert on
// the status code alone.
func (s *Server) health(c echo.Context) error {
	snap := s.source.Snapshot()
	status := http.StatusOK
	if !snap.Healthy {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, snap)
}

func (s *Server) events(c echo.Context) error {
	events := s.source.Events()
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		if limit < len(events) {
			events = lo.Slice(events, len(events)-limit, len(events))
		}
	}
	if events == nil {
		events = []string{}
	}
	return c.JSON(http.StatusOK, eventsResponse{Events: events})
}
