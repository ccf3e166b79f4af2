package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mydost/dost/ai/orchestrator"
	"github.com/mydost/dost/internal/profile"
	apiv1 "github.com/mydost/dost/server/router/api/v1"
	"github.com/mydost/dost/store"
)

const predictionSweepInterval = 30 * time.Minute

// Server is the HTTP front of the orchestrator.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	store   *store.Store
}

// NewServer creates the echo server with routes and middleware mounted.
func NewServer(prof *profile.Profile, st *store.Store, orch *orchestrator.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": prof.Version,
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	apiv1.NewAPIV1Service(orch, st).RegisterRoutes(e)

	return &Server{e: e, profile: prof, store: st}
}

// Start begins serving and launches background housekeeping. Blocks until the
// listener fails or ctx is cancelled via Shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.predictionSweep(ctx)

	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	slog.Info("server listening", "addr", addr, "mode", s.profile.Mode)
	if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.e.Shutdown(ctx)
}

// predictionSweep periodically soft-deletes expired prediction bundles so
// reads stay cheap and listings stay honest.
func (s *Server) predictionSweep(ctx context.Context) {
	ticker := time.NewTicker(predictionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			swept, err := s.store.DeactivateExpiredPredictions(ctx)
			if err != nil {
				slog.Warn("prediction sweep failed", "error", err)
				continue
			}
			if swept > 0 {
				slog.Info("expired predictions deactivated", "count", swept)
			}
		}
	}
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	})
}
