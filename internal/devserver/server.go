// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jeranaias/companion/internal/logging"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// APIPrefix roots every endpoint the server exposes.
	APIPrefix = "/api"

	// DefaultWordDelay spaces streamed words.
	DefaultWordDelay = 40 * time.Millisecond

	// MaxRequestBodySize is the maximum accepted request body.
	MaxRequestBodySize = "1M"

	// RequestsPerSecond caps each client IP.
	RequestsPerSecond = 200

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 5 * time.Second

	// ProviderName is reported in provider and done events.
	ProviderName = "devserver"

	// DefaultModel answers when the request names none.
	DefaultModel = "echo-1"

	// Version is the server version.
	Version = "0.1.0"
)

// Options configures a Server. Zero values take the defaults.
type Options struct {
	// ColdStartFailures is how many chat requests get 503 before the server answers.
	ColdStartFailures int
	// WordDelay spaces streamed words; negative streams without delay.
	WordDelay time.Duration
	// Visualize adds a chart event to answers that mention "chart".
	Visualize bool
	Logger    *slog.Logger
}

// Server is a local reference backend for the companion client.
type Server struct {
	store     *Store
	echo      *echo.Echo
	logger    *slog.Logger
	wordDelay time.Duration
	visualize bool
	startedAt time.Time

	coldLeft atomic.Int64
}

// New creates a Server backed by store.
func New(store *Store, opts Options) *Server {
	if opts.WordDelay == 0 {
		opts.WordDelay = DefaultWordDelay
	}
	if opts.WordDelay < 0 {
		opts.WordDelay = 0
	}

	s := &Server{
		store:     store,
		echo:      echo.New(),
		logger:    logging.OrDiscard(opts.Logger),
		wordDelay: opts.WordDelay,
		visualize: opts.Visualize,
		startedAt: time.Now(),
	}
	s.coldLeft.Store(int64(opts.ColdStartFailures))
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) setupRoutes() {
	e := s.echo
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(MaxRequestBodySize))
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(rate.Limit(RequestsPerSecond))))
	e.Use(s.requestLogger())

	api := e.Group(APIPrefix)
	api.GET("/health", s.handleHealth)
	api.POST("/chat", s.handleChat)

	api.GET("/threads", s.handleListThreads)
	api.POST("/threads", s.handleCreateThread)
	api.GET("/threads/:id", s.handleGetThread)
	api.POST("/threads/:id", s.handleAppend)
	api.PATCH("/threads/:id", s.handleRename)
	api.DELETE("/threads/:id", s.handleDelete)
	api.POST("/threads/:id/auto-title", s.handleAutoTitle)
	api.POST("/threads/:id/pin", s.handlePin)

	api.POST("/voice", s.handleSynthesize)
	api.POST("/voice/stream", s.handleSynthesizeStream)
	api.POST("/voice/resolve", s.handleResolveVoice)
	api.GET("/voice/voices", s.handleVoices)
}

// requestLogger logs method, path, status and duration. Bodies and headers
// are never logged.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURIPath:  true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "path", v.URIPath, "status", v.Status, "duration", v.Latency}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	})
}

// ============================================================================
// LIFECYCLE
// ============================================================================

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("devserver listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ============================================================================
// HEALTH
// ============================================================================

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSecs    int64  `json:"uptime_secs"`
	ColdStartLeft int64  `json:"cold_start_left,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	left := s.coldLeft.Load()
	if left < 0 {
		left = 0
	}
	return c.JSON(http.StatusOK, healthResponse{
		Status:        "ok",
		Version:       Version,
		UptimeSecs:    int64(time.Since(s.startedAt).Seconds()),
		ColdStartLeft: left,
	})
}

// takeColdStart consumes one simulated cold-start failure, reporting whether
// the request should fail.
func (s *Server) takeColdStart() bool {
	return s.coldLeft.Add(-1) >= 0
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}
