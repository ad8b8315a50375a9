// Package server exposes the tutoring services over HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/abhisek/mathbuddy/internal/analysis"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/dialogue"
	"github.com/abhisek/mathbuddy/internal/identity"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/report"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/stats"
	"github.com/abhisek/mathbuddy/internal/store"
)

type Config struct {
	Addr           string
	AllowedOrigins []string
	ShutdownGrace  time.Duration
	MaxImageBytes  int
}

// Deps are the services behind the routes. All fields are required.
type Deps struct {
	Resolver *identity.Resolver
	Tokens   *identity.Tokens
	Analysis *analysis.Service
	Sessions *session.Service
	Dialogue *dialogue.Engine
	Reports  *report.Generator
	Stats    *stats.Service
	Users    store.UserRepo
	Events   *behavior.Logger
	Pinger   Pinger
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	cfg    Config
	deps   Deps
	log    *logger.Logger
	engine *gin.Engine
}

func New(cfg Config, deps Deps, log *logger.Logger) *Server {
	s := &Server{cfg: cfg, deps: deps, log: log.With("component", "HTTPServer")}
	s.engine = s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(s.log))
	r.Use(CORS(s.cfg.AllowedOrigins))

	r.GET("/healthz", s.health)

	api := r.Group("/api")
	api.POST("/auth/resolve", s.resolveIdentity)

	protected := api.Group("/")
	protected.Use(RequireAuth(s.deps.Tokens, s.log))
	{
		protected.POST("/problems/analyze", s.analyzeProblem)

		protected.POST("/sessions", s.createSession)
		protected.GET("/sessions", s.listSessions)
		protected.GET("/sessions/:id", s.getSession)
		protected.POST("/sessions/:id/answers", s.submitAnswer)
		protected.POST("/sessions/:id/abandon", s.abandonSession)
		protected.GET("/sessions/:id/report", s.getReport)

		protected.GET("/me/stats", s.getStats)
		protected.POST("/me/stats/recompute", s.recomputeStats)
		protected.GET("/me/history", s.getHistory)
		protected.GET("/me/profile", s.getProfile)
		protected.PATCH("/me/profile", s.updateProfile)

		protected.POST("/events", s.ingestEvents)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	grace := s.cfg.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	s.log.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Pinger != nil {
		if err := s.deps.Pinger.Ping(c.Request.Context()); err != nil {
			s.log.Error("health check failed", "error", err)
			c.String(http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}
