// Package app wires configuration, storage and services into a runnable
// backend.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abhisek/mathbuddy/internal/analysis"
	"github.com/abhisek/mathbuddy/internal/behavior"
	"github.com/abhisek/mathbuddy/internal/blob"
	"github.com/abhisek/mathbuddy/internal/config"
	"github.com/abhisek/mathbuddy/internal/dialogue"
	"github.com/abhisek/mathbuddy/internal/identity"
	"github.com/abhisek/mathbuddy/internal/jobs"
	"github.com/abhisek/mathbuddy/internal/llm"
	"github.com/abhisek/mathbuddy/internal/logger"
	"github.com/abhisek/mathbuddy/internal/report"
	"github.com/abhisek/mathbuddy/internal/server"
	"github.com/abhisek/mathbuddy/internal/session"
	"github.com/abhisek/mathbuddy/internal/stats"
	"github.com/abhisek/mathbuddy/internal/store"
)

// App holds every long-lived component of the backend.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Store    *store.Store
	Blobs    blob.Store
	Jobs     jobs.Runner
	Provider llm.Provider

	Events   *behavior.Logger
	Resolver *identity.Resolver
	Tokens   *identity.Tokens
	Analysis *analysis.Service
	Sessions *session.Service
	Dialogue *dialogue.Engine
	Reports  *report.Generator
	Stats    *stats.Service

	closers []func() error
}

// New builds the application from cfg. The caller must Close it.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	if a.Blobs, err = a.openBlobs(ctx); err != nil {
		return err
	}
	if a.Jobs, err = a.openJobs(); err != nil {
		return err
	}
	a.Provider = a.openProvider(ctx)

	loc, err := time.LoadLocation(cfg.Stats.Timezone)
	if err != nil {
		return fmt.Errorf("load stats timezone: %w", err)
	}

	a.Events = behavior.NewLogger(a.Jobs, a.Log)
	a.Resolver = identity.NewResolver(a.exchanger(), a.Log)
	a.Tokens = identity.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	acfg := analysis.DefaultConfig()
	acfg.MaxImageBytes = cfg.Storage.MaxImageBytes
	a.Analysis = analysis.NewService(a.Provider, a.Blobs, acfg, a.Log)

	a.Sessions = session.NewService(st.SessionRepo(), st.HistoryRepo(), a.Events, cfg.Dialogue.TotalRounds, a.Log)
	a.Stats = stats.NewService(st.SessionRepo(), st.ReportRepo(), st.StatsRepo(), st.UserRepo(), loc, a.Log)
	a.Reports = report.NewGenerator(a.Sessions, st.ReportRepo(), st.HistoryRepo(), a.Jobs, a.Events, a.Provider, report.DefaultConfig(), a.Log)

	dcfg := dialogue.DefaultConfig()
	if cfg.Dialogue.Timeout > 0 {
		dcfg.Timeout = cfg.Dialogue.Timeout
	}
	a.Dialogue = dialogue.NewEngine(a.Sessions, a.Reports, a.Provider, a.Events, dcfg, a.Log)

	a.Jobs.Handle(jobs.TypeBehaviorLog, behavior.Handler(st.EventRepo()))
	a.Jobs.Handle(jobs.TypeStatsRecompute, a.Stats.Handler())
	return nil
}

func (a *App) openBlobs(ctx context.Context) (blob.Store, error) {
	sc := a.Config.Storage
	switch sc.Mode {
	case "gcs":
		gcs, err := blob.NewGCSStore(ctx, blob.GCSConfig{
			Bucket:          sc.GCSBucket,
			CredentialsFile: sc.GCSCredsFile,
			EmulatorHost:    sc.GCSEmulator,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("open gcs store: %w", err)
		}
		a.closers = append(a.closers, gcs.Close)
		return gcs, nil
	default:
		local, err := blob.NewLocalStore(sc.LocalDir)
		if err != nil {
			return nil, fmt.Errorf("open local blob store: %w", err)
		}
		return local, nil
	}
}

func (a *App) openJobs() (jobs.Runner, error) {
	qc := a.Config.Queue
	if qc.Mode == "asynq" {
		q, err := jobs.NewQueue(qc.RedisURL, qc.Workers, a.Log)
		if err != nil {
			return nil, fmt.Errorf("open task queue: %w", err)
		}
		return q, nil
	}
	return jobs.NewPool(qc.Workers, qc.Buffer, a.Log), nil
}

// openProvider returns nil when no provider is configured. Dialogue and
// reports then use their templates and photo analysis is unavailable.
func (a *App) openProvider(ctx context.Context) llm.Provider {
	p, cfg, err := llm.NewProviderFromEnv(ctx, a.Store.EventRepo(), a.Log)
	if err != nil {
		a.Log.Warn("no LLM provider configured, running on fallbacks", "error", err)
		return nil
	}
	a.Log.Info("LLM provider ready", "provider", cfg.Provider, "model", p.ModelID())
	return p
}

func (a *App) exchanger() identity.Exchanger {
	ic := a.Config.Identity
	if ic.Mode == "http" {
		return identity.NewHTTPExchanger(ic.URL, ic.Timeout)
	}
	return identity.NewDerivedExchanger(ic.Salt)
}

// Server returns the HTTP server bound to the application's services.
func (a *App) Server() *server.Server {
	sc := a.Config.Server
	return server.New(server.Config{
		Addr:           sc.Addr,
		AllowedOrigins: sc.AllowedOrigins,
		ShutdownGrace:  sc.ShutdownGrace,
		MaxImageBytes:  a.Config.Storage.MaxImageBytes,
	}, server.Deps{
		Resolver: a.Resolver,
		Tokens:   a.Tokens,
		Analysis: a.Analysis,
		Sessions: a.Sessions,
		Dialogue: a.Dialogue,
		Reports:  a.Reports,
		Stats:    a.Stats,
		Users:    a.Store.UserRepo(),
		Events:   a.Events,
		Pinger:   a.Store,
	}, a.Log)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
