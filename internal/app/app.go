// Package app wires all dykscribe subsystems into a running service.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP API until the context ends, and Shutdown
// tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithStore,
// WithCatalogSource, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the catalog views

	"github.com/vdrs/dykscribe/internal/api"
	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/config"
	"github.com/vdrs/dykscribe/internal/health"
	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/resilience"
	"github.com/vdrs/dykscribe/internal/speech"
	"github.com/vdrs/dykscribe/internal/store/postgres"
	"github.com/vdrs/dykscribe/internal/store/sqlite"
	"github.com/vdrs/dykscribe/internal/structuring"
	"github.com/vdrs/dykscribe/internal/submission"
	"github.com/vdrs/dykscribe/internal/transcript"
	"github.com/vdrs/dykscribe/internal/transcript/llmcorrect"
	"github.com/vdrs/dykscribe/internal/transcript/phonetic"
	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
	"github.com/vdrs/dykscribe/pkg/provider/llm"
	"github.com/vdrs/dykscribe/pkg/provider/stt"
)

// Providers holds one provider chain per slot. Nil means the slot is not
// configured. Populated by main via the config registry; when the config
// names fallback entries the chain is a resilience wrapper over all of them.
type Providers struct {
	STT        stt.Provider
	LLM        llm.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes and serves the submission API.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics       *observe.Metrics
	store         submission.Store
	catalogSource catalog.Source
	catalog       *catalog.Refresher
	registry      *api.Registry
	engine        *submission.Engine
	server        *api.Server

	httpSrv *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a submission store instead of opening one from config.
// The caller keeps ownership; Shutdown will not close an injected store.
func WithStore(s submission.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCatalogSource injects a catalog source instead of creating one from
// config. The refresher is still created around it.
func WithCatalogSource(src catalog.Source) Option {
	return func(a *App) { a.catalogSource = src }
}

// WithMetrics injects a metrics handle instead of building one from the
// global meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: store connection and
// migration, initial catalog load, provider pipeline assembly, and API
// server construction. The initial catalog load must succeed; a service
// that cannot name its users or equipment has nothing to collect.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required; every submission is structured by a language model")
	}

	// ── 1. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 2. Submission store ──────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Catalog ───────────────────────────────────────────────────────
	if err := a.initCatalog(ctx); err != nil {
		return nil, fmt.Errorf("app: init catalog: %w", err)
	}

	// ── 4. Engine ────────────────────────────────────────────────────────
	if err := a.initEngine(); err != nil {
		return nil, fmt.Errorf("app: init engine: %w", err)
	}

	// ── 5. API server ────────────────────────────────────────────────────
	if err := a.initServer(); err != nil {
		return nil, fmt.Errorf("app: init server: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured submission store or uses an injected one.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	switch a.cfg.Storage.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, a.cfg.Storage.DSN,
			postgres.WithAutoMigrate(a.cfg.Storage.AutoMigrate))
		if err != nil {
			return err
		}
		a.store = st
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, a.cfg.Storage.DSN)
		if err != nil {
			return err
		}
		a.store = st
	default:
		return fmt.Errorf("unknown storage driver %q", a.cfg.Storage.Driver)
	}

	a.closers = append(a.closers, a.store.Close)
	slog.Info("submission store ready", "driver", a.cfg.Storage.Driver)
	return nil
}

// initCatalog builds the catalog source from config and wraps it in a
// polling refresher. The refresher's initial load runs here, so a missing
// catalog file or unreachable catalog database fails startup.
func (a *App) initCatalog(ctx context.Context) error {
	src := a.catalogSource
	if src == nil {
		switch a.cfg.Catalog.Source {
		case config.CatalogFile:
			fs, err := catalog.NewFileSource(a.cfg.Catalog.Path)
			if err != nil {
				return err
			}
			src = fs
		case config.CatalogSQL:
			dsn := a.cfg.Catalog.DSN
			if dsn == "" {
				dsn = a.cfg.Storage.DSN
			}
			db, err := sql.Open("pgx", dsn)
			if err != nil {
				return fmt.Errorf("open catalog database: %w", err)
			}
			a.closers = append(a.closers, db.Close)
			ss, err := catalog.NewSQLSource(db)
			if err != nil {
				return err
			}
			src = ss
		default:
			return fmt.Errorf("unknown catalog source %q", a.cfg.Catalog.Source)
		}
	}

	refresher, err := catalog.NewRefresher(ctx, src,
		catalog.WithRefreshInterval(a.cfg.Catalog.RefreshInterval.Std()),
		catalog.WithOnRefresh(func(_, next *catalog.Catalog) {
			slog.Info("catalog refreshed",
				"fingerprint", next.Fingerprint(),
				"users", len(next.Users),
				"models", len(next.Models),
			)
		}),
	)
	if err != nil {
		return err
	}
	a.catalog = refresher
	a.closers = append(a.closers, func() error {
		refresher.Stop()
		return nil
	})

	cat := refresher.Current()
	slog.Info("catalog loaded",
		"source", a.cfg.Catalog.Source,
		"users", len(cat.Users),
		"manufacturers", len(cat.Manufacturers),
		"models", len(cat.Models),
	)
	return nil
}

// initEngine assembles the processing pipeline: session registry, speech
// client (when an STT provider is configured), structuring client, and the
// submission engine that drives them.
func (a *App) initEngine() error {
	a.registry = api.NewRegistry(0, a.metrics)
	a.closers = append(a.closers, func() error {
		a.registry.Stop()
		return nil
	})

	engineOpts := []submission.Option{
		submission.WithMetrics(a.metrics),
		submission.WithTransitionHook(a.registry.Dispatch),
	}

	if a.providers.STT != nil {
		sp, err := a.newSpeechClient()
		if err != nil {
			return err
		}
		engineOpts = append(engineOpts, submission.WithTranscriber(sp))
	} else {
		slog.Warn("no STT provider configured; audio submissions will be rejected")
	}

	if a.providers.Embeddings != nil {
		engineOpts = append(engineOpts, submission.WithEmbedder(a.providers.Embeddings))
	}

	structurer, err := structuring.New(a.providers.LLM, a.structuringOptions()...)
	if err != nil {
		return err
	}

	eng, err := submission.NewEngine(structurer, a.store, engineOpts...)
	if err != nil {
		return err
	}
	a.engine = eng
	return nil
}

// newSpeechClient builds the transcription client with retry and the
// catalog-aware correction pipeline. The vocabulary closure reads the
// current catalog snapshot on every call, so refreshed equipment names
// reach the corrector without a restart.
func (a *App) newSpeechClient() (*speech.Client, error) {
	pipeline := transcript.NewPipeline(
		transcript.WithPhoneticMatcher(phonetic.New()),
		transcript.WithEntityCorrector(llmcorrect.New(a.providers.LLM)),
	)

	opts := []speech.Option{
		speech.WithRetry(retryPolicy(a.cfg.Retry)),
		speech.WithCorrector(pipeline, func() []string {
			return a.catalog.Current().Vocabulary()
		}),
	}
	if a.cfg.Speech.Language != "" {
		opts = append(opts, speech.WithLanguage(a.cfg.Speech.Language))
	}
	if a.cfg.Speech.Prompt != "" {
		opts = append(opts, speech.WithPrompt(a.cfg.Speech.Prompt))
	}

	return speech.New(a.providers.STT, opts...)
}

// structuringOptions maps the structuring config onto client options. Zero
// values keep the client defaults.
func (a *App) structuringOptions() []structuring.Option {
	var opts []structuring.Option
	if t := a.cfg.Structuring.Temperature; t > 0 {
		opts = append(opts, structuring.WithTemperature(t))
	}
	if n := a.cfg.Structuring.MaxTokens; n > 0 {
		opts = append(opts, structuring.WithMaxTokens(n))
	}
	return opts
}

// initServer builds the HTTP API server around the engine and store.
func (a *App) initServer() error {
	opts := []api.Option{
		api.WithMetrics(a.metrics),
		api.WithRegistry(a.registry),
		api.WithLimits(api.Limits{
			MaxAudioBytes:  a.cfg.Limits.MaxAudioBytes,
			MaxManualBytes: a.cfg.Limits.MaxManualBytes,
		}),
		api.WithHealthCheckers(health.Checker{
			Name: "catalog",
			Check: func(context.Context) error {
				if len(a.catalog.Current().Users) == 0 {
					return errors.New("catalog has no users")
				}
				return nil
			},
		}),
	}
	if a.providers.Embeddings != nil {
		opts = append(opts, api.WithEmbedder(a.providers.Embeddings))
	}

	srv, err := api.NewServer(a.engine, a.store, a.catalog.Current, opts...)
	if err != nil {
		return err
	}
	a.server = srv
	return nil
}

// retryPolicy maps the retry config onto a resilience policy. Zero values
// keep the policy defaults (3 attempts, linear one-second backoff).
func retryPolicy(rc config.RetryConfig) resilience.Retry {
	r := resilience.Retry{MaxAttempts: rc.MaxAttempts}
	if unit := rc.BackoffUnit.Std(); unit > 0 {
		r.Backoff = resilience.LinearBackoff(unit)
	}
	return r
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Router exposes the HTTP handler, mainly for tests.
func (a *App) Router() http.Handler {
	return a.server.Router()
}

// Run serves the HTTP API and blocks until ctx is cancelled or the listener
// fails. On cancellation it returns ctx.Err(); call Shutdown to stop the
// server and release resources.
func (a *App) Run(ctx context.Context) error {
	a.httpSrv = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("app running",
		"listen_addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the HTTP server, then tears down all subsystems in
// reverse-init order. It respects the context deadline: if ctx expires
// before all closers finish, remaining closers are skipped and the context
// error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop accepting requests first so the closers see no new work.
		if a.httpSrv != nil {
			if err := a.httpSrv.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
