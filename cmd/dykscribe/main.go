// Command dykscribe runs the submission capture service: the HTTP API
// (serve), the schema migrator (migrate), and a read-only MCP endpoint for
// AI assistants (mcp).
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for the catalog views
	"github.com/spf13/cobra"

	"github.com/vdrs/dykscribe/internal/app"
	"github.com/vdrs/dykscribe/internal/catalog"
	"github.com/vdrs/dykscribe/internal/config"
	"github.com/vdrs/dykscribe/internal/mcpserver"
	"github.com/vdrs/dykscribe/internal/observe"
	"github.com/vdrs/dykscribe/internal/store/postgres"
	"github.com/vdrs/dykscribe/internal/store/sqlite"
	"github.com/vdrs/dykscribe/internal/submission"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "dykscribe: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dykscribe",
		Short: "Maintenance Q&A submission capture service",
		Long: `Dykscribe collects equipment maintenance Q&A from field technicians:
spoken recordings are transcribed and typed notes normalized into structured
question/answer pairs, then persisted for search and review.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newMCPCmd(),
	)
	return cmd
}

// ─── serve ───────────────────────────────────────────────────────────────────

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the submission capture API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	slog.Info("dykscribe starting",
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	// OTel SDK: Prometheus metrics bridge + tracer provider.
	shutdownOtel, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "dykscribe"})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		otelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(otelCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		return err
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		return fmt.Errorf("initialise application: %w", err)
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}

// ─── migrate ─────────────────────────────────────────────────────────────────

func newMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func runMigrate(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if cfg.Storage.Driver != config.DriverPostgres {
		return fmt.Errorf("migrate applies to the postgres driver; storage.driver is %q (the sqlite store migrates on open)", cfg.Storage.Driver)
	}

	pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}

// ─── mcp ─────────────────────────────────────────────────────────────────────

func newMCPCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve read-only MCP tools over stdio",
		Long: `Serve the Model Context Protocol endpoint for AI assistants. Tools cover
searching submissions, fetching a single submission, and listing the
equipment catalog. Reads the same config file as serve; only the storage,
catalog, and embeddings sections are used. Logs go to stderr so stdout
stays a clean MCP byte stream.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMCP(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML configuration file")
	return cmd
}

func runMCP(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	refresher, cleanup, err := openCatalog(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	var opts []mcpserver.Option
	if len(cfg.Providers.Embeddings) > 0 {
		reg := config.NewRegistry()
		registerBuiltinProviders(reg)
		entry := cfg.Providers.Embeddings[0]
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		}
		opts = append(opts, mcpserver.WithEmbedder(p))
	}

	srv, err := mcpserver.New(store, refresher.Current, opts...)
	if err != nil {
		return err
	}

	slog.Info("mcp server listening on stdio",
		"storage", cfg.Storage.Driver,
		"catalog", cfg.Catalog.Source,
	)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ─── Shared helpers ──────────────────────────────────────────────────────────

// loadConfig reads the config file and installs the default logger at the
// configured level.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file %q not found — copy configs/example.yaml to get started", path)
		}
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.LogLevel))
	return cfg, nil
}

// openStore opens the configured submission store. The serve command leaves
// this to the app; migrate and mcp need the store without the rest of the
// pipeline.
func openStore(ctx context.Context, cfg *config.Config) (submission.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.Storage.DSN, postgres.WithAutoMigrate(cfg.Storage.AutoMigrate))
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Storage.DSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// openCatalog builds the configured catalog source and wraps it in a
// refresher. The returned cleanup stops the refresher and releases the
// source's database handle, if any.
func openCatalog(ctx context.Context, cfg *config.Config) (*catalog.Refresher, func(), error) {
	var (
		src     catalog.Source
		closeDB func()
	)
	switch cfg.Catalog.Source {
	case config.CatalogFile:
		fs, err := catalog.NewFileSource(cfg.Catalog.Path)
		if err != nil {
			return nil, nil, err
		}
		src = fs
	case config.CatalogSQL:
		dsn := cfg.Catalog.DSN
		if dsn == "" {
			dsn = cfg.Storage.DSN
		}
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("open catalog database: %w", err)
		}
		closeDB = func() { _ = db.Close() }
		ss, err := catalog.NewSQLSource(db)
		if err != nil {
			closeDB()
			return nil, nil, err
		}
		src = ss
	default:
		return nil, nil, fmt.Errorf("unknown catalog source %q", cfg.Catalog.Source)
	}

	refresher, err := catalog.NewRefresher(ctx, src,
		catalog.WithRefreshInterval(cfg.Catalog.RefreshInterval.Std()))
	if err != nil {
		if closeDB != nil {
			closeDB()
		}
		return nil, nil, err
	}
	cleanup := func() {
		refresher.Stop()
		if closeDB != nil {
			closeDB()
		}
	}
	return refresher, cleanup, nil
}

// ─── Startup summary ─────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        dykscribe — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProviderChain("STT", cfg.Providers.STT)
	printProviderChain("LLM", cfg.Providers.LLM)
	printProviderChain("Embeddings", cfg.Providers.Embeddings)
	printSummaryRow("Storage", string(cfg.Storage.Driver))
	printSummaryRow("Catalog", string(cfg.Catalog.Source))
	if cfg.Server.ListenAddr != "" {
		printSummaryRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProviderChain(kind string, entries []config.ProviderEntry) {
	value := "(not configured)"
	if len(entries) > 0 {
		value = entries[0].Name
		if entries[0].Model != "" {
			value = entries[0].Name + " / " + entries[0].Model
		}
		if len(entries) > 1 {
			value = fmt.Sprintf("%s +%d", value, len(entries)-1)
		}
	}
	printSummaryRow(kind, value)
}

func printSummaryRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ─── Logger ──────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
