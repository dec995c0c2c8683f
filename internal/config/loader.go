package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/vdrs/dykscribe/internal/validate"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"openai", "whisper", "whisper-native", "deepgram", "mock"},
	"llm":        {"openai", "anyllm", "mock"},
	"embeddings": {"openai", "ollama", "mock"},
}

// Default returns the configuration used when a field is absent from the
// YAML file: local SQLite storage, a file catalog, and an HTTP listener on
// port 8080.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Storage: StorageConfig{
			Driver:      DriverSQLite,
			DSN:         "dykscribe.db",
			AutoMigrate: true,
		},
		Catalog: CatalogConfig{
			Source: CatalogFile,
			Path:   "catalog.yaml",
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Absent fields keep the [Default] values; unknown fields are rejected.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Server
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Storage
	if !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: postgres, sqlite", cfg.Storage.Driver))
	}
	if cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required"))
	}

	// Catalog
	if !cfg.Catalog.Source.IsValid() {
		errs = append(errs, fmt.Errorf("catalog.source %q is invalid; valid values: file, sql", cfg.Catalog.Source))
	}
	if cfg.Catalog.Source == CatalogFile && cfg.Catalog.Path == "" {
		errs = append(errs, errors.New("catalog.path is required when catalog.source is file"))
	}
	if cfg.Catalog.Source == CatalogSQL && cfg.Catalog.DSN == "" && cfg.Storage.Driver != DriverPostgres {
		errs = append(errs, errors.New("catalog.dsn is required when catalog.source is sql and storage.driver is not postgres"))
	}
	if cfg.Catalog.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("catalog.refresh_interval %s must not be negative", cfg.Catalog.RefreshInterval.Std()))
	}

	// Providers. Structuring runs on every submission, so an LLM chain is
	// mandatory; STT and embeddings degrade gracefully when absent.
	errs = append(errs, validateProviderChain("stt", cfg.Providers.STT)...)
	errs = append(errs, validateProviderChain("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateProviderChain("embeddings", cfg.Providers.Embeddings)...)
	if len(cfg.Providers.LLM) == 0 {
		errs = append(errs, errors.New("providers.llm requires at least one entry; every submission is structured by a language model"))
	}
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT provider configured; audio submissions will be rejected")
	}
	if len(cfg.Providers.Embeddings) > 0 && cfg.Storage.Driver == DriverSQLite {
		slog.Warn("embeddings are configured but the sqlite store has no vector column; similarity search stays unavailable")
	}
	if len(cfg.Providers.Embeddings) > 1 {
		slog.Warn("only the first embeddings entry is used; vectors from different models cannot be compared",
			"ignored", len(cfg.Providers.Embeddings)-1)
	}

	// Limits
	if cfg.Limits.MaxAudioBytes < 0 || cfg.Limits.MaxManualBytes < 0 {
		errs = append(errs, errors.New("limits values must not be negative"))
	}
	if cfg.Limits.MaxAudioBytes > validate.MaxAudioBytes {
		slog.Warn("limits.max_audio_bytes exceeds the submission validation limit; uploads between the two are rejected after transfer",
			"transport_cap", cfg.Limits.MaxAudioBytes,
			"validation_limit", int64(validate.MaxAudioBytes),
		)
	}
	if cfg.Limits.MaxManualBytes > validate.MaxManualBytes {
		slog.Warn("limits.max_manual_bytes exceeds the submission validation limit; uploads between the two are rejected after transfer",
			"transport_cap", cfg.Limits.MaxManualBytes,
			"validation_limit", int64(validate.MaxManualBytes),
		)
	}

	// Retry
	if cfg.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts %d must not be negative", cfg.Retry.MaxAttempts))
	}
	if cfg.Retry.BackoffUnit < 0 {
		errs = append(errs, fmt.Errorf("retry.backoff_unit %s must not be negative", cfg.Retry.BackoffUnit.Std()))
	}

	// Structuring
	if cfg.Structuring.Temperature < 0 || cfg.Structuring.Temperature > 2 {
		errs = append(errs, fmt.Errorf("structuring.temperature %.2f is out of range [0, 2]", cfg.Structuring.Temperature))
	}
	if cfg.Structuring.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("structuring.max_tokens %d must not be negative", cfg.Structuring.MaxTokens))
	}

	return errors.Join(errs...)
}

// validateProviderChain checks one provider list: every entry needs a name,
// and names must be unique within the chain so fallback order is unambiguous.
func validateProviderChain(kind string, entries []ProviderEntry) []error {
	var errs []error
	seen := make(map[string]int, len(entries))
	for i, entry := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, entry.Name, kind, prev))
		}
		seen[entry.Name] = i
		validateProviderName(kind, entry.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is not found in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
