package main

import (
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/vdrs/dykscribe/internal/app"
	"github.com/vdrs/dykscribe/internal/config"
	"github.com/vdrs/dykscribe/internal/resilience"
	"github.com/vdrs/dykscribe/pkg/provider/embeddings"
	ollamaembed "github.com/vdrs/dykscribe/pkg/provider/embeddings/ollama"
	oaembed "github.com/vdrs/dykscribe/pkg/provider/embeddings/openai"
	"github.com/vdrs/dykscribe/pkg/provider/llm"
	"github.com/vdrs/dykscribe/pkg/provider/llm/anyllm"
	oaillm "github.com/vdrs/dykscribe/pkg/provider/llm/openai"
	"github.com/vdrs/dykscribe/pkg/provider/stt"
	"github.com/vdrs/dykscribe/pkg/provider/stt/deepgram"
	oaistt "github.com/vdrs/dykscribe/pkg/provider/stt/openai"
	"github.com/vdrs/dykscribe/pkg/provider/stt/whisper"
)

// builtinProviders maps provider kinds to the implementations that ship
// with dykscribe. Used for startup logging.
var builtinProviders = map[string][]string{
	"stt":        {"openai", "whisper", "whisper-native", "deepgram"},
	"llm":        {"openai", "anyllm"},
	"embeddings": {"openai", "ollama"},
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the
// appropriate provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anyllm multiplexes hosted and local backends; the backend is chosen
	// via options.provider (default openai).
	reg.RegisterLLM("anyllm", func(entry config.ProviderEntry) (llm.Provider, error) {
		backend := optString(entry.Options, "provider")
		if backend == "" {
			backend = "openai"
		}
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(backend, entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates the provider chains named in cfg using the
// registry and returns them in an [app.Providers] struct. The first entry
// of each list is the primary; additional STT and LLM entries become
// breaker-guarded fallbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entries := cfg.Providers.STT; len(entries) > 0 {
		chain, err := buildSTTChain(entries, reg)
		if err != nil {
			return nil, err
		}
		ps.STT = chain
	}

	if entries := cfg.Providers.LLM; len(entries) > 0 {
		chain, err := buildLLMChain(entries, reg)
		if err != nil {
			return nil, err
		}
		ps.LLM = chain
	}

	// Embeddings never chain: vectors from different models cannot be
	// compared, so a failover would poison the similarity index.
	if entries := cfg.Providers.Embeddings; len(entries) > 0 {
		p, err := reg.CreateEmbeddings(entries[0])
		if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entries[0].Name, err)
		}
		ps.Embeddings = p
		slog.Info("provider created", "kind", "embeddings", "name", entries[0].Name)
	}

	return ps, nil
}

func buildSTTChain(entries []config.ProviderEntry, reg *config.Registry) (stt.Provider, error) {
	primary, err := reg.CreateSTT(entries[0])
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", entries[0].Name, err)
	}
	if len(entries) == 1 {
		slog.Info("provider created", "kind", "stt", "name", entries[0].Name)
		return primary, nil
	}

	chain := resilience.NewSTTFallback(primary, entries[0].Name, resilience.FallbackConfig{})
	for _, entry := range entries[1:] {
		p, err := reg.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, p)
	}
	slog.Info("provider chain created", "kind", "stt", "primary", entries[0].Name, "fallbacks", len(entries)-1)
	return chain, nil
}

func buildLLMChain(entries []config.ProviderEntry, reg *config.Registry) (llm.Provider, error) {
	primary, err := reg.CreateLLM(entries[0])
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", entries[0].Name, err)
	}
	if len(entries) == 1 {
		slog.Info("provider created", "kind", "llm", "name", entries[0].Name)
		return primary, nil
	}

	chain := resilience.NewLLMFallback(primary, entries[0].Name, resilience.FallbackConfig{})
	for _, entry := range entries[1:] {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		chain.AddFallback(entry.Name, p)
	}
	slog.Info("provider chain created", "kind", "llm", "primary", entries[0].Name, "fallbacks", len(entries)-1)
	return chain, nil
}

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
