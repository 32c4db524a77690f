package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/resilience"
	"github.com/MrWong99/minutes/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/minutes/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/minutes/pkg/provider/embeddings/openai"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/minutes/pkg/provider/llm/openai"
	"github.com/MrWong99/minutes/pkg/recognizer"
	oarecognizer "github.com/MrWong99/minutes/pkg/recognizer/openai"
	"github.com/MrWong99/minutes/pkg/recognizer/whisper"
	"github.com/MrWong99/minutes/pkg/recognizer/whispercpp"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	LLM        llm.Provider
	Embeddings embeddings.Provider
	Recognizer recognizer.Recognizer

	// Checks report whether every backend of a fallback group is tripped.
	// They feed the readiness endpoint.
	Checks map[string]func(context.Context) error
}

// RegisterBuiltinProviders wires every provider implementation that ships
// with minutes into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// The OpenAI SDK backend supports any OpenAI-compatible server via
	// base_url; every other name goes through any-llm-go.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := config.OptString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})
	for _, name := range anyllm.Backends {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := config.OptInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := config.OptInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		if ka := config.OptString(entry.Options, "keep_alive"); ka != "" {
			opts = append(opts, ollamaembed.WithKeepAlive(ka))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	// ── Recognizers ───────────────────────────────────────────────────────────

	reg.RegisterRecognizer("whisper", func(entry config.ProviderEntry) (recognizer.Recognizer, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterRecognizer("whisper-native", func(entry config.ProviderEntry) (recognizer.Recognizer, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		var opts []whispercpp.Option
		if n := config.OptInt(entry.Options, "threads"); n > 0 {
			opts = append(opts, whispercpp.WithThreads(uint(n)))
		}
		return whispercpp.New(modelPath, opts...)
	})

	reg.RegisterRecognizer("openai", func(entry config.ProviderEntry) (recognizer.Recognizer, error) {
		var opts []oarecognizer.Option
		if entry.BaseURL != "" {
			opts = append(opts, oarecognizer.WithBaseURL(entry.BaseURL))
		}
		return oarecognizer.New(entry.APIKey, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "embeddings", "recognizer"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// BuildProviders instantiates every provider named in cfg. LLMs and
// recognizers with fallbacks configured are wrapped in a
// [resilience.LLMFallback] or [resilience.RecognizerFallback] whose breaker
// transitions are counted in m. A nil m disables that counting.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	ps := &Providers{Checks: make(map[string]func(context.Context) error)}
	fb := resilience.FallbackConfig{
		Breaker: resilience.BreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				if m != nil {
					m.RecordBreakerTransition(context.Background(), name, to.String())
				}
			},
		},
	}

	// ── LLM ───────────────────────────────────────────────────────────────────
	primary, err := create(reg.CreateLLM, "llm", cfg.Providers.LLM)
	if err != nil {
		return nil, err
	}
	if primary != nil {
		ps.LLM = primary
		if len(cfg.Providers.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fb)
			for _, entry := range cfg.Providers.LLMFallbacks {
				p, err := create(reg.CreateLLM, "llm", entry)
				if err != nil {
					return nil, err
				}
				if p != nil {
					group.AddFallback(entry.Name, p)
				}
			}
			ps.LLM = group
			ps.Checks["llm"] = group.Check
		}
	}

	// ── Embeddings ────────────────────────────────────────────────────────────
	if ps.Embeddings, err = create(reg.CreateEmbeddings, "embeddings", cfg.Providers.Embeddings); err != nil {
		return nil, err
	}

	// ── Recognizer ────────────────────────────────────────────────────────────
	rec, err := create(reg.CreateRecognizer, "recognizer", cfg.Providers.Recognizer)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		ps.Recognizer = rec
		if len(cfg.Providers.RecognizerFallbacks) > 0 {
			group := resilience.NewRecognizerFallback(rec, cfg.Providers.Recognizer.Name, fb)
			for _, entry := range cfg.Providers.RecognizerFallbacks {
				r, err := create(reg.CreateRecognizer, "recognizer", entry)
				if err != nil {
					return nil, err
				}
				if r != nil {
					group.AddFallback(entry.Name, r)
				}
			}
			ps.Recognizer = group
			ps.Checks["recognizer"] = group.Check
		}
	}

	return ps, nil
}

// create builds one provider. An empty name or an unregistered name yields
// the zero value without error; the latter is logged.
func create[T any](fn func(config.ProviderEntry) (T, error), kind string, entry config.ProviderEntry) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := fn(entry)
	switch {
	case errors.Is(err, config.ErrProviderNotRegistered):
		slog.Warn("provider not available, skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	case err != nil:
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}
