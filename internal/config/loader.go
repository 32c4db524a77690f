package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/minutes/internal/capture"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"embeddings": {"openai", "ollama"},
	"recognizer": {"whisper", "whisper-native", "openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
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

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("server.batch_size must be at least 1, got %d", cfg.Server.BatchSize))
	}
	if cfg.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be at least 1, got %d", cfg.Server.Workers))
	}
	if cfg.Server.SilenceThreshold < 0 || cfg.Server.SilenceThreshold >= 1 {
		errs = append(errs, fmt.Errorf("server.silence_threshold %.3f is out of range [0, 1)", cfg.Server.SilenceThreshold))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transcription client
	if u, err := url.Parse(cfg.Transcription.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("transcription.server_url %q must be an http(s) URL", cfg.Transcription.ServerURL))
	}
	for name, d := range map[string]int64{
		"transcription.connect_timeout": int64(cfg.Transcription.ConnectTimeout),
		"transcription.stop_timeout":    int64(cfg.Transcription.StopTimeout),
		"transcription.health_timeout":  int64(cfg.Transcription.HealthTimeout),
		"capture.stop_timeout":          int64(cfg.Capture.StopTimeout),
		"capture.chunk_duration":        int64(cfg.Capture.ChunkDuration),
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	// Capture
	if !cfg.Capture.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("capture.mode %q is invalid; valid values: ffmpeg, socket", cfg.Capture.Mode))
	}
	if _, err := capture.ParseSource(cfg.Capture.Source); err != nil {
		errs = append(errs, fmt.Errorf("capture.source: %w", err))
	}
	for src := range cfg.Capture.InputArgs {
		if _, err := capture.ParseSource(src); err != nil {
			errs = append(errs, fmt.Errorf("capture.input_args: %w", err))
		}
	}

	// Providers
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("recognizer", cfg.Providers.Recognizer.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", fb.Name)
	}
	for i, fb := range cfg.Providers.RecognizerFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.recognizer_fallbacks[%d].name is required", i))
		}
		validateProviderName("recognizer", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks requires providers.llm"))
	}
	if len(cfg.Providers.RecognizerFallbacks) > 0 && cfg.Providers.Recognizer.Name == "" {
		errs = append(errs, errors.New("providers.recognizer_fallbacks requires providers.recognizer"))
	}

	// Storage
	if !cfg.Storage.Driver.IsValid() {
		errs = append(errs, fmt.Errorf("storage.driver %q is invalid; valid values: sqlite, postgres, memory", cfg.Storage.Driver))
	}
	if cfg.Storage.Driver == StoragePostgres && cfg.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
	}
	if cfg.Storage.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("storage.embedding_dimensions must be positive, got %d", cfg.Storage.EmbeddingDimensions))
	}

	// Vocabulary
	if t := cfg.Vocabulary.PhoneticThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("vocabulary.phonetic_threshold %.2f is out of range (0, 1]", t))
	}
	if cfg.Vocabulary.LLMVerify && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("vocabulary.llm_verify requires providers.llm"))
	}

	// Notes
	n := cfg.Notes
	if n.ChunkOverlap < 0 || n.ChunkOverlap >= n.ChunkWords {
		errs = append(errs, fmt.Errorf("notes.chunk_overlap %d must be in [0, chunk_words=%d)", n.ChunkOverlap, n.ChunkWords))
	}
	if n.ContextShare <= 0 || n.ContextShare > 1 {
		errs = append(errs, fmt.Errorf("notes.context_share %.2f is out of range (0, 1]", n.ContextShare))
	}
	if n.Temperature < 0 || n.Temperature > 2 {
		errs = append(errs, fmt.Errorf("notes.temperature %.2f is out of range [0, 2]", n.Temperature))
	}

	// Availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; note enhancement and chat are unavailable")
	}
	if cfg.Providers.Embeddings.Name == "" && cfg.Providers.LLM.Name != "" {
		slog.Warn("no embeddings provider configured; chat on long meetings falls back to truncated transcripts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
