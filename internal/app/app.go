// Package app wires the minutes subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens storage, loads the
// vocabulary and builds the transcription clients, capture coordinator,
// recorder and note tools; Run serves the capture socket when the capture
// agent runs in its own process; Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithCaptureAgent, WithDialer). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/minutes/internal/capture"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/notes"
	"github.com/MrWong99/minutes/internal/observe"
	"github.com/MrWong99/minutes/internal/recorder"
	"github.com/MrWong99/minutes/internal/transcript"
	"github.com/MrWong99/minutes/internal/transcript/llmcorrect"
	"github.com/MrWong99/minutes/internal/transcript/phonetic"
	"github.com/MrWong99/minutes/internal/vocab"
	"github.com/MrWong99/minutes/pkg/store"
	"github.com/MrWong99/minutes/pkg/store/memstore"
	"github.com/MrWong99/minutes/pkg/store/postgres"
	"github.com/MrWong99/minutes/pkg/store/sqlite"
	"github.com/MrWong99/minutes/pkg/transcribe"
)

// App owns all subsystem lifetimes of the minutes client.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	logLevel  *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	store       store.Store
	vocab       *vocab.Store
	corrector   *transcript.Corrector
	indexer     *notes.Indexer
	enhancer    *notes.Enhancer
	chat        *notes.Chat
	batch       *transcribe.HTTPClient
	stream      *transcribe.Client
	agent       capture.Agent
	bridge      *capture.SocketBridge
	coordinator *capture.Coordinator
	recorder    *recorder.Recorder

	dialer transcribe.Dialer

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of opening the configured driver. The
// App does not close an injected store.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithCaptureAgent injects the capture agent instead of building one from
// the capture mode.
func WithCaptureAgent(agent capture.Agent) Option {
	return func(a *App) { a.agent = agent }
}

// WithDialer injects the transport of the live transcription client.
func WithDialer(d transcribe.Dialer) Option {
	return func(a *App) { a.dialer = d }
}

// WithMetrics records metrics on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets configuration reloads change the level of the handler
// that uses lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]; nil slots disable the features that need them
// (enhance and chat without an LLM, retrieval without embeddings).
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
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Vocabulary + corrector ────────────────────────────────────────
	if err := a.initVocabulary(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init vocabulary: %w", err)
	}

	// ── 3. Notes ─────────────────────────────────────────────────────────
	a.initNotes()

	// ── 4. Transcription clients ─────────────────────────────────────────
	if err := a.initTranscription(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	// ── 5. Capture ───────────────────────────────────────────────────────
	if err := a.initCapture(); err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init capture: %w", err)
	}

	// ── 6. Recorder ──────────────────────────────────────────────────────
	rec, err := recorder.New(recorder.Config{
		Prober:    a.batch,
		Streamer:  a.stream,
		Capturer:  a.coordinator,
		Batch:     a.batch,
		Corrector: a.corrector,
		Indexer:   a.recorderIndexer(),
		Store:     a.store,
		Metrics:   a.metrics,
		AudioDir:  cfg.Storage.AudioDir,
		Language:  cfg.Transcription.Language,
	})
	if err != nil {
		a.closeAll()
		return nil, fmt.Errorf("app: init recorder: %w", err)
	}
	a.recorder = rec

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the configured storage backend unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	st := a.cfg.Storage
	switch st.Driver {
	case config.StorageMemory:
		a.store = memstore.New()
		slog.Warn("storage: using in-memory store, meetings are lost on exit")
	case config.StorageSQLite, "":
		s, err := sqlite.Open(ctx, st.DSN)
		if err != nil {
			return err
		}
		a.store = s
	case config.StoragePostgres:
		if st.DSN == "" {
			return errors.New("storage.dsn is required for the postgres driver")
		}
		s, err := postgres.NewStore(ctx, st.DSN, st.EmbeddingDimensions)
		if err != nil {
			return err
		}
		a.store = s
	default:
		return fmt.Errorf("unknown storage driver %q", st.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	slog.Info("storage opened", "driver", st.Driver)
	return nil
}

// initVocabulary loads the vocabulary files and builds the corrector.
func (a *App) initVocabulary() error {
	v, err := vocab.Build(a.cfg.Vocabulary.Files, a.cfg.Vocabulary.Terms)
	if err != nil {
		return err
	}
	a.vocab = v
	slog.Info("vocabulary loaded", "terms", v.Len(), "files", len(a.cfg.Vocabulary.Files))

	copts := []transcript.Option{
		transcript.WithMatcher(phonetic.New(phonetic.WithThreshold(a.cfg.Vocabulary.PhoneticThreshold))),
	}
	if a.cfg.Vocabulary.LLMVerify {
		if a.providers.LLM == nil {
			slog.Warn("vocabulary.llm_verify is set but no LLM is configured, using phonetic correction only")
		} else {
			copts = append(copts, transcript.WithVerifier(llmcorrect.New(a.providers.LLM)))
		}
	}
	a.corrector = transcript.NewCorrector(v, copts...)
	return nil
}

// initNotes builds the indexer, enhancer and chat from the available
// providers.
func (a *App) initNotes() {
	n := a.cfg.Notes
	if a.providers.Embeddings != nil {
		a.indexer = notes.NewIndexer(a.providers.Embeddings, a.store,
			notes.WithChunking(n.ChunkWords, n.ChunkOverlap),
			notes.WithIndexerMetrics(a.metrics),
		)
	}
	if a.providers.LLM == nil {
		slog.Info("no LLM configured, enhance and chat are disabled")
		return
	}

	eopts := []notes.EnhancerOption{
		notes.WithTranscriptShare(n.ContextShare),
		notes.WithEnhancerMetrics(a.metrics),
	}
	if n.Temperature > 0 {
		eopts = append(eopts, notes.WithEnhanceTemperature(n.Temperature))
	}
	if n.MaxTokens > 0 {
		eopts = append(eopts, notes.WithEnhanceMaxTokens(n.MaxTokens))
	}
	a.enhancer = notes.NewEnhancer(a.providers.LLM, eopts...)

	copts := []notes.ChatOption{
		notes.WithContextShare(n.ContextShare),
		notes.WithChatSampling(n.Temperature, n.MaxTokens),
		notes.WithChatMetrics(a.metrics),
	}
	if a.indexer != nil {
		copts = append(copts, notes.WithRetrieval(a.indexer, n.TopK))
	}
	a.chat = notes.NewChat(a.providers.LLM, a.store, copts...)
}

// initTranscription builds the batch and streaming clients for the
// transcription server.
func (a *App) initTranscription() error {
	t := a.cfg.Transcription
	batch, err := transcribe.NewHTTPClient(t.ServerURL, transcribe.WithHealthTimeout(t.HealthTimeout))
	if err != nil {
		return err
	}
	a.batch = batch

	streamURL, err := transcribe.StreamURL(t.ServerURL)
	if err != nil {
		return err
	}
	copts := []transcribe.Option{
		transcribe.WithConnectTimeout(t.ConnectTimeout),
		transcribe.WithStopTimeout(t.StopTimeout),
		transcribe.WithDefaultLanguage(t.Language),
	}
	if a.dialer != nil {
		copts = append(copts, transcribe.WithDialer(a.dialer))
	}
	a.stream, err = transcribe.NewClient(streamURL, copts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		a.stream.Close()
		return nil
	})
	return nil
}

// initCapture picks the capture agent and builds the coordinator that
// feeds its chunks into the live transcription client.
func (a *App) initCapture() error {
	c := a.cfg.Capture
	if a.agent == nil {
		switch c.Mode {
		case config.CaptureSocket:
			a.bridge = capture.NewSocketBridge(c.SocketPath)
			if err := a.bridge.Listen(); err != nil {
				return err
			}
			a.agent = a.bridge
			a.closers = append(a.closers, a.bridge.Close)
		default:
			a.agent = NewFFmpegAgent(c)
		}
	}

	a.coordinator = capture.NewCoordinator(a.agent, a.stream,
		capture.WithStopTimeout(c.StopTimeout),
		capture.WithFailureHandler(func(id string, err error) {
			slog.Error("capture failed while recording", "recording", id, "err", err)
		}),
	)
	return nil
}

// NewFFmpegAgent builds the in-process capture agent from the capture
// configuration. The capture-agent command uses it as well.
func NewFFmpegAgent(c config.CaptureConfig) *capture.FFmpegAgent {
	opts := []capture.FFmpegOption{
		capture.WithFFmpegCommand(c.FFmpegPath),
		capture.WithChunkDuration(c.ChunkDuration),
	}
	for src, args := range c.InputArgs {
		opts = append(opts, capture.WithInputArgs(capture.Source(src), args...))
	}
	return capture.NewFFmpegAgent(opts...)
}

// recorderIndexer avoids handing the recorder a typed nil.
func (a *App) recorderIndexer() recorder.Indexer {
	if a.indexer == nil {
		return nil
	}
	return a.indexer
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Store returns the meeting store.
func (a *App) Store() store.Store { return a.store }

// Vocabulary returns the live vocabulary. Configuration reloads replace its
// terms in place.
func (a *App) Vocabulary() *vocab.Store { return a.vocab }

// Corrector returns the transcript corrector.
func (a *App) Corrector() *transcript.Corrector { return a.corrector }

// Recorder returns the meeting recorder.
func (a *App) Recorder() *recorder.Recorder { return a.recorder }

// Indexer returns the transcript indexer, or nil without embeddings.
func (a *App) Indexer() *notes.Indexer { return a.indexer }

// Enhancer returns the note enhancer, or nil without an LLM.
func (a *App) Enhancer() *notes.Enhancer { return a.enhancer }

// Chat returns the meeting chat, or nil without an LLM.
func (a *App) Chat() *notes.Chat { return a.chat }

// Batch returns the batch transcription client.
func (a *App) Batch() *transcribe.HTTPClient { return a.batch }

// Checks returns the readiness checks of the application: storage and every
// provider fallback group.
func (a *App) Checks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"store": func(ctx context.Context) error {
			_, err := a.store.ListMeetings(ctx, store.ListOptions{Limit: 1})
			return err
		},
		"transcription": func(ctx context.Context) error {
			_, err := a.batch.Health(ctx)
			return err
		},
	}
	for name, check := range a.providers.Checks {
		checks[name] = check
	}
	return checks
}

// ─── Run / Shutdown ──────────────────────────────────────────────────────────

// Run serves the capture socket when capture runs out of process and
// otherwise just waits. It returns nil once ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.bridge != nil {
		slog.Info("waiting for capture agent", "socket", a.cfg.Capture.SocketPath)
		if err := a.bridge.Serve(ctx); err != nil {
			return fmt.Errorf("app: capture bridge: %w", err)
		}
	}
	<-ctx.Done()
	return nil
}

// Shutdown stops an active recording and releases all resources. It is safe
// to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		if _, active := a.recorder.Active(); active {
			slog.Info("shutdown: stopping active recording")
			if m, stopErr := a.recorder.Stop(ctx); stopErr != nil {
				slog.Warn("shutdown: recording stop failed", "err", stopErr)
			} else {
				slog.Info("shutdown: recording saved", "meeting", m.ID)
			}
		}
		err = a.closeAll()
	})
	return err
}

// closeAll runs the closers in reverse order.
func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("shutdown: closer error", "index", i, "err", err)
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
