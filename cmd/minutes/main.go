// Command minutes records meetings, transcribes them through a minutes-server
// and turns the transcript into notes.
//
// Usage:
//
//	minutes [-config minutes.yaml] <command> [flags] [args]
//
// Commands:
//
//	record         record a meeting until interrupted
//	transcribe     transcribe an audio file into a new meeting
//	list           list stored meetings
//	enhance        rewrite a meeting's notes with the LLM
//	chat           ask questions about a meeting
//	import-vtt     harvest speaker names from WebVTT files into a vocabulary file
//	capture-agent  run the audio capture process for socket capture mode
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/config"
	"github.com/MrWong99/minutes/internal/observe"
)

// command is one CLI subcommand. args excludes the command name.
type command struct {
	name    string
	summary string
	run     func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"record", "record a meeting until interrupted", runRecord},
	{"transcribe", "transcribe an audio file into a new meeting", runTranscribe},
	{"list", "list stored meetings", runList},
	{"enhance", "rewrite a meeting's notes with the LLM", runEnhance},
	{"chat", "ask questions about a meeting", runChat},
	{"import-vtt", "harvest speaker names from WebVTT files into a vocabulary file", runImportVTT},
	{"capture-agent", "run the audio capture process for socket capture mode", runCaptureAgent},
}

// env carries what every command shares.
type env struct {
	configPath string
	cfg        *config.Config
	level      *slog.LevelVar
	stdin      io.Reader
	stdout     io.Writer
}

// ErrUsage marks command line mistakes; main prints usage for them.
var ErrUsage = errors.New("usage error")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// ── Global flags ──────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("minutes", flag.ContinueOnError)
	configPath := fs.String("config", "minutes.yaml", "path to the YAML configuration file")
	verbose := fs.Bool("v", false, "log at debug level")
	fs.Usage = func() { usage(fs.Output()) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(os.Stderr)
		return 2
	}

	cmd, ok := lookupCommand(fs.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "minutes: unknown command %q\n\n", fs.Arg(0))
		usage(os.Stderr)
		return 2
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutes: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(config.SlogLevel(cfg.Server.LogLevel))
	if *verbose {
		level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := &env{
		configPath: *configPath,
		cfg:        cfg,
		level:      &level,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
	}
	err = cmd.run(ctx, e, fs.Args()[1:])
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "minutes %s: %v\n", cmd.name, err)
		if errors.Is(err, ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: minutes [-config file] [-v] <command> [flags] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'minutes <command> -h' for the flags of a command.")
}

// loadConfig reads path, falling back to the defaults when it does not exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.LoadFromReader(strings.NewReader(""))
	}
	return cfg, err
}

// newFlagSet returns a flag set for a subcommand that reports errors instead
// of exiting.
func newFlagSet(name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet("minutes "+name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: minutes %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
}

// ── Application wiring ────────────────────────────────────────────────────────

// openApp builds providers and the application from the loaded config.
// The returned shutdown function must be called when the command is done.
func openApp(ctx context.Context, e *env) (*app.App, func(), error) {
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	providers, err := app.BuildProviders(e.cfg, reg, observe.DefaultMetrics())
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, e.cfg, providers, app.WithLogLevel(e.level))
	if err != nil {
		return nil, nil, err
	}
	shutdown := func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Shutdown(sctx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}
	return a, shutdown, nil
}
