package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/minutes/internal/app"
	"github.com/MrWong99/minutes/internal/capture"
	"github.com/MrWong99/minutes/internal/vocab"
	"github.com/MrWong99/minutes/pkg/provider/llm"
	"github.com/MrWong99/minutes/pkg/store"
)

// ── record ────────────────────────────────────────────────────────────────────

func runRecord(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("record", "")
	title := fs.String("title", "", "meeting title")
	meetingID := fs.String("meeting", "", "record into this meeting id (default: new meeting)")
	language := fs.String("language", "", "spoken language (default: transcription.language)")
	source := fs.String("source", e.cfg.Capture.Source, "capture source: microphone, system or both")
	notesFile := fs.String("notes", "", "file with your own notes to attach")
	stopTimeout := fs.Duration("stop-timeout", 10*time.Minute, "bound on final transcription after stopping")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	src, err := capture.ParseSource(*source)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	a, shutdown, err := openApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown()
	if err := a.WatchConfig(e.configPath); err != nil {
		slog.Debug("config watcher disabled", "err", err)
	}

	// The capture bridge must outlive the interrupt so the agent can deliver
	// the final recording.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	var g errgroup.Group
	g.Go(func() error { return a.Run(runCtx) })

	rec := a.Recorder()
	m, err := rec.Start(ctx, *meetingID, *language, src)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "Recording meeting %s (%s, %s). Press Ctrl+C to stop.\n", m.ID, m.Language, m.Source)

	followLive(ctx, e.stdout, rec.Live)

	fmt.Fprintln(e.stdout, "\nStopping, finishing the transcript...")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), *stopTimeout)
	defer cancel()
	m, stopErr := rec.Stop(sctx)
	if m != nil {
		if err := annotate(sctx, a.Store(), m, *title, *notesFile); err != nil {
			slog.Warn("could not save title or notes", "meeting", m.ID, "err", err)
		}
		printMeeting(e.stdout, m)
	}
	cancelRun()
	if err := g.Wait(); err != nil {
		slog.Warn("capture bridge stopped with error", "err", err)
	}
	return stopErr
}

// followLive prints the live transcript whenever it grows until ctx ends.
func followLive(ctx context.Context, w io.Writer, live func() string) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	var last string
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			text := live()
			if text == last {
				continue
			}
			fmt.Fprintf(w, "\r\033[K%s", tail(text, 120))
			last = text
		}
	}
}

// tail returns the last n runes of s, prefixed with an ellipsis when cut.
func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "…" + string(r[len(r)-n+1:])
}

// annotate stores title and notes set on the command line.
func annotate(ctx context.Context, ms store.MeetingStore, m *store.Meeting, title, notesFile string) error {
	if title == "" && notesFile == "" {
		return nil
	}
	if title != "" {
		m.Title = title
	}
	if notesFile != "" {
		data, err := os.ReadFile(notesFile)
		if err != nil {
			return err
		}
		m.Notes = string(data)
	}
	return ms.UpdateMeeting(ctx, m)
}

// ── transcribe ────────────────────────────────────────────────────────────────

func runTranscribe(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("transcribe", "<audio-file>")
	title := fs.String("title", "", "meeting title (default: file name)")
	language := fs.String("language", "", "spoken language (default: transcription.language)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: exactly one audio file expected", ErrUsage)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	a, shutdown, err := openApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown()

	fmt.Fprintf(e.stdout, "Transcribing %s (%d KiB)...\n", filepath.Base(path), len(data)>>10)
	m, err := a.Recorder().TranscribeFile(ctx, *title, filepath.Base(path), data, *language)
	if m != nil {
		printMeeting(e.stdout, m)
	}
	return err
}

// ── list ──────────────────────────────────────────────────────────────────────

func runList(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("list", "")
	limit := fs.Int("n", 20, "maximum number of meetings")
	state := fs.String("state", "", "only meetings in this state (recording, processing, done, failed)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, shutdown, err := openApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown()

	ms, err := a.Store().ListMeetings(ctx, store.ListOptions{
		State: store.MeetingState(*state),
		Limit: *limit,
	})
	if err != nil {
		return err
	}
	writeMeetingTable(e.stdout, ms)
	return nil
}

func writeMeetingTable(w io.Writer, ms []store.Meeting) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tDURATION\tSTATE\tTITLE")
	for _, m := range ms {
		started := "-"
		if !m.StartedAt.IsZero() {
			started = m.StartedAt.Local().Format("2006-01-02 15:04")
		}
		dur := "-"
		if d := m.Duration(); d > 0 {
			dur = d.Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", m.ID, started, dur, m.State, m.Title)
	}
	tw.Flush()
}

func printMeeting(w io.Writer, m *store.Meeting) {
	fmt.Fprintf(w, "\nMeeting %s: %s", m.ID, m.State)
	if d := m.Duration(); d > 0 {
		fmt.Fprintf(w, ", %s", d.Round(time.Second))
	}
	fmt.Fprintln(w)
	if m.AudioPath != "" {
		fmt.Fprintf(w, "Audio: %s\n", m.AudioPath)
	}
	if m.Transcript != "" {
		fmt.Fprintf(w, "\n%s\n", m.Transcript)
	}
}

// ── enhance ───────────────────────────────────────────────────────────────────

func runEnhance(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("enhance", "<meeting-id>")
	notesFile := fs.String("notes", "", "replace the meeting's raw notes with this file first")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("%w: exactly one meeting id expected", ErrUsage)
	}

	a, shutdown, err := openApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown()
	if a.Enhancer() == nil {
		return errors.New("no LLM provider configured (providers.llm)")
	}

	m, err := a.Store().GetMeeting(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if *notesFile != "" {
		data, err := os.ReadFile(*notesFile)
		if err != nil {
			return err
		}
		m.Notes = string(data)
	}

	out, err := a.Enhancer().Enhance(ctx, m)
	if err != nil {
		return err
	}
	m.EnhancedNotes = out
	if err := a.Store().UpdateMeeting(ctx, m); err != nil {
		return err
	}
	fmt.Fprintln(e.stdout, out)
	return nil
}

// ── chat ──────────────────────────────────────────────────────────────────────

func runChat(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("chat", "<meeting-id> [question]")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return fmt.Errorf("%w: meeting id expected", ErrUsage)
	}
	meetingID := fs.Arg(0)

	a, shutdown, err := openApp(ctx, e)
	if err != nil {
		return err
	}
	defer shutdown()
	if a.Chat() == nil {
		return errors.New("no LLM provider configured (providers.llm)")
	}

	if q := strings.Join(fs.Args()[1:], " "); q != "" {
		_, err := ask(ctx, a, e.stdout, meetingID, nil, q)
		return err
	}

	fmt.Fprintln(e.stdout, "Ask about the meeting. An empty line or Ctrl+D ends the chat.")
	var history []llm.Message
	sc := bufio.NewScanner(e.stdin)
	for {
		fmt.Fprint(e.stdout, "> ")
		if !sc.Scan() {
			fmt.Fprintln(e.stdout)
			return sc.Err()
		}
		q := strings.TrimSpace(sc.Text())
		if q == "" {
			return nil
		}
		answer, err := ask(ctx, a, e.stdout, meetingID, history, q)
		if err != nil {
			return err
		}
		history = append(history,
			llm.Message{Role: llm.RoleUser, Content: q},
			llm.Message{Role: llm.RoleAssistant, Content: answer},
		)
	}
}

// ask streams one answer to w and returns it.
func ask(ctx context.Context, a *app.App, w io.Writer, meetingID string, history []llm.Message, question string) (string, error) {
	tokens, err := a.Chat().Ask(ctx, meetingID, history, question)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for tok := range tokens {
		sb.WriteString(tok)
		fmt.Fprint(w, tok)
	}
	fmt.Fprintln(w)
	return sb.String(), ctx.Err()
}

// ── import-vtt ────────────────────────────────────────────────────────────────

func runImportVTT(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("import-vtt", "<file.vtt>...")
	out := fs.String("o", "", "vocabulary file to merge into (default: first vocabulary.files entry)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("%w: at least one WebVTT file expected", ErrUsage)
	}
	target := *out
	if target == "" && len(e.cfg.Vocabulary.Files) > 0 {
		target = e.cfg.Vocabulary.Files[0]
	}
	if target == "" {
		return fmt.Errorf("%w: -o is required when no vocabulary file is configured", ErrUsage)
	}

	added, total, err := importVTT(ctx, target, fs.Args())
	if err != nil {
		return err
	}
	fmt.Fprintf(e.stdout, "%d new names, %d terms in %s\n", added, total, target)
	return nil
}

// importVTT merges the speakers of every WebVTT file into the vocabulary
// file at target, creating it if needed.
func importVTT(ctx context.Context, target string, files []string) (added, total int, err error) {
	s := vocab.NewStore()
	existing, err := vocab.LoadFile(target)
	switch {
	case err == nil:
		s.Add(existing.Terms...)
	case !errors.Is(err, os.ErrNotExist):
		return 0, 0, err
	}

	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return 0, 0, err
		}
		n, err := vocab.ImportVTT(ctx, s, f)
		f.Close()
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", path, err)
		}
		slog.Debug("imported speakers", "file", path, "new", n)
		added += n
	}

	data, err := yaml.Marshal(vocab.File{Terms: s.Terms()})
	if err != nil {
		return 0, 0, err
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, 0, err
		}
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return 0, 0, err
	}
	return added, s.Len(), nil
}

// ── capture-agent ─────────────────────────────────────────────────────────────

func runCaptureAgent(ctx context.Context, e *env, args []string) error {
	fs := newFlagSet("capture-agent", "")
	socket := fs.String("socket", e.cfg.Capture.SocketPath, "coordinator socket to connect to")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	agent := app.NewFFmpegAgent(e.cfg.Capture)
	client := capture.NewSocketAgentClient(*socket, agent)
	slog.Info("capture agent running", "socket", *socket, "ffmpeg", e.cfg.Capture.FFmpegPath)
	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
