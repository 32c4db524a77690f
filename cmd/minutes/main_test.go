package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/minutes/internal/vocab"
	"github.com/MrWong99/minutes/pkg/store"
)

const standupVTT = `WEBVTT

00:00:01.000 --> 00:00:04.000
<v Priya Raman>Morning everyone.

00:00:04.500 --> 00:00:07.000
<v Tomasz Nowak>Hi, quick update on the rollout.

00:00:07.500 --> 00:00:09.000
<v Priya Raman>Go ahead.
`

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	for _, args := range [][]string{nil, {"frobnicate"}, {"-nope"}} {
		if got := run(args); got != 2 {
			t.Errorf("run(%q) = %d, want 2", args, got)
		}
	}
}

func TestLookupCommand(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"record", "transcribe", "list", "enhance", "chat", "import-vtt", "capture-agent"} {
		if _, ok := lookupCommand(name); !ok {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestImportVTT_MergesIntoExistingFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	target := filepath.Join(dir, "vocab.yaml")
	if err := os.WriteFile(target, []byte("terms:\n  - term: Kubernetes\n    kind: product\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	vtt := filepath.Join(dir, "standup.vtt")
	if err := os.WriteFile(vtt, []byte(standupVTT), 0o644); err != nil {
		t.Fatal(err)
	}

	added, total, err := importVTT(context.Background(), target, []string{vtt})
	if err != nil {
		t.Fatalf("importVTT: %v", err)
	}
	if added != 2 || total != 3 {
		t.Errorf("added=%d total=%d, want 2 and 3", added, total)
	}

	vf, err := vocab.LoadFile(target)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	s := vocab.NewStore(vf.Terms...)
	for _, name := range []string{"Kubernetes", "Priya Raman", "Tomasz Nowak"} {
		if _, ok := s.Lookup(name); !ok {
			t.Errorf("%q missing from merged file", name)
		}
	}

	// A second import adds nothing new.
	added, _, err = importVTT(context.Background(), target, []string{vtt})
	if err != nil || added != 0 {
		t.Errorf("re-import added %d (err %v), want 0", added, err)
	}
}

func TestImportVTT_CreatesTarget(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	vtt := filepath.Join(dir, "a.vtt")
	if err := os.WriteFile(vtt, []byte(standupVTT), 0o644); err != nil {
		t.Fatal(err)
	}
	target := filepath.Join(dir, "nested", "people.yaml")

	if _, total, err := importVTT(context.Background(), target, []string{vtt}); err != nil || total != 2 {
		t.Fatalf("importVTT total=%d err=%v", total, err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("target not written: %v", err)
	}
}

func TestImportVTT_MissingInput(t *testing.T) {
	t.Parallel()

	target := filepath.Join(t.TempDir(), "vocab.yaml")
	if _, _, err := importVTT(context.Background(), target, []string{"/does/not/exist.vtt"}); err == nil {
		t.Fatal("importVTT succeeded with a missing file")
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("target written despite the failure")
	}
}

func TestWriteMeetingTable(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeMeetingTable(&buf, []store.Meeting{
		{ID: "m-1", Title: "Weekly sync", State: store.MeetingDone, StartedAt: start, EndedAt: start.Add(25 * time.Minute)},
		{ID: "m-2", State: store.MeetingRecording},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("table has %d lines, want header + 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "25m0s") || !strings.Contains(lines[1], "Weekly sync") {
		t.Errorf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "recording") {
		t.Errorf("row 2 = %q", lines[2])
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	if got := tail("short", 10); got != "short" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("0123456789", 5); got != "…6789" {
		t.Errorf("tail = %q, want …6789", got)
	}
}
