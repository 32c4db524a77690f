package openai

import (
	"testing"
	"time"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New("", ""); err == nil {
		t.Fatal("expected error for empty apiKey")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	r, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info := r.Info(); info.Model != DefaultModel || info.Name != "openai" {
		t.Errorf("Info = %+v", info)
	}
}

func TestParseVerbose(t *testing.T) {
	raw := `{"task":"transcribe","language":"english","duration":2.5,"text":" Hello world.",
		"segments":[{"id":0,"start":0,"end":1.2,"text":" Hello","avg_logprob":-0.05},
		            {"id":1,"start":1.2,"end":2.5,"text":" world."}]}`
	res, err := parseVerbose(raw)
	if err != nil {
		t.Fatalf("parseVerbose: %v", err)
	}
	if res.Text != "Hello world." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Language = %q, want en", res.Language)
	}
	if res.Duration != 2500*time.Millisecond {
		t.Errorf("Duration = %v", res.Duration)
	}
	if len(res.Segments) != 2 || res.Segments[1].Start != 1200*time.Millisecond {
		t.Fatalf("Segments = %+v", res.Segments)
	}
	if c := res.Segments[0].Confidence; c < 0.95 || c > 0.96 {
		t.Errorf("Confidence = %v", c)
	}
}

func TestParseVerbose_Invalid(t *testing.T) {
	if _, err := parseVerbose(""); err == nil {
		t.Error("expected error for empty body")
	}
	if _, err := parseVerbose("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestLanguageCode(t *testing.T) {
	cases := map[string]string{
		"English": "en",
		"german":  "de",
		"klingon": "klingon",
		"":        "",
	}
	for in, want := range cases {
		if got := languageCode(in); got != want {
			t.Errorf("languageCode(%q) = %q, want %q", in, got, want)
		}
	}
}
