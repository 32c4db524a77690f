package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/minutes/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got := convertMessage(llm.Message{Role: role, Content: "Hello!"})
		if got.Role != role {
			t.Errorf("expected role %q, got %q", role, got.Role)
		}
		if got.ContentString() != "Hello!" {
			t.Errorf("%s: expected content %q, got %q", role, "Hello!", got.ContentString())
		}
	}
}

func TestBuildParams(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "llama3.1"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "Be brief.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Summarise"}},
		Temperature:  0.2,
		MaxTokens:    256,
	})
	if params.Model != "llama3.1" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("expected system prompt first, got %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}

	bare := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if bare.Temperature != nil || bare.MaxTokens != nil {
		t.Error("zero temperature and max tokens must be left unset")
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model     string
		context   int
		maxOutput int
	}{
		{"gpt-4o-mini", 128_000, 16_384},
		{"gpt-4", 8_192, 4_096},
		{"claude-sonnet-4-5", 200_000, 8_192},
		{"claude-3-opus-20240229", 200_000, 4_096},
		{"gemini-1.5-pro", 2_097_152, 8_192},
		{"gemini-2.0-flash", 1_048_576, 8_192},
		{"llama3.1:8b", 8_192, 2_048},
		{"GPT-4O", 128_000, 16_384},
		{"my-custom-model", 128_000, 4_096},
	}
	for _, tc := range tests {
		t.Run(tc.model, func(t *testing.T) {
			caps := modelCapabilities(tc.model)
			if caps.ContextWindow != tc.context {
				t.Errorf("ContextWindow = %d, want %d", caps.ContextWindow, tc.context)
			}
			if caps.MaxOutputTokens != tc.maxOutput {
				t.Errorf("MaxOutputTokens = %d, want %d", caps.MaxOutputTokens, tc.maxOutput)
			}
			if !caps.SupportsStreaming {
				t.Error("expected SupportsStreaming=true")
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name string
		fn   func() (*Provider, error)
	}{
		{"openai", func() (*Provider, error) { return New("OpenAI", "gpt-4o", anyllmlib.WithAPIKey("sk-test")) }},
		{"anthropic", func() (*Provider, error) {
			return New("anthropic", "claude-sonnet-4-5", anyllmlib.WithAPIKey("sk-ant-test"))
		}},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3") }},
		{"llamacpp", func() (*Provider, error) { return New("llamacpp", "llama3") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Name() != tt.name {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.name)
			}
		})
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

func TestCountTokens(t *testing.T) {
	t.Parallel()

	p := &Provider{model: "gpt-4o"}
	if n, _ := p.CountTokens(nil); n != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", n)
	}
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi there, how can I help?"},
	}
	two, _ := p.CountTokens(msgs)
	one, _ := p.CountTokens(msgs[:1])
	if two <= one {
		t.Errorf("expected more tokens for two messages than one: %d <= %d", two, one)
	}
}
