package openai

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestModelDimensions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
		{"some-future-model", 1536},
	}
	for _, tc := range tests {
		p := &Provider{model: tc.model}
		if got := p.Dimensions(); got != tc.want {
			t.Errorf("%s: Dimensions() = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Error("expected error for empty API key")
	}

	p, err := New("sk-test", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, p.ModelID())
	}

	short, err := New("sk-test", "text-embedding-3-large", WithDimensions(768), WithOrganization("org-123"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if short.Dimensions() != 768 {
		t.Errorf("Dimensions() = %d, want 768", short.Dimensions())
	}

	ada, err := New("sk-test", "text-embedding-ada-002", WithDimensions(768))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ada.Dimensions() != 1536 {
		t.Errorf("ada-002 must ignore WithDimensions, got %d", ada.Dimensions())
	}
}

func TestToFloat32(t *testing.T) {
	t.Parallel()

	in := []float64{1.0, 2.5, -0.5}
	out := toFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("expected %d elements, got %d", len(in), len(out))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("index %d: expected %v, got %v", i, float32(in[i]), v)
		}
	}
}

func TestEmbedBatch_ReordersByIndex(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Dimensions != 256 {
			t.Errorf("dimensions = %d, want 256", req.Dimensions)
		}
		w.Header().Set("Content-Type", "application/json")
		// Answer out of order; the provider must place vectors by index.
		fmt.Fprint(w, `{"object":"list","model":"text-embedding-3-small","data":[`+
			`{"object":"embedding","index":1,"embedding":[2]},`+
			`{"object":"embedding","index":0,"embedding":[1]}],`+
			`"usage":{"prompt_tokens":2,"total_tokens":2}}`)
	}))
	t.Cleanup(srv.Close)

	p, err := New("sk-test", "text-embedding-3-small", WithBaseURL(srv.URL+"/"), WithDimensions(256))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vecs, err := p.EmbedBatch(t.Context(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vectors = %v, want [[1] [2]]", vecs)
	}
}
