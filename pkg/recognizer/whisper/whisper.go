// Package whisper provides a recognizer backed by a running whisper.cpp
// server (the whisper-server binary exposing POST /inference).
//
// Audio is wrapped in a WAV container and uploaded as multipart/form-data
// with response_format=verbose_json so segment timings come back alongside
// the text.
//
// Usage:
//
//	r, err := whisper.New("http://localhost:8080", whisper.WithModel("base.en"))
//	res, err := r.Recognize(ctx, pcm, recognizer.Options{Language: "en"})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/recognizer"
)

const defaultTimeout = 2 * time.Minute

// Compile-time assertion that Recognizer implements recognizer.Recognizer.
var _ recognizer.Recognizer = (*Recognizer)(nil)

// Option is a functional option for configuring a Recognizer.
type Option func(*Recognizer)

// WithModel sets the model identifier forwarded to the whisper.cpp server
// (e.g., "base.en", "small"). When empty the server uses whichever model it
// was started with.
func WithModel(model string) Option {
	return func(r *Recognizer) {
		r.model = model
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 2 minutes.
func WithTimeout(d time.Duration) Option {
	return func(r *Recognizer) {
		if d > 0 {
			r.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client used for inference requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Recognizer) {
		if hc != nil {
			r.httpClient = hc
		}
	}
}

// Recognizer implements recognizer.Recognizer against a whisper.cpp HTTP
// server. It holds no per-request state and is safe for concurrent use.
type Recognizer struct {
	serverURL  string
	model      string
	httpClient *http.Client
}

// New creates a Recognizer for the whisper.cpp server at serverURL
// (e.g., "http://localhost:8080"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Recognizer, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	r := &Recognizer{
		serverURL:  strings.TrimSuffix(serverURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Info implements recognizer.Recognizer.
func (r *Recognizer) Info() recognizer.Info {
	model := r.model
	if model == "" {
		model = "server-default"
	}
	return recognizer.Info{Name: "whisper", Model: model, Device: "remote"}
}

// Recognize encodes pcm as a WAV file and POSTs it to the whisper.cpp
// /inference endpoint.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	wav := audio.EncodeWAV(pcm, audio.Speech)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := [][2]string{
		{"response_format", "verbose_json"},
		{"temperature", "0.0"},
		{"language", opts.Language},
		{"prompt", opts.Prompt},
		{"model", r.model},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("whisper: write %s field: %w", f[0], err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisper: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.serverURL+"/inference", &body)
	if err != nil {
		return nil, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whisper: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	res, err := parseVerbose(data)
	if err != nil {
		return nil, err
	}
	if res.Duration == 0 {
		res.Duration = audio.Speech.Duration(len(pcm))
	}
	if res.Language == "" {
		res.Language = opts.Language
	}
	return res, nil
}

// verboseResponse is the verbose_json shape shared by whisper.cpp and the
// OpenAI transcription API. Plain {"text": ...} bodies decode into it too.
type verboseResponse struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID           int     `json:"id"`
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		AvgLogprob   float64 `json:"avg_logprob"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// parseVerbose decodes a verbose_json body. Segment confidence is derived
// from the average token log-probability.
func parseVerbose(data []byte) (*recognizer.Result, error) {
	var v verboseResponse
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	res := &recognizer.Result{
		Text:     strings.TrimSpace(v.Text),
		Language: v.Language,
		Duration: seconds(v.Duration),
	}
	for _, s := range v.Segments {
		seg := recognizer.Segment{
			ID:    s.ID,
			Start: seconds(s.Start),
			End:   seconds(s.End),
			Text:  strings.TrimSpace(s.Text),
		}
		if s.AvgLogprob != 0 {
			seg.Confidence = math.Min(1, math.Exp(s.AvgLogprob))
		}
		res.Segments = append(res.Segments, seg)
	}
	if res.Text == "" && len(res.Segments) > 0 {
		res.Text = recognizer.JoinSegments(res.Segments)
	}
	return res, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
