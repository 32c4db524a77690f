// Package openai provides a recognizer backed by the OpenAI audio
// transcription API (or any server compatible with it).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/minutes/pkg/audio"
	"github.com/MrWong99/minutes/pkg/recognizer"
)

// DefaultModel is the transcription model used when none is configured.
const DefaultModel = string(oai.AudioModelWhisper1)

// Ensure Recognizer implements the recognizer.Recognizer interface.
var _ recognizer.Recognizer = (*Recognizer)(nil)

// Recognizer implements recognizer.Recognizer using the OpenAI API.
type Recognizer struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the recognizer.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option is a functional option for Recognizer.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. to point at a
// self-hosted compatible server.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Recognizer. If model is empty, DefaultModel is used.
func New(apiKey string, model string, opts ...Option) (*Recognizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai recognizer: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Recognizer{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Info implements recognizer.Recognizer.
func (r *Recognizer) Info() recognizer.Info {
	return recognizer.Info{Name: "openai", Model: r.model, Device: "remote"}
}

// Recognize implements recognizer.Recognizer.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, opts recognizer.Options) (*recognizer.Result, error) {
	wav := audio.EncodeWAV(pcm, audio.Speech)

	params := oai.AudioTranscriptionNewParams{
		File:           oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model:          oai.AudioModel(r.model),
		ResponseFormat: oai.AudioResponseFormatVerboseJSON,
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}

	resp, err := r.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai recognizer: transcribe: %w", err)
	}

	res, err := parseVerbose(resp.RawJSON())
	if err != nil {
		// Servers that ignore response_format still return the text.
		res = &recognizer.Result{Text: strings.TrimSpace(resp.Text)}
	}
	if res.Language == "" {
		res.Language = opts.Language
	}
	if res.Duration == 0 {
		res.Duration = audio.Speech.Duration(len(pcm))
	}
	return res, nil
}

// verbose is the verbose_json transcription body.
type verbose struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		ID         int     `json:"id"`
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
	} `json:"segments"`
}

// parseVerbose decodes a verbose_json body. The API reports full language
// names ("english"); they are mapped to ISO 639-1 codes where known.
func parseVerbose(raw string) (*recognizer.Result, error) {
	if raw == "" {
		return nil, fmt.Errorf("openai recognizer: empty response body")
	}
	var v verbose
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("openai recognizer: parse response: %w", err)
	}
	res := &recognizer.Result{
		Text:     strings.TrimSpace(v.Text),
		Language: languageCode(v.Language),
		Duration: time.Duration(v.Duration * float64(time.Second)),
	}
	for _, s := range v.Segments {
		seg := recognizer.Segment{
			ID:    s.ID,
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Text:  strings.TrimSpace(s.Text),
		}
		if s.AvgLogprob != 0 {
			seg.Confidence = math.Min(1, math.Exp(s.AvgLogprob))
		}
		res.Segments = append(res.Segments, seg)
	}
	return res, nil
}

var languageCodes = map[string]string{
	"english":    "en",
	"german":     "de",
	"french":     "fr",
	"spanish":    "es",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"polish":     "pl",
	"japanese":   "ja",
	"chinese":    "zh",
}

func languageCode(name string) string {
	if code, ok := languageCodes[strings.ToLower(name)]; ok {
		return code
	}
	return name
}
