package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHealthTimeout = 2 * time.Second
	defaultBatchTimeout  = 5 * time.Minute
)

// Segment is one recognised span of a batch transcription. Start and End
// are seconds from the beginning of the file.
type Segment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// BatchResult is the response body of POST /transcribe.
type BatchResult struct {
	Success  bool      `json:"success"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
}

// HealthStatus is the response body of GET /health.
type HealthStatus struct {
	Status string `json:"status"`
	Model  string `json:"model,omitempty"`
	Device string `json:"device,omitempty"`
}

// HTTPOption is a functional option for configuring an [HTTPClient].
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client used for batch
// requests.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(c *HTTPClient) { c.httpClient = hc }
}

// WithHealthTimeout bounds a single health probe. Defaults to 2s.
func WithHealthTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// HTTPClient talks to the non-streaming endpoints of the transcription
// server: the health probe and batch file transcription.
type HTTPClient struct {
	baseURL       string
	httpClient    *http.Client
	healthTimeout time.Duration
}

// NewHTTPClient returns a client for the server at baseURL
// (e.g., "http://127.0.0.1:8765").
func NewHTTPClient(baseURL string, opts ...HTTPOption) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, errors.New("transcribe: server base URL must not be empty")
	}
	c := &HTTPClient{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		httpClient:    &http.Client{Timeout: defaultBatchTimeout},
		healthTimeout: defaultHealthTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Available reports whether the server answered GET /health with 200
// within the health timeout. Every failure, a timeout included, counts as
// unavailable.
func (c *HTTPClient) Available(ctx context.Context) bool {
	_, err := c.Health(ctx)
	return err == nil
}

// Health fetches the server's health document.
func (c *HTTPClient) Health(ctx context.Context) (*HealthStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("transcribe: create health request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transcribe: health returned HTTP %d", resp.StatusCode)
	}
	var st HealthStatus
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&st); err != nil {
		// A reachable server with an odd body is still reachable.
		return &HealthStatus{Status: "ok"}, nil
	}
	return &st, nil
}

// Transcribe uploads audio as a multipart file and returns the server's
// transcription. filename is only used for its extension, which hints the
// container format to the server. An empty language lets the server pick
// its default.
func (c *HTTPClient) Transcribe(ctx context.Context, filename string, audio io.Reader, language string) (*BatchResult, error) {
	if filename == "" {
		filename = "audio.wav"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("transcribe: create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return nil, fmt.Errorf("transcribe: copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("transcribe: close multipart writer: %w", err)
	}

	endpoint := c.baseURL + "/transcribe"
	if language != "" {
		endpoint += "?" + url.Values{"language": {language}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("transcribe: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transcribe: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var fail struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &fail) == nil && fail.Detail != "" {
			return nil, fmt.Errorf("transcribe: server returned HTTP %d: %s", resp.StatusCode, fail.Detail)
		}
		return nil, fmt.Errorf("transcribe: server returned HTTP %d", resp.StatusCode)
	}

	var result BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("transcribe: parse JSON response: %w", err)
	}
	return &result, nil
}
