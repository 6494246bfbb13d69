package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultClassifierURL is the classifier server's command endpoint.
const DefaultClassifierURL = "http://localhost:8765/classify/command"

// HTTPScorer talks to a long-running classifier server instead of spawning
// a subprocess per command. Preferred when the server is up: it avoids
// paying model-load time on every invocation.
type HTTPScorer struct {
	url        string
	size       Size
	thresholds Thresholds
	client     *http.Client
	logger     *log.Logger
}

// HTTPOption configures an HTTPScorer.
type HTTPOption func(*HTTPScorer)

// WithURL sets the classifier endpoint.
func WithURL(url string) HTTPOption {
	return func(s *HTTPScorer) { s.url = url }
}

// WithHTTPSize selects the embedding model size.
func WithHTTPSize(size Size) HTTPOption {
	return func(s *HTTPScorer) { s.size = size }
}

// WithHTTPThresholds overrides the calibrated thresholds.
func WithHTTPThresholds(th Thresholds) HTTPOption {
	return func(s *HTTPScorer) { s.thresholds = th }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPScorer) { s.client = c }
}

// WithHTTPLogger sets a custom logger.
func WithHTTPLogger(l *log.Logger) HTTPOption {
	return func(s *HTTPScorer) { s.logger = l }
}

// NewHTTPScorer creates a scorer backed by the classifier server.
func NewHTTPScorer(opts ...HTTPOption) (*HTTPScorer, error) {
	s := &HTTPScorer{
		url:        DefaultClassifierURL,
		size:       SizeSmall,
		thresholds: DefaultThresholds(),
		client:     &http.Client{Timeout: DefaultScriptTimeout},
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !ValidSize(s.size) {
		return nil, fmt.Errorf("invalid model size %q", s.size)
	}
	return s, nil
}

// Score implements Scorer.
func (s *HTTPScorer) Score(ctx context.Context, command string) (*Verdict, error) {
	body, err := json.Marshal(map[string]string{
		"command": command,
		"model":   string(s.size),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrModelUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: classifier returned status %d", ErrModelUnavailable, httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrModelUnavailable, err)
	}

	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrModelUnavailable, err)
	}

	verdict, err := normalize(&resp, s.thresholds)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("classifier server scored command",
		"risk", verdict.Risk, "coverage", verdict.Coverage,
		"elapsed", time.Since(start))
	return verdict, nil
}

// FallbackScorer tries the HTTP server first and falls back to the
// subprocess transport on any primary failure, a collaborator-reported
// error included. Only a cancelled context stops the second attempt.
type FallbackScorer struct {
	primary   Scorer
	secondary Scorer
	logger    *log.Logger
}

// NewFallbackScorer chains two transports.
func NewFallbackScorer(primary, secondary Scorer, logger *log.Logger) *FallbackScorer {
	if logger == nil {
		logger = log.Default()
	}
	return &FallbackScorer{primary: primary, secondary: secondary, logger: logger}
}

// Score implements Scorer.
func (f *FallbackScorer) Score(ctx context.Context, command string) (*Verdict, error) {
	v, err := f.primary.Score(ctx, command)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Debug("primary scorer failed, trying fallback", "err", err)
	return f.secondary.Score(ctx, command)
}
