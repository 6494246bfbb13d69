package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultScriptTimeout bounds a single scoring invocation. The scorer is a
// hot path; a slow collaborator must not stall interception.
const DefaultScriptTimeout = 5 * time.Second

// SubprocessScorer invokes the classifier script as a child process. The
// command transits the boundary base64-encoded to avoid shell-escaping
// hazards, and the response is a single JSON object on stdout.
type SubprocessScorer struct {
	python     string
	scriptPath string
	size       Size
	thresholds Thresholds
	timeout    time.Duration
	logger     *log.Logger
}

// SubprocessOption configures a SubprocessScorer.
type SubprocessOption func(*SubprocessScorer)

// WithPython sets the interpreter binary (default "python3").
func WithPython(bin string) SubprocessOption {
	return func(s *SubprocessScorer) { s.python = bin }
}

// WithSize selects the embedding model size.
func WithSize(size Size) SubprocessOption {
	return func(s *SubprocessScorer) { s.size = size }
}

// WithThresholds overrides the calibrated thresholds.
func WithThresholds(th Thresholds) SubprocessOption {
	return func(s *SubprocessScorer) { s.thresholds = th }
}

// WithScriptTimeout overrides the per-invocation timeout.
func WithScriptTimeout(d time.Duration) SubprocessOption {
	return func(s *SubprocessScorer) { s.timeout = d }
}

// WithSubprocessLogger sets a custom logger.
func WithSubprocessLogger(l *log.Logger) SubprocessOption {
	return func(s *SubprocessScorer) { s.logger = l }
}

// NewSubprocessScorer creates a scorer that shells out to the classifier
// script at scriptPath.
func NewSubprocessScorer(scriptPath string, opts ...SubprocessOption) (*SubprocessScorer, error) {
	s := &SubprocessScorer{
		python:     "python3",
		scriptPath: scriptPath,
		size:       SizeSmall,
		thresholds: DefaultThresholds(),
		timeout:    DefaultScriptTimeout,
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
func (s *SubprocessScorer) Score(ctx context.Context, command string) (*Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	encoded := base64.StdEncoding.EncodeToString([]byte(command))
	cmd := exec.CommandContext(ctx, s.python, s.scriptPath,
		"--base64", encoded, "--model", string(s.size))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%w: scoring timed out after %s", ErrModelUnavailable, s.timeout)
	}
	if err != nil {
		s.logger.Debug("classifier subprocess failed",
			"err", err, "stderr", truncate(stderr.String(), 200))
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	var resp wireResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrModelUnavailable, err)
	}

	verdict, err := normalize(&resp, s.thresholds)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("classifier scored command",
		"risk", verdict.Risk, "confidence", verdict.Confidence,
		"coverage", verdict.Coverage, "elapsed", elapsed)
	return verdict, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
