// Package audit owns the active-learning trail: every case the semantic
// layer was uncertain about is recorded for later review and retraining.
// Records are append-only. The trail never blocks or fails a classification;
// a sink that cannot be written is logged and skipped.
package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/the-radar/deliberate/internal/risk"
)

// Record captures one arbitration event. Written once, never updated.
type Record struct {
	ID              string     `json:"id"`
	Subject         string     `json:"subject"`
	ModelRisk       risk.Level `json:"model_risk"`
	ModelConfidence float64    `json:"model_confidence"`
	ModelCoverage   float64    `json:"model_coverage"`
	NearestExample  string     `json:"nearest_example,omitempty"`
	NearestLabel    string     `json:"nearest_label,omitempty"`
	// ArbitrationRisk is nil when arbitration was unavailable or failed.
	ArbitrationRisk *risk.Level `json:"arbitration_risk,omitempty"`
	Agreed          bool        `json:"agreed"`
	Timestamp       time.Time   `json:"timestamp"`
}

// Trail appends records to two JSONL sinks: a runtime log for debugging and
// a pending-review queue an admin later approves or rejects cases from.
type Trail struct {
	mu         sync.Mutex
	runtimeLog string
	reviewLog  string
	logger     *log.Logger
}

// TrailOption configures a Trail.
type TrailOption func(*Trail)

// WithTrailLogger sets a custom logger.
func WithTrailLogger(l *log.Logger) TrailOption {
	return func(t *Trail) { t.logger = l }
}

// NewTrail creates a trail writing to the given JSONL files. Parent
// directories are created on first append, not here, so constructing a
// trail never fails.
func NewTrail(runtimeLog, reviewLog string, opts ...TrailOption) *Trail {
	t := &Trail{
		runtimeLog: runtimeLog,
		reviewLog:  reviewLog,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append records one uncertain case in both sinks. Sink failures are logged
// and swallowed: the audit trail must never abort a classification.
func (t *Trail) Append(rec *Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(rec)
	if err != nil {
		t.logger.Warn("encoding audit record", "err", err)
		return
	}
	line = append(line, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, path := range []string{t.runtimeLog, t.reviewLog} {
		if path == "" {
			continue
		}
		if err := appendLine(path, line); err != nil {
			t.logger.Warn("writing audit record", "path", path, "err", err)
		}
	}
}

// ReadPending returns all records currently in the review queue. Malformed
// lines are skipped.
func (t *Trail) ReadPending() ([]*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.reviewLog)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading review queue: %w", err)
	}
	return decodeRecords(data), nil
}

func decodeRecords(data []byte) []*Record {
	var records []*Record
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			break
		}
		records = append(records, &rec)
	}
	return records
}

func appendLine(path string, line []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	_, werr := f.Write(line)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
