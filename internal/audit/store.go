package audit

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/the-radar/deliberate/internal/risk"
)

// ErrCaseNotFound is returned when a review case does not exist.
var ErrCaseNotFound = errors.New("review case not found")

// ErrCaseResolved is returned when approving or rejecting a case that was
// already decided.
var ErrCaseResolved = errors.New("review case already resolved")

// Case statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Case is a reviewable uncertain classification. Approving it with a label
// turns it into a training example for the next model calibration run.
type Case struct {
	ID              string
	Command         string
	ModelLabel      risk.Level
	ModelConfidence float64
	ModelCoverage   float64
	SuggestedLabel  *risk.Level
	FinalLabel      *risk.Level
	Status          string
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

// Store persists review cases in sqlite and exports approved labels to a
// training JSONL file.
type Store struct {
	db           *sql.DB
	trainingFile string
}

const schema = `
CREATE TABLE IF NOT EXISTS review_cases (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	model_label TEXT NOT NULL,
	model_confidence REAL NOT NULL,
	model_coverage REAL NOT NULL,
	suggested_label TEXT,
	final_label TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_review_cases_status ON review_cases(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_review_cases_pending_command
	ON review_cases(command) WHERE status = 'pending';
`

// OpenStore opens (creating if needed) the review database and remembers
// the training JSONL path approved cases are appended to.
func OpenStore(dbPath, trainingFile string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening review database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing review schema: %w", err)
	}
	return &Store{db: db, trainingFile: trainingFile}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Enqueue adds one pending case. A command already pending review is not
// duplicated; the existing case is kept and no error is returned.
func (s *Store) Enqueue(c *Case) error {
	if c.Command == "" {
		return fmt.Errorf("command is required")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = StatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO review_cases (id, command, model_label, model_confidence, model_coverage, suggested_label, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Command, c.ModelLabel.String(), c.ModelConfidence, c.ModelCoverage,
		levelPtr(c.SuggestedLabel), c.Status, c.CreatedAt.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil
		}
		return fmt.Errorf("enqueueing review case: %w", err)
	}
	return nil
}

// ImportTrail moves trail records into the store. Records whose commands are
// already pending are skipped. Returns the number of newly enqueued cases.
func (s *Store) ImportTrail(records []*Record) (int, error) {
	added := 0
	for _, rec := range records {
		c := &Case{
			Command:         rec.Subject,
			ModelLabel:      rec.ModelRisk,
			ModelConfidence: rec.ModelConfidence,
			ModelCoverage:   rec.ModelCoverage,
			SuggestedLabel:  rec.ArbitrationRisk,
			CreatedAt:       rec.Timestamp,
		}
		before, err := s.exists(c.Command)
		if err != nil {
			return added, err
		}
		if before {
			continue
		}
		if err := s.Enqueue(c); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// GetCase retrieves a case by ID.
func (s *Store) GetCase(id string) (*Case, error) {
	row := s.db.QueryRow(`
		SELECT id, command, model_label, model_confidence, model_coverage, suggested_label, final_label, status, created_at, resolved_at
		FROM review_cases WHERE id = ?
	`, id)
	return scanCase(row)
}

// ListPending returns pending cases, oldest first.
func (s *Store) ListPending() ([]*Case, error) {
	return s.list(`WHERE status = 'pending' ORDER BY created_at ASC`)
}

// ListResolved returns decided cases, newest decision first.
func (s *Store) ListResolved() ([]*Case, error) {
	return s.list(`WHERE status != 'pending' ORDER BY resolved_at DESC`)
}

// Approve marks a pending case approved with the given label and appends a
// training example. Returns ErrCaseResolved if the case was already decided.
func (s *Store) Approve(id string, label risk.Level) (*Case, error) {
	c, err := s.resolve(id, StatusApproved, label)
	if err != nil {
		return nil, err
	}
	if err := s.appendTraining(c.Command, label); err != nil {
		return nil, fmt.Errorf("appending training example: %w", err)
	}
	return c, nil
}

// Reject marks a pending case rejected. Nothing is added to the training
// set; the case stays in the database for the record.
func (s *Store) Reject(id string) (*Case, error) {
	return s.resolve(id, StatusRejected, risk.Safe)
}

func (s *Store) resolve(id, status string, label risk.Level) (*Case, error) {
	c, err := s.GetCase(id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusPending {
		return nil, ErrCaseResolved
	}

	now := time.Now().UTC()
	var finalLabel any
	if status == StatusApproved {
		finalLabel = label.String()
	}
	result, err := s.db.Exec(`
		UPDATE review_cases SET status = ?, final_label = ?, resolved_at = ? WHERE id = ? AND status = 'pending'
	`, status, finalLabel, now.Format(time.RFC3339), id)
	if err != nil {
		return nil, fmt.Errorf("resolving review case: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrCaseResolved
	}

	c.Status = status
	c.ResolvedAt = &now
	if status == StatusApproved {
		l := label
		c.FinalLabel = &l
	}
	return c, nil
}

// trainingEntry matches the shape the model calibration pipeline consumes.
type trainingEntry struct {
	Command  string `json:"command"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

func (s *Store) appendTraining(command string, label risk.Level) error {
	if s.trainingFile == "" {
		return nil
	}
	// The external vocabulary is three-tier.
	name := strings.ToUpper(label.String())
	if label >= risk.High {
		name = "DANGEROUS"
	}
	line, err := json.Marshal(trainingEntry{
		Command:  command,
		Label:    name,
		Category: "active_learning",
	})
	if err != nil {
		return err
	}
	return appendLine(s.trainingFile, append(line, '\n'))
}

func (s *Store) exists(command string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM review_cases WHERE command = ? AND status = 'pending'`, command).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking pending case: %w", err)
	}
	return n > 0, nil
}

func (s *Store) list(where string) ([]*Case, error) {
	rows, err := s.db.Query(`
		SELECT id, command, model_label, model_confidence, model_coverage, suggested_label, final_label, status, created_at, resolved_at
		FROM review_cases ` + where)
	if err != nil {
		return nil, fmt.Errorf("querying review cases: %w", err)
	}
	defer rows.Close()

	var cases []*Case
	for rows.Next() {
		c, err := scanCaseRows(rows)
		if err != nil {
			return nil, err
		}
		cases = append(cases, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating review cases: %w", err)
	}
	return cases, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row *sql.Row) (*Case, error) {
	c, err := scanCaseFrom(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCaseNotFound
	}
	return c, err
}

func scanCaseRows(rows *sql.Rows) (*Case, error) {
	return scanCaseFrom(rows)
}

func scanCaseFrom(row rowScanner) (*Case, error) {
	var (
		c                Case
		modelLabel       string
		suggested, final sql.NullString
		createdAt        string
		resolvedAt       sql.NullString
	)
	err := row.Scan(&c.ID, &c.Command, &modelLabel, &c.ModelConfidence, &c.ModelCoverage,
		&suggested, &final, &c.Status, &createdAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	if c.ModelLabel, err = risk.ParseLevel(modelLabel); err != nil {
		return nil, fmt.Errorf("parsing model label: %w", err)
	}
	if suggested.Valid {
		l, err := risk.ParseLevel(suggested.String)
		if err != nil {
			return nil, fmt.Errorf("parsing suggested label: %w", err)
		}
		c.SuggestedLabel = &l
	}
	if final.Valid {
		l, err := risk.ParseLevel(final.String)
		if err != nil {
			return nil, fmt.Errorf("parsing final label: %w", err)
		}
		c.FinalLabel = &l
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resolved_at: %w", err)
		}
		c.ResolvedAt = &t
	}
	return &c, nil
}

func levelPtr(l *risk.Level) any {
	if l == nil {
		return nil
	}
	return l.String()
}

// isUniqueConstraintError checks for a unique constraint violation.
// modernc.org/sqlite reports these in the error message.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "FOREIGN KEY") {
		return false
	}
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
