package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Harness is a lightweight integration test environment.
//
// It provisions a temp project directory with a `.deliberate/` state dir and
// keeps cleanup automatic via t.TempDir.
type Harness struct {
	T            *testing.T
	ProjectDir   string
	StateDir     string
	DBPath       string
	TrainingPath string
	HistoryDir   string
}

func NewHarness(t *testing.T) *Harness {
	t.Helper()

	projectDir := t.TempDir()
	stateDir := filepath.Join(projectDir, ".deliberate")
	historyDir := filepath.Join(stateDir, "sessions")
	if err := os.MkdirAll(historyDir, 0750); err != nil {
		t.Fatalf("NewHarness: mkdir state dir: %v", err)
	}

	return &Harness{
		T:            t,
		ProjectDir:   projectDir,
		StateDir:     stateDir,
		DBPath:       filepath.Join(stateDir, "review.db"),
		TrainingPath: filepath.Join(stateDir, "training.jsonl"),
		HistoryDir:   historyDir,
	}
}

// MustPath joins ProjectDir with parts, failing the test on error.
func (h *Harness) MustPath(parts ...string) string {
	h.T.Helper()
	if h == nil || h.ProjectDir == "" {
		h.T.Fatalf("Harness.MustPath: harness not initialized")
	}
	all := append([]string{h.ProjectDir}, parts...)
	return filepath.Join(all...)
}

// WriteFile writes a file relative to the project directory.
func (h *Harness) WriteFile(rel string, data []byte, perm os.FileMode) string {
	h.T.Helper()
	if strings.TrimSpace(rel) == "" {
		h.T.Fatalf("Harness.WriteFile: rel path is required")
	}
	abs := h.MustPath(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0750); err != nil {
		h.T.Fatalf("Harness.WriteFile: mkdir: %v", err)
	}
	if err := os.WriteFile(abs, data, perm); err != nil {
		h.T.Fatalf("Harness.WriteFile: write: %v", err)
	}
	return abs
}

func (h *Harness) String() string {
	if h == nil {
		return "Harness<nil>"
	}
	return fmt.Sprintf("Harness(project=%s, db=%s)", h.ProjectDir, h.DBPath)
}
