package intercept

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/the-radar/deliberate/internal/risk"
)

// defaultWindowSize is how many recent commands participate in workflow
// detection. Older commands are stale context.
const defaultWindowSize = 3

// maxHistoryEntries caps the persisted per-session history.
const maxHistoryEntries = 100

// WorkflowPattern describes a dangerous multi-command sequence. Each
// element of Sequence must appear as a substring of successive commands in
// the window, in order.
type WorkflowPattern struct {
	Name        string
	Sequence    []string
	Risk        risk.Level
	Description string
}

// Individually reasonable commands compose into destructive workflows. A
// lone rm -rf of a subdirectory is overridable; rm -rf followed by a force
// push rewrites shared history with the deleted state.
var workflowPatterns = []WorkflowPattern{
	{"repo_wipe", []string{"git rm", "git push --force"}, risk.Critical,
		"removing files from git and force pushing rewrites history permanently"},
	{"repo_wipe", []string{"rm -rf", "git add", "git push --force"}, risk.Critical,
		"deleting files and force pushing can destroy code"},
	{"mass_delete", []string{"rm -rf", "rm -rf", "rm -rf"}, risk.High,
		"multiple recursive deletions in sequence"},
	{"history_rewrite", []string{"git reset --hard", "git push --force"}, risk.Critical,
		"hard reset plus force push permanently destroys commit history"},
	{"history_rewrite", []string{"git rebase", "git push --force"}, risk.Critical,
		"rebase plus force push rewrites shared history"},
	{"uncommitted_risk", []string{"git stash", "git checkout", "rm"}, risk.High,
		"stashing, switching branches, and deleting files puts uncommitted changes at risk"},
	{"temp_swap", []string{"cp", "rm -rf", "cp"}, risk.High,
		"copy to temp, delete original, copy back loses data on any misstep"},
	{"env_destruction", []string{"unset", "rm .env"}, risk.High,
		"unsetting variables and deleting env files"},
}

// HistoryEntry is one classified command in a session.
type HistoryEntry struct {
	Command   string     `json:"command"`
	Risk      risk.Level `json:"risk"`
	Approved  bool       `json:"approved"`
	Timestamp time.Time  `json:"timestamp"`
}

// WorkflowHit is one detected pattern.
type WorkflowHit struct {
	Name        string
	Risk        risk.Level
	Description string
}

// History tracks one session's command stream and the workflow patterns it
// has triggered. Persisted as JSON per session.
type History struct {
	mu        sync.Mutex
	sessionID string
	dir       string

	Commands []HistoryEntry `json:"commands"`
	// CumulativeRisk is the highest risk seen this session. It only rises.
	CumulativeRisk risk.Level `json:"cumulative_risk"`
	Patterns       []string   `json:"patterns_detected"`
	FilesAtRisk    []string   `json:"files_at_risk"`
}

// OpenHistory loads (or initializes) the history for a session.
func OpenHistory(dir, sessionID string) *History {
	h := &History{sessionID: sessionID, dir: dir}
	data, err := os.ReadFile(h.path())
	if err == nil {
		// A corrupt file starts the session over rather than failing.
		_ = json.Unmarshal(data, h)
	}
	return h
}

func (h *History) path() string {
	return filepath.Join(h.dir, fmt.Sprintf("session_%s.json", h.sessionID))
}

// DetectWorkflows checks the sliding window of recent commands plus the
// current one against the known dangerous sequences.
func (h *History) DetectWorkflows(current string) []WorkflowHit {
	h.mu.Lock()
	defer h.mu.Unlock()

	window := make([]string, 0, defaultWindowSize+1)
	start := len(h.Commands) - defaultWindowSize
	if start < 0 {
		start = 0
	}
	for _, e := range h.Commands[start:] {
		window = append(window, strings.ToLower(e.Command))
	}
	window = append(window, strings.ToLower(current))

	var hits []WorkflowHit
	for _, p := range workflowPatterns {
		if matchesSequence(window, p.Sequence) {
			hits = append(hits, WorkflowHit{Name: p.Name, Risk: p.Risk, Description: p.Description})
		}
	}
	return hits
}

// Cumulative folds the session's accumulated risk into the current level.
// The highest risk seen this session carries forward, and a streak of
// dangerous commands raises the floor further: five or more treats the
// session as critical, three or more as high.
func (h *History) Cumulative(current risk.Level) risk.Level {
	h.mu.Lock()
	defer h.mu.Unlock()

	level := risk.Max(current, h.CumulativeRisk)
	dangerous := 0
	for _, e := range h.Commands {
		if e.Risk >= risk.High {
			dangerous++
		}
	}
	switch {
	case dangerous >= 5:
		level = risk.Max(level, risk.Critical)
	case dangerous >= 3:
		level = risk.Max(level, risk.High)
	}
	return level
}

// matchesSequence reports whether every step appears, in order, across
// successive commands of the window.
func matchesSequence(window, sequence []string) bool {
	lastIdx := -1
	for _, step := range sequence {
		found := false
		for idx, cmd := range window {
			if idx > lastIdx && strings.Contains(cmd, strings.ToLower(step)) {
				found = true
				lastIdx = idx
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Record appends the classified command and persists the session file.
// Persistence failures are swallowed: history is advisory context, not a
// gate.
func (h *History) Record(command string, level risk.Level, approved bool, hits []WorkflowHit) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Commands = append(h.Commands, HistoryEntry{
		Command:   command,
		Risk:      level,
		Approved:  approved,
		Timestamp: time.Now().UTC(),
	})
	if len(h.Commands) > maxHistoryEntries {
		h.Commands = h.Commands[len(h.Commands)-maxHistoryEntries:]
	}
	h.CumulativeRisk = risk.Max(h.CumulativeRisk, level)
	for _, hit := range hits {
		if !contains(h.Patterns, hit.Name) {
			h.Patterns = append(h.Patterns, hit.Name)
		}
	}
	for _, p := range extractAffectedPaths(command) {
		if !contains(h.FilesAtRisk, p) {
			h.FilesAtRisk = append(h.FilesAtRisk, p)
		}
	}

	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(h.dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(h.path(), data, 0o644)
}

var (
	rmPathRe    = regexp.MustCompile(`rm\s+(?:-[rfivd]+\s+)*([^\s|;&>]+)`)
	gitRmPathRe = regexp.MustCompile(`git\s+rm\s+(?:-[rf]+\s+)*([^\s|;&>]+)`)
	mvPathRe    = regexp.MustCompile(`mv\s+(?:-[fiv]+\s+)*([^\s|;&>]+)\s+`)
)

// extractAffectedPaths pulls the paths destructive commands would touch.
func extractAffectedPaths(command string) []string {
	var paths []string
	for _, re := range []*regexp.Regexp{rmPathRe, gitRmPathRe, mvPathRe} {
		for _, m := range re.FindAllStringSubmatch(command, -1) {
			p := m[1]
			if strings.HasPrefix(p, "-") || p == "." || p == ".." || p == "/" {
				continue
			}
			paths = append(paths, p)
		}
	}
	return paths
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
