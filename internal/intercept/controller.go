// Package intercept ties the pipeline together: skip list, content
// extraction, layered classification, workflow detection, and the terminal
// approval gate. One Intercept call produces one allow-or-deny outcome.
package intercept

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/the-radar/deliberate/internal/engine"
	"github.com/the-radar/deliberate/internal/gate"
	"github.com/the-radar/deliberate/internal/pattern"
	"github.com/the-radar/deliberate/internal/risk"
)

// Request is one command awaiting interception.
type Request struct {
	Command    string
	SessionID  string
	WorkingDir string
}

// Outcome is the controller's single decision for a request.
type Outcome struct {
	// Allowed reports whether the command may execute.
	Allowed bool
	// HardBlock means the command was denied with no human override
	// offered. Callers surface this as the strongest refusal they have.
	HardBlock bool
	Verdict   *risk.Verdict
	// Gate is present when the approval prompt ran.
	Gate     *gate.Result
	Workflow []WorkflowHit
	Reason   string
}

// Controller orchestrates one interception pipeline. Construct once, use
// for many requests.
type Controller struct {
	skip       *pattern.SkipList
	engine     *engine.Engine
	gate       *gate.Gate
	historyDir string
	logger     *log.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithSkipList installs the fast-path skip list.
func WithSkipList(s *pattern.SkipList) ControllerOption {
	return func(c *Controller) { c.skip = s }
}

// WithGate installs the approval gate. Without one, every verdict that
// needs approval is denied.
func WithGate(g *gate.Gate) ControllerOption {
	return func(c *Controller) { c.gate = g }
}

// WithHistoryDir enables per-session workflow detection, persisting
// histories under dir.
func WithHistoryDir(dir string) ControllerOption {
	return func(c *Controller) { c.historyDir = dir }
}

// WithControllerLogger sets a custom logger.
func WithControllerLogger(l *log.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a Controller over the given engine.
func NewController(eng *engine.Engine, opts ...ControllerOption) *Controller {
	c := &Controller{
		engine: eng,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Intercept classifies the command and, when required, runs the approval
// gate. Denial is the default on every failure path.
func (c *Controller) Intercept(ctx context.Context, req *Request) *Outcome {
	command := strings.TrimSpace(req.Command)
	if command == "" {
		return &Outcome{Allowed: true, Reason: "empty command"}
	}

	// Fast path. Trivially safe read-only commands skip classification
	// entirely, but never when shell operators could smuggle a second
	// command behind the safe prefix.
	if c.skip != nil && c.skip.ShouldSkip(command) {
		return &Outcome{
			Allowed: true,
			Reason:  "safe-listed command",
			Verdict: &risk.Verdict{
				Subject: command, Kind: risk.SubjectCommand,
				Risk: risk.Safe, Confidence: 1.0, Coverage: 1.0,
				Source: risk.SourcePattern, Reason: "safe-listed command",
			},
		}
	}

	verdict := c.engine.ClassifyCommand(ctx, command)

	// A script body or inline write is classified on its own; the worse
	// of the two verdicts stands. Inline writes stay overridable no matter
	// what the content matched: writing a malicious script to disk is not
	// executing it, so the human is asked, never refused outright.
	if content, inline := c.extractContent(command); content != "" {
		cv := c.engine.ClassifyContent(ctx, content)
		if cv.Risk > verdict.Risk {
			c.logger.Debug("content classification raised risk",
				"from", verdict.Risk, "to", cv.Risk)
			merged := *cv
			merged.Subject = command
			merged.Kind = risk.SubjectCommand
			if inline {
				merged.Reason = fmt.Sprintf("inline content: %s", cv.Reason)
				merged.CanOverride = true
			} else {
				merged.Reason = fmt.Sprintf("script content: %s", cv.Reason)
				merged.CanOverride = cv.CanOverride && verdict.CanOverride
			}
			verdict = &merged
		}
	}

	// Workflow escalation only ever raises risk.
	var history *History
	var hits []WorkflowHit
	if c.historyDir != "" && req.SessionID != "" {
		history = OpenHistory(c.historyDir, req.SessionID)
		hits = history.DetectWorkflows(command)
		for _, hit := range hits {
			if hit.Risk > verdict.Risk {
				escalated := *verdict
				escalated.Risk = hit.Risk
				escalated.Reason = fmt.Sprintf("dangerous workflow %s: %s", hit.Name, hit.Description)
				escalated.CanOverride = hit.Risk < risk.Critical && verdict.CanOverride
				verdict = &escalated
			}
		}

		// Cumulative session risk raises the bar only for commands that
		// already need attention; a safe verdict is never escalated.
		if verdict.NeedsApproval() {
			if cum := history.Cumulative(verdict.Risk); cum > verdict.Risk {
				escalated := *verdict
				escalated.Risk = cum
				escalated.Reason = fmt.Sprintf("%s (escalated by cumulative session risk)", verdict.Reason)
				verdict = &escalated
			}
		}
	}

	outcome := c.decide(ctx, req, verdict)
	outcome.Workflow = hits
	if history != nil {
		history.Record(command, verdict.Risk, outcome.Allowed, hits)
	}
	return outcome
}

func (c *Controller) decide(ctx context.Context, req *Request, verdict *risk.Verdict) *Outcome {
	if !verdict.NeedsApproval() {
		return &Outcome{Allowed: true, Verdict: verdict, Reason: verdict.Reason}
	}

	if verdict.Blocked() {
		c.logger.Warn("command blocked outright",
			"command", verdict.Subject, "risk", verdict.Risk)
		return &Outcome{
			Verdict:   verdict,
			HardBlock: true,
			Reason:    verdict.Reason,
		}
	}

	if c.gate == nil {
		return &Outcome{
			Verdict: verdict,
			Reason:  "approval required but no terminal gate configured",
		}
	}

	res := c.gate.Ask(ctx, &gate.Request{
		Command:    verdict.Subject,
		WorkingDir: req.WorkingDir,
		User:       currentUser(),
		Elevated:   strings.HasPrefix(verdict.Subject, "sudo ") || os.Geteuid() == 0,
		Risk:       verdict.Risk,
		Reason:     verdict.Reason,
	})

	if !res.Decision.IsApproved() {
		return &Outcome{
			Verdict: verdict,
			Gate:    res,
			Reason:  fmt.Sprintf("approval %s: %s", res.Decision, res.Reason),
		}
	}
	return &Outcome{
		Allowed: true,
		Verdict: verdict,
		Gate:    res,
		Reason:  "approved at terminal",
	}
}

// extractContent returns the script body or inline payload a command
// carries, and whether it came from an inline write rather than an
// execution.
func (c *Controller) extractContent(command string) (content string, inline bool) {
	if content := ExtractScriptContent(command); content != "" {
		return content, false
	}
	return ExtractInlineContent(command), true
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}
