// Package gate owns the terminal approval prompt. It opens the controlling
// terminal directly rather than trusting the process's stdio, drains
// pre-seeded keystrokes, reads the response in raw mode under a timeout,
// and validates that the answer plausibly came from a human. Every failure
// path denies.
package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/the-radar/deliberate/internal/bypass"
	"github.com/the-radar/deliberate/internal/risk"
)

// Decision is the single outcome of one gate invocation.
type Decision int

const (
	Denied Decision = iota
	Approved
	TimedOut
	Cancelled
	Errored
)

func (d Decision) String() string {
	switch d {
	case Approved:
		return "approved"
	case Denied:
		return "denied"
	case TimedOut:
		return "timeout"
	case Cancelled:
		return "cancelled"
	case Errored:
		return "error"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// IsApproved reports whether the decision permits execution. Everything
// that is not an explicit approval is a denial.
func (d Decision) IsApproved() bool {
	return d == Approved
}

// Result carries the decision and the evidence behind it.
type Result struct {
	Decision Decision
	// Response is the validated text the user typed, empty on denial paths.
	Response string
	// Latency is prompt-display to terminator wall-clock time.
	Latency time.Duration
	// Suspicious is set when the response was rejected for looking
	// machine-generated (too fast, or a bypass signal fired).
	Suspicious bool
	Reason     string
}

// Request describes what the user is asked to approve.
type Request struct {
	Command    string
	WorkingDir string
	User       string
	// Elevated marks sudo/root execution and is called out in the banner.
	Elevated bool
	Risk     risk.Level
	Reason   string
}

// Terminal abstracts the controlling terminal so the state machine is
// testable without a tty.
type Terminal interface {
	Write(p []byte) (int, error)
	// ReadByte returns the next input byte, honoring the deadline.
	ReadByte() (byte, error)
	// SetDeadline bounds subsequent reads.
	SetDeadline(t time.Time) error
	// Flush discards input already queued before the prompt appeared.
	Flush() error
	// Raw switches to raw mode and returns the restore function.
	Raw() (restore func() error, err error)
	Close() error
}

const (
	// DefaultTimeout bounds AwaitResponse.
	DefaultTimeout = 30 * time.Second
	// DefaultMinLatency is the human-plausibility floor: any response
	// completed faster is treated as scripted and denied.
	DefaultMinLatency = 250 * time.Millisecond
)

// affirmatives accepted for non-critical tiers.
var affirmatives = map[string]bool{
	"y": true, "yes": true, "approve": true, "confirm": true,
}

// criticalAffirmatives accepted for the critical tier: a full word, never a
// single letter.
var criticalAffirmatives = map[string]bool{
	"yes": true, "confirm": true,
}

// terminalMu serializes prompt access process-wide. Two concurrent
// approvals must never interleave on the same device.
var terminalMu sync.Mutex

// Gate runs the approval state machine.
type Gate struct {
	open       func() (Terminal, error)
	detector   *bypass.Detector
	timeout    time.Duration
	minLatency time.Duration
	logger     *log.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithOpener overrides how the controlling terminal is acquired.
func WithOpener(open func() (Terminal, error)) GateOption {
	return func(g *Gate) { g.open = open }
}

// WithDetector attaches a bypass detector consulted before prompting.
func WithDetector(d *bypass.Detector) GateOption {
	return func(g *Gate) { g.detector = d }
}

// WithTimeout sets the response timeout.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) { g.timeout = d }
}

// WithMinLatency sets the human-plausibility floor.
func WithMinLatency(d time.Duration) GateOption {
	return func(g *Gate) { g.minLatency = d }
}

// WithGateLogger sets a custom logger.
func WithGateLogger(l *log.Logger) GateOption {
	return func(g *Gate) { g.logger = l }
}

// New creates a Gate bound to the real controlling terminal.
func New(opts ...GateOption) *Gate {
	g := &Gate{
		open:       openTTY,
		timeout:    DefaultTimeout,
		minLatency: DefaultMinLatency,
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Ask runs one full approval cycle and returns exactly one decision. It
// never returns an error: failures surface as Errored results and mean
// deny.
func (g *Gate) Ask(ctx context.Context, req *Request) *Result {
	terminalMu.Lock()
	defer terminalMu.Unlock()

	// A bypass signal strong enough to be more than supportive evidence
	// denies before the prompt is even drawn: whatever would answer it is
	// not a human.
	if g.detector != nil {
		if sig := g.detector.Detect(); sig != nil && sig.Severity >= bypass.SeverityHigh {
			g.logger.Warn("approval denied by bypass detection",
				"check", sig.Check, "confidence", sig.Confidence)
			return &Result{
				Decision:   Denied,
				Suspicious: true,
				Reason:     fmt.Sprintf("bypass attempt detected: %s", sig.Detail),
			}
		}
	}

	tty, err := g.open()
	if err != nil {
		g.logger.Error("cannot obtain secure approval, denying", "err", err)
		return &Result{
			Decision: Errored,
			Reason:   "cannot obtain secure approval: no controlling terminal",
		}
	}

	var closeOnce sync.Once
	release := func() {
		closeOnce.Do(func() {
			if cerr := tty.Close(); cerr != nil {
				g.logger.Debug("closing terminal", "err", cerr)
			}
		})
	}
	defer release()

	if err := tty.Flush(); err != nil {
		g.logger.Debug("flushing terminal input", "err", err)
	}

	if _, err := tty.Write([]byte(renderWarning(req))); err != nil {
		return &Result{Decision: Errored, Reason: "cannot display approval prompt"}
	}

	response, latency, readErr := g.awaitResponse(ctx, tty)
	if readErr != nil {
		switch {
		case errors.Is(readErr, errCancelled):
			return &Result{Decision: Cancelled, Latency: latency, Reason: "cancelled by user"}
		case errors.Is(readErr, errTimeout):
			return &Result{Decision: TimedOut, Latency: latency, Reason: "timeout"}
		default:
			return &Result{Decision: Errored, Latency: latency, Reason: readErr.Error()}
		}
	}

	return g.validate(req, response, latency)
}

var (
	errTimeout   = errors.New("response timed out")
	errCancelled = errors.New("response cancelled")
)

// awaitResponse reads the masked reply in raw mode. The terminal read
// deadline enforces the timeout deterministically; no goroutine is left
// blocked behind a stale prompt.
func (g *Gate) awaitResponse(ctx context.Context, tty Terminal) (string, time.Duration, error) {
	restore, err := tty.Raw()
	if err != nil {
		return "", 0, fmt.Errorf("entering raw mode: %w", err)
	}
	defer func() {
		if rerr := restore(); rerr != nil {
			g.logger.Debug("restoring terminal mode", "err", rerr)
		}
		tty.Write([]byte("\r\n"))
	}()

	deadline := time.Now().Add(g.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := tty.SetDeadline(deadline); err != nil {
		return "", 0, fmt.Errorf("arming response timeout: %w", err)
	}

	start := time.Now()
	var buf []byte
	for {
		if ctx.Err() != nil {
			return "", time.Since(start), errCancelled
		}
		b, err := tty.ReadByte()
		if err != nil {
			if os.IsTimeout(err) {
				return "", time.Since(start), errTimeout
			}
			return "", time.Since(start), err
		}

		switch b {
		case '\r', '\n':
			return string(buf), time.Since(start), nil
		case 0x03: // Ctrl-C
			return "", time.Since(start), errCancelled
		case 0x7f, 0x08: // backspace
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				tty.Write([]byte("\b \b"))
			}
		default:
			if b >= 0x20 && b < 0x7f {
				buf = append(buf, b)
				// Echo a mask, never the literal keystroke.
				tty.Write([]byte("*"))
			}
		}
	}
}

// validate applies the timing floor and the tier-appropriate vocabulary.
// Anything that fails validation denies.
func (g *Gate) validate(req *Request, response string, latency time.Duration) *Result {
	if latency < g.minLatency {
		g.logger.Warn("response faster than human-plausible, denying",
			"latency", latency, "floor", g.minLatency)
		return &Result{
			Decision:   Denied,
			Latency:    latency,
			Suspicious: true,
			Reason:     fmt.Sprintf("response arrived in %v, below the %v human-plausibility floor", latency, g.minLatency),
		}
	}

	answer := strings.ToLower(strings.TrimSpace(response))
	accepted := affirmatives
	if req.Risk >= risk.Critical {
		accepted = criticalAffirmatives
	}

	if !accepted[answer] {
		reason := "response was not an affirmative"
		if req.Risk >= risk.Critical && affirmatives[answer] {
			reason = "critical tier requires a full confirmation word"
		}
		return &Result{Decision: Denied, Latency: latency, Reason: reason}
	}

	g.logger.Info("command approved at terminal",
		"risk", req.Risk, "latency", latency)
	return &Result{Decision: Approved, Response: answer, Latency: latency}
}

// tty is the real controlling-terminal binding.
type tty struct {
	f *os.File
}

// openTTY acquires the controlling terminal directly. Stdio is never
// trusted here: it may have been redirected by the very caller the gate is
// guarding against.
func openTTY() (Terminal, error) {
	f, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening controlling terminal: %w", err)
	}
	return &tty{f: f}, nil
}

func (t *tty) Write(p []byte) (int, error) { return t.f.Write(p) }

func (t *tty) ReadByte() (byte, error) {
	var b [1]byte
	for {
		n, err := t.f.Read(b[:])
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return b[0], nil
		}
	}
}

func (t *tty) SetDeadline(d time.Time) error { return t.f.SetReadDeadline(d) }

// Flush drains bytes typed before the prompt appeared.
func (t *tty) Flush() error {
	return unix.IoctlSetInt(int(t.f.Fd()), unix.TCFLSH, unix.TCIFLUSH)
}

func (t *tty) Raw() (func() error, error) {
	fd := int(t.f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, state) }, nil
}

func (t *tty) Close() error { return t.f.Close() }
