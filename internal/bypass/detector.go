// Package bypass detects attempts to feed the approval prompt synthetic
// input. Each check is independent and produces its own confidence; the
// detector reports the single strongest signal rather than a blended score,
// so one near-certain signal is never diluted by several absent ones.
package bypass

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// Severity grades a bypass signal.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Signal is one piece of evidence that the prompt's input channel is not a
// live human at a terminal.
type Signal struct {
	Check      string
	Detail     string
	Confidence float64
	Severity   Severity
}

// selfBypassVars are environment variables whose documented purpose is to
// skip the confirmation prompt. Their mere presence is tampering.
var selfBypassVars = []string{
	"DELIBERATE_SKIP_CONFIRM",
	"DELIBERATE_AUTO_APPROVE",
	"DELIBERATE_YES",
}

// injectionVars enable dynamic-library injection, which can rewrite the
// prompt's reads from inside the process.
var injectionVars = []string{
	"LD_PRELOAD",
	"LD_AUDIT",
	"DYLD_INSERT_LIBRARIES",
}

// automationTools are executable names that script interactive programs or
// inject input.
var automationTools = map[string]string{
	"expect":     "expect-style scripting tool",
	"autoexpect": "expect-style scripting tool",
	"empty":      "input-injection utility",
	"xdotool":    "input-injection utility",
	"ydotool":    "input-injection utility",
	"tmux":       "terminal multiplexer send-keys capable",
	"screen":     "terminal multiplexer stuff capable",
}

// oneShotInterpreters flag a parent like "python -c ..." driving the
// process with inline code.
var oneShotInterpreters = []string{"python", "python3", "perl", "ruby", "node"}

const (
	maxAncestryHops = 10
	// freshProcessWindow: a process younger than this at prompt time looks
	// scripted rather than interactive.
	freshProcessWindow = 2 * time.Second
)

// Detector runs the independent checks. The proc root and environment
// lookup are injectable for tests.
type Detector struct {
	procRoot string
	getenv   func(string) string
	fstat    func(fd int, st *unix.Stat_t) error
	logger   *log.Logger
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithProcRoot points the ancestry and timing checks at an alternate proc
// filesystem.
func WithProcRoot(root string) DetectorOption {
	return func(d *Detector) { d.procRoot = root }
}

// WithGetenv overrides environment lookup.
func WithGetenv(fn func(string) string) DetectorOption {
	return func(d *Detector) { d.getenv = fn }
}

// WithFstat overrides the descriptor stat call.
func WithFstat(fn func(fd int, st *unix.Stat_t) error) DetectorOption {
	return func(d *Detector) { d.fstat = fn }
}

// WithDetectorLogger sets a custom logger.
func WithDetectorLogger(l *log.Logger) DetectorOption {
	return func(d *Detector) { d.logger = l }
}

// NewDetector creates a Detector with real system bindings.
func NewDetector(opts ...DetectorOption) *Detector {
	d := &Detector{
		procRoot: "/proc",
		getenv:   os.Getenv,
		fstat:    unix.Fstat,
		logger:   log.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect runs every check and returns the single highest-confidence signal,
// or nil when nothing fired.
func (d *Detector) Detect() *Signal {
	checks := []func() *Signal{
		d.checkEnvironment,
		d.checkStdinMode,
		d.checkStdinTarget,
		d.checkAncestry,
		d.checkTiming,
	}

	var strongest *Signal
	for _, check := range checks {
		sig := check()
		if sig == nil {
			continue
		}
		d.logger.Debug("bypass signal", "check", sig.Check,
			"confidence", sig.Confidence, "detail", sig.Detail)
		if strongest == nil || sig.Confidence > strongest.Confidence {
			strongest = sig
		}
	}
	return strongest
}

// checkEnvironment looks for explicit self-bypass variables and library
// injection variables.
func (d *Detector) checkEnvironment() *Signal {
	for _, name := range selfBypassVars {
		if d.getenv(name) != "" {
			return &Signal{
				Check:      "environment",
				Detail:     fmt.Sprintf("self-bypass variable %s is set", name),
				Confidence: 0.99,
				Severity:   SeverityCritical,
			}
		}
	}
	for _, name := range injectionVars {
		if d.getenv(name) != "" {
			return &Signal{
				Check:      "environment",
				Detail:     fmt.Sprintf("library injection variable %s is set", name),
				Confidence: 0.99,
				Severity:   SeverityCritical,
			}
		}
	}
	return nil
}

// checkStdinMode stats fd 0. A FIFO or regular file means input is piped or
// redirected, not typed.
func (d *Detector) checkStdinMode() *Signal {
	var st unix.Stat_t
	if err := d.fstat(0, &st); err != nil {
		return nil
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFIFO:
		return &Signal{
			Check:      "stdin_mode",
			Detail:     "stdin is a pipe",
			Confidence: 0.95,
			Severity:   SeverityHigh,
		}
	case unix.S_IFREG:
		return &Signal{
			Check:      "stdin_mode",
			Detail:     "stdin is redirected from a regular file",
			Confidence: 0.95,
			Severity:   SeverityHigh,
		}
	}
	return nil
}

// checkStdinTarget resolves what fd 0 actually points at. A pty master or
// the null device means the input stream is synthesized.
func (d *Detector) checkStdinTarget() *Signal {
	target, err := os.Readlink(filepath.Join(d.procRoot, "self", "fd", "0"))
	if err != nil {
		return nil
	}
	switch {
	case strings.HasPrefix(target, "/dev/ptmx") || strings.Contains(target, "ptmx"):
		return &Signal{
			Check:      "stdin_target",
			Detail:     "stdin is a pseudo-terminal master endpoint",
			Confidence: 0.9,
			Severity:   SeverityHigh,
		}
	case target == "/dev/null":
		return &Signal{
			Check:      "stdin_target",
			Detail:     "stdin is the null device",
			Confidence: 0.8,
			Severity:   SeverityHigh,
		}
	}
	return nil
}

// checkAncestry walks the parent chain looking for automation tools.
func (d *Detector) checkAncestry() *Signal {
	pid := os.Getppid()
	for hop := 0; hop < maxAncestryHops && pid > 1; hop++ {
		name, cmdline, ppid, err := d.readProcess(pid)
		if err != nil {
			return nil
		}

		if desc, ok := automationTools[name]; ok {
			return &Signal{
				Check:      "ancestry",
				Detail:     fmt.Sprintf("ancestor %q is a %s", name, desc),
				Confidence: 0.9,
				Severity:   SeverityHigh,
			}
		}
		for _, interp := range oneShotInterpreters {
			if name == interp && hasInlineCode(cmdline) {
				return &Signal{
					Check:      "ancestry",
					Detail:     fmt.Sprintf("ancestor %q running inline code", name),
					Confidence: 0.7,
					Severity:   SeverityMedium,
				}
			}
		}
		pid = ppid
	}
	return nil
}

// checkTiming reads the process start time. A prompt reached within a
// couple of seconds of process start looks scripted. Supportive evidence
// only, never decisive alone.
func (d *Detector) checkTiming() *Signal {
	age, err := d.processAge()
	if err != nil || age > freshProcessWindow {
		return nil
	}
	return &Signal{
		Check:      "timing",
		Detail:     fmt.Sprintf("process is %.1fs old at prompt time", age.Seconds()),
		Confidence: 0.5,
		Severity:   SeverityLow,
	}
}

// readProcess returns the comm name, cmdline, and parent pid for a process.
func (d *Detector) readProcess(pid int) (name, cmdline string, ppid int, err error) {
	dir := filepath.Join(d.procRoot, strconv.Itoa(pid))

	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return "", "", 0, err
	}
	name = strings.TrimSpace(string(comm))

	if raw, err := os.ReadFile(filepath.Join(dir, "cmdline")); err == nil {
		cmdline = strings.ReplaceAll(string(raw), "\x00", " ")
	}

	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return "", "", 0, err
	}
	ppid, err = parseStatPPID(string(stat))
	if err != nil {
		return "", "", 0, err
	}
	return name, cmdline, ppid, nil
}

// parseStatPPID extracts field 4 of /proc/<pid>/stat. The comm field may
// contain spaces and parentheses, so parsing starts after the last ')'.
func parseStatPPID(stat string) (int, error) {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 || i+2 >= len(stat) {
		return 0, fmt.Errorf("malformed stat line")
	}
	fields := strings.Fields(stat[i+2:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat line")
	}
	return strconv.Atoi(fields[1])
}

// processAge computes how long the current process has been alive from the
// proc uptime and start-time counters.
func (d *Detector) processAge() (time.Duration, error) {
	uptimeRaw, err := os.ReadFile(filepath.Join(d.procRoot, "uptime"))
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(uptimeRaw))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed uptime")
	}
	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}

	stat, err := os.ReadFile(filepath.Join(d.procRoot, "self", "stat"))
	if err != nil {
		return 0, err
	}
	i := strings.LastIndexByte(string(stat), ')')
	if i < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}
	statFields := strings.Fields(string(stat)[i+2:])
	// starttime is field 22 overall; 20 fields past the comm field.
	if len(statFields) < 20 {
		return 0, fmt.Errorf("malformed stat line")
	}
	startTicks, err := strconv.ParseFloat(statFields[19], 64)
	if err != nil {
		return 0, err
	}

	const hz = 100 // USER_HZ on every mainstream Linux build
	ageSeconds := uptime - startTicks/hz
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	return time.Duration(ageSeconds * float64(time.Second)), nil
}

func hasInlineCode(cmdline string) bool {
	return strings.Contains(cmdline, " -c ") || strings.Contains(cmdline, " -e ")
}
