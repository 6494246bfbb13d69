// Package pattern implements the deterministic first layer of command
// classification: ordered regex rules over commands, file paths, and file
// content. A match here is authoritative; no later layer runs.
package pattern

import (
	"strings"

	"github.com/the-radar/deliberate/internal/risk"
)

// Matcher evaluates ordered rule lists. The rule set is immutable after
// construction, so a Matcher is safe for concurrent use. Matching allocates
// only on a hit: it runs on every intercepted command and the overwhelming
// majority are benign.
type Matcher struct {
	command []Rule // catastrophic first, then dangerous, then moderate
	safe    []Rule
	path    []Rule
	content []Rule
}

// NewMatcher creates a matcher with the built-in rule set.
func NewMatcher() *Matcher {
	m := &Matcher{}
	m.command = append(m.command, compileRules(risk.Critical, "builtin", builtinCatastrophic)...)
	m.command = append(m.command, compileRules(risk.High, "builtin", builtinDangerous)...)
	m.command = append(m.command, compileRules(risk.Moderate, "builtin", builtinModerate)...)
	m.safe = compileRules(risk.Safe, "builtin", builtinSafe)
	m.path = append(m.path, compileRules(risk.Critical, "builtin", builtinPathCatastrophic)...)
	m.path = append(m.path, compileRules(risk.High, "builtin", builtinPathDangerous)...)
	m.content = append(m.content, compileRules(risk.Critical, "builtin", builtinContentCatastrophic)...)
	m.content = append(m.content, compileRules(risk.High, "builtin", builtinContentDangerous)...)
	return m
}

// AddRule appends a rule from configuration to the end of the matching list
// for its subject kind. Built-in ordering is preserved; config rules only
// fire when nothing built-in matched first.
func (m *Matcher) AddRule(kind risk.SubjectKind, level risk.Level, expr, reason string, canOverride bool) error {
	compiled, err := compileOne(expr)
	if err != nil {
		return err
	}
	r := Rule{
		Expr:        expr,
		Compiled:    compiled,
		Risk:        level,
		Reason:      reason,
		CanOverride: canOverride,
		Source:      "config",
	}
	switch kind {
	case risk.SubjectPath:
		m.path = append(m.path, r)
	case risk.SubjectContent:
		m.content = append(m.content, r)
	default:
		if level == risk.Safe {
			m.safe = append(m.safe, r)
		} else {
			m.command = append(m.command, r)
		}
	}
	return nil
}

// CheckCommand classifies a command line. It returns nil when no rule
// matches, which signals the caller to proceed to the semantic layer.
// Compound commands (a && b; c | d) are classified segment by segment and
// the most severe segment decides.
func (m *Matcher) CheckCommand(text string) *risk.Verdict {
	norm := Normalize(text)

	if norm.IsCompound {
		return m.checkCompound(text, norm)
	}

	checkText := strings.TrimSpace(text)
	if v := m.matchOrdered(checkText, m.command, risk.SubjectCommand, text); v != nil {
		return applyParseUpgrade(v, norm.ParseError)
	}
	if v := m.matchOrdered(checkText, m.safe, risk.SubjectCommand, text); v != nil {
		return applyParseUpgrade(v, norm.ParseError)
	}
	if norm.ParseError {
		// Unparseable and unmatched: conservative floor rather than silence.
		return moderateParseVerdict(text)
	}
	return nil
}

// CheckPath classifies a filesystem path.
func (m *Matcher) CheckPath(text string) *risk.Verdict {
	return m.matchOrdered(strings.TrimSpace(text), m.path, risk.SubjectPath, text)
}

// CheckContent classifies script or file content.
func (m *Matcher) CheckContent(text string) *risk.Verdict {
	return m.matchOrdered(text, m.content, risk.SubjectContent, text)
}

func (m *Matcher) checkCompound(original string, norm *Normalized) *risk.Verdict {
	// Pipeline rules (curl | sh) span segment boundaries and only match
	// against the full text.
	worst := m.matchOrdered(strings.TrimSpace(original), m.command, risk.SubjectCommand, original)
	sawSafe := worst == nil
	for _, seg := range norm.Segments {
		// xargs runs its trailing words as a command; classify those too.
		if inner := ExtractXargsCommand(seg); inner != "" {
			seg = inner
		}
		if v := m.matchOrdered(seg, m.command, risk.SubjectCommand, original); v != nil {
			sawSafe = false
			if worst == nil || v.Risk > worst.Risk || (v.Risk == worst.Risk && !v.CanOverride) {
				worst = v
			}
			continue
		}
		if m.matchOrdered(seg, m.safe, risk.SubjectCommand, original) == nil {
			sawSafe = false
		}
	}
	if worst != nil {
		return applyParseUpgrade(worst, norm.ParseError)
	}
	if sawSafe && len(norm.Segments) > 0 {
		return applyParseUpgrade(&risk.Verdict{
			Subject:     original,
			Kind:        risk.SubjectCommand,
			Risk:        risk.Safe,
			Confidence:  1.0,
			Coverage:    1.0,
			Reason:      "all segments are known safe operations",
			Source:      risk.SourcePattern,
			CanOverride: false,
		}, norm.ParseError)
	}
	if norm.ParseError {
		return moderateParseVerdict(original)
	}
	return nil
}

func (m *Matcher) matchOrdered(text string, rules []Rule, kind risk.SubjectKind, subject string) *risk.Verdict {
	for i := range rules {
		r := &rules[i]
		if r.Compiled.MatchString(text) {
			return &risk.Verdict{
				Subject:     subject,
				Kind:        kind,
				Risk:        r.Risk,
				Confidence:  1.0,
				Coverage:    1.0,
				Reason:      r.Reason,
				Source:      risk.SourcePattern,
				CanOverride: r.CanOverride,
			}
		}
	}
	return nil
}

// applyParseUpgrade enforces conservative behavior when normalization
// failed: the verdict is upgraded one tier (safe→moderate→high→critical)
// because an unparseable command may be hiding intent.
func applyParseUpgrade(v *risk.Verdict, parseErr bool) *risk.Verdict {
	if !parseErr || v == nil {
		return v
	}
	upgraded := *v
	if upgraded.Risk < risk.Critical {
		upgraded.Risk++
	}
	if upgraded.Risk >= risk.Moderate {
		upgraded.CanOverride = upgraded.Risk < risk.Critical
	}
	upgraded.Reason = v.Reason + " (command could not be fully parsed; tier raised)"
	return &upgraded
}

func moderateParseVerdict(subject string) *risk.Verdict {
	return &risk.Verdict{
		Subject:     subject,
		Kind:        risk.SubjectCommand,
		Risk:        risk.Moderate,
		Confidence:  0.5,
		Coverage:    0.0,
		Reason:      "command could not be parsed; treating as moderate risk",
		Source:      risk.SourcePattern,
		CanOverride: true,
	}
}

// Rules returns the rule lists for a subject kind, for listing and export.
func (m *Matcher) Rules(kind risk.SubjectKind) []Rule {
	switch kind {
	case risk.SubjectPath:
		return m.path
	case risk.SubjectContent:
		return m.content
	default:
		out := make([]Rule, 0, len(m.command)+len(m.safe))
		out = append(out, m.command...)
		out = append(out, m.safe...)
		return out
	}
}
