package pattern

import (
	"strings"

	shellwords "github.com/mattn/go-shellwords"
)

// Normalized is the parsed form of a command line.
type Normalized struct {
	// Raw is the original command text.
	Raw string
	// Segments are the individual simple commands after splitting on
	// unquoted shell operators.
	Segments []string
	// IsCompound reports whether the command chains multiple segments.
	IsCompound bool
	// ParseError reports that tokenization failed; callers must treat the
	// command conservatively.
	ParseError bool
}

// compoundOperators split a command line into independently executed
// segments. Order matters: two-character operators are tested first.
var compoundOperators = []string{"&&", "||", ";", "|", "\n"}

// Normalize splits a command line into segments and tokenizes each one.
func Normalize(cmd string) *Normalized {
	n := &Normalized{Raw: cmd}

	segments, ok := splitOutsideQuotes(cmd)
	if !ok {
		n.ParseError = true
		n.Segments = []string{strings.TrimSpace(cmd)}
		return n
	}

	parser := shellwords.NewParser()
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if _, err := parser.Parse(seg); err != nil {
			n.ParseError = true
		}
		n.Segments = append(n.Segments, seg)
	}
	n.IsCompound = len(n.Segments) > 1
	if len(n.Segments) == 0 {
		n.Segments = []string{strings.TrimSpace(cmd)}
	}
	return n
}

// splitOutsideQuotes splits on compound operators that appear outside
// single/double quotes. Returns ok=false on unterminated quoting.
func splitOutsideQuotes(s string) ([]string, bool) {
	var segments []string
	var cur strings.Builder
	var quote byte

	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			cur.WriteByte(c)
			continue
		case '\\':
			cur.WriteByte(c)
			if i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			}
			continue
		}

		matched := ""
		for _, op := range compoundOperators {
			if strings.HasPrefix(s[i:], op) {
				matched = op
				break
			}
		}
		if matched != "" {
			segments = append(segments, cur.String())
			cur.Reset()
			i += len(matched) - 1
			continue
		}
		cur.WriteByte(c)
	}

	if quote != 0 {
		return nil, false
	}
	if cur.Len() > 0 {
		segments = append(segments, cur.String())
	}
	return segments, true
}

// ExtractXargsCommand returns the command that xargs will execute, or ""
// when the segment is not an xargs invocation. "find . | xargs rm -f"
// classifies the rm, not the xargs.
func ExtractXargsCommand(segment string) string {
	fields := strings.Fields(segment)
	for i, f := range fields {
		if f != "xargs" {
			continue
		}
		rest := fields[i+1:]
		// Skip xargs' own flags and their arguments.
		for len(rest) > 0 && strings.HasPrefix(rest[0], "-") {
			flag := rest[0]
			rest = rest[1:]
			if (flag == "-n" || flag == "-P" || flag == "-I" || flag == "-d") && len(rest) > 0 {
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			return strings.Join(rest, " ")
		}
		return ""
	}
	return ""
}

// dangerousOperators are shell constructs that make even a trivially safe
// prefix untrustworthy: "ls && rm -rf /" must never be skipped.
var dangerousOperators = []string{
	"|", ">", ">>", ";", "&&", "||", "`", "$(", "<", "&",
}

// HasDangerousOperators reports whether the command contains any chaining,
// piping, redirection, or substitution construct.
func HasDangerousOperators(cmd string) bool {
	for _, op := range dangerousOperators {
		if strings.Contains(cmd, op) {
			return true
		}
	}
	return false
}

// defaultSkipPrefixes are trivial commands with no abuse potential that are
// skipped before any classification layer runs. Commands that can read
// sensitive files (cat, head, tail) or leak secrets (env, printenv) are
// deliberately absent.
var defaultSkipPrefixes = []string{
	"ls", "ll", "la", "dir", "tree",
	"pwd", "whoami", "hostname", "date", "uptime", "uname",
	"which", "whereis", "type -t", "type -a",
	"git status", "git log", "git diff", "git branch", "git remote -v",
	"git blame", "git shortlog", "git tag", "git stash list",
}

// SkipList decides whether a command is trivial enough to bypass
// classification entirely.
type SkipList struct {
	prefixes map[string]struct{}
}

// NewSkipList builds a skip list from the defaults plus configured
// additions and removals.
func NewSkipList(additional, remove []string) *SkipList {
	s := &SkipList{prefixes: make(map[string]struct{}, len(defaultSkipPrefixes))}
	for _, p := range defaultSkipPrefixes {
		s.prefixes[p] = struct{}{}
	}
	for _, p := range additional {
		s.prefixes[p] = struct{}{}
	}
	for _, p := range remove {
		delete(s.prefixes, p)
	}
	return s
}

// ShouldSkip reports whether the command starts with a skip-listed prefix
// on a word boundary and contains no dangerous shell operator.
func (s *SkipList) ShouldSkip(cmd string) bool {
	trimmed := strings.TrimSpace(cmd)
	if trimmed == "" {
		return false
	}
	if HasDangerousOperators(trimmed) {
		return false
	}
	for prefix := range s.prefixes {
		if trimmed == prefix ||
			strings.HasPrefix(trimmed, prefix+" ") ||
			strings.HasPrefix(trimmed, prefix+"\t") {
			return true
		}
	}
	return false
}
