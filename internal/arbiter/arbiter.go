// Package arbiter is the third classification stage. It is consulted only
// when the semantic layer is uncertain, and its answer is advisory: the
// engine applies a conservative merge policy and treats any arbiter failure
// as "no opinion".
package arbiter

import (
	"context"
	"errors"
	"strings"

	"github.com/the-radar/deliberate/internal/model"
	"github.com/the-radar/deliberate/internal/risk"
)

// ErrArbitrationFailed classifies every arbiter failure: network errors,
// timeouts, and unparseable responses. The engine discards the attempt and
// keeps the model verdict.
var ErrArbitrationFailed = errors.New("arbitration failed")

// Verdict is the arbiter's parsed opinion.
type Verdict struct {
	Risk risk.Level
	// Explanation is the one-line summary of what the command does.
	Explanation string
	// Risks are the bullet lines the arbiter listed as specific hazards.
	Risks []string
	// Alternatives are suggested safer ways to achieve the same result.
	Alternatives []string
}

// Request carries the command and the context the arbiter sees. The command
// text is redacted before leaving the process.
type Request struct {
	Command    string
	WorkingDir string
	User       string
	Sudo       bool
	// Hint is the pattern or model pre-screening summary, e.g.
	// "model: HIGH (0.81 similarity to 'rm -rf /tmp/build')".
	Hint string
	// ScriptContent is the body of a script the command would execute,
	// when the caller extracted one.
	ScriptContent string
}

// Arbiter reviews a command the lower layers could not confidently label.
type Arbiter interface {
	Review(ctx context.Context, req *Request, mv *model.Verdict) (*Verdict, error)
}

// verdict token lines the arbiter is instructed to emit. When a response
// mentions more than one token, the most severe wins: "do not ALLOW it,
// BLOCK" must never parse as an exoneration.
const (
	tokenAllow = "ALLOW"
	tokenWarn  = "WARN"
	tokenBlock = "BLOCK"
)

// parseResponse extracts a Verdict from the arbiter's free-text answer.
// Expected shape:
//
//	VERDICT: ALLOW|WARN|BLOCK
//	EXPLANATION: <one line>
//	RISK: <bullet>        (zero or more)
//	ALTERNATIVE: <bullet> (zero or more)
//
// An answer with no verdict token anywhere is unparseable.
func parseResponse(text string) (*Verdict, error) {
	v := &Verdict{}
	found := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "VERDICT:"):
			if found {
				continue
			}
			level, ok := parseToken(upper)
			if !ok {
				continue
			}
			v.Risk = level
			found = true
		case strings.HasPrefix(upper, "EXPLANATION:"):
			if v.Explanation == "" {
				v.Explanation = strings.TrimSpace(line[len("EXPLANATION:"):])
			}
		case strings.HasPrefix(upper, "RISK:"):
			if b := strings.TrimSpace(line[len("RISK:"):]); b != "" {
				v.Risks = append(v.Risks, b)
			}
		case strings.HasPrefix(upper, "ALTERNATIVE:"):
			if b := strings.TrimSpace(line[len("ALTERNATIVE:"):]); b != "" {
				v.Alternatives = append(v.Alternatives, b)
			}
		}
	}

	if !found {
		// Lenient fallback: accept a bare token anywhere in the text.
		// Models sometimes answer "BLOCK. This command ..." without the
		// VERDICT: prefix.
		level, ok := parseToken(strings.ToUpper(text))
		if !ok {
			return nil, ErrArbitrationFailed
		}
		v.Risk = level
		if v.Explanation == "" {
			v.Explanation = firstLine(text)
		}
	}
	return v, nil
}

// parseToken maps verdict tokens in s to a risk level. BLOCK is checked
// first, then WARN, then ALLOW, so mixed or negated phrasing resolves to
// the most severe token present.
func parseToken(s string) (risk.Level, bool) {
	switch {
	case strings.Contains(s, tokenBlock):
		return risk.High, true
	case strings.Contains(s, tokenWarn):
		return risk.Moderate, true
	case strings.Contains(s, tokenAllow):
		return risk.Safe, true
	}
	return risk.Safe, false
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
