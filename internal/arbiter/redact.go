package arbiter

import (
	"regexp"
	"strings"
)

// Command text leaves the process when the arbiter is consulted, so known
// secret shapes are stripped first. Redaction is best effort: it targets the
// patterns that commonly appear in shell commands (bearer tokens, key=value
// credentials, provider key prefixes).
var (
	bearerRe    = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9._\-+/=]+)`)
	authFlagRe  = regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)(\S+)`)
	keyValueRe  = regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|token|secret|password|passwd|pwd|access[_-]?key)(\s*[:=]\s*)(\S+)`)
	envAssignRe = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD|PASSWD)[A-Z0-9_]*)(=)(\S+)`)
	knownKeyRe  = regexp.MustCompile(`\b(?:sk|pk|rk)-[A-Za-z0-9_\-]{16,}|\bgh[pousr]_[A-Za-z0-9]{16,}|\bAKIA[0-9A-Z]{16}\b|\bxox[baprs]-[A-Za-z0-9\-]+`)
	basicAuthRe = regexp.MustCompile(`(https?://)([^/\s:@]+):([^/\s:@]+)@`)
)

// Redact strips recognizable credentials from command text before it is sent
// to the arbitration service.
func Redact(s string) string {
	if s == "" {
		return s
	}
	out := s
	out = basicAuthRe.ReplaceAllString(out, "${1}${2}:[REDACTED]@")
	out = bearerRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = authFlagRe.ReplaceAllString(out, "${1}[REDACTED]")
	out = keyValueRe.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = envAssignRe.ReplaceAllString(out, "${1}${2}[REDACTED]")
	out = knownKeyRe.ReplaceAllString(out, "[REDACTED]")
	for strings.Contains(out, "[REDACTED][REDACTED]") {
		out = strings.ReplaceAll(out, "[REDACTED][REDACTED]", "[REDACTED]")
	}
	return out
}
