package intercept

import (
	"io"
	"os"
	"regexp"
	"strings"
)

// maxScriptBytes bounds how much of an executed script is read for
// classification.
const maxScriptBytes = 10000

// Script execution shapes whose target file is worth reading: interpreter
// invocations, direct path execution, and sourcing.
var scriptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(?:sudo\s+)?(?:bash|sh|zsh|ksh)\s+(?:-[a-zA-Z]*\s+)*([^\s|;&]+)`),
	regexp.MustCompile(`^(?:sudo\s+)?(\./[^\s|;&]+|/[^\s|;&]+\.(?:sh|bash|py|pl|rb|js))`),
	regexp.MustCompile(`^(?:source|\.)\s+([^\s|;&]+)`),
	regexp.MustCompile(`^(?:sudo\s+)?python[23]?\s+(?:-[a-zA-Z]*\s+)*([^\s|;&]+\.py)`),
	regexp.MustCompile(`^(?:sudo\s+)?node\s+(?:-[a-zA-Z]*\s+)*([^\s|;&]+\.js)`),
}

var (
	heredocStartRe = regexp.MustCompile(`<<\s*['"]?(\w+)['"]?[^\n]*\n`)

	echoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`echo\s+"([^"]+)"\s*>+\s*\S+`),
		regexp.MustCompile(`echo\s+'([^']+)'\s*>+\s*\S+`),
		regexp.MustCompile(`echo\s+\$'([^']+)'\s*>+\s*\S+`),
		regexp.MustCompile(`echo\s+([^\s>|;&]+)\s*>+\s*\S+`),
	}

	printfPatterns = []*regexp.Regexp{
		regexp.MustCompile(`printf\s+"([^"]+)"\s*>+\s*\S+`),
		regexp.MustCompile(`printf\s+'([^']+)'\s*>+\s*\S+`),
	}
)

// ExtractScriptContent reads the body of a script the command would execute
// so the classifier can judge the code, not just the invocation. Returns ""
// when the command does not execute a readable script file.
func ExtractScriptContent(command string) string {
	trimmed := strings.TrimSpace(command)
	for _, re := range scriptPatterns {
		m := re.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}
		path := expandHome(m[1])
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return ""
		}
		f, err := os.Open(path)
		if err != nil {
			return ""
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxScriptBytes))
		if err != nil {
			return ""
		}
		return string(data)
	}
	return ""
}

// ExtractInlineContent pulls content a command writes inline through
// heredocs, echo redirects, or printf redirects. A command that writes a
// malicious script to disk is as dangerous as one that runs it.
func ExtractInlineContent(command string) string {
	if content := extractHeredoc(command); content != "" {
		return content
	}

	for _, re := range echoPatterns {
		if m := re.FindStringSubmatch(command); m != nil {
			return unescape(m[1])
		}
	}
	for _, re := range printfPatterns {
		if m := re.FindStringSubmatch(command); m != nil {
			return unescape(m[1])
		}
	}
	return ""
}

// extractHeredoc captures the body between << MARKER and the line holding
// its terminator. Quoted markers (<< 'EOF') are handled the same way.
func extractHeredoc(command string) string {
	loc := heredocStartRe.FindStringSubmatchIndex(command)
	if loc == nil {
		return ""
	}
	marker := command[loc[2]:loc[3]]
	body := command[loc[1]:]

	for i, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == marker {
			return strings.Join(strings.Split(body, "\n")[:i], "\n")
		}
	}
	return ""
}

func unescape(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.ReplaceAll(s, `\t`, "\t")
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return home + path[1:]
		}
	}
	return path
}
