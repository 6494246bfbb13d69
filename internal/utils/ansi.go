package utils

import (
	"regexp"
	"strings"
)

// ansiRe matches CSI sequences and OSC sequences (terminated by BEL or
// ST). OSC covers title setting and hyperlinks, both of which can disguise
// command text shown to a human.
var ansiRe = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)?)`)

// StripANSI removes ANSI escape sequences from a string.
func StripANSI(s string) string {
	return ansiRe.ReplaceAllString(s, "")
}

// SanitizeInput prepares untrusted text for terminal display: escape
// sequences and control characters are dropped, keeping newlines and tabs.
// The approval banner renders hostile command text through this.
func SanitizeInput(s string) string {
	s = StripANSI(s)
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
}

// CarriageNewlines rewrites line endings as \r\n for a terminal in raw
// mode, where a bare \n no longer returns the cursor to column one.
// Existing \r\n pairs are preserved rather than doubled.
func CarriageNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}
