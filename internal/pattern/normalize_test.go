package pattern

import (
	"testing"

	"github.com/the-radar/deliberate/internal/testutil"
)

func TestNormalizeSimpleCommand(t *testing.T) {
	n := Normalize("ls -la")
	testutil.RequireEqual(t, 1, len(n.Segments), "segments")
	testutil.RequireEqual(t, false, n.IsCompound, "compound")
	testutil.RequireEqual(t, false, n.ParseError, "parse error")
}

func TestNormalizeSplitsOnOperators(t *testing.T) {
	cases := []struct {
		cmd      string
		segments int
	}{
		{"make build && make test", 2},
		{"cd /tmp; ls; pwd", 3},
		{"cat access.log | grep 500", 2},
		{"test -f config || cp config.example config", 2},
		{"echo one\necho two", 2},
	}
	for _, tc := range cases {
		n := Normalize(tc.cmd)
		testutil.RequireEqual(t, tc.segments, len(n.Segments), "segments for %q", tc.cmd)
		testutil.RequireEqual(t, true, n.IsCompound, "compound for %q", tc.cmd)
	}
}

func TestNormalizeKeepsQuotedOperators(t *testing.T) {
	n := Normalize(`echo "a && b"`)
	testutil.RequireEqual(t, 1, len(n.Segments), "segments")
	testutil.RequireEqual(t, false, n.IsCompound, "compound")

	n = Normalize(`grep 'foo|bar' file.txt`)
	testutil.RequireEqual(t, 1, len(n.Segments), "segments")
}

func TestNormalizeHonorsEscapes(t *testing.T) {
	n := Normalize(`echo a\;b`)
	testutil.RequireEqual(t, 1, len(n.Segments), "segments")
}

func TestNormalizeUnterminatedQuote(t *testing.T) {
	n := Normalize(`echo "oops`)
	testutil.RequireEqual(t, true, n.ParseError, "parse error")
	testutil.RequireEqual(t, 1, len(n.Segments), "segments")
	testutil.RequireEqual(t, `echo "oops`, n.Segments[0], "segment text")
}

func TestExtractXargsCommand(t *testing.T) {
	cases := []struct {
		segment string
		want    string
	}{
		{"xargs rm -rf", "rm -rf"},
		{"xargs -n 1 rm", "rm"},
		{"xargs -I {} rm {}", "rm {}"},
		{"xargs -0 grep TODO", "grep TODO"},
		{"xargs", ""},
		{"xargs -0", ""},
		{"ls -la", ""},
	}
	for _, tc := range cases {
		got := ExtractXargsCommand(tc.segment)
		testutil.RequireEqual(t, tc.want, got, "xargs command for %q", tc.segment)
	}
}

func TestHasDangerousOperators(t *testing.T) {
	cases := []struct {
		cmd  string
		want bool
	}{
		{"ls && rm -rf /", true},
		{"cat file > /etc/passwd", true},
		{"echo $(date)", true},
		{"ls `pwd`", true},
		{"sort < input.txt", true},
		{"ls -la", false},
		{"git status", false},
	}
	for _, tc := range cases {
		testutil.RequireEqual(t, tc.want, HasDangerousOperators(tc.cmd), "operators in %q", tc.cmd)
	}
}

func TestSkipListDefaults(t *testing.T) {
	s := NewSkipList(nil, nil)
	testutil.RequireEqual(t, true, s.ShouldSkip("git status"), "git status")
	testutil.RequireEqual(t, true, s.ShouldSkip("ls -la"), "ls -la")
	testutil.RequireEqual(t, true, s.ShouldSkip("  pwd  "), "pwd with whitespace")
	testutil.RequireEqual(t, false, s.ShouldSkip("cat /etc/shadow"), "cat")
	testutil.RequireEqual(t, false, s.ShouldSkip(""), "empty")
}

func TestSkipListPrefixBoundary(t *testing.T) {
	s := NewSkipList(nil, nil)
	// "lsblk" starts with "ls" but is a different command.
	testutil.RequireEqual(t, false, s.ShouldSkip("lsblk"), "lsblk")
	testutil.RequireEqual(t, false, s.ShouldSkip("git statusx"), "git statusx")
}

func TestSkipListRejectsDangerousOperators(t *testing.T) {
	s := NewSkipList(nil, nil)
	testutil.RequireEqual(t, false, s.ShouldSkip("ls && rm -rf /"), "chained delete")
	testutil.RequireEqual(t, false, s.ShouldSkip("git status > /tmp/out"), "redirect")
}

func TestSkipListConfiguredAddAndRemove(t *testing.T) {
	s := NewSkipList([]string{"make lint"}, []string{"git status"})
	testutil.RequireEqual(t, true, s.ShouldSkip("make lint"), "added prefix")
	testutil.RequireEqual(t, false, s.ShouldSkip("git status"), "removed prefix")
	testutil.RequireEqual(t, true, s.ShouldSkip("git log --oneline"), "untouched default")
}
