package cli

import (
	"strings"
	"testing"

	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/risk"
	"github.com/the-radar/deliberate/internal/testutil"
)

func TestCollectPatternsCoversAllKinds(t *testing.T) {
	cfg := config.DefaultConfig()
	matcher, err := buildMatcher(cfg)
	testutil.RequireNoError(t, err, "build matcher")

	entries := collectPatterns(matcher)
	if len(entries) == 0 {
		t.Fatal("expected built-in patterns")
	}

	kinds := map[string]bool{}
	levels := map[string]bool{}
	for _, e := range entries {
		kinds[e.Kind] = true
		levels[e.Risk] = true
	}
	for _, kind := range []string{"command", "path", "content"} {
		if !kinds[kind] {
			t.Fatalf("no patterns of kind %s", kind)
		}
	}
	for _, level := range []string{"CRITICAL", "HIGH"} {
		if !levels[level] {
			t.Fatalf("no patterns at level %s", level)
		}
	}
}

func TestBuildMatcherAddsConfiguredRules(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Patterns.Catastrophic = []string{`internal-deploy\s+--production`}
	cfg.Patterns.Dangerous = []string{`terraform\s+apply`}

	matcher, err := buildMatcher(cfg)
	testutil.RequireNoError(t, err, "build matcher")

	v := matcher.CheckCommand("internal-deploy --production now")
	if v == nil {
		t.Fatal("configured catastrophic rule did not match")
	}
	testutil.RequireEqual(t, risk.Critical, v.Risk, "configured catastrophic level")
	if v.CanOverride {
		t.Fatal("catastrophic rules must not be overridable")
	}

	v = matcher.CheckCommand("terraform apply -auto-approve")
	if v == nil {
		t.Fatal("configured dangerous rule did not match")
	}
	testutil.RequireEqual(t, risk.High, v.Risk, "configured dangerous level")
}

func TestBuildMatcherRejectsInvalidRegex(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Patterns.Dangerous = []string{`unclosed(`}

	_, err := buildMatcher(cfg)
	if err == nil || !strings.Contains(err.Error(), "unclosed(") {
		t.Fatalf("expected compile error naming the pattern, got %v", err)
	}
}

func TestPatternsHashDeterministicAndOrderSensitive(t *testing.T) {
	a := []patternEntry{
		{Expr: "rm -rf", Risk: "HIGH", Kind: "command"},
		{Expr: "dd if=", Risk: "CRITICAL", Kind: "command"},
	}
	b := []patternEntry{a[1], a[0]}

	testutil.RequireEqual(t, patternsHash(a), patternsHash(a), "deterministic")
	if patternsHash(a) == patternsHash(b) {
		t.Fatal("hash should depend on rule order")
	}
}
