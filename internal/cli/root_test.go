package cli

import (
	"testing"

	"github.com/the-radar/deliberate/internal/testutil"
)

func resetOutputFlags(t *testing.T) {
	t.Helper()
	oldOutput, oldJSON := flagOutput, flagJSON
	t.Cleanup(func() {
		flagOutput, flagJSON = oldOutput, oldJSON
	})
	flagOutput = "text"
	flagJSON = false
}

func TestGetOutputDefault(t *testing.T) {
	resetOutputFlags(t)
	testutil.RequireEqual(t, "text", GetOutput(), "default format")
}

func TestGetOutputJSONFlagWins(t *testing.T) {
	resetOutputFlags(t)
	flagJSON = true
	flagOutput = "yaml"
	testutil.RequireEqual(t, "json", GetOutput(), "--json beats --output")
}

func TestGetOutputExplicitFormat(t *testing.T) {
	resetOutputFlags(t)
	flagOutput = "yaml"
	testutil.RequireEqual(t, "yaml", GetOutput(), "--output honored")
}

func TestGetOutputEnvFallback(t *testing.T) {
	resetOutputFlags(t)
	t.Setenv("DELIBERATE_OUTPUT_FORMAT", "json")
	testutil.RequireEqual(t, "json", GetOutput(), "env format honored")

	t.Setenv("DELIBERATE_OUTPUT_FORMAT", "xml")
	testutil.RequireEqual(t, "text", GetOutput(), "unknown env format ignored")
}

func TestGetOutputFlagBeatsEnv(t *testing.T) {
	resetOutputFlags(t)
	t.Setenv("DELIBERATE_OUTPUT_FORMAT", "yaml")
	flagOutput = "json"
	testutil.RequireEqual(t, "json", GetOutput(), "flag beats env")
}

func TestRootHasCoreSubcommands(t *testing.T) {
	want := map[string]bool{
		"classify": false, "guard": false, "hook": false,
		"patterns": false, "review": false, "config": false, "version": false,
	}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %s", name)
		}
	}
}
