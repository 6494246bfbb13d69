package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/the-radar/deliberate/internal/testutil"
)

// withTestEnv isolates HOME and the working directory so command handlers
// see a clean config environment.
func withTestEnv(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	project := t.TempDir()
	old, err := os.Getwd()
	testutil.RequireNoError(t, err, "getwd")
	testutil.RequireNoError(t, os.Chdir(project), "chdir")
	t.Cleanup(func() { _ = os.Chdir(old) })
	return home
}

func TestIsGuardHook(t *testing.T) {
	cases := []struct {
		command string
		want    bool
	}{
		{"/usr/local/bin/deliberate guard", true},
		{"deliberate guard", true},
		{"/opt/tools/deliberate guard --verbose", true},
		{"python3 /home/u/.hooks/other_guard.py", false},
		{"deliberate classify", false},
		{"deliberate", false},
		{"", false},
	}
	for _, tc := range cases {
		testutil.RequireEqual(t, tc.want, isGuardHook(tc.command), "isGuardHook(%q)", tc.command)
	}
}

func TestHookInstallCreatesSettings(t *testing.T) {
	home := withTestEnv(t)
	flagHookBinary = "/usr/local/bin/deliberate"
	t.Cleanup(func() { flagHookBinary = "" })

	testutil.RequireNoError(t, runHookInstall(hookInstallCmd, nil), "install")

	settingsFile := filepath.Join(home, ".claude", "settings.json")
	data, err := os.ReadFile(settingsFile)
	testutil.RequireNoError(t, err, "read settings")

	var settings map[string]any
	testutil.RequireNoError(t, json.Unmarshal(data, &settings), "parse settings")

	_, entries := preToolUseHooks(settings)
	testutil.RequireLen(t, entries, 1, "PreToolUse entries")
	if findGuardEntry(entries) != 0 {
		t.Fatalf("guard entry not found in %v", entries)
	}
}

func TestHookInstallPreservesOtherHooks(t *testing.T) {
	home := withTestEnv(t)
	flagHookBinary = "/usr/local/bin/deliberate"
	t.Cleanup(func() { flagHookBinary = "" })

	settingsFile := filepath.Join(home, ".claude", "settings.json")
	existing := map[string]any{
		"hooks": map[string]any{
			"PreToolUse": []any{
				map[string]any{
					"matcher": "Bash",
					"hooks": []any{
						map[string]any{"type": "command", "command": "other-tool check"},
					},
				},
			},
		},
	}
	testutil.RequireNoError(t, os.MkdirAll(filepath.Dir(settingsFile), 0o755), "mkdir")
	data, _ := json.Marshal(existing)
	testutil.RequireNoError(t, os.WriteFile(settingsFile, data, 0o644), "seed settings")

	testutil.RequireNoError(t, runHookInstall(hookInstallCmd, nil), "install")

	settings, err := readSettings(settingsFile)
	testutil.RequireNoError(t, err, "re-read settings")
	_, entries := preToolUseHooks(settings)
	testutil.RequireLen(t, entries, 2, "both hooks present")
}

func TestHookInstallIdempotent(t *testing.T) {
	home := withTestEnv(t)
	flagHookBinary = "/usr/local/bin/deliberate"
	t.Cleanup(func() { flagHookBinary = "" })

	testutil.RequireNoError(t, runHookInstall(hookInstallCmd, nil), "first install")
	testutil.RequireNoError(t, runHookInstall(hookInstallCmd, nil), "second install")

	settings, err := readSettings(filepath.Join(home, ".claude", "settings.json"))
	testutil.RequireNoError(t, err, "read settings")
	_, entries := preToolUseHooks(settings)
	testutil.RequireLen(t, entries, 1, "no duplicate entries")
}

func TestHookUninstallRemovesOnlyGuard(t *testing.T) {
	home := withTestEnv(t)
	flagHookBinary = "/usr/local/bin/deliberate"
	t.Cleanup(func() { flagHookBinary = "" })

	testutil.RequireNoError(t, runHookInstall(hookInstallCmd, nil), "install")

	// Add an unrelated hook alongside ours.
	settingsFile := filepath.Join(home, ".claude", "settings.json")
	settings, err := readSettings(settingsFile)
	testutil.RequireNoError(t, err, "read settings")
	hooks, entries := preToolUseHooks(settings)
	entries = append(entries, map[string]any{
		"matcher": "Bash",
		"hooks": []any{
			map[string]any{"type": "command", "command": "other-tool check"},
		},
	})
	hooks["PreToolUse"] = entries
	settings["hooks"] = hooks
	testutil.RequireNoError(t, writeSettings(settingsFile, settings), "write settings")

	testutil.RequireNoError(t, runHookUninstall(hookUninstallCmd, nil), "uninstall")

	settings, err = readSettings(settingsFile)
	testutil.RequireNoError(t, err, "re-read settings")
	_, entries = preToolUseHooks(settings)
	testutil.RequireLen(t, entries, 1, "unrelated hook survives")
	if findGuardEntry(entries) != -1 {
		t.Fatalf("guard entry still present: %v", entries)
	}
}

func TestHookUninstallWhenNotInstalled(t *testing.T) {
	withTestEnv(t)
	testutil.RequireNoError(t, runHookUninstall(hookUninstallCmd, nil), "uninstall on clean env")
}

func TestReadSettingsMissingFile(t *testing.T) {
	settings, err := readSettings(filepath.Join(t.TempDir(), "nope.json"))
	testutil.RequireNoError(t, err, "missing file is empty settings")
	testutil.RequireLen(t, mapKeys(settings), 0, "empty settings")
}

func TestReadSettingsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	testutil.RequireNoError(t, os.WriteFile(path, []byte("{not json"), 0o644), "seed")
	if _, err := readSettings(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
