package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/intercept"
	"github.com/the-radar/deliberate/internal/output"
)

var (
	flagHookForce   bool
	flagHookBinary  string
	flagHookTimeout int
)

func init() {
	hookInstallCmd.Flags().BoolVarP(&flagHookForce, "force", "f", false, "overwrite an existing hook entry")
	hookInstallCmd.Flags().StringVar(&flagHookBinary, "binary", "", "path to the deliberate binary (default: current executable)")
	hookInstallCmd.Flags().IntVar(&flagHookTimeout, "timeout", 120, "hook timeout in seconds")

	hookCmd.AddCommand(hookInstallCmd)
	hookCmd.AddCommand(hookUninstallCmd)
	hookCmd.AddCommand(hookStatusCmd)
	hookCmd.AddCommand(hookTestCmd)

	rootCmd.AddCommand(hookCmd)
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the agent harness hook integration",
	Long: `Manage the PreToolUse hook that routes agent shell commands through
deliberate.

The hook intercepts Bash tool calls before execution. Dangerous commands
require a human at the terminal; catastrophic ones are refused outright.

Quick start:
  deliberate hook install    # Register the guard in settings.json
  deliberate hook status     # Check installation status
  deliberate hook uninstall  # Remove the hook`,
}

var hookInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the guard hook into harness settings",
	Long: `Register 'deliberate guard' as a PreToolUse hook for Bash tool calls.

Existing unrelated hooks are preserved. An existing deliberate entry is
left alone unless --force is given.`,
	RunE: runHookInstall,
}

var hookUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove the guard hook from harness settings",
	RunE:  runHookUninstall,
}

var hookStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show hook installation status",
	RunE:  runHookStatus,
}

var hookTestCmd = &cobra.Command{
	Use:   "test <command>",
	Short: "Show what the hook would decide for a command",
	Long: `Simulate the hook's decision for a command without running the
approval gate.

Examples:
  deliberate hook test "rm -rf node_modules"
  deliberate hook test "git push --force"`,
	Args: cobra.ExactArgs(1),
	RunE: runHookTest,
}

// guardCommand is the hook command line registered in settings.json.
func guardCommand() (string, error) {
	bin := flagHookBinary
	if bin == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("resolving executable path: %w", err)
		}
		bin = exe
	}
	return bin + " guard", nil
}

func settingsPath(cfg *config.Config) string {
	return config.ExpandHome(cfg.Hooks.SettingsPath)
}

// isGuardHook reports whether a configured hook command is ours.
func isGuardHook(command string) bool {
	fields := strings.Fields(command)
	return len(fields) >= 2 &&
		filepath.Base(fields[0]) == "deliberate" &&
		fields[1] == "guard"
}

func readSettings(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parsing settings: %w", err)
	}
	return settings, nil
}

func writeSettings(path string, settings map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating settings directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling settings: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func preToolUseHooks(settings map[string]any) (map[string]any, []any) {
	hooks, ok := settings["hooks"].(map[string]any)
	if !ok {
		hooks = map[string]any{}
	}
	entries, ok := hooks["PreToolUse"].([]any)
	if !ok {
		entries = []any{}
	}
	return hooks, entries
}

// findGuardEntry returns the index of our hook in the PreToolUse list,
// or -1.
func findGuardEntry(entries []any) int {
	for i, entry := range entries {
		h, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if matcher, ok := h["matcher"].(string); !ok || matcher != "Bash" {
			continue
		}
		hookList, ok := h["hooks"].([]any)
		if !ok {
			continue
		}
		for _, hk := range hookList {
			hkMap, ok := hk.(map[string]any)
			if !ok {
				continue
			}
			if command, ok := hkMap["command"].(string); ok && isGuardHook(command) {
				return i
			}
		}
	}
	return -1
}

func runHookInstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	command, err := guardCommand()
	if err != nil {
		return err
	}

	path := settingsPath(cfg)
	settings, err := readSettings(path)
	if err != nil {
		return err
	}

	entry := map[string]any{
		"matcher": "Bash",
		"hooks": []any{
			map[string]any{
				"type":    "command",
				"command": command,
				"timeout": flagHookTimeout,
			},
		},
	}

	hooks, entries := preToolUseHooks(settings)
	idx := findGuardEntry(entries)
	alreadyExisted := idx >= 0
	switch {
	case idx >= 0 && flagHookForce:
		entries[idx] = entry
	case idx < 0:
		entries = append(entries, entry)
	}

	hooks["PreToolUse"] = entries
	settings["hooks"] = hooks

	if err := writeSettings(path, settings); err != nil {
		return err
	}

	out := output.New(output.Format(GetOutput()))
	return out.Write(map[string]any{
		"status":          "installed",
		"settings_path":   path,
		"hook_command":    command,
		"already_existed": alreadyExisted && !flagHookForce,
	})
}

func runHookUninstall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := settingsPath(cfg)
	out := output.New(output.Format(GetOutput()))

	settings, err := readSettings(path)
	if err != nil {
		return err
	}
	if len(settings) == 0 {
		return out.Write(map[string]any{
			"status":  "not_installed",
			"message": "settings file not found",
		})
	}

	hooks, entries := preToolUseHooks(settings)
	idx := findGuardEntry(entries)
	if idx < 0 {
		return out.Write(map[string]any{
			"status":  "not_installed",
			"message": "no guard hook configured",
		})
	}

	hooks["PreToolUse"] = append(entries[:idx], entries[idx+1:]...)
	settings["hooks"] = hooks

	if err := writeSettings(path, settings); err != nil {
		return err
	}
	return out.Write(map[string]any{
		"status":  "uninstalled",
		"removed": true,
	})
}

func runHookStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path := settingsPath(cfg)
	status := map[string]any{
		"settings_path":       path,
		"settings_exists":     false,
		"settings_configured": false,
	}

	if _, err := os.Stat(path); err == nil {
		status["settings_exists"] = true
	}

	settings, err := readSettings(path)
	if err == nil {
		_, entries := preToolUseHooks(settings)
		if idx := findGuardEntry(entries); idx >= 0 {
			status["settings_configured"] = true
		}
	}

	if status["settings_configured"].(bool) {
		status["status"] = "installed"
	} else {
		status["status"] = "not_installed"
	}

	out := output.New(output.Format(GetOutput()))
	return out.Write(status)
}

func runHookTest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cwd, _ := os.Getwd()
	eng, err := buildEngine(cfg, cwd, "")
	if err != nil {
		return err
	}

	// No gate: this reports what interception would decide, it never
	// prompts.
	ctrl := buildTestController(cfg, eng)
	outcome := ctrl.Intercept(cmd.Context(), &intercept.Request{
		Command:    args[0],
		WorkingDir: cwd,
	})

	var action string
	switch {
	case outcome.Allowed:
		action = "allow"
	case outcome.HardBlock:
		action = "deny"
	default:
		action = "ask"
	}

	out := output.New(output.Format(GetOutput()))
	payload := map[string]any{
		"command": args[0],
		"action":  action,
		"reason":  outcome.Reason,
	}
	if outcome.Verdict != nil {
		payload["risk_level"] = outcome.Verdict.Risk.String()
		payload["confidence"] = outcome.Verdict.Confidence
		payload["source"] = string(outcome.Verdict.Source)
	}
	return out.Write(payload)
}
