package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/intercept"
	"github.com/the-radar/deliberate/internal/utils"
)

// hookInput is the PreToolUse payload the agent harness pipes to stdin.
type hookInput struct {
	SessionID string `json:"session_id"`
	ToolName  string `json:"tool_name"`
	ToolInput struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	} `json:"tool_input"`
	Cwd string `json:"cwd"`
}

// hookOutput is the decision shape the harness reads back.
type hookOutput struct {
	HookSpecificOutput hookDecision `json:"hookSpecificOutput"`
}

type hookDecision struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

func init() {
	rootCmd.AddCommand(guardCmd)
}

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Run as a PreToolUse hook (reads JSON from stdin)",
	Long: `Intercept one command on behalf of an agent harness.

The harness pipes the PreToolUse payload to stdin. The command is
classified, the approval gate runs on the controlling terminal when
needed, and the decision is written to stdout as JSON.

Exit codes:
  0  decision written (allow or deny)
  2  command refused with no override offered`,
	RunE: runGuard,
}

func runGuard(cmd *cobra.Command, args []string) error {
	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return fmt.Errorf("reading hook input: %w", err)
	}

	var in hookInput
	if err := json.Unmarshal(data, &in); err != nil {
		// Malformed input cannot be classified. Denying here would wedge
		// the agent on harness bugs, so let it through and say why.
		return writeHookDecision("allow", "unparseable hook input: "+err.Error())
	}

	// Only shell executions are in scope.
	if in.ToolName != "" && in.ToolName != "Bash" {
		return writeHookDecision("allow", "not a shell command")
	}
	if in.ToolInput.Command == "" {
		return writeHookDecision("allow", "empty command")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if logger, lerr := utils.InitSessionLogger(config.ExpandHome(cfg.General.SessionHistoryDir), in.SessionID); lerr == nil {
		utils.SetDefaultLogger(logger)
	}

	cwd := in.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	username := ""
	if u, uerr := user.Current(); uerr == nil {
		username = u.Username
	}

	ctrl, err := buildController(cfg, cwd, username)
	if err != nil {
		return err
	}

	outcome := ctrl.Intercept(cmd.Context(), &intercept.Request{
		Command:    in.ToolInput.Command,
		SessionID:  in.SessionID,
		WorkingDir: cwd,
	})

	utils.Info("interception decision",
		"command_hash", utils.CommandHash(in.ToolInput.Command, cwd, "sh", nil),
		"allowed", outcome.Allowed,
		"hard_block", outcome.HardBlock,
		"reason", outcome.Reason,
	)

	if outcome.Allowed {
		return writeHookDecision("allow", outcome.Reason)
	}

	if err := writeHookDecision("deny", outcome.Reason); err != nil {
		return err
	}
	if outcome.HardBlock && cfg.Blocking.Enabled {
		fmt.Fprintf(os.Stderr, "deliberate: %s\n", outcome.Reason)
		os.Exit(2)
	}
	return nil
}

func writeHookDecision(decision, reason string) error {
	out := hookOutput{
		HookSpecificOutput: hookDecision{
			HookEventName:            "PreToolUse",
			PermissionDecision:       decision,
			PermissionDecisionReason: reason,
		},
	}
	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(out)
}
