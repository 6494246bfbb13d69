package cli

import (
	"fmt"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/output"
	"github.com/the-radar/deliberate/internal/risk"
	"github.com/the-radar/deliberate/internal/utils"
)

var (
	flagClassifyPath     bool
	flagClassifyExitCode bool
)

func init() {
	classifyCmd.Flags().BoolVar(&flagClassifyPath, "path", false, "classify a filesystem path instead of a command")
	classifyCmd.Flags().BoolVar(&flagClassifyExitCode, "exit-code", false, "return non-zero exit code if approval would be needed")

	rootCmd.AddCommand(classifyCmd)
}

var classifyCmd = &cobra.Command{
	Use:   "classify <command>",
	Short: "Classify a command without intercepting it",
	Long: `Run a command through the full classification stack and show the verdict.

Nothing is executed and no approval prompt runs. Useful for checking what
interception would decide, and for tuning patterns and thresholds.

Examples:
  deliberate classify "rm -rf node_modules"
  deliberate classify "git push --force origin main"
  deliberate classify --path ~/.ssh/id_rsa`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cwd, _ := os.Getwd()
		username := ""
		if u, err := user.Current(); err == nil {
			username = u.Username
		}

		eng, err := buildEngine(cfg, cwd, username)
		if err != nil {
			return err
		}

		var verdict *risk.Verdict
		if flagClassifyPath {
			verdict = eng.ClassifyPath(cmd.Context(), args[0])
		} else {
			verdict = eng.ClassifyCommand(cmd.Context(), args[0])
		}

		out := output.New(output.Format(GetOutput()))
		if GetOutput() == "text" {
			printVerdict(verdict)
		} else {
			payload := map[string]any{
				"subject":        verdict.Subject,
				"kind":           string(verdict.Kind),
				"risk_level":     verdict.Risk.String(),
				"confidence":     verdict.Confidence,
				"coverage":       verdict.Coverage,
				"source":         string(verdict.Source),
				"reason":         verdict.Reason,
				"needs_approval": verdict.NeedsApproval(),
				"blocked":        verdict.Blocked(),
				"can_override":   verdict.CanOverride,
				"command_hash":   utils.CommandHash(verdict.Subject, cwd, "sh", nil),
				"layers":         verdict.Layers,
			}
			if err := out.Write(payload); err != nil {
				return err
			}
		}

		if flagClassifyExitCode && verdict.NeedsApproval() {
			os.Exit(1)
		}
		return nil
	},
}

func printVerdict(v *risk.Verdict) {
	fmt.Printf("%s\n", v.Subject)
	fmt.Printf("  risk:       %s\n", v.Risk)
	fmt.Printf("  confidence: %.2f\n", v.Confidence)
	fmt.Printf("  coverage:   %.2f\n", v.Coverage)
	fmt.Printf("  source:     %s\n", v.Source)
	if v.Reason != "" {
		fmt.Printf("  reason:     %s\n", v.Reason)
	}
	switch {
	case v.Blocked():
		fmt.Printf("  decision:   would be blocked\n")
	case v.NeedsApproval():
		fmt.Printf("  decision:   would require approval\n")
	default:
		fmt.Printf("  decision:   would be allowed\n")
	}
	for _, layer := range v.Layers {
		fmt.Printf("  layer %-12s %s (%s)\n", layer.Layer+":", layer.Risk, layer.Detail)
	}
}
