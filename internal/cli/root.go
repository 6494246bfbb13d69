// Package cli implements the Cobra command-line interface for deliberate.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/output"
	"github.com/the-radar/deliberate/internal/utils"
)

// Version information set by goreleaser
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flag values
var (
	flagConfig  string
	flagOutput  string
	flagJSON    bool
	flagVerbose bool
	flagProject string
)

var rootCmd = &cobra.Command{
	Use:   "deliberate",
	Short: "Shell command interception for AI coding agents",
	Long: `Deliberate intercepts shell commands issued by AI coding agents and
decides whether each one may run.

Commands pass through layered classification:
  patterns    - regex rules for known-catastrophic and known-dangerous shapes
  model       - semantic similarity against labeled example commands
  arbitration - LLM review when the model is uncertain

Anything rated MODERATE or above must be approved by a human at the real
terminal. CRITICAL commands matching catastrophic patterns are refused
outright.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagVerbose {
			_ = os.Setenv("DELIBERATE_LOG_LEVEL", "debug")
		}
		utils.InitDefaultLogger()
		if flagProject == "" {
			return nil
		}
		if err := os.Chdir(flagProject); err != nil {
			return fmt.Errorf("changing directory to %s: %w", flagProject, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		goVersion := runtime.Version()
		configPath := flagConfig
		if configPath == "" {
			home, _ := os.UserHomeDir()
			configPath = filepath.Join(home, ".deliberate", "config.toml")
		}
		projectPath, _ := os.Getwd()

		payload := map[string]any{
			"version":      version,
			"commit":       commit,
			"build_date":   date,
			"go_version":   goVersion,
			"config_path":  configPath,
			"project_path": projectPath,
		}

		switch GetOutput() {
		case "json", "yaml":
			out := output.New(output.Format(GetOutput()))
			return out.Write(payload)
		case "text":
			fmt.Printf("deliberate %s\n", version)
			fmt.Printf("  commit:  %s\n", commit)
			fmt.Printf("  built:   %s\n", date)
			fmt.Printf("  go:      %s\n", goVersion)
			fmt.Printf("  config:  %s\n", configPath)
			fmt.Printf("  project: %s\n", projectPath)
			return nil
		default:
			return fmt.Errorf("unsupported format: %s", GetOutput())
		}
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetOutput returns the configured output format.
// Precedence: CLI flags > DELIBERATE_OUTPUT_FORMAT env > default
func GetOutput() string {
	if flagJSON {
		return "json"
	}
	if flagOutput != "text" {
		return flagOutput
	}

	if envFormat := os.Getenv("DELIBERATE_OUTPUT_FORMAT"); envFormat != "" {
		switch envFormat {
		case "json", "yaml", "text":
			return envFormat
		}
	}

	return flagOutput
}

// loadConfig resolves the full configuration for the current invocation.
func loadConfig() (*config.Config, error) {
	project, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	return config.Load(config.LoadOptions{
		ProjectDir:         project,
		ConfigPathOverride: flagConfig,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml (env: DELIBERATE_OUTPUT_FORMAT)")
	rootCmd.PersistentFlags().BoolVarP(&flagJSON, "json", "j", false, "shorthand for --output=json")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&flagProject, "project", "C", "", "project directory")

	rootCmd.AddCommand(versionCmd)
}
