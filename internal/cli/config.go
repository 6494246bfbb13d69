package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/output"
)

var flagConfigGlobal bool

func init() {
	configCmd.PersistentFlags().BoolVar(&flagConfigGlobal, "global", false, "operate on user config (~/.deliberate/config.toml)")

	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configEditCmd)

	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or modify configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		return out.Write(cfg)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a specific configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		val, ok := config.GetValue(cfg, args[0])
		if !ok {
			return fmt.Errorf("unknown key %q", args[0])
		}
		out := output.New(output.Format(GetOutput()))
		return out.Write(map[string]any{
			"key":   args[0],
			"value": val,
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in the project (or --global) config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		project, err := os.Getwd()
		if err != nil {
			return err
		}
		userPath, projectPath := config.ConfigPaths(project, flagConfig)
		target := projectPath
		if flagConfigGlobal {
			target = userPath
		}

		value, err := config.ParseValue(args[0], args[1])
		if err != nil {
			return err
		}
		if err := config.WriteValue(target, args[0], value); err != nil {
			return err
		}

		out := output.New(output.Format(GetOutput()))
		out.Success(fmt.Sprintf("set %s in %s", args[0], target))
		return nil
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open the config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		editor := os.Getenv("EDITOR")
		if editor == "" {
			return errors.New("$EDITOR is not set")
		}

		project, err := os.Getwd()
		if err != nil {
			return err
		}
		userPath, projectPath := config.ConfigPaths(project, flagConfig)
		target := projectPath
		if flagConfigGlobal {
			target = userPath
		}

		edit := exec.Command(editor, target)
		edit.Stdin = os.Stdin
		edit.Stdout = os.Stdout
		edit.Stderr = os.Stderr
		return edit.Run()
	},
}
