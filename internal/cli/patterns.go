package cli

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/output"
	"github.com/the-radar/deliberate/internal/pattern"
	"github.com/the-radar/deliberate/internal/risk"
)

var (
	flagPatternLevel      string
	flagPatternExitCode   bool
	flagPatternOutputFile string
)

func init() {
	patternsListCmd.Flags().StringVarP(&flagPatternLevel, "level", "l", "", "filter by risk level (SAFE, MODERATE, HIGH, CRITICAL)")
	patternsTestCmd.Flags().BoolVar(&flagPatternExitCode, "exit-code", false, "return non-zero exit code if a rule matched")
	patternsExportCmd.Flags().StringVarP(&flagPatternOutputFile, "file", "f", "", "output file (default: stdout)")

	patternsCmd.AddCommand(patternsListCmd)
	patternsCmd.AddCommand(patternsTestCmd)
	patternsCmd.AddCommand(patternsExportCmd)

	rootCmd.AddCommand(patternsCmd)
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect command classification rules",
	Long: `Inspect the ordered regex rules used by the pattern layer.

Rules are matched first to last; catastrophic rules precede their more
general supersets so the strongest verdict always wins. Extra rules can be
added via patterns.dangerous and patterns.catastrophic in the config.`,
}

// patternEntry is the serializable view of one rule.
type patternEntry struct {
	Expr        string `json:"expr"`
	Risk        string `json:"risk_level"`
	Kind        string `json:"kind"`
	Reason      string `json:"reason"`
	CanOverride bool   `json:"can_override"`
	Source      string `json:"source"`
}

func collectPatterns(m *pattern.Matcher) []patternEntry {
	var entries []patternEntry
	for _, kind := range []risk.SubjectKind{risk.SubjectCommand, risk.SubjectPath, risk.SubjectContent} {
		for _, r := range m.Rules(kind) {
			entries = append(entries, patternEntry{
				Expr:        r.Expr,
				Risk:        r.Risk.String(),
				Kind:        string(kind),
				Reason:      r.Reason,
				CanOverride: r.CanOverride,
				Source:      r.Source,
			})
		}
	}
	return entries
}

var patternsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules, optionally filtered by risk level",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		matcher, err := buildMatcher(cfg)
		if err != nil {
			return err
		}

		entries := collectPatterns(matcher)
		if flagPatternLevel != "" {
			level, err := risk.ParseLevel(flagPatternLevel)
			if err != nil {
				return err
			}
			filtered := entries[:0]
			for _, e := range entries {
				if e.Risk == level.String() {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}

		if GetOutput() == "text" {
			sort.SliceStable(entries, func(i, j int) bool { return entries[i].Risk < entries[j].Risk })
			for _, e := range entries {
				fmt.Printf("%-9s %-8s %s\n", e.Risk, e.Kind, e.Expr)
			}
			return nil
		}
		out := output.New(output.Format(GetOutput()))
		return out.Write(map[string]any{
			"count":    len(entries),
			"patterns": entries,
		})
	},
}

var patternsTestCmd = &cobra.Command{
	Use:   "test <command>",
	Short: "Test the pattern layer alone against a command",
	Long: `Match a command against the regex rules only, skipping the semantic
model and arbitration layers.

Use --exit-code to return non-zero (exit 1) when any rule matches.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		matcher, err := buildMatcher(cfg)
		if err != nil {
			return err
		}

		verdict := matcher.CheckCommand(args[0])
		out := output.New(output.Format(GetOutput()))

		if verdict == nil {
			if err := out.Write(map[string]any{
				"command": args[0],
				"matched": false,
			}); err != nil {
				return err
			}
			return nil
		}

		if err := out.Write(map[string]any{
			"command":      args[0],
			"matched":      true,
			"risk_level":   verdict.Risk.String(),
			"reason":       verdict.Reason,
			"can_override": verdict.CanOverride,
		}); err != nil {
			return err
		}
		if flagPatternExitCode {
			os.Exit(1)
		}
		return nil
	},
}

var patternsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all rules as JSON with a content hash",
	Long: `Export the full rule set with a sha256 content hash.

The hash changes whenever any rule changes, which lets external tooling
detect stale copies of the rule set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		matcher, err := buildMatcher(cfg)
		if err != nil {
			return err
		}

		entries := collectPatterns(matcher)
		payload := map[string]any{
			"version":      version,
			"pattern_hash": patternsHash(entries),
			"count":        len(entries),
			"patterns":     entries,
		}

		if flagPatternOutputFile != "" {
			f, err := os.Create(flagPatternOutputFile)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}
			defer f.Close()
			out := output.New(output.FormatJSON, output.WithOutput(f))
			return out.Write(payload)
		}

		format := output.Format(GetOutput())
		if format == output.FormatText {
			format = output.FormatJSON
		}
		out := output.New(format)
		return out.Write(payload)
	},
}

// patternsHash digests the rule set in order. Order matters for matching,
// so it matters for the hash too.
func patternsHash(entries []patternEntry) string {
	h := sha256.New()
	for _, e := range entries {
		fmt.Fprintf(h, "%s|%s|%s|%t\n", e.Kind, e.Risk, e.Expr, e.CanOverride)
	}
	return hex.EncodeToString(h.Sum(nil))
}
