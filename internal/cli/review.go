package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/the-radar/deliberate/internal/audit"
	"github.com/the-radar/deliberate/internal/config"
	"github.com/the-radar/deliberate/internal/output"
	"github.com/the-radar/deliberate/internal/risk"
	"github.com/the-radar/deliberate/internal/tui"
)

var (
	flagReviewResolved bool
	flagReviewLabel    string
	flagReviewTUI      bool
)

func init() {
	reviewListCmd.Flags().BoolVar(&flagReviewResolved, "resolved", false, "show resolved cases instead of pending ones")
	reviewApproveCmd.Flags().StringVarP(&flagReviewLabel, "label", "l", "", "risk label to record (SAFE, MODERATE, HIGH, CRITICAL)")
	reviewCmd.PersistentFlags().BoolVar(&flagReviewTUI, "tui", false, "open the interactive review browser")

	reviewCmd.AddCommand(reviewListCmd)
	reviewCmd.AddCommand(reviewShowCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewImportCmd)

	rootCmd.AddCommand(reviewCmd)
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review uncertain classifications and label them",
	Long: `Work the queue of commands the classifier was uncertain about.

Cases come from the audit trail: every disagreement between the model and
the arbiter, and every arbitration failure, lands here. Labeling a case
appends it to the training file so the next model calibration learns from
it. HIGH and CRITICAL labels are exported as DANGEROUS examples.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagReviewTUI {
			store, err := openReviewStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return tui.RunReview(store)
		}
		return cmd.Help()
	},
}

func openReviewStore() (*audit.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return audit.OpenStore(
		config.ExpandHome(cfg.Audit.DatabasePath),
		config.ExpandHome(cfg.Audit.TrainingPath),
	)
}

// caseView is the serializable view of one review case.
type caseView struct {
	ID              string  `json:"id"`
	Command         string  `json:"command"`
	ModelLabel      string  `json:"model_label"`
	ModelConfidence float64 `json:"model_confidence"`
	ModelCoverage   float64 `json:"model_coverage"`
	SuggestedLabel  *string `json:"suggested_label,omitempty"`
	FinalLabel      *string `json:"final_label,omitempty"`
	Status          string  `json:"status"`
	CreatedAt       string  `json:"created_at"`
}

func viewOf(c *audit.Case) caseView {
	v := caseView{
		ID:              c.ID,
		Command:         c.Command,
		ModelLabel:      c.ModelLabel.String(),
		ModelConfidence: c.ModelConfidence,
		ModelCoverage:   c.ModelCoverage,
		Status:          c.Status,
		CreatedAt:       c.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if c.SuggestedLabel != nil {
		s := c.SuggestedLabel.String()
		v.SuggestedLabel = &s
	}
	if c.FinalLabel != nil {
		s := c.FinalLabel.String()
		v.FinalLabel = &s
	}
	return v
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReviewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var cases []*audit.Case
		if flagReviewResolved {
			cases, err = store.ListResolved()
		} else {
			cases, err = store.ListPending()
		}
		if err != nil {
			return err
		}

		if GetOutput() == "text" {
			if len(cases) == 0 {
				fmt.Println("no cases")
				return nil
			}
			for _, c := range cases {
				fmt.Printf("%-10s %-9s conf=%.2f  %s\n", c.ID[:min(10, len(c.ID))], c.ModelLabel, c.ModelConfidence, c.Command)
			}
			return nil
		}

		views := make([]caseView, 0, len(cases))
		for _, c := range cases {
			views = append(views, viewOf(c))
		}
		out := output.New(output.Format(GetOutput()))
		return out.Write(map[string]any{
			"count": len(views),
			"cases": views,
		})
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one review case",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReviewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := store.GetCase(args[0])
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		return out.Write(viewOf(c))
	},
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Label a case and export it for training",
	Long: `Record the human label for a case and append it to the training file.

Without --label, the suggested label from the audit trail is used; if
there is none, the model's own label is recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReviewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		c, err := store.GetCase(args[0])
		if err != nil {
			return err
		}

		label := c.ModelLabel
		if c.SuggestedLabel != nil {
			label = *c.SuggestedLabel
		}
		if flagReviewLabel != "" {
			label, err = risk.ParseLevel(flagReviewLabel)
			if err != nil {
				return err
			}
		}

		resolved, err := store.Approve(args[0], label)
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		out.Success(fmt.Sprintf("labeled %s as %s", resolved.ID, label))
		if GetOutput() != "text" {
			return out.Write(viewOf(resolved))
		}
		return nil
	},
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Discard a case without exporting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openReviewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		resolved, err := store.Reject(args[0])
		if err != nil {
			return err
		}
		out := output.New(output.Format(GetOutput()))
		out.Success(fmt.Sprintf("rejected %s", resolved.ID))
		return nil
	},
}

var reviewImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import pending audit records into the review queue",
	Long: `Read the pending-review audit log and enqueue each record as a case.

Records already in the queue are skipped, so the import is idempotent and
safe to run repeatedly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		trail := audit.NewTrail(
			config.ExpandHome(cfg.Audit.LogPath),
			config.ExpandHome(cfg.Audit.ReviewQueuePath),
		)
		records, err := trail.ReadPending()
		if err != nil {
			return err
		}

		store, err := openReviewStore()
		if err != nil {
			return err
		}
		defer store.Close()

		added, err := store.ImportTrail(records)
		if err != nil {
			return err
		}

		out := output.New(output.Format(GetOutput()))
		return out.Write(map[string]any{
			"records":  len(records),
			"imported": added,
			"skipped":  len(records) - added,
		})
	},
}
