package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/laitim2001/freight-mapping-engine/internal/core/domain"
	"github.com/laitim2001/freight-mapping-engine/internal/core/ports"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/report"
	"github.com/laitim2001/freight-mapping-engine/internal/infrastructure/seed"
)

// engine is the slice of the application the operator commands need.
type engine struct {
	rules       ports.RuleRepository
	versions    ports.RuleVersioner
	suggestions ports.SuggestionReviewer
	close       func()
}

type openFunc func(ctx context.Context) (*engine, error)

type lineageFlags struct {
	tier           string
	organizationID string
	fieldName      string
}

func (f *lineageFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tier, "tier", "GLOBAL", "Rule tier (GLOBAL or ORG_SPECIFIC)")
	cmd.Flags().StringVar(&f.organizationID, "org", "", "Organization id for ORG_SPECIFIC lineages")
	cmd.Flags().StringVar(&f.fieldName, "field", "", "Canonical field name")
	_ = cmd.MarkFlagRequired("field")
}

func (f *lineageFlags) key() (domain.LineageKey, error) {
	tier, err := domain.ParseTier(f.tier)
	if err != nil {
		return domain.LineageKey{}, err
	}
	key := domain.LineageKey{
		OrganizationID: strings.TrimSpace(f.organizationID),
		FieldName:      strings.TrimSpace(f.fieldName),
		Tier:           tier,
	}
	return key, key.Validate()
}

func newRootCmd(open openFunc) *cobra.Command {
	var asJSON bool

	root := &cobra.Command{
		Use:           "rulesctl",
		Short:         "Operate mapping rule lineages, suggestions and rollbacks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print machine readable JSON")

	// withEngine opens the engine for the duration of one command.
	withEngine := func(run func(ctx context.Context, cmd *cobra.Command, e *engine, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			e, err := open(ctx)
			if err != nil {
				return err
			}
			defer e.close()
			return run(ctx, cmd, e, args)
		}
	}
	output := func(cmd *cobra.Command, payload any, text func(w io.Writer)) error {
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(payload)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		text(tw)
		return tw.Flush()
	}

	root.AddCommand(
		newSeedCmd(withEngine, output),
		newHistoryCmd(withEngine, output),
		newRollbackCmd(withEngine, output),
		newSuggestionsCmd(withEngine, output),
		newEvaluateCmd(withEngine, output),
		newReportCmd(withEngine),
	)
	return root
}

type (
	engineRunner func(run func(ctx context.Context, cmd *cobra.Command, e *engine, args []string) error) func(*cobra.Command, []string) error
	printer      func(cmd *cobra.Command, payload any, text func(w io.Writer)) error
)

func newSeedCmd(withEngine engineRunner, output printer) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create version 1 of every lineage in a YAML rule file that does not exist yet",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			rules, err := seed.LoadFile(file)
			if err != nil {
				return err
			}
			result, err := seed.Apply(ctx, rules, e.rules, e.versions)
			if err != nil {
				return err
			}
			return output(cmd, result, func(w io.Writer) {
				for _, rule := range result.Created {
					fmt.Fprintf(w, "created\t%s\tv%d\t%s\n", rule.Lineage(), rule.Version, rule.ID)
				}
				for _, key := range result.Skipped {
					fmt.Fprintf(w, "skipped\t%s\n", key)
				}
			})
		}),
	}
	cmd.Flags().StringVar(&file, "file", "", "Path to the YAML rule file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newHistoryCmd(withEngine engineRunner, output printer) *cobra.Command {
	var lineage lineageFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the versions and rollback events of a lineage",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			key, err := lineage.key()
			if err != nil {
				return err
			}
			versions, err := e.versions.GetVersionHistory(ctx, key)
			if err != nil {
				return err
			}
			events, err := e.versions.ListRollbackEvents(ctx, key)
			if err != nil {
				return err
			}
			payload := map[string]any{"lineage": key, "versions": versions, "rollbacks": events}
			return output(cmd, payload, func(w io.Writer) {
				fmt.Fprintln(w, "VERSION\tACTIVE\tTYPE\tPATTERN\tACCURACY\tSAMPLE\tREASON")
				for _, v := range versions {
					fmt.Fprintf(w, "v%d\t%t\t%s\t%s\t%s\t%d\t%s\n", v.Version, v.IsActive, v.PatternType, v.Pattern, formatAccuracy(v.Accuracy), v.SampleSize, v.Reason)
				}
				for _, ev := range events {
					fmt.Fprintf(w, "rollback\tv%d -> v%d\t%s\t%s\t%s\n", ev.FromVersion, ev.ToVersion, ev.Trigger, ev.CreatedAt.Format("2006-01-02 15:04"), ev.Reason)
				}
			})
		}),
	}
	lineage.register(cmd)
	return cmd
}

func newRollbackCmd(withEngine engineRunner, output printer) *cobra.Command {
	var (
		lineage lineageFlags
		target  int
		trigger string
		reason  string
	)
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Reactivate an earlier version of a lineage",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			key, err := lineage.key()
			if err != nil {
				return err
			}
			parsed, err := domain.ParseRollbackTrigger(trigger)
			if err != nil {
				return err
			}
			event, err := e.versions.RollbackRule(ctx, key, target, parsed, reason)
			if err != nil {
				return err
			}
			return output(cmd, event, func(w io.Writer) {
				fmt.Fprintf(w, "%s\tv%d -> v%d\t%s\n", key, event.FromVersion, event.ToVersion, event.Trigger)
			})
		}),
	}
	lineage.register(cmd)
	cmd.Flags().IntVar(&target, "to", 0, "Target version")
	cmd.Flags().StringVar(&trigger, "trigger", string(domain.TriggerManual), "MANUAL or EMERGENCY")
	cmd.Flags().StringVar(&reason, "reason", "", "Free text reason recorded on the event")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newSuggestionsCmd(withEngine engineRunner, output printer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "suggestions",
		Short: "Review rule suggestions learned from corrections",
	}

	var organizationID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List pending suggestions",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			items, err := e.suggestions.ListPendingSuggestions(ctx, organizationID)
			if err != nil {
				return err
			}
			return output(cmd, items, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tORGANIZATION\tFIELD\tPATTERN\tSUPPORT\tCREATED")
				for _, s := range items {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.ID, s.OrganizationID, s.FieldName, s.ProposedPattern, s.SupportingCorrectionCount, s.CreatedAt.Format("2006-01-02 15:04"))
				}
			})
		}),
	}
	list.Flags().StringVar(&organizationID, "org", "", "Only list suggestions of this organization")

	var reviewer string
	approve := &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a suggestion and activate the resulting rule version",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, args []string) error {
			rule, err := e.suggestions.ApproveSuggestion(ctx, args[0], reviewer)
			if err != nil {
				return err
			}
			return output(cmd, rule, func(w io.Writer) {
				fmt.Fprintf(w, "merged\t%s\tv%d\t%s\n", rule.Lineage(), rule.Version, rule.ID)
			})
		}),
	}
	approve.Flags().StringVar(&reviewer, "reviewer", defaultReviewer(), "Reviewer recorded on the decision")

	var rejectReason string
	reject := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending suggestion",
		Args:  cobra.ExactArgs(1),
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, args []string) error {
			suggestion, err := e.suggestions.RejectSuggestion(ctx, args[0], reviewer, rejectReason)
			if err != nil {
				return err
			}
			return output(cmd, suggestion, func(w io.Writer) {
				fmt.Fprintf(w, "rejected\t%s\t%s\n", suggestion.ID, suggestion.DecisionReason)
			})
		}),
	}
	reject.Flags().StringVar(&reviewer, "reviewer", defaultReviewer(), "Reviewer recorded on the decision")
	reject.Flags().StringVar(&rejectReason, "reason", "", "Reason recorded on the decision")

	cmd.AddCommand(list, approve, reject)
	return cmd
}

func newEvaluateCmd(withEngine engineRunner, output printer) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "Run the accuracy job once and apply automatic rollbacks",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			report, err := e.versions.EvaluateAll(ctx)
			if err != nil {
				return err
			}
			return output(cmd, report, func(w io.Writer) {
				fmt.Fprintln(w, "LINEAGE\tACTIVE\tBASELINE\tCURRENT\tPREVIOUS\tSAMPLE\tOUTCOME")
				for _, ev := range report {
					fmt.Fprintf(w, "%s\tv%d\tv%d\t%s\t%s\t%d\t%s\n", ev.Lineage, ev.ActiveVersion, ev.BaselineVersion,
						formatAccuracy(ev.CurrentAccuracy), formatAccuracy(ev.BaselineAccuracy), ev.SampleSize, ev.Outcome)
				}
			})
		}),
	}
}

func newReportCmd(withEngine engineRunner) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export lineages, versions and rollback events as an xlsx workbook",
		RunE: withEngine(func(ctx context.Context, cmd *cobra.Command, e *engine, _ []string) error {
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create report file: %w", err)
			}
			if err := report.NewExporter(e.rules, e.versions).Write(ctx, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close report file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", out)
			return nil
		}),
	}
	cmd.Flags().StringVar(&out, "out", "rules-report.xlsx", "Output file")
	return cmd
}

func formatAccuracy(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func defaultReviewer() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "rulesctl"
}
