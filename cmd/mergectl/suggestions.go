package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/utils"
)

func newSuggestionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "suggestions",
		Aliases: []string{"s"},
		Short:   "List and review merge suggestions",
	}
	cmd.AddCommand(newSuggestionsListCmd(c))
	cmd.AddCommand(newSuggestionsReviewCmd(c, true))
	cmd.AddCommand(newSuggestionsReviewCmd(c, false))
	return cmd
}

func newSuggestionsListCmd(c *cli) *cobra.Command {
	var incidentID, status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List merge suggestions, newest first",
		Long: `List merge suggestions, newest first.

Examples:
  # Everything waiting for review
  mergectl suggestions list

  # Every suggestion naming one incident, whatever its status
  mergectl suggestions list --incident <id> --status all`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if incidentID != "" {
				if err := utils.ValidateIncidentID(incidentID); err != nil {
					return err
				}
			}
			if status == "all" {
				status = ""
			}

			suggestions, err := c.suggestions.List(cmd.Context(), incidentID, database.SuggestionStatus(status))
			if err != nil {
				return err
			}

			w := out(cmd)
			if len(suggestions) == 0 {
				green := color.New(color.FgGreen).SprintFunc()
				fmt.Fprintf(w, "%s No merge suggestions found\n", green("✓"))
				return nil
			}

			cyan := color.New(color.FgCyan).SprintFunc()
			fmt.Fprintf(w, "\n%d merge suggestion(s):\n\n", len(suggestions))
			for _, s := range suggestions {
				fmt.Fprintf(w, "%s  %s  score %s  (%s ago, by %s)\n",
					cyan(s.ID), statusColor(s.Status), utils.FormatScore(s.SimilarityScore),
					utils.FormatDuration(time.Since(s.CreatedAt)), s.ProposedBy)
				fmt.Fprintf(w, "  Primary:    %s\n", s.PrimaryIncidentID)
				fmt.Fprintf(w, "  Duplicates: %s\n", strings.Join(s.DuplicateIncidentIDs, ", "))
				if len(s.MatchReasons) > 0 {
					fmt.Fprintf(w, "  Reasons:    %s\n", strings.Join(s.MatchReasons, ", "))
				}
				if s.ReviewedBy != "" {
					fmt.Fprintf(w, "  Reviewed:   %s %s\n", s.ReviewedBy, utils.EscapeForLogging(s.ReviewNotes, 80))
				}
				fmt.Fprintln(w)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&incidentID, "incident", "", "Only suggestions naming this incident")
	cmd.Flags().StringVar(&status, "status", string(database.SuggestionStatusPending), "pending, approved, rejected or all")
	return cmd
}

// newSuggestionsReviewCmd builds "approve" or "reject"
func newSuggestionsReviewCmd(c *cli, approve bool) *cobra.Command {
	var reviewer, notes string

	use, short := "reject <suggestion-id>", "Reject a pending suggestion"
	if approve {
		use, short = "approve <suggestion-id>", "Approve a pending suggestion and run the merge"
	}

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if _, err := uuid.Parse(id); err != nil {
				return fmt.Errorf("invalid suggestion ID %q", id)
			}

			if !approve {
				s, err := c.suggestions.Reject(cmd.Context(), id, reviewer, notes)
				if err != nil {
					return err
				}
				yellow := color.New(color.FgYellow).SprintFunc()
				fmt.Fprintf(out(cmd), "%s Suggestion %s rejected by %s\n", yellow("✗"), s.ID, s.ReviewedBy)
				return nil
			}

			result, err := c.suggestions.Approve(cmd.Context(), id, reviewer, notes)
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&reviewer, "reviewer", "", "Reviewer ID recorded on the suggestion")
	cmd.Flags().StringVar(&notes, "notes", "", "Review notes")
	_ = cmd.MarkFlagRequired("reviewer")
	return cmd
}

func statusColor(s database.SuggestionStatus) string {
	switch s {
	case database.SuggestionStatusApproved:
		return color.GreenString(string(s))
	case database.SuggestionStatusRejected:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func printMergeResult(cmd *cobra.Command, result *merging.Result) {
	w := out(cmd)
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	fmt.Fprintf(w, "%s Merged %d incident(s) into %s\n", green("✓"), len(result.MergedIDs), cyan(result.Primary.DisplayNumber()))
	if result.Reselected {
		fmt.Fprintf(w, "  %s %s was reported earlier and became the primary (requested %s)\n",
			yellow("ℹ"), result.Primary.ID, result.RequestedPrimaryID)
	}
	for _, id := range result.MergedIDs {
		fmt.Fprintf(w, "  merged  %s\n", id)
	}
	for _, d := range result.Dropped {
		fmt.Fprintf(w, "  %s skipped %s (%s)\n", yellow("⚠"), d.IncidentID, d.Reason)
	}
}
