package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/civicwatch/civicwatch/internal/merging"
	"github.com/civicwatch/civicwatch/internal/utils"
)

func newMergeCmd(c *cli) *cobra.Command {
	var mergedBy, notes string

	cmd := &cobra.Command{
		Use:   "merge <primary-id> <duplicate-id>...",
		Short: "Merge duplicate incidents into a primary",
		Long: fmt.Sprintf(`Merge up to %d duplicate incidents into a primary incident.

When a duplicate was reported before the requested primary, the earliest
report survives instead. Duplicates that are missing, already merged or
already closed are skipped and listed.`, merging.MaxDuplicates),
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := utils.ValidateIncidentID(id); err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
			}

			result, err := c.engine.Merge(cmd.Context(), merging.Request{
				PrimaryID:    args[0],
				DuplicateIDs: args[1:],
				MergedBy:     mergedBy,
				Notes:        notes,
				Confidence:   1.0,
				Reason:       "manual merge",
			})
			if err != nil {
				return err
			}
			printMergeResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&mergedBy, "by", "", "Operator ID recorded as merged_by")
	cmd.Flags().StringVar(&notes, "notes", "", "Merge notes")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
