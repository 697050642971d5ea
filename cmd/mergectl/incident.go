package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/utils"
)

func newIncidentCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "incident",
		Aliases: []string{"i"},
		Short:   "Inspect incidents",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <incident-id | INC-000042>",
		Short: "Show an incident with its merge lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inc, err := c.resolveIncident(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			var merges []database.IncidentMerge
			if err := c.db.WithContext(cmd.Context()).
				Where("target_incident_id = ? OR source_incident_id = ?", inc.ID, inc.ID).
				Order("created_at").Find(&merges).Error; err != nil {
				return fmt.Errorf("failed to load merge history: %w", err)
			}

			printIncident(cmd, inc, merges)
			return nil
		},
	})
	return cmd
}

// resolveIncident accepts a UUID or a display number such as INC-000042
func (c *cli) resolveIncident(ctx context.Context, ref string) (*database.Incident, error) {
	if upper := strings.ToUpper(ref); strings.HasPrefix(upper, "INC-") {
		n, err := strconv.ParseInt(strings.TrimPrefix(upper, "INC-"), 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid incident number %q", ref)
		}
		return c.incidents.GetByNumber(ctx, n)
	}
	if err := utils.ValidateIncidentID(ref); err != nil {
		return nil, err
	}
	return c.incidents.Get(ctx, ref)
}

func printIncident(cmd *cobra.Command, inc *database.Incident, merges []database.IncidentMerge) {
	w := out(cmd)
	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(w, "%s %s\n", cyan(inc.DisplayNumber()), bold(utils.EscapeForLogging(inc.Title, 120)))
	fmt.Fprintf(w, "  ID:        %s\n", inc.ID)
	fmt.Fprintf(w, "  Status:    %s", inc.Status)
	if inc.ResolutionType != database.ResolutionNone {
		fmt.Fprintf(w, " (%s)", inc.ResolutionType)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Category:  %s / %s\n", inc.Category, inc.Severity)
	fmt.Fprintf(w, "  Reported:  %s (%s ago) by %s\n",
		inc.ReportedAt.UTC().Format(time.RFC3339), utils.FormatDuration(time.Since(inc.ReportedAt)), inc.ReporterID)
	if inc.HasLocation() {
		fmt.Fprintf(w, "  Location:  %.6f, %.6f\n", *inc.Latitude, *inc.Longitude)
	}
	if inc.AssetID != "" {
		fmt.Fprintf(w, "  Asset:     %s\n", inc.AssetID)
	}
	fmt.Fprintf(w, "  Upvotes:   %d   Comments: %d   Photos: %d   Version: %d\n",
		inc.UpvoteCount, len(inc.Comments), len(inc.PhotoURLs), inc.Version)
	if len(inc.AdditionalReporters) > 0 {
		fmt.Fprintf(w, "  Also reported by: %s\n", strings.Join(inc.AdditionalReporters, ", "))
	}
	if len(inc.RelatedIncidents) > 0 {
		label := "Related"
		if inc.IsMergedDuplicate() {
			label = "Merged into"
		}
		fmt.Fprintf(w, "  %s: %s\n", label, strings.Join(inc.RelatedIncidents, ", "))
	}

	if len(merges) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  Merge history:\n")
	for _, m := range merges {
		direction := "absorbed " + m.SourceIncidentID
		if m.SourceIncidentID == inc.ID {
			direction = "merged into " + m.TargetIncidentID
		}
		fmt.Fprintf(w, "    %s  %s by %s (%s)\n",
			m.CreatedAt.UTC().Format(time.RFC3339), direction, m.MergedBy, utils.FormatScore(m.MergeConfidence))
	}
}
