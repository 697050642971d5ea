package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"gorm.io/gorm"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/testhelpers"
)

func init() {
	color.NoColor = true
}

// execute runs mergectl against db and returns what it printed
func execute(t *testing.T, db *gorm.DB, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := newRootCmd(db)
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestSuggestionsList(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().ReportedAgo(2*time.Hour).Create(t, db)
	dup := testhelpers.NewIncidentBuilder().Create(t, db)
	s := testhelpers.NewSuggestionBuilder(primary.ID, dup.ID).WithScore(0.91).Create(t, db)

	out, err := execute(t, db, "suggestions", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{s.ID, "pending", "91.0%", dup.ID, "similar_description"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSuggestionsList_Empty(t *testing.T) {
	db := testhelpers.NewTestDB(t)

	out, err := execute(t, db, "suggestions", "list", "--status", "all")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "No merge suggestions found") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestSuggestionsList_InvalidStatus(t *testing.T) {
	db := testhelpers.NewTestDB(t)

	if _, err := execute(t, db, "suggestions", "list", "--status", "maybe"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestSuggestionsApprove(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().ReportedAgo(2*time.Hour).Create(t, db)
	dup := testhelpers.NewIncidentBuilder().WithReporter("citizen-2").Create(t, db)
	s := testhelpers.NewSuggestionBuilder(primary.ID, dup.ID).Create(t, db)

	out, err := execute(t, db, "suggestions", "approve", s.ID, "--reviewer", "dispatcher-7")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Merged 1 incident(s) into "+primary.DisplayNumber()) {
		t.Errorf("unexpected output: %s", out)
	}

	merged := testhelpers.ReloadIncident(t, db, dup.ID)
	if merged.ResolutionType != database.ResolutionDuplicate {
		t.Errorf("duplicate resolution = %q, want duplicate", merged.ResolutionType)
	}

	// a second review is a conflict
	if _, err := execute(t, db, "suggestions", "reject", s.ID, "--reviewer", "dispatcher-7"); err == nil {
		t.Fatal("expected conflict rejecting an approved suggestion")
	}
}

func TestSuggestionsReject(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().Create(t, db)
	dup := testhelpers.NewIncidentBuilder().Create(t, db)
	s := testhelpers.NewSuggestionBuilder(primary.ID, dup.ID).Create(t, db)

	out, err := execute(t, db, "suggestions", "reject", s.ID, "--reviewer", "dispatcher-7", "--notes", "different street")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "rejected by dispatcher-7") {
		t.Errorf("unexpected output: %s", out)
	}

	if got := testhelpers.ReloadIncident(t, db, dup.ID); got.Status != database.IncidentStatusReported {
		t.Errorf("rejecting must not touch incidents, status = %q", got.Status)
	}
}

func TestSuggestionsReview_ArgumentErrors(t *testing.T) {
	db := testhelpers.NewTestDB(t)

	tests := []struct {
		name string
		args []string
	}{
		{"missing reviewer", []string{"suggestions", "approve", "6f1c8a0e-4d1b-4c55-9a57-1f0f3b1e2a11"}},
		{"bad id", []string{"suggestions", "reject", "not-a-uuid", "--reviewer", "r"}},
		{"no id", []string{"suggestions", "approve", "--reviewer", "r"}},
		{"unknown suggestion", []string{"suggestions", "approve", "6f1c8a0e-4d1b-4c55-9a57-1f0f3b1e2a11", "--reviewer", "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := execute(t, db, tt.args...); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().ReportedAgo(3*time.Hour).Create(t, db)
	dup := testhelpers.NewIncidentBuilder().ReportedAgo(time.Hour).Create(t, db)
	closed := testhelpers.NewIncidentBuilder().Resolved(database.ResolutionFixed).Create(t, db)

	out, err := execute(t, db, "merge", primary.ID, dup.ID, closed.ID, "--by", "dispatcher-7")
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Merged 1 incident(s)") {
		t.Errorf("unexpected output: %s", out)
	}
	if !strings.Contains(out, "skipped "+closed.ID) {
		t.Errorf("closed duplicate should be listed as skipped: %s", out)
	}
}

func TestMerge_ArgumentErrors(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().Create(t, db)

	if _, err := execute(t, db, "merge", primary.ID, "--by", "x"); err == nil {
		t.Error("expected error with no duplicates")
	}
	if _, err := execute(t, db, "merge", primary.ID, "INC-000002", "--by", "x"); err == nil {
		t.Error("expected error for a non-UUID duplicate")
	}
	if _, err := execute(t, db, "merge", primary.ID, primary.ID); err == nil {
		t.Error("expected error without --by")
	}
}

func TestIncidentShow(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	primary := testhelpers.NewIncidentBuilder().ReportedAgo(3*time.Hour).Create(t, db)
	dup := testhelpers.NewIncidentBuilder().WithReporter("citizen-9").Create(t, db)

	if _, err := execute(t, db, "merge", primary.ID, dup.ID, "--by", "dispatcher-7"); err != nil {
		t.Fatalf("merge failed: %v", err)
	}

	out, err := execute(t, db, "incident", "show", strings.ToLower(primary.DisplayNumber()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{primary.DisplayNumber(), primary.ID, "citizen-9", "Merge history", "absorbed " + dup.ID} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, db, "incident", "show", dup.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Merged into: "+primary.ID) {
		t.Errorf("duplicate should point at its primary:\n%s", out)
	}
}

func TestIncidentShow_Errors(t *testing.T) {
	db := testhelpers.NewTestDB(t)

	for _, ref := range []string{"INC-abc", "INC-0", "nope", "INC-000777"} {
		if _, err := execute(t, db, "incident", "show", ref); err == nil {
			t.Errorf("expected error for %q", ref)
		}
	}
}

func TestNoDatabaseConfigured(t *testing.T) {
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("DATABASE_URL", "")

	_, err := execute(t, nil, "suggestions", "list")
	if err == nil || !strings.Contains(err.Error(), "no database configured") {
		t.Fatalf("error = %v, want no database configured", err)
	}
}
