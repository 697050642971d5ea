package deduplication

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/testhelpers"
)

func candidateIDs(incidents []database.Incident) []string {
	ids := make([]string, len(incidents))
	for i, inc := range incidents {
		ids[i] = inc.ID
	}
	return ids
}

func TestFindCandidates_ExcludesTargetAndExcludeIDs(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	target := testhelpers.NewIncidentBuilder().Create(t, db)
	a := testhelpers.NewIncidentBuilder().ReportedAgo(time.Hour).Create(t, db)
	b := testhelpers.NewIncidentBuilder().ReportedAgo(2 * time.Hour).Create(t, db)

	r := NewCandidateRetriever(db, DefaultConfig())
	got, err := r.FindCandidates(context.Background(), CandidateQuery{Target: &target, ExcludeIDs: []string{b.ID}})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, candidateIDs(got))
}

func TestFindCandidates_StatusAndRecurrence(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	target := testhelpers.NewIncidentBuilder().Create(t, db)
	open := testhelpers.NewIncidentBuilder().ReportedAgo(time.Hour).Create(t, db)
	working := testhelpers.NewIncidentBuilder().WithStatus(database.IncidentStatusInvestigating).ReportedAgo(2 * time.Hour).Create(t, db)
	fixed := testhelpers.NewIncidentBuilder().Resolved(database.ResolutionFixed).ReportedAgo(20 * 24 * time.Hour).Create(t, db)
	merged := testhelpers.NewIncidentBuilder().Resolved(database.ResolutionDuplicate).ReportedAgo(3 * time.Hour).Create(t, db)
	testhelpers.NewIncidentBuilder().WithStatus(database.IncidentStatusClosed).ReportedAgo(4 * time.Hour).Create(t, db)
	testhelpers.NewIncidentBuilder().Resolved(database.ResolutionFixed).ReportedAgo(45 * 24 * time.Hour).Create(t, db)

	r := NewCandidateRetriever(db, DefaultConfig())

	got, err := r.FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID, working.ID}, candidateIDs(got))

	got, err = r.FindCandidates(context.Background(), CandidateQuery{Target: &target, IncludeResolved: true})
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID, working.ID, fixed.ID}, candidateIDs(got))
	assert.NotContains(t, candidateIDs(got), merged.ID)
}

func TestFindCandidates_TimeWindow(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	now := time.Now().UTC()
	target := testhelpers.NewIncidentBuilder().ReportedAt(now.Add(-5 * 24 * time.Hour)).Create(t, db)
	before := testhelpers.NewIncidentBuilder().ReportedAt(now.Add(-11 * 24 * time.Hour)).Create(t, db)
	after := testhelpers.NewIncidentBuilder().ReportedAt(now).Create(t, db)
	tooOld := testhelpers.NewIncidentBuilder().ReportedAt(now.Add(-13 * 24 * time.Hour)).Create(t, db)

	r := NewCandidateRetriever(db, DefaultConfig())
	got, err := r.FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, []string{after.ID, before.ID}, candidateIDs(got))
	assert.NotContains(t, candidateIDs(got), tooOld.ID)
}

func TestFindCandidates_ExactFilters(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	target := testhelpers.NewIncidentBuilder().WithAsset("asset-1").WithSeverity(database.SeverityHigh).Create(t, db)
	sameAll := testhelpers.NewIncidentBuilder().WithAsset("asset-1").WithSeverity(database.SeverityHigh).ReportedAgo(time.Hour).Create(t, db)
	otherAsset := testhelpers.NewIncidentBuilder().WithAsset("asset-2").WithSeverity(database.SeverityHigh).ReportedAgo(2 * time.Hour).Create(t, db)
	otherSeverity := testhelpers.NewIncidentBuilder().WithAsset("asset-1").WithSeverity(database.SeverityLow).ReportedAgo(3 * time.Hour).Create(t, db)
	otherCategory := testhelpers.NewIncidentBuilder().WithCategory(database.CategoryStreetlight).WithAsset("asset-1").
		WithSeverity(database.SeverityHigh).ReportedAgo(4 * time.Hour).Create(t, db)

	cfg := DefaultConfig()
	got, err := NewCandidateRetriever(db, cfg).FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, []string{sameAll.ID, otherAsset.ID, otherSeverity.ID}, candidateIDs(got), "category filter is on by default")

	cfg.FilterByCategory = false
	cfg.FilterByAsset = true
	cfg.FilterBySeverity = true
	got, err = NewCandidateRetriever(db, cfg).FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, []string{sameAll.ID, otherCategory.ID}, candidateIDs(got))
}

func TestFindCandidates_Radius(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	lat, lng := 52.5200, 13.4050
	target := testhelpers.NewIncidentBuilder().WithLocation(lat, lng).Create(t, db)
	near := testhelpers.NewIncidentBuilder().WithLocation(lat+0.0009, lng).ReportedAgo(time.Hour).Create(t, db)
	far := testhelpers.NewIncidentBuilder().WithLocation(lat+0.045, lng).ReportedAgo(2 * time.Hour).Create(t, db)
	// inside the bounding box corner but outside the circle
	corner := testhelpers.NewIncidentBuilder().WithLocation(lat+0.004, lng+0.0065).ReportedAgo(3 * time.Hour).Create(t, db)
	unlocated := testhelpers.NewIncidentBuilder().ReportedAgo(4 * time.Hour).Create(t, db)

	cfg := DefaultConfig()
	got, err := NewCandidateRetriever(db, cfg).FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	ids := candidateIDs(got)
	assert.Equal(t, []string{near.ID, unlocated.ID}, ids)
	assert.NotContains(t, ids, far.ID)
	assert.NotContains(t, ids, corner.ID)

	cfg.RadiusMeters = 0
	got, err = NewCandidateRetriever(db, cfg).FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestFindCandidates_OrderingAndLimit(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	target := testhelpers.NewIncidentBuilder().Create(t, db)
	var newestFirst []string
	for i := 1; i <= 6; i++ {
		inc := testhelpers.NewIncidentBuilder().ReportedAgo(time.Duration(i) * time.Hour).Create(t, db)
		newestFirst = append(newestFirst, inc.ID)
	}

	cfg := DefaultConfig()
	cfg.MaxCandidates = 4
	got, err := NewCandidateRetriever(db, cfg).FindCandidates(context.Background(), CandidateQuery{Target: &target})
	require.NoError(t, err)
	assert.Equal(t, newestFirst[:4], candidateIDs(got))
}

func TestFindCandidates_RequiresTarget(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	_, err := NewCandidateRetriever(db, DefaultConfig()).FindCandidates(context.Background(), CandidateQuery{})
	assert.Error(t, err)
}
