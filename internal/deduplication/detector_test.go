package deduplication

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/embedding"
	"github.com/civicwatch/civicwatch/internal/testhelpers"
)

type staticSource struct {
	incidents []database.Incident
	err       error
}

func (s *staticSource) FindCandidates(ctx context.Context, q CandidateQuery) ([]database.Incident, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]database.Incident, len(s.incidents))
	copy(out, s.incidents)
	return out, nil
}

func newTestDetector(t *testing.T, source CandidateSource, emb Embedder, mutate func(*Config)) *Detector {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDetector(source, emb, cfg)
	require.NoError(t, err)
	return d
}

func TestNewDetector_Validation(t *testing.T) {
	emb := testhelpers.NewFakeEmbedder()
	src := &staticSource{}

	_, err := NewDetector(nil, emb, DefaultConfig())
	assert.Error(t, err)
	_, err = NewDetector(src, nil, DefaultConfig())
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.SimilarityThreshold = 2
	_, err = NewDetector(src, emb, bad)
	assert.Error(t, err)
}

func TestDetectDuplicates_ThresholdBoundary(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").Build()
	at := testhelpers.NewIncidentBuilder().WithTitle("at").Build()
	below := testhelpers.NewIncidentBuilder().WithTitle("below").Build()
	above := testhelpers.NewIncidentBuilder().WithTitle("above").Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(at.SimilarityText(), testhelpers.UnitVector(0.85)).
		SetText(below.SimilarityText(), testhelpers.UnitVector(0.8499)).
		SetText(above.SimilarityText(), testhelpers.UnitVector(0.8501))
	src := &staticSource{incidents: []database.Incident{at, below, above}}

	t.Run("fixed threshold", func(t *testing.T) {
		d := newTestDetector(t, src, emb, nil)
		res, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
		require.NoError(t, err)
		ids := matchIDs(res.Matches)
		assert.Contains(t, ids, above.ID)
		assert.NotContains(t, ids, below.ID)
	})

	t.Run("score exactly at threshold is included", func(t *testing.T) {
		exact := embedding.CosineSimilarity(testhelpers.UnitVector(1), testhelpers.UnitVector(0.85))
		d := newTestDetector(t, src, emb, func(c *Config) { c.SimilarityThreshold = exact })
		res, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
		require.NoError(t, err)
		assert.Contains(t, matchIDs(res.Matches), at.ID)

		d = newTestDetector(t, src, emb, func(c *Config) { c.SimilarityThreshold = exact + 1e-4 })
		res, err = d.DetectDuplicates(context.Background(), &target, DetectOptions{})
		require.NoError(t, err)
		assert.NotContains(t, matchIDs(res.Matches), at.ID)
	})
}

func TestDetectDuplicates_SelfExclusion(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().Build()
	other := testhelpers.NewIncidentBuilder().WithTitle("Pothole on Main Street").Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(other.SimilarityText(), testhelpers.UnitVector(0.95))
	src := &staticSource{incidents: []database.Incident{target, other}}

	res, err := newTestDetector(t, src, emb, nil).DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, matchIDs(res.Matches))
	assert.Equal(t, 1, res.Compared)
}

func TestDetectDuplicates_ImageWeighting(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").WithPhotos("https://img/t1.jpg").Build()
	both := testhelpers.NewIncidentBuilder().WithTitle("both").WithPhotos("https://img/b1.jpg", "https://img/b2.jpg").Build()
	none := testhelpers.NewIncidentBuilder().WithTitle("none").Build()
	broken := testhelpers.NewIncidentBuilder().WithTitle("broken").WithPhotos("https://img/broken.jpg").Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(both.SimilarityText(), testhelpers.UnitVector(0.9)).
		SetText(none.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(broken.SimilarityText(), testhelpers.UnitVector(0.9)).
		SetImage("https://img/t1.jpg", testhelpers.UnitVector(1)).
		SetImage("https://img/b1.jpg", testhelpers.UnitVector(0.5)).
		SetImage("https://img/b2.jpg", testhelpers.UnitVector(1))
	src := &staticSource{incidents: []database.Incident{both, none, broken}}

	d := newTestDetector(t, src, emb, func(c *Config) { c.SimilarityThreshold = 0.5; c.VerySimilarThreshold = 0.95 })
	res, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	byID := matchesByID(res.Matches)

	m := byID[both.ID]
	assert.InDelta(t, 1.0, m.ImageScore, 1e-6, "best pair wins")
	assert.InDelta(t, 0.9*0.7+1.0*0.3, m.Score, 1e-6)
	assert.True(t, m.HasReason(ReasonSimilarImages))

	m = byID[none.ID]
	assert.InDelta(t, 0.8, m.Score, 1e-6, "one-sided photos cap the score")
	assert.Zero(t, m.ImageScore)
	assert.False(t, m.HasReason(ReasonSimilarImages))

	m = byID[broken.ID]
	assert.InDelta(t, 0.9, m.Score, 1e-6, "unavailable images fall back to text")
	assert.Zero(t, m.ImageScore)
	assert.True(t, m.HasReason(ReasonSimilarImages), "both sides had photos")

	assert.Equal(t, []string{both.ID, broken.ID, none.ID}, matchIDs(res.Matches))
}

func TestDetectDuplicates_OneSidedWeightsFromConfig(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").WithPhotos("https://img/t1.jpg").Build()
	cand := testhelpers.NewIncidentBuilder().WithTitle("cand").Build()
	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(cand.SimilarityText(), testhelpers.UnitVector(1)).
		SetImage("https://img/t1.jpg", testhelpers.UnitVector(1))

	d := newTestDetector(t, &staticSource{incidents: []database.Incident{cand}}, emb, func(c *Config) {
		c.SimilarityThreshold = 0.5
		c.TextWeightOne, c.ImageWeightOne = 0.6, 0.4
	})
	res, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.InDelta(t, 0.6, res.Matches[0].Score, 1e-6)
	assert.False(t, res.Matches[0].HasReason(ReasonSimilarImages))
}

func TestDetectDuplicates_NoPhotosUsesTextOnly(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").Build()
	cand := testhelpers.NewIncidentBuilder().WithTitle("cand").Build()
	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(cand.SimilarityText(), testhelpers.UnitVector(0.92))

	res, err := newTestDetector(t, &staticSource{incidents: []database.Incident{cand}}, emb, nil).
		DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.InDelta(t, 0.92, res.Matches[0].Score, 1e-6)
	assert.InDelta(t, res.Matches[0].TextScore, res.Matches[0].Score, 1e-12)
	assert.True(t, res.Matches[0].HasReason(ReasonVerySimilarText))
	assert.False(t, res.Matches[0].HasReason(ReasonSimilarText))
}

func TestDetectDuplicates_MaxImagesPerSide(t *testing.T) {
	var urls []string
	for i := 0; i < 7; i++ {
		urls = append(urls, fmt.Sprintf("https://img/%d.jpg", i))
	}
	target := testhelpers.NewIncidentBuilder().WithTitle("target").WithPhotos(urls...).Build()
	cand := testhelpers.NewIncidentBuilder().WithTitle("cand").WithPhotos("https://img/c.jpg").Build()
	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(cand.SimilarityText(), testhelpers.UnitVector(1))

	_, err := newTestDetector(t, &staticSource{incidents: []database.Incident{cand}}, emb, nil).
		DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	assert.Equal(t, 6, emb.ImageCalls, "five target photos plus one candidate photo")
}

func TestDetectDuplicates_MatchReasons(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").WithAsset("asset-7").WithLocation(52.52, 13.405).Build()
	cand := testhelpers.NewIncidentBuilder().WithTitle("cand").WithAsset("asset-7").WithLocation(52.5201, 13.405).
		Resolved(database.ResolutionFixed).Build()
	crew := testhelpers.NewIncidentBuilder().WithTitle("crew").WithStatus(database.IncidentStatusInvestigating).Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(cand.SimilarityText(), testhelpers.UnitVector(0.87)).
		SetText(crew.SimilarityText(), testhelpers.UnitVector(0.86))

	res, err := newTestDetector(t, &staticSource{incidents: []database.Incident{cand, crew}}, emb, nil).
		DetectDuplicates(context.Background(), &target, DetectOptions{IncludeResolved: true})
	require.NoError(t, err)
	byID := matchesByID(res.Matches)

	assert.ElementsMatch(t,
		[]string{ReasonSameAsset, ReasonSimilarText, ReasonNearbyLocation, ReasonPossibleRecurrence},
		byID[cand.ID].MatchReasons)
	assert.ElementsMatch(t, []string{ReasonSimilarText, ReasonReportedDuringWork}, byID[crew.ID].MatchReasons)
}

func TestDetectDuplicates_TiesPreferRecentReports(t *testing.T) {
	now := time.Now().UTC()
	target := testhelpers.NewIncidentBuilder().WithTitle("target").Build()
	older := testhelpers.NewIncidentBuilder().WithTitle("same").WithNumber(1).ReportedAt(now.Add(-2 * time.Hour)).Build()
	newer := testhelpers.NewIncidentBuilder().WithTitle("same").WithNumber(2).ReportedAt(now.Add(-time.Hour)).Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(older.SimilarityText(), testhelpers.UnitVector(0.9))

	res, err := newTestDetector(t, &staticSource{incidents: []database.Incident{older, newer}}, emb, nil).
		DetectDuplicates(context.Background(), &target, DetectOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{newer.ID, older.ID}, matchIDs(res.Matches))
}

func TestDetectDuplicates_FailureContainment(t *testing.T) {
	target := testhelpers.NewIncidentBuilder().WithTitle("target").Build()
	good := testhelpers.NewIncidentBuilder().WithTitle("good").Build()
	bad := testhelpers.NewIncidentBuilder().WithTitle("bad").Build()

	emb := testhelpers.NewFakeEmbedder().
		SetText(target.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(good.SimilarityText(), testhelpers.UnitVector(0.95)).
		Fail(bad.SimilarityText())
	src := &staticSource{incidents: []database.Incident{good, bad}}

	t.Run("skips failed candidates by default", func(t *testing.T) {
		res, err := newTestDetector(t, src, emb, nil).DetectDuplicates(context.Background(), &target, DetectOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{good.ID}, matchIDs(res.Matches))
		assert.Equal(t, 2, res.Compared)
		assert.Equal(t, 1, res.Failed)
	})

	t.Run("reports degraded past the configured ratio", func(t *testing.T) {
		d := newTestDetector(t, src, emb, func(c *Config) { c.AbortFailureRatio = 0.5 })
		res, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
		assert.True(t, errors.Is(err, ErrDetectionDegraded))
		require.NotNil(t, res)
		assert.Equal(t, []string{good.ID}, matchIDs(res.Matches))
	})

	t.Run("target embedding unavailable", func(t *testing.T) {
		failing := testhelpers.NewFakeEmbedder().Fail(target.SimilarityText())
		res, err := newTestDetector(t, src, failing, nil).DetectDuplicates(context.Background(), &target, DetectOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Matches)
		assert.Equal(t, 2, res.Failed)
	})

	t.Run("candidate source error propagates", func(t *testing.T) {
		d := newTestDetector(t, &staticSource{err: errors.New("db down")}, emb, nil)
		_, err := d.DetectDuplicates(context.Background(), &target, DetectOptions{})
		assert.Error(t, err)
	})
}

func TestDetectDuplicates_EndToEndWithRetriever(t *testing.T) {
	db := testhelpers.NewTestDB(t)
	a := testhelpers.NewIncidentBuilder().WithTitle("pothole").WithDescription("").WithAsset("asset-1").
		ReportedAgo(2 * time.Hour).Create(t, db)
	b := testhelpers.NewIncidentBuilder().WithTitle("large pothole on same street").WithDescription("").
		WithAsset("asset-1").ReportedAgo(time.Hour).Create(t, db)

	emb := testhelpers.NewFakeEmbedder().
		SetText(a.SimilarityText(), testhelpers.UnitVector(1)).
		SetText(b.SimilarityText(), testhelpers.UnitVector(0.88))

	cfg := DefaultConfig()
	d, err := NewDetector(NewCandidateRetriever(db, cfg), emb, cfg)
	require.NoError(t, err)

	res, err := d.DetectDuplicates(context.Background(), &a, DetectOptions{})
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	m := res.Matches[0]
	assert.Equal(t, b.ID, m.IncidentID)
	assert.Equal(t, b.Number, m.Number)
	assert.True(t, m.HasReason(ReasonSameAsset))
	assert.Greater(t, m.TextScore, 0.0)
}

func matchIDs(matches []Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.IncidentID
	}
	return ids
}

func matchesByID(matches []Match) map[string]Match {
	out := make(map[string]Match, len(matches))
	for _, m := range matches {
		out[m.IncidentID] = m
	}
	return out
}
