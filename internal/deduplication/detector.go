package deduplication

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/civicwatch/civicwatch/internal/database"
	"github.com/civicwatch/civicwatch/internal/embedding"
	"github.com/civicwatch/civicwatch/internal/logging"
)

// Match reason tags
const (
	ReasonSameAsset          = "same_asset"
	ReasonVerySimilarText    = "very_similar_description"
	ReasonSimilarText        = "similar_description"
	ReasonSimilarImages      = "similar_images"
	ReasonNearbyLocation     = "nearby_location"
	ReasonPossibleRecurrence = "possible_recurrence"
	ReasonReportedDuringWork = "reported_during_work"
)

// ErrDetectionDegraded is returned when too many candidates could not be scored
// to trust the result. The partial result is still returned alongside it.
var ErrDetectionDegraded = errors.New("duplicate detection degraded")

// Embedder turns text and image URLs into vectors. A false second return
// means the embedding is unavailable, never that the input is dissimilar.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, bool)
	EmbedImage(ctx context.Context, url string) ([]float32, bool)
}

// Match is one scored candidate
type Match struct {
	IncidentID   string                  `json:"incident_id"`
	Number       int64                   `json:"number"`
	Score        float64                 `json:"score"`
	TextScore    float64                 `json:"text_score"`
	ImageScore   float64                 `json:"image_score"`
	MatchReasons []string                `json:"match_reasons"`
	Status       database.IncidentStatus `json:"status"`
	ReportedAt   time.Time               `json:"reported_at"`
}

// HasReason reports whether the match carries the given tag
func (m Match) HasReason(reason string) bool {
	for _, r := range m.MatchReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// DetectOptions tunes a single detection pass
type DetectOptions struct {
	// IncludeResolved also scores recently resolved incidents (recurrence detection)
	IncludeResolved bool
	ExcludeIDs      []string
}

// Result is the outcome of a detection pass
type Result struct {
	Matches  []Match
	Compared int // candidates retrieved
	Failed   int // candidates skipped because an embedding was unavailable
}

// Detector scores candidates against a target incident
type Detector struct {
	source   CandidateSource
	embedder Embedder
	cfg      Config
	logger   *slog.Logger
}

// NewDetector creates a detector. The config is validated once here.
func NewDetector(source CandidateSource, embedder Embedder, cfg Config) (*Detector, error) {
	if source == nil {
		return nil, fmt.Errorf("candidate source cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Detector{
		source:   source,
		embedder: embedder,
		cfg:      cfg,
		logger:   logging.Component("deduplication"),
	}, nil
}

// Config returns the detector's policy
func (d *Detector) Config() Config {
	return d.cfg
}

type targetEmbeddings struct {
	text   []float32
	images [][]float32
}

// DetectDuplicates returns candidates scoring at or above the similarity
// threshold, best first. Candidates whose embeddings are unavailable are
// skipped; the target itself is never returned.
func (d *Detector) DetectDuplicates(ctx context.Context, incident *database.Incident, opts DetectOptions) (*Result, error) {
	if incident == nil {
		return nil, fmt.Errorf("incident cannot be nil")
	}
	ctx = logging.WithLogFields(ctx, logging.LogFields{IncidentID: incident.ID})

	candidates, err := d.source.FindCandidates(ctx, CandidateQuery{
		Target:          incident,
		ExcludeIDs:      opts.ExcludeIDs,
		IncludeResolved: opts.IncludeResolved,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve candidates: %w", err)
	}
	candidates = withoutTarget(candidates, incident.ID)

	result := &Result{Compared: len(candidates), Matches: []Match{}}
	if len(candidates) == 0 {
		return result, nil
	}

	textVec, ok := d.embedder.EmbedText(ctx, incident.SimilarityText())
	if !ok {
		d.logger.WarnContext(ctx, "target text embedding unavailable, no candidates scored",
			"candidates", len(candidates))
		result.Failed = len(candidates)
		return result, d.checkDegraded(result)
	}
	target := targetEmbeddings{text: textVec, images: d.embedImages(ctx, incident.PhotoURLs)}

	var (
		mu     sync.Mutex
		failed int
	)
	scored := make([]*Match, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i := range candidates {
		g.Go(func() error {
			m, ok := d.score(gctx, incident, &candidates[i], target)
			if !ok {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			scored[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, m := range scored {
		if m != nil && m.Score >= d.cfg.SimilarityThreshold {
			result.Matches = append(result.Matches, *m)
		}
	}
	result.Failed = failed

	sort.SliceStable(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.ReportedAt.Equal(b.ReportedAt) {
			return a.ReportedAt.After(b.ReportedAt)
		}
		return a.Number > b.Number
	})

	d.logger.DebugContext(ctx, "duplicate detection finished",
		"candidates", result.Compared, "failed", result.Failed, "matches", len(result.Matches))
	return result, d.checkDegraded(result)
}

func (d *Detector) checkDegraded(r *Result) error {
	if d.cfg.AbortFailureRatio <= 0 || r.Compared == 0 || r.Failed == 0 {
		return nil
	}
	if float64(r.Failed)/float64(r.Compared) >= d.cfg.AbortFailureRatio {
		return fmt.Errorf("%w: %d of %d candidates could not be scored", ErrDetectionDegraded, r.Failed, r.Compared)
	}
	return nil
}

// score compares one candidate. ok is false when its text embedding is unavailable.
func (d *Detector) score(ctx context.Context, target, candidate *database.Incident, te targetEmbeddings) (*Match, bool) {
	vec, ok := d.embedder.EmbedText(ctx, candidate.SimilarityText())
	if !ok {
		d.logger.WarnContext(ctx, "skipping candidate, text embedding unavailable", "candidate_id", candidate.ID)
		return nil, false
	}
	textScore := embedding.CosineSimilarity(te.text, vec)

	targetHasPhotos := len(target.PhotoURLs) > 0
	candidateHasPhotos := len(candidate.PhotoURLs) > 0

	var imageScore, combined float64
	switch {
	case targetHasPhotos && candidateHasPhotos:
		if score, ok := d.maxImageSimilarity(te.images, d.embedImages(ctx, candidate.PhotoURLs)); ok {
			imageScore = score
			combined = textScore*d.cfg.TextWeightBoth + imageScore*d.cfg.ImageWeightBoth
		} else {
			combined = textScore
		}
	case targetHasPhotos || candidateHasPhotos:
		// one-sided evidence: there is no image pair, so the image term is zero
		combined = textScore*d.cfg.TextWeightOne + imageScore*d.cfg.ImageWeightOne
	default:
		combined = textScore
	}

	m := &Match{
		IncidentID: candidate.ID,
		Number:     candidate.Number,
		Score:      combined,
		TextScore:  textScore,
		ImageScore: imageScore,
		Status:     candidate.Status,
		ReportedAt: candidate.ReportedAt,
	}
	m.MatchReasons = d.reasons(target, candidate, textScore, targetHasPhotos && candidateHasPhotos)
	return m, true
}

func (d *Detector) reasons(target, candidate *database.Incident, textScore float64, bothHavePhotos bool) []string {
	reasons := []string{}
	if target.AssetID != "" && target.AssetID == candidate.AssetID {
		reasons = append(reasons, ReasonSameAsset)
	}
	if textScore >= d.cfg.VerySimilarThreshold {
		reasons = append(reasons, ReasonVerySimilarText)
	} else if textScore >= d.cfg.SimilarityThreshold {
		reasons = append(reasons, ReasonSimilarText)
	}
	if bothHavePhotos {
		reasons = append(reasons, ReasonSimilarImages)
	}
	if target.HasLocation() && candidate.HasLocation() {
		reasons = append(reasons, ReasonNearbyLocation)
	}
	if candidate.Status == database.IncidentStatusResolved {
		reasons = append(reasons, ReasonPossibleRecurrence)
	}
	if candidate.IsUnderActiveWork() {
		reasons = append(reasons, ReasonReportedDuringWork)
	}
	return reasons
}

// embedImages embeds up to MaxImages photos, dropping any that are unavailable
func (d *Detector) embedImages(ctx context.Context, urls []string) [][]float32 {
	if len(urls) > d.cfg.MaxImages {
		urls = urls[:d.cfg.MaxImages]
	}
	vecs := make([][]float32, 0, len(urls))
	for _, u := range urls {
		if v, ok := d.embedder.EmbedImage(ctx, u); ok {
			vecs = append(vecs, v)
		}
	}
	return vecs
}

func (d *Detector) maxImageSimilarity(a, b [][]float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 {
		return 0, false
	}
	best := -1.0
	for _, va := range a {
		for _, vb := range b {
			if s := embedding.CosineSimilarity(va, vb); s > best {
				best = s
			}
		}
	}
	return best, true
}

func withoutTarget(candidates []database.Incident, targetID string) []database.Incident {
	out := candidates[:0]
	for _, c := range candidates {
		if c.ID != targetID {
			out = append(out, c)
		}
	}
	return out
}
