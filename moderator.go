package moderate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Overall score penalties per raised flag.
const (
	penaltyNSFW       = 0.4
	penaltyPlagiarism = 0.3
	penaltyQuality    = 0.2
)

var textPenalty = map[Level]float64{
	LevelHigh:   0.3,
	LevelMedium: 0.2,
	LevelLow:    0.1,
}

// Moderator runs the analyzers for an item, aggregates their findings into a
// recommendation and caches the verdict by image fingerprint.
type Moderator struct {
	cfg  Config
	text *TextAnalyzer
}

// New creates a Moderator. cfg is copied; zero fields get defaults.
func New(cfg Config) *Moderator {
	cfg.defaults()
	return &Moderator{
		cfg:  cfg,
		text: NewTextAnalyzer(cfg.BannedKeywords, cfg.SpamKeywords),
	}
}

// Moderate returns the verdict for in, from cache when a fresh one exists.
// The only errors are caller input errors (ErrMissingImage, ErrInvalidImageRef);
// every other failure is encoded in the result.
func (m *Moderator) Moderate(ctx context.Context, in AnalysisInput) (ModerationResult, error) {
	return m.moderate(ctx, in, true)
}

// Recheck is Moderate without the cache lookup. The fresh verdict replaces the cached one.
func (m *Moderator) Recheck(ctx context.Context, in AnalysisInput) (ModerationResult, error) {
	return m.moderate(ctx, in, false)
}

func (m *Moderator) moderate(ctx context.Context, in AnalysisInput, useCache bool) (res ModerationResult, err error) {
	if err := ValidateImageRef(in.Image); err != nil {
		return ModerationResult{}, err
	}
	mon := m.cfg.Monitor
	mon.RecordRequest()

	key := CacheKey(in.Image, dimensionModeration)
	start := time.Now()
	// Covers the cache as well as the analyzers.
	defer func() {
		if r := recover(); r != nil {
			m.onPanic("moderate", r)
			res = DegradedResult(in.ItemID, fmt.Errorf("moderation panic: %v", r), m.cfg.Now())
			res.Fingerprint = key
			err = nil
			mon.RecordError()
			mon.RecordResult(res.Recommendation, time.Since(start), true)
		}
	}()

	if useCache {
		if hit, ok := m.cfg.Cache.Get(ctx, key); ok {
			// Verdicts are keyed by image; the item is the caller's.
			hit.ItemID = in.ItemID
			mon.RecordCache(true)
			mon.RecordResult(hit.Recommendation, 0, false)
			slog.Debug("moderate: cache hit", "item", in.ItemID, "key", key)
			return hit, nil
		}
		mon.RecordCache(false)
	}

	res, err = m.evaluate(ctx, in, key)
	if err != nil {
		slog.Warn("moderate: aggregation failed", "item", in.ItemID, "error", err.Error())
		res = DegradedResult(in.ItemID, err, m.cfg.Now())
		res.Fingerprint = key
		mon.RecordError()
	} else {
		m.cfg.Cache.Set(ctx, key, res)
	}
	mon.RecordResult(res.Recommendation, time.Since(start), true)
	return res, nil
}

// evaluate fans out the image analyzers, runs the text analyzer inline and
// aggregates once all of them are done. Panics become errors.
func (m *Moderator) evaluate(ctx context.Context, in AnalysisInput, key string) (res ModerationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.onPanic("aggregate", r)
			err = fmt.Errorf("aggregation panic: %v", r)
		}
	}()

	th := m.cfg.Thresholds.Get()
	img := m.cfg.NewImage(in.Image)

	var a Analysis
	g, gctx := errgroup.WithContext(ctx)
	g.Go(m.guard("nsfw", func() { a.NSFW = m.cfg.AnalyzeNSFW(gctx, img, th.NSFW) }))
	g.Go(m.guard("plagiarism", func() { a.Plagiarism = m.cfg.AnalyzePlagiarism(gctx, img, th.Plagiarism) }))
	g.Go(m.guard("quality", func() { a.Quality = m.cfg.AnalyzeQuality(gctx, img, th.Quality) }))

	a.Text = m.text.Analyze(in.Title, in.Description, in.Tags)

	if err := g.Wait(); err != nil {
		return ModerationResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return ModerationResult{}, fmt.Errorf("moderation canceled: %w", err)
	}

	d := Decide(a, th)
	res = ModerationResult{
		ItemID:         in.ItemID,
		Passed:         d.Recommendation == RecommendAutoApprove || d.Recommendation == RecommendApprove,
		NeedsReview:    d.Recommendation == RecommendReview || d.Recommendation == RecommendManualReview,
		Flags:          d.Flags,
		OverallScore:   d.OverallScore,
		Analysis:       a,
		Recommendation: d.Recommendation,
		Confidence:     resultConfidence(a),
		Fingerprint:    key,
		CheckedAt:      m.cfg.Now(),
	}
	slog.Debug("moderate: verdict", "item", in.ItemID, "recommendation", res.Recommendation,
		"score", res.OverallScore, "flags", len(res.Flags))
	return res, nil
}

// guard runs fn in an errgroup task, converting a panic into an error.
func (m *Moderator) guard(tag string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.onPanic(tag, r)
				err = fmt.Errorf("%s analyzer panic: %v", tag, r)
			}
		}()
		fn()
		return nil
	}
}

func (m *Moderator) onPanic(tag string, r any) {
	slog.Error("moderate: recovered panic", "tag", tag, "panic", r)
	if m.cfg.OnPanic != nil {
		m.cfg.OnPanic(tag, r)
	}
}

// Decision is the outcome of the aggregation policy.
type Decision struct {
	Flags          []Flag
	OverallScore   float64
	Recommendation Recommendation
}

// Decide merges the four analyses into flags, an overall score and a
// recommendation. Flags are appended in a fixed order (NSFW, plagiarism,
// quality, text) regardless of which analyzer finished first.
func Decide(a Analysis, th Thresholds) Decision {
	var flags []Flag
	score := 1.0

	if a.NSFW.Flagged {
		flags = append(flags, Flag{
			Type:     FlagNSFW,
			Severity: a.NSFW.Severity,
			Message:  fmt.Sprintf("explicit content detected (score %.2f)", a.NSFW.Score),
			Score:    scorePtr(a.NSFW.Score),
		})
		score -= penaltyNSFW
	}
	if a.Plagiarism.Flagged {
		flags = append(flags, Flag{
			Type:     FlagPlagiarism,
			Severity: LevelHigh,
			Message:  fmt.Sprintf("image likely copied (similarity %.2f)", a.Plagiarism.Score),
			Score:    scorePtr(a.Plagiarism.Score),
		})
		score -= penaltyPlagiarism
	}
	if a.Quality.Flagged {
		flags = append(flags, Flag{
			Type:     FlagLowQuality,
			Severity: LevelMedium,
			Message:  fmt.Sprintf("image quality below minimum (score %.2f)", a.Quality.Score),
			Score:    scorePtr(a.Quality.Score),
		})
		score -= penaltyQuality
	}
	for _, f := range a.Text.Flags {
		flags = append(flags, f)
		score -= textPenalty[f.Severity]
	}

	if score < 0 {
		score = 0
	}
	return Decision{
		Flags:          flags,
		OverallScore:   round6(score),
		Recommendation: Recommend(flags, a.Quality.Score, th.Quality),
	}
}

// Recommend applies the decision rules. It depends only on the set of flag
// severities, never on their order.
func Recommend(flags []Flag, qualityScore float64, th QualityTiers) Recommendation {
	for _, f := range flags {
		if f.Severity == LevelHigh {
			return RecommendReject
		}
	}
	if len(flags) > 0 {
		return RecommendReview
	}
	if qualityScore > th.Good {
		return RecommendAutoApprove
	}
	return RecommendApprove
}

// resultConfidence is the weakest confidence among the analyses.
func resultConfidence(a Analysis) Level {
	c := LevelHigh
	for _, r := range []AnalyzerResult{a.NSFW, a.Plagiarism, a.Quality, a.Text} {
		c = minLevel(c, r.Confidence)
	}
	return c
}

// DegradedResult is the verdict used when a moderation pass could not complete.
func DegradedResult(itemID string, err error, now time.Time) ModerationResult {
	return ModerationResult{
		ItemID:      itemID,
		Passed:      false,
		NeedsReview: true,
		Flags: []Flag{{
			Type:     FlagError,
			Severity: LevelHigh,
			Message:  err.Error(),
		}},
		OverallScore:   0,
		Recommendation: RecommendManualReview,
		Confidence:     LevelLow,
		CheckedAt:      now,
	}
}

// SystemStatus is the read-only diagnostic view of the pipeline.
type SystemStatus struct {
	CacheSize    int                 `json:"cacheSize"`
	CacheTTL     string              `json:"cacheTTL"`
	Thresholds   Thresholds          `json:"thresholds"`
	Performance  PerformanceSnapshot `json:"performanceCounters"`
	ProviderMode string              `json:"providerMode"`
}

// Status reports cache size, thresholds and performance counters.
func (m *Moderator) Status(ctx context.Context) SystemStatus {
	mode := methodHeuristic
	if m.cfg.Provider != nil {
		mode = methodProvider + ":" + m.cfg.Provider.Name()
	}
	return SystemStatus{
		CacheSize:    m.cfg.Cache.Len(ctx),
		CacheTTL:     m.cfg.Cache.TTL().String(),
		Thresholds:   m.cfg.Thresholds.Get(),
		Performance:  m.cfg.Monitor.Snapshot(),
		ProviderMode: mode,
	}
}

// ClearResult reports what ClearCache removed.
type ClearResult struct {
	Cleared     int `json:"cleared"`
	CurrentSize int `json:"currentSize"`
}

// ClearCache drops every cached verdict.
func (m *Moderator) ClearCache(ctx context.Context) ClearResult {
	n := m.cfg.Cache.Clear(ctx)
	slog.Info("moderate: cache cleared", "entries", n)
	return ClearResult{Cleared: n, CurrentSize: m.cfg.Cache.Len(ctx)}
}

// UpdateThresholds merges u into the registry and returns the full merged set.
// Cached verdicts are not re-evaluated; use Recheck for that.
func (m *Moderator) UpdateThresholds(u ThresholdsUpdate) (Thresholds, error) {
	th, err := m.cfg.Thresholds.Update(u)
	if err != nil {
		return Thresholds{}, err
	}
	slog.Info("moderate: thresholds updated", "nsfw", th.NSFW, "plagiarism", th.Plagiarism, "quality", th.Quality)
	return th, nil
}
