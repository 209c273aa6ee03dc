package moderate

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestModerator(p NSFWProvider) *Moderator {
	cfg := Config{Random: fixedRandom(0.5), Now: func() time.Time { return fixedNow }}
	if p != nil {
		cfg.Provider = p
	}
	return New(cfg)
}

func TestModerate_CleanItemApproved(t *testing.T) {
	srv := newImageServer(t, "image/png", makePNG(1000, 600))
	m := newTestModerator(nil)
	ref := ImageRef{URL: srv.URL + "/a.png"}

	res, err := m.Moderate(context.Background(), cleanInput("item-1", ref))
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Recommendation != RecommendApprove || !res.Passed || res.NeedsReview {
		t.Errorf("recommendation=%q passed=%v needsReview=%v", res.Recommendation, res.Passed, res.NeedsReview)
	}
	if res.OverallScore != 1 || len(res.Flags) != 0 {
		t.Errorf("score=%v flags=%+v", res.OverallScore, res.Flags)
	}
	if res.Analysis.NSFW.Score != 0.3 || res.Analysis.Plagiarism.Score != 0.05 || res.Analysis.Quality.Score != 0.6 {
		t.Errorf("analysis = nsfw %v, plagiarism %v, quality %v",
			res.Analysis.NSFW.Score, res.Analysis.Plagiarism.Score, res.Analysis.Quality.Score)
	}
	if res.Confidence != LevelLow {
		t.Errorf("Confidence = %q, want the weakest analyzer confidence", res.Confidence)
	}
	if res.Fingerprint != CacheKey(ref, dimensionModeration) || !res.CheckedAt.Equal(fixedNow) {
		t.Errorf("fingerprint=%q checkedAt=%v", res.Fingerprint, res.CheckedAt)
	}
	if n := srv.hits.Load(); n != 1 {
		t.Errorf("image fetched %d times, want 1", n)
	}
}

func TestModerate_CacheHit(t *testing.T) {
	srv := newImageServer(t, "image/png", makePNG(1000, 600))
	p := &stubProvider{scores: map[string]float64{"erotica": 0.1}}
	m := newTestModerator(p)
	in := cleanInput("item-1", ImageRef{URL: srv.URL + "/a.png"})

	first, err := m.Moderate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := m.Moderate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs:\n%+v\n%+v", first, second)
	}
	if p.Calls() != 1 || srv.hits.Load() != 1 {
		t.Errorf("provider calls=%d fetches=%d, want 1/1", p.Calls(), srv.hits.Load())
	}

	snap := m.Status(context.Background()).Performance
	if snap.CacheHits != 1 || snap.CacheMisses != 1 || snap.Requests != 2 {
		t.Errorf("performance = %+v", snap)
	}
}

func TestModerate_CacheHitIsPerItemCopy(t *testing.T) {
	srv := newImageServer(t, "image/png", makePNG(1000, 600))
	m := newTestModerator(nil)
	ref := ImageRef{URL: srv.URL + "/shared.png"}
	ctx := context.Background()

	a := cleanInput("a", ref)
	a.Title = "BUY NOW!!!"
	first, err := m.Moderate(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Flags) == 0 {
		t.Fatal("expected text flags")
	}
	first.Flags[0].Message = "tampered"
	first.Analysis.Quality.Details["passed"] = "tampered"

	b := cleanInput("b", ref)
	second, err := m.Moderate(ctx, b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Status(ctx).Performance.CacheHits != 1 {
		t.Fatal("expected the second item to be served from cache")
	}
	if second.ItemID != "b" {
		t.Errorf("ItemID = %q, want b", second.ItemID)
	}
	if second.Flags[0].Message == "tampered" || second.Analysis.Quality.Details["passed"] == "tampered" {
		t.Errorf("cached verdict was mutated through an earlier result: %+v", second.Flags)
	}
}

func TestModerate_ClearCacheRecomputes(t *testing.T) {
	srv := newImageServer(t, "image/png", makePNG(1000, 600))
	m := newTestModerator(nil)
	in := cleanInput("item-1", ImageRef{URL: srv.URL + "/a.png"})
	ctx := context.Background()

	if _, err := m.Moderate(ctx, in); err != nil {
		t.Fatal(err)
	}
	cr := m.ClearCache(ctx)
	if cr.Cleared != 1 || cr.CurrentSize != 0 {
		t.Errorf("ClearCache = %+v, want 1 cleared, 0 left", cr)
	}
	if _, err := m.Moderate(ctx, in); err != nil {
		t.Fatal(err)
	}
	if n := srv.hits.Load(); n != 2 {
		t.Errorf("image fetched %d times, want 2 after clear", n)
	}
}

func TestModerate_MissingImage(t *testing.T) {
	t.Parallel()

	m := newTestModerator(nil)
	_, err := m.Moderate(context.Background(), AnalysisInput{ItemID: "x", Title: "Nice title"})
	if !errors.Is(err, ErrMissingImage) {
		t.Errorf("err = %v, want ErrMissingImage", err)
	}
	if n := m.Status(context.Background()).Performance.Requests; n != 0 {
		t.Errorf("rejected input counted as request: %d", n)
	}
}

func TestModerate_ThresholdUpdateAndRecheck(t *testing.T) {
	t.Parallel()

	p := &stubProvider{scores: map[string]float64{"sexual_display": 0.65}}
	m := newTestModerator(p)
	in := cleanInput("item-1", ImageRef{URL: "https://cdn.example.org/a.png", Data: makePNG(1000, 600)})
	ctx := context.Background()

	res, err := m.Moderate(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Analysis.NSFW.Flagged || res.Recommendation != RecommendReview {
		t.Fatalf("before update: flagged=%v rec=%q, want flagged review", res.Analysis.NSFW.Flagged, res.Recommendation)
	}
	if len(res.Flags) != 1 || res.Flags[0].Type != FlagNSFW || res.Flags[0].Severity != LevelMedium {
		t.Errorf("flags = %+v", res.Flags)
	}
	if res.OverallScore != 0.6 {
		t.Errorf("OverallScore = %v, want 0.6", res.OverallScore)
	}

	th, err := m.UpdateThresholds(ThresholdsUpdate{NSFW: &TiersUpdate{Medium: f64(0.9), High: f64(0.95)}})
	if err != nil {
		t.Fatal(err)
	}
	if th.NSFW.Low != DefaultThresholds.NSFW.Low || th.NSFW.Medium != 0.9 {
		t.Errorf("merged thresholds = %+v", th.NSFW)
	}

	stale, _ := m.Moderate(ctx, in)
	if stale.Recommendation != RecommendReview {
		t.Errorf("cached verdict changed without recheck: %q", stale.Recommendation)
	}

	fresh, err := m.Recheck(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Analysis.NSFW.Flagged || fresh.Recommendation != RecommendApprove {
		t.Errorf("after recheck: flagged=%v rec=%q, want approve", fresh.Analysis.NSFW.Flagged, fresh.Recommendation)
	}
	if p.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", p.Calls())
	}

	again, _ := m.Moderate(ctx, in)
	if again.Recommendation != RecommendApprove {
		t.Errorf("recheck should replace the cached verdict, got %q", again.Recommendation)
	}
}

func TestModerate_InvalidThresholdUpdate(t *testing.T) {
	t.Parallel()

	m := newTestModerator(nil)
	if _, err := m.UpdateThresholds(ThresholdsUpdate{Quality: &QualityTiersUpdate{Minimum: f64(1.5)}}); !errors.Is(err, ErrInvalidThreshold) {
		t.Errorf("err = %v, want ErrInvalidThreshold", err)
	}
	if got := m.Status(context.Background()).Thresholds; got != DefaultThresholds {
		t.Errorf("thresholds changed after rejected update: %+v", got)
	}
}

func TestModerate_AnalyzerPanicDegrades(t *testing.T) {
	t.Parallel()

	const url = "https://cdn.example.org/boom.png"
	p := &stubProvider{panicOn: url}
	var panics atomic.Int64
	m := New(Config{
		Provider: p,
		Random:   fixedRandom(0.5),
		OnPanic:  func(string, any) { panics.Add(1) },
	})
	in := cleanInput("item-boom", ImageRef{URL: url, Data: makePNG(1000, 600)})

	res, err := m.Moderate(context.Background(), in)
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Recommendation != RecommendManualReview || res.Passed || !res.NeedsReview {
		t.Errorf("rec=%q passed=%v needsReview=%v", res.Recommendation, res.Passed, res.NeedsReview)
	}
	if len(res.Flags) != 1 || res.Flags[0].Type != FlagError || !strings.Contains(res.Flags[0].Message, "panic") {
		t.Errorf("flags = %+v", res.Flags)
	}
	if res.OverallScore != 0 || res.Confidence != LevelLow || res.ItemID != "item-boom" {
		t.Errorf("degraded result = %+v", res)
	}
	if panics.Load() != 1 {
		t.Errorf("OnPanic calls = %d, want 1", panics.Load())
	}

	// Degraded verdicts are not cached.
	if _, err := m.Moderate(context.Background(), in); err != nil {
		t.Fatal(err)
	}
	if p.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2", p.Calls())
	}
	if e := m.Status(context.Background()).Performance.Errors; e != 2 {
		t.Errorf("errors = %d, want 2", e)
	}
}

func TestModerate_PanickingCacheDegrades(t *testing.T) {
	t.Parallel()

	ref := ImageRef{Data: makePNG(1000, 600)}
	var panics atomic.Int64
	m := New(Config{
		Random: fixedRandom(0.5),
		Cache: &panicCache{
			MemoryCache: NewMemoryCache(0, 0),
			key:         CacheKey(ref, dimensionModeration),
		},
		OnPanic: func(string, any) { panics.Add(1) },
	})

	res, err := m.Moderate(context.Background(), cleanInput("item-1", ref))
	if err != nil {
		t.Fatalf("Moderate: %v", err)
	}
	if res.Recommendation != RecommendManualReview || res.ItemID != "item-1" {
		t.Errorf("res = %q for %q, want manual_review", res.Recommendation, res.ItemID)
	}
	if len(res.Flags) != 1 || !strings.Contains(res.Flags[0].Message, "cache exploded") {
		t.Errorf("flags = %+v", res.Flags)
	}
	if panics.Load() != 1 || m.Status(context.Background()).Performance.Errors != 1 {
		t.Errorf("panics = %d, errors = %d", panics.Load(), m.Status(context.Background()).Performance.Errors)
	}
}

func TestModerate_CanceledContext(t *testing.T) {
	t.Parallel()

	m := newTestModerator(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := m.Moderate(ctx, cleanInput("item-1", ImageRef{Data: makePNG(1000, 600)}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Recommendation != RecommendManualReview {
		t.Errorf("rec = %q, want manual_review", res.Recommendation)
	}
}

func TestModerate_FetchFailureNeedsReview(t *testing.T) {
	srv := newImageServer(t, "text/html", []byte("<html>gone</html>"))
	m := newTestModerator(nil)

	res, err := m.Moderate(context.Background(), cleanInput("item-1", ImageRef{URL: srv.URL + "/a.png"}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Analysis.NSFW.Error == "" || res.Analysis.NSFW.Flagged {
		t.Errorf("nsfw = %+v, want unflagged with error", res.Analysis.NSFW)
	}
	if !res.Analysis.Quality.Flagged || res.Recommendation != RecommendReview {
		t.Errorf("quality flagged=%v rec=%q, want flagged review", res.Analysis.Quality.Flagged, res.Recommendation)
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds
	clean := Analysis{
		NSFW:       AnalyzerResult{Score: 0.1},
		Plagiarism: AnalyzerResult{Score: 0.1},
		Quality:    AnalyzerResult{Score: 0.95},
	}

	t.Run("clean high quality", func(t *testing.T) {
		t.Parallel()
		d := Decide(clean, th)
		if d.Recommendation != RecommendAutoApprove || d.OverallScore != 1 || len(d.Flags) != 0 {
			t.Errorf("got %+v", d)
		}
	})

	t.Run("nsfw and banned text", func(t *testing.T) {
		t.Parallel()
		a := clean
		a.NSFW = AnalyzerResult{Score: 0.7, Flagged: true, Severity: LevelMedium}
		a.Text = AnalyzerResult{Flags: []Flag{{Type: FlagInappropriateText, Severity: LevelHigh}}}
		d := Decide(a, th)
		if d.Recommendation != RecommendReject || d.OverallScore != 0.3 {
			t.Errorf("got rec=%q score=%v", d.Recommendation, d.OverallScore)
		}
		if got := flagTypes(d.Flags); !reflect.DeepEqual(got, []FlagType{FlagNSFW, FlagInappropriateText}) {
			t.Errorf("flag order = %v", got)
		}
		if d.Flags[0].Score == nil || *d.Flags[0].Score != 0.7 {
			t.Errorf("nsfw flag score = %v", d.Flags[0].Score)
		}
	})

	t.Run("everything wrong clamps at zero", func(t *testing.T) {
		t.Parallel()
		a := Analysis{
			NSFW:       AnalyzerResult{Score: 0.9, Flagged: true, Severity: LevelHigh},
			Plagiarism: AnalyzerResult{Score: 0.9, Flagged: true, Severity: LevelHigh},
			Quality:    AnalyzerResult{Score: 0.1, Flagged: true, Severity: LevelHigh},
			Text: AnalyzerResult{Flags: []Flag{
				{Type: FlagInappropriateText, Severity: LevelHigh},
				{Type: FlagSpam, Severity: LevelMedium},
			}},
		}
		d := Decide(a, th)
		if d.OverallScore != 0 || d.Recommendation != RecommendReject || len(d.Flags) != 5 {
			t.Errorf("got %+v", d)
		}
	})

	t.Run("plagiarism is always high", func(t *testing.T) {
		t.Parallel()
		a := clean
		a.Plagiarism = AnalyzerResult{Score: 0.65, Flagged: true, Severity: LevelMedium}
		d := Decide(a, th)
		if d.Flags[0].Severity != LevelHigh || d.Recommendation != RecommendReject {
			t.Errorf("got %+v", d)
		}
	})
}

var recommendationRank = map[Recommendation]int{
	RecommendAutoApprove: 0,
	RecommendApprove:     1,
	RecommendReview:      2,
	RecommendReject:      3,
}

func TestRecommend_Monotonic(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds.Quality
	levels := []Level{LevelLow, LevelMedium, LevelHigh}

	var sets [][]Flag
	sets = append(sets, nil)
	for _, a := range levels {
		sets = append(sets, []Flag{{Severity: a}})
		for _, b := range levels {
			sets = append(sets, []Flag{{Severity: a}, {Severity: b}})
		}
	}

	for _, q := range []float64{0.3, 0.6, 0.7, 0.71, 1} {
		for _, flags := range sets {
			base := Recommend(flags, q, th)
			for _, extra := range levels {
				more := append(append([]Flag{}, flags...), Flag{Severity: extra})
				if got := Recommend(more, q, th); recommendationRank[got] < recommendationRank[base] {
					t.Errorf("adding %s flag to %v moved %q to %q", extra, flags, base, got)
				}
			}
			if len(flags) == 2 {
				swapped := []Flag{flags[1], flags[0]}
				if got := Recommend(swapped, q, th); got != base {
					t.Errorf("order changed result: %q vs %q", got, base)
				}
			}
		}
	}
}

func TestRecommend_QualityTiers(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds.Quality
	if got := Recommend(nil, 0.7, th); got != RecommendApprove {
		t.Errorf("quality at good threshold = %q, want approve", got)
	}
	if got := Recommend(nil, 0.71, th); got != RecommendAutoApprove {
		t.Errorf("quality above good = %q, want auto_approve", got)
	}
	if got := Recommend([]Flag{{Severity: LevelLow}}, 1, th); got != RecommendReview {
		t.Errorf("low flag = %q, want review", got)
	}
}

func TestStatus(t *testing.T) {
	t.Parallel()

	m := newTestModerator(nil)
	s := m.Status(context.Background())
	if s.CacheSize != 0 || s.CacheTTL != DefaultCacheTTL.String() || s.ProviderMode != methodHeuristic {
		t.Errorf("status = %+v", s)
	}
	if s.Thresholds != DefaultThresholds {
		t.Errorf("thresholds = %+v", s.Thresholds)
	}

	withProvider := newTestModerator(&stubProvider{})
	if mode := withProvider.Status(context.Background()).ProviderMode; mode != "provider:stub" {
		t.Errorf("ProviderMode = %q", mode)
	}
}
