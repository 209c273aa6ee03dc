package moderate

import (
	"context"
	"log/slog"
	"math"
)

const (
	stockURLSimilarity      = 0.85
	stockMetadataSimilarity = 0.75
	aspectTolerance         = 0.02
	plagiarismJitter        = 0.1
	unverifiedSourceRef     = "reverse-search:unverified"
)

// commonAspectRatios are the framings stock and wallpaper sites standardize on.
var commonAspectRatios = []float64{16.0 / 9, 4.0 / 3, 3.0 / 2, 1, 9.0 / 16, 3.0 / 4, 2.0 / 3}

// commonResolutions are export sizes typical of redistributed images.
var commonResolutions = [][2]int{
	{3840, 2160}, {2560, 1440}, {1920, 1080}, {1600, 900}, {1280, 720},
	{1024, 768}, {800, 600}, {1080, 1080}, {2048, 1365}, {6000, 4000},
}

// AnalyzePlagiarism estimates how likely img is a copy of existing material.
// Concrete evidence (stock host, stock rights holder, perceptual match against
// the hash index) dominates; otherwise a heuristic over image characteristics
// with a bounded random term stands in for an absent reverse-search backend.
func (cfg *Config) AnalyzePlagiarism(ctx context.Context, img *Image, th Tiers) AnalyzerResult {
	info, err := img.Info(ctx)
	if err != nil {
		slog.Debug("moderate: plagiarism image unavailable", "url", img.Ref.URL, "error", err.Error())
		return degradedResult(err)
	}

	var evidence []Match
	if src := StockSource(img.Ref.URL, cfg.ExtraStockDomains); src != "" {
		evidence = append(evidence, Match{SourceRef: src, Similarity: stockURLSimilarity})
	}
	if agency := info.Metadata.StockAgency(); agency != "" {
		evidence = append(evidence, Match{SourceRef: agency, Similarity: stockMetadataSimilarity})
	}
	evidence = append(evidence, cfg.HashIndex.Lookup(info.DHash)...)

	return plagiarismScore(info, evidence, th, cfg.Random.Float64())
}

func plagiarismScore(info *ImageInfo, evidence []Match, th Tiers, r float64) AnalyzerResult {
	var aspectTerm, resolutionTerm, sizeTerm float64

	ar := info.AspectRatio()
	for _, c := range commonAspectRatios {
		if math.Abs(ar-c) <= aspectTolerance {
			aspectTerm = 0.1
			break
		}
	}
	for _, res := range commonResolutions {
		if (info.Width == res[0] && info.Height == res[1]) || (info.Width == res[1] && info.Height == res[0]) {
			resolutionTerm = 0.15
			break
		}
	}
	if info.Bytes >= 100*1024 && info.Bytes <= 2*1024*1024 {
		sizeTerm = 0.05
	}
	jitter := r * plagiarismJitter

	score := aspectTerm + resolutionTerm + sizeTerm + jitter
	method := methodHeuristic
	for _, m := range evidence {
		if m.Similarity > score {
			score = m.Similarity
		}
		method = "evidence"
	}
	score = clamp01(round6(score))

	var matches []Match
	if score > th.Low {
		matches = evidence
		if len(matches) == 0 {
			matches = []Match{{SourceRef: unverifiedSourceRef, Similarity: score}}
		}
	}

	conf := LevelLow
	if len(evidence) > 0 {
		conf = LevelHigh
	}

	return AnalyzerResult{
		Score:      score,
		Flagged:    th.flagged(score),
		Severity:   th.severity(score),
		Confidence: conf,
		Matches:    matches,
		Details: map[string]any{
			"method":      method,
			"fingerprint": info.Fingerprint,
			"aspect":      aspectTerm,
			"resolution":  resolutionTerm,
			"fileSize":    sizeTerm,
			"jitter":      jitter,
		},
	}
}
