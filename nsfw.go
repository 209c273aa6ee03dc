package moderate

import (
	"context"
	"log/slog"
)

// NSFWProvider is an external nudity/offensiveness classifier.
// Classify returns per-category scores in [0,1].
type NSFWProvider interface {
	Name() string
	Classify(ctx context.Context, ref ImageRef) (map[string]float64, error)
}

const (
	methodProvider  = "provider"
	methodHeuristic = "heuristic"

	// heuristicJitter is the full width of the random perturbation.
	heuristicJitter = 0.2
)

// AnalyzeNSFW scores img for explicit content.
// With a provider configured, its verdict is used; if the provider is absent
// or fails, a labeled heuristic over image characteristics stands in.
// Image failures degrade to an unflagged zero score carrying the error.
func (cfg *Config) AnalyzeNSFW(ctx context.Context, img *Image, th Tiers) AnalyzerResult {
	var providerErr string
	if cfg.Provider != nil {
		res, err := cfg.classifyWithProvider(ctx, img.Ref, th)
		if err == nil {
			return res
		}
		providerErr = stripRequestURL(err).Error()
		slog.Warn("moderate: nsfw provider failed, using heuristic",
			"provider", cfg.Provider.Name(), "error", providerErr)
	}

	info, err := img.Info(ctx)
	if err != nil {
		slog.Debug("moderate: nsfw image unavailable", "url", img.Ref.URL, "error", err.Error())
		return degradedResult(err)
	}

	res := nsfwHeuristic(info, th, cfg.Random.Float64())
	if providerErr != "" {
		res.Details["providerError"] = providerErr
	}
	return res
}

func (cfg *Config) classifyWithProvider(ctx context.Context, ref ImageRef, th Tiers) (AnalyzerResult, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.ProviderTimeout)
	defer cancel()

	cats, err := cfg.Provider.Classify(ctx, ref)
	if err != nil {
		return AnalyzerResult{}, err
	}
	score := maxCategory(cats)

	return AnalyzerResult{
		Score:      score,
		Flagged:    th.flagged(score),
		Severity:   th.severity(score),
		Confidence: providerConfidence(score, th),
		Details: map[string]any{
			"method":     methodProvider,
			"provider":   cfg.Provider.Name(),
			"categories": cats,
		},
	}, nil
}

// maxCategory returns the highest category score. A single confident
// category must not be diluted by low scores elsewhere.
func maxCategory(cats map[string]float64) float64 {
	best := 0.0
	for _, v := range cats {
		if v > best {
			best = v
		}
	}
	return clamp01(best)
}

// providerConfidence is high for clear verdicts and medium near the flag boundary.
func providerConfidence(score float64, th Tiers) Level {
	if score <= th.Low || score > th.High {
		return LevelHigh
	}
	return LevelMedium
}

// nsfwHeuristic derives a stand-in score from image characteristics.
// Each term is bounded; the sum before jitter never exceeds 0.6.
func nsfwHeuristic(info *ImageInfo, th Tiers, r float64) AnalyzerResult {
	var aspectTerm, pixelTerm, brightnessTerm, compressionTerm float64

	// Portrait framing is more common for figure photography.
	if ar := info.AspectRatio(); ar > 0 && ar < 0.9 {
		aspectTerm = 0.15
	} else {
		aspectTerm = 0.05
	}

	switch px := info.Pixels(); {
	case px >= 2_000_000:
		pixelTerm = 0.15
	case px >= 500_000:
		pixelTerm = 0.1
	default:
		pixelTerm = 0.05
	}

	// Mid-range brightness overlaps typical skin tones.
	if info.Decoded && info.Brightness >= 0.35 && info.Brightness <= 0.75 {
		brightnessTerm = 0.15
	}

	// Lightly compressed images carry more fine detail.
	if cr := info.CompressionRatio(); cr > 0.15 {
		compressionTerm = 0.15
	} else if cr > 0.05 {
		compressionTerm = 0.1
	}

	base := aspectTerm + pixelTerm + brightnessTerm + compressionTerm
	jitter := (r - 0.5) * heuristicJitter
	score := clamp01(round6(base + jitter))

	conf := LevelLow
	if score <= th.Low || score > th.High {
		conf = LevelMedium
	}

	return AnalyzerResult{
		Score:      score,
		Flagged:    th.flagged(score),
		Severity:   th.severity(score),
		Confidence: conf,
		Details: map[string]any{
			"method":      methodHeuristic,
			"aspect":      aspectTerm,
			"pixels":      pixelTerm,
			"brightness":  brightnessTerm,
			"compression": compressionTerm,
			"jitter":      jitter,
		},
	}
}

// degradedResult is the analyzer outcome when its input could not be read.
func degradedResult(err error) AnalyzerResult {
	return AnalyzerResult{
		Score:      0,
		Flagged:    false,
		Severity:   LevelLow,
		Confidence: LevelLow,
		Error:      err.Error(),
	}
}
