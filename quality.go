package moderate

import (
	"context"
	"log/slog"
)

// allowedFormats score full marks; anything else listed scores half.
var allowedFormats = map[string]float64{
	"jpeg": 0.2,
	"png":  0.2,
	"webp": 0.2,
	"gif":  0.1,
}

// AnalyzeQuality scores img's technical quality.
// An unreadable image scores zero and is therefore flagged.
func (cfg *Config) AnalyzeQuality(ctx context.Context, img *Image, th QualityTiers) AnalyzerResult {
	info, err := img.Info(ctx)
	if err != nil {
		slog.Debug("moderate: quality image unavailable", "url", img.Ref.URL, "error", err.Error())
		res := qualityResult(0, th, nil)
		res.Confidence = LevelLow
		res.Error = err.Error()
		return res
	}
	return ScoreQuality(info, th)
}

// ScoreQuality is a pure function of the image dimensions, format and size.
// The four sub-scores sum to at most 1.
func ScoreQuality(info *ImageInfo, th QualityTiers) AnalyzerResult {
	var resolution float64
	switch px := info.Pixels(); {
	case px >= 1920*1080:
		resolution = 0.4
	case px >= 1280*720:
		resolution = 0.3
	case px >= 640*480:
		resolution = 0.2
	case px > 0:
		resolution = 0.1
	}

	format := allowedFormats[info.Format]

	var aspect float64
	switch ar := info.AspectRatio(); {
	case ar >= 0.5 && ar <= 2.0:
		aspect = 0.2
	case ar >= 1.0/3 && ar <= 3.0:
		aspect = 0.1
	}

	var size float64
	switch b := info.Bytes; {
	case b >= 50*1024 && b <= 10*1024*1024:
		size = 0.2
	case b >= 10*1024 && b <= 20*1024*1024:
		size = 0.1
	}

	score := resolution + format + aspect + size
	return qualityResult(score, th, map[string]any{
		"resolution": resolution,
		"format":     format,
		"aspect":     aspect,
		"fileSize":   size,
		"width":      info.Width,
		"height":     info.Height,
	})
}

// qualityResult derives pass/fail and severity from score. Quality is inverted
// relative to risk dimensions: low scores are the severe ones.
func qualityResult(score float64, th QualityTiers, details map[string]any) AnalyzerResult {
	score = clamp01(round6(score))
	passed := score >= th.Minimum

	sev := LevelLow
	switch {
	case !passed:
		sev = LevelHigh
	case score < th.Good:
		sev = LevelMedium
	}

	if details == nil {
		details = map[string]any{}
	}
	details["passed"] = passed
	if score >= th.Excellent {
		details["tier"] = "excellent"
	} else if score >= th.Good {
		details["tier"] = "good"
	}

	return AnalyzerResult{
		Score:      score,
		Flagged:    !passed,
		Severity:   sev,
		Confidence: LevelHigh,
		Details:    details,
	}
}
