package moderate

import (
	"maps"
	"math"
	"slices"
	"time"
)

// Level is a coarse low/medium/high bucket used for severities and confidences.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

func (l Level) rank() int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// minLevel returns the lower of two levels.
func minLevel(a, b Level) Level {
	if b.rank() < a.rank() {
		return b
	}
	return a
}

// FlagType names the reason a flag was raised.
type FlagType string

const (
	FlagNSFW              FlagType = "nsfw"
	FlagPlagiarism        FlagType = "plagiarism"
	FlagLowQuality        FlagType = "low_quality"
	FlagInappropriateText FlagType = "inappropriate_text"
	FlagSpam              FlagType = "spam"
	FlagExcessiveCaps     FlagType = "excessive_caps"
	FlagError             FlagType = "error"
)

// Recommendation is the terminal decision label of a moderation pass.
type Recommendation string

const (
	RecommendAutoApprove  Recommendation = "auto_approve"
	RecommendApprove      Recommendation = "approve"
	RecommendReview       Recommendation = "review"
	RecommendReject       Recommendation = "reject"
	RecommendManualReview Recommendation = "manual_review"
)

// ImageRef points at the media to analyze: a fetchable URL or an in-memory buffer.
// When both are set, Data wins for analysis and URL is still passed to providers.
type ImageRef struct {
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType,omitempty"`
}

// IsZero reports whether the reference carries neither a URL nor bytes.
func (r ImageRef) IsZero() bool {
	return r.URL == "" && len(r.Data) == 0
}

// AnalysisInput is one moderation request. Callers build it once and never mutate it.
type AnalysisInput struct {
	ItemID      string   `json:"itemId"`
	Image       ImageRef `json:"image"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// Flag is a single finding raised during aggregation.
type Flag struct {
	Type     FlagType `json:"type"`
	Severity Level    `json:"severity"`
	Message  string   `json:"message"`
	Score    *float64 `json:"score,omitempty"`
}

// Match is a candidate source for a plagiarized image.
type Match struct {
	SourceRef  string  `json:"sourceRef"`
	Similarity float64 `json:"similarity"`
}

// AnalyzerResult is the output of one analysis dimension.
//
// Severity and Flagged are always derived from Score and the threshold
// snapshot in effect when the result was built; use the constructors in
// this package rather than setting them by hand.
type AnalyzerResult struct {
	Score      float64        `json:"score"`
	Flagged    bool           `json:"flagged"`
	Severity   Level          `json:"severity"`
	Confidence Level          `json:"confidence"`
	Details    map[string]any `json:"details,omitempty"`
	Matches    []Match        `json:"matches,omitempty"`
	Flags      []Flag         `json:"flags,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Analysis groups the four per-dimension results of a moderation pass.
type Analysis struct {
	NSFW       AnalyzerResult `json:"nsfw"`
	Plagiarism AnalyzerResult `json:"plagiarism"`
	Quality    AnalyzerResult `json:"quality"`
	Text       AnalyzerResult `json:"text"`
}

// ModerationResult is the verdict for one item. Every moderation attempt yields one.
type ModerationResult struct {
	ItemID         string         `json:"itemId"`
	Passed         bool           `json:"passed"`
	NeedsReview    bool           `json:"needsReview"`
	Flags          []Flag         `json:"flags"`
	OverallScore   float64        `json:"overallScore"`
	Analysis       Analysis       `json:"analysis"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     Level          `json:"confidence"`
	Fingerprint    string         `json:"fingerprint,omitempty"`
	CheckedAt      time.Time      `json:"checkedAt"`
}

// Clone returns a deep copy of r. Detail values of the kinds the analyzers
// produce (scalars, string slices, float maps, nested detail maps) are copied.
func (r ModerationResult) Clone() ModerationResult {
	r.Flags = cloneFlags(r.Flags)
	r.Analysis.NSFW = r.Analysis.NSFW.clone()
	r.Analysis.Plagiarism = r.Analysis.Plagiarism.clone()
	r.Analysis.Quality = r.Analysis.Quality.clone()
	r.Analysis.Text = r.Analysis.Text.clone()
	return r
}

func (a AnalyzerResult) clone() AnalyzerResult {
	a.Details = cloneDetails(a.Details)
	a.Matches = slices.Clone(a.Matches)
	a.Flags = cloneFlags(a.Flags)
	return a
}

func cloneFlags(flags []Flag) []Flag {
	if flags == nil {
		return nil
	}
	out := make([]Flag, len(flags))
	for i, f := range flags {
		if f.Score != nil {
			f.Score = scorePtr(*f.Score)
		}
		out[i] = f
	}
	return out
}

func cloneDetails(d map[string]any) map[string]any {
	if d == nil {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		switch v := v.(type) {
		case map[string]any:
			out[k] = cloneDetails(v)
		case map[string]float64:
			out[k] = maps.Clone(v)
		case []string:
			out[k] = slices.Clone(v)
		case []any:
			out[k] = slices.Clone(v)
		default:
			out[k] = v
		}
	}
	return out
}

func scorePtr(v float64) *float64 { return &v }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// round6 trims float noise so sums of sub-scores compare exactly.
func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
