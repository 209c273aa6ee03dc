package moderate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrInvalidThreshold is returned when an update carries a cut point outside [0,1].
var ErrInvalidThreshold = errors.New("moderate: threshold out of range")

// Tiers are the low/medium/high cut points of a risk dimension (NSFW, plagiarism).
type Tiers struct {
	Low    float64 `json:"low" yaml:"low"`
	Medium float64 `json:"medium" yaml:"medium"`
	High   float64 `json:"high" yaml:"high"`
}

// QualityTiers are the cut points of the quality dimension.
type QualityTiers struct {
	Minimum   float64 `json:"minimum" yaml:"minimum"`
	Good      float64 `json:"good" yaml:"good"`
	Excellent float64 `json:"excellent" yaml:"excellent"`
}

// Thresholds is an immutable snapshot of every dimension's cut points.
type Thresholds struct {
	NSFW       Tiers        `json:"nsfw" yaml:"nsfw"`
	Plagiarism Tiers        `json:"plagiarism" yaml:"plagiarism"`
	Quality    QualityTiers `json:"quality" yaml:"quality"`
}

// DefaultThresholds are used when a registry is created without explicit values.
var DefaultThresholds = Thresholds{
	NSFW:       Tiers{Low: 0.3, Medium: 0.6, High: 0.8},
	Plagiarism: Tiers{Low: 0.3, Medium: 0.6, High: 0.8},
	Quality:    QualityTiers{Minimum: 0.5, Good: 0.7, Excellent: 0.9},
}

// flagged reports whether score crosses the flagged (medium) cut point.
func (t Tiers) flagged(score float64) bool {
	return score > t.Medium
}

// severity buckets a score. Unflagged scores are always low so that
// severity never disagrees with Flagged.
func (t Tiers) severity(score float64) Level {
	switch {
	case !t.flagged(score):
		return LevelLow
	case score > t.High:
		return LevelHigh
	default:
		return LevelMedium
	}
}

// TiersUpdate is a partial update of Tiers; nil fields are left untouched.
type TiersUpdate struct {
	Low    *float64 `json:"low,omitempty" yaml:"low,omitempty"`
	Medium *float64 `json:"medium,omitempty" yaml:"medium,omitempty"`
	High   *float64 `json:"high,omitempty" yaml:"high,omitempty"`
}

// QualityTiersUpdate is a partial update of QualityTiers.
type QualityTiersUpdate struct {
	Minimum   *float64 `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Good      *float64 `json:"good,omitempty" yaml:"good,omitempty"`
	Excellent *float64 `json:"excellent,omitempty" yaml:"excellent,omitempty"`
}

// ThresholdsUpdate is a partial Thresholds; nil dimensions are left untouched.
type ThresholdsUpdate struct {
	NSFW       *TiersUpdate        `json:"nsfw,omitempty" yaml:"nsfw,omitempty"`
	Plagiarism *TiersUpdate        `json:"plagiarism,omitempty" yaml:"plagiarism,omitempty"`
	Quality    *QualityTiersUpdate `json:"quality,omitempty" yaml:"quality,omitempty"`
}

// ThresholdStore is the read/update contract the pipeline depends on.
type ThresholdStore interface {
	Get() Thresholds
	Update(ThresholdsUpdate) (Thresholds, error)
}

// ThresholdRegistry is a process-wide ThresholdStore. Readers always see the
// latest committed snapshot; writers are serialized.
type ThresholdRegistry struct {
	mu   sync.Mutex
	snap atomic.Pointer[Thresholds]
}

// NewThresholdRegistry returns a registry seeded with initial.
func NewThresholdRegistry(initial Thresholds) *ThresholdRegistry {
	r := &ThresholdRegistry{}
	r.snap.Store(&initial)
	return r
}

// Get returns the current snapshot.
func (r *ThresholdRegistry) Get() Thresholds {
	return *r.snap.Load()
}

// Update merges u into the current snapshot and returns the merged set.
// The update is all-or-nothing: an invalid value leaves the registry unchanged.
func (r *ThresholdRegistry) Update(u ThresholdsUpdate) (Thresholds, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := *r.snap.Load()
	if u.NSFW != nil {
		if err := mergeTiers(&next.NSFW, *u.NSFW, "nsfw"); err != nil {
			return Thresholds{}, err
		}
	}
	if u.Plagiarism != nil {
		if err := mergeTiers(&next.Plagiarism, *u.Plagiarism, "plagiarism"); err != nil {
			return Thresholds{}, err
		}
	}
	if u.Quality != nil {
		q := u.Quality
		for _, f := range []struct {
			name string
			src  *float64
			dst  *float64
		}{
			{"minimum", q.Minimum, &next.Quality.Minimum},
			{"good", q.Good, &next.Quality.Good},
			{"excellent", q.Excellent, &next.Quality.Excellent},
		} {
			if err := setCut(f.dst, f.src, "quality."+f.name); err != nil {
				return Thresholds{}, err
			}
		}
	}

	r.snap.Store(&next)
	return next, nil
}

func mergeTiers(dst *Tiers, u TiersUpdate, dim string) error {
	if err := setCut(&dst.Low, u.Low, dim+".low"); err != nil {
		return err
	}
	if err := setCut(&dst.Medium, u.Medium, dim+".medium"); err != nil {
		return err
	}
	return setCut(&dst.High, u.High, dim+".high")
}

func setCut(dst, src *float64, name string) error {
	if src == nil {
		return nil
	}
	if !(*src >= 0 && *src <= 1) { // also rejects NaN
		return fmt.Errorf("%w: %s=%v", ErrInvalidThreshold, name, *src)
	}
	*dst = *src
	return nil
}
