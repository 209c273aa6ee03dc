package moderate

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudflare/ahocorasick"
)

const (
	spamMatchThreshold  = 2   // more distinct spam phrases than this is spam
	capsRatioThreshold  = 0.7 // share of uppercase letters in the title
	capsMinTitleRunes   = 5   // titles this short are never caps-flagged
	minTitleRunes       = 3
	minDescriptionRunes = 10
	textFlagPenalty     = 0.2
)

// DefaultBannedKeywords are phrases that make text unacceptable outright.
var DefaultBannedKeywords = []string{
	"porn",
	"xxx",
	"nsfw",
	"nudes",
	"onlyfans",
	"sex tape",
	"escort service",
	"kill yourself",
	"white power",
	"buy followers",
}

// DefaultSpamKeywords are promotional phrases; several together indicate spam.
var DefaultSpamKeywords = []string{
	"buy now",
	"click here",
	"free money",
	"limited time",
	"act now",
	"discount",
	"100% free",
	"earn money",
	"work from home",
	"follow me",
	"dm me",
	"promo code",
	"link in bio",
	"giveaway",
}

// TextAnalyzer checks titles, descriptions and tags. It is pure and safe for
// concurrent use.
type TextAnalyzer struct {
	banned        []string
	spam          []string
	bannedMatcher *ahocorasick.Matcher
	spamMatcher   *ahocorasick.Matcher
}

// NewTextAnalyzer builds an analyzer. Empty lists select the defaults.
func NewTextAnalyzer(banned, spam []string) *TextAnalyzer {
	banned = normalizeKeywords(banned, DefaultBannedKeywords)
	spam = normalizeKeywords(spam, DefaultSpamKeywords)
	return &TextAnalyzer{
		banned:        banned,
		spam:          spam,
		bannedMatcher: ahocorasick.NewStringMatcher(banned),
		spamMatcher:   ahocorasick.NewStringMatcher(spam),
	}
}

func normalizeKeywords(list, def []string) []string {
	if len(list) == 0 {
		list = def
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, kw := range list {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// Analyze runs every text check. Identical inputs always produce identical results.
func (a *TextAnalyzer) Analyze(title, description string, tags []string) AnalyzerResult {
	text := strings.ToLower(strings.Join(append([]string{title, description}, tags...), " "))
	data := []byte(text)

	var flags []Flag

	banned := matchedKeywords(a.bannedMatcher, a.banned, data)
	if len(banned) > 0 {
		flags = append(flags, Flag{
			Type:     FlagInappropriateText,
			Severity: LevelHigh,
			Message:  "contains banned keywords: " + strings.Join(banned, ", "),
		})
	}

	spam := matchedKeywords(a.spamMatcher, a.spam, data)
	if len(spam) > spamMatchThreshold {
		flags = append(flags, Flag{
			Type:     FlagSpam,
			Severity: LevelMedium,
			Message:  fmt.Sprintf("contains %d spam phrases: %s", len(spam), strings.Join(spam, ", ")),
		})
	}

	caps := capsRatio(title)
	if utf8.RuneCountInString(title) > capsMinTitleRunes && caps > capsRatioThreshold {
		flags = append(flags, Flag{
			Type:     FlagExcessiveCaps,
			Severity: LevelLow,
			Message:  fmt.Sprintf("title is %.0f%% capital letters", caps*100),
		})
	}

	if utf8.RuneCountInString(strings.TrimSpace(title)) < minTitleRunes {
		flags = append(flags, Flag{
			Type:     FlagLowQuality,
			Severity: LevelMedium,
			Message:  fmt.Sprintf("title shorter than %d characters", minTitleRunes),
		})
	}
	if utf8.RuneCountInString(strings.TrimSpace(description)) < minDescriptionRunes {
		flags = append(flags, Flag{
			Type:     FlagLowQuality,
			Severity: LevelLow,
			Message:  fmt.Sprintf("description shorter than %d characters", minDescriptionRunes),
		})
	}

	sev := LevelLow
	for _, f := range flags {
		if f.Severity.rank() > sev.rank() {
			sev = f.Severity
		}
	}
	passed := len(flags) == 0

	return AnalyzerResult{
		Score:      clamp01(round6(1 - textFlagPenalty*float64(len(flags)))),
		Flagged:    !passed,
		Severity:   sev,
		Confidence: LevelHigh,
		Flags:      flags,
		Details: map[string]any{
			"passed":         passed,
			"bannedMatches":  banned,
			"spamMatches":    spam,
			"capsRatio":      round6(caps),
			"analyzedLength": utf8.RuneCount(data),
		},
	}
}

// matchedKeywords returns the distinct keywords found in data, in list order.
func matchedKeywords(m *ahocorasick.Matcher, keywords []string, data []byte) []string {
	hits := m.MatchThreadSafe(data)
	if len(hits) == 0 {
		return nil
	}
	sort.Ints(hits)
	out := make([]string, 0, len(hits))
	last := -1
	for _, i := range hits {
		if i == last {
			continue
		}
		last = i
		out = append(out, keywords[i])
	}
	return out
}

// capsRatio is the share of uppercase runes among the letters of s.
func capsRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}
