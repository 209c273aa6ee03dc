package moderate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ImageInput represents an image for multimodal LLM classification.
type ImageInput struct {
	URL      string // data: URI or HTTP URL
	MIMEType string // e.g. "image/jpeg"
}

// Classifier abstracts multimodal LLM calls for image classification.
type Classifier interface {
	Classify(ctx context.Context, prompt string, images []ImageInput) (string, error)
}

// VisionPrompt is the default instruction for LLM-based NSFW classification.
const VisionPrompt = `You are a content moderator for a user-generated image gallery.

Classify this image. Answer with exactly one word:
- SAFE: no nudity or sexual content.
- SUGGESTIVE: revealing clothing, provocative poses, or partial nudity
  without explicit sexual display.
- EXPLICIT: exposed genitals, sexual activity, or pornographic content.

Answer:`

// Class labels returned by ParseVisionResponse.
const (
	ClassSafe       = "SAFE"
	ClassSuggestive = "SUGGESTIVE"
	ClassExplicit   = "EXPLICIT"
)

// visionScores maps an LLM class to provider-style category scores.
var visionScores = map[string]map[string]float64{
	ClassSafe:       {"explicit": 0.05, "suggestive": 0.1},
	ClassSuggestive: {"explicit": 0.2, "suggestive": 0.7},
	ClassExplicit:   {"explicit": 0.95, "suggestive": 0.6},
}

var errUnparsedVision = errors.New("vision: unrecognized classifier answer")

// VisionProvider adapts a multimodal LLM Classifier to NSFWProvider.
type VisionProvider struct {
	Classifier Classifier
	Prompt     string // default: VisionPrompt
}

// Name implements NSFWProvider.
func (p *VisionProvider) Name() string { return "vision" }

// Classify implements NSFWProvider. An answer that cannot be parsed is an error,
// so the analyzer falls back to its heuristic instead of guessing.
func (p *VisionProvider) Classify(ctx context.Context, ref ImageRef) (map[string]float64, error) {
	prompt := p.Prompt
	if prompt == "" {
		prompt = VisionPrompt
	}

	input := ImageInput{URL: ref.URL, MIMEType: ref.MIMEType}
	if len(ref.Data) > 0 {
		mime := ref.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		input = ImageInput{URL: EncodeDataURL(ref.Data, mime), MIMEType: mime}
	}

	resp, err := p.Classifier.Classify(ctx, prompt, []ImageInput{input})
	if err != nil {
		return nil, fmt.Errorf("vision: %w", err)
	}
	slog.Debug("moderate: vision result", "url", ref.URL, "response", resp)

	cls := ParseVisionResponse(resp)
	scores, ok := visionScores[cls]
	if !ok {
		return nil, fmt.Errorf("%w: %q", errUnparsedVision, resp)
	}
	out := make(map[string]float64, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out, nil
}

// ParseVisionResponse normalizes an LLM response to one of the class labels, or "".
func ParseVisionResponse(resp string) string {
	word := strings.ToUpper(strings.TrimSpace(resp))
	switch {
	case strings.HasPrefix(word, ClassSafe):
		return ClassSafe
	case strings.HasPrefix(word, ClassSuggestive):
		return ClassSuggestive
	case strings.HasPrefix(word, ClassExplicit):
		return ClassExplicit
	default:
		return ""
	}
}

// EncodeDataURL creates a data: URI from bytes and MIME type.
func EncodeDataURL(data []byte, mimeType string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}
