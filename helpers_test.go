package moderate

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
)

var cornflower = color.RGBA{R: 100, G: 149, B: 237, A: 255}

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, cornflower)
		}
	}
	return img
}

// makeJPEG returns a minimal valid JPEG of the given dimensions.
func makeJPEG(w, h int) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, solidImage(w, h), nil); err != nil {
		panic("makeJPEG: " + err.Error())
	}
	return buf.Bytes()
}

// makePNG returns a solid-color PNG. Solid PNGs compress to a few KB, which
// keeps the file-size dependent scores stable.
func makePNG(w, h int) []byte {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solidImage(w, h)); err != nil {
		panic("makePNG: " + err.Error())
	}
	return buf.Bytes()
}

// countingServer serves body with contentType and counts requests.
type countingServer struct {
	*httptest.Server
	hits atomic.Int64
}

func newImageServer(t *testing.T, contentType string, body []byte) *countingServer {
	t.Helper()
	cs := &countingServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		cs.hits.Add(1)
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(body)
	}))
	t.Cleanup(cs.Close)
	return cs
}

// fixedRandom pins the heuristic perturbation.
func fixedRandom(v float64) RandomSource {
	return RandomFunc(func() float64 { return v })
}

// stubProvider is a test double for NSFWProvider.
type stubProvider struct {
	mu      sync.Mutex
	scores  map[string]float64
	err     error
	calls   int
	panicOn string // URL that makes Classify panic
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Classify(_ context.Context, ref ImageRef) (map[string]float64, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.panicOn != "" && ref.URL == p.panicOn {
		panic("stub provider exploded")
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]float64, len(p.scores))
	for k, v := range p.scores {
		out[k] = v
	}
	return out, nil
}

func (p *stubProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// cleanInput is an item with acceptable text.
func cleanInput(id string, ref ImageRef) AnalysisInput {
	return AnalysisInput{
		ItemID:      id,
		Image:       ref,
		Title:       "Sunset over the harbor",
		Description: "Taken from the old pier last summer.",
		Tags:        []string{"sunset", "harbor"},
	}
}
