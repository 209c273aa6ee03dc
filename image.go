package moderate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/corona10/goimagehash"
	_ "golang.org/x/image/webp"
)

const (
	// maxBrightnessSamples bounds the pixel reads used for mean brightness.
	maxBrightnessSamples = 64 * 1024

	// maxDecodePixels caps the full decode. Larger images keep their header
	// dimensions but get no brightness or perceptual hash.
	maxDecodePixels = 40_000_000
)

// ImageInfo is everything the analyzers derive from one image.
type ImageInfo struct {
	Width       int
	Height      int
	Format      string // decoder name: "jpeg", "png", "gif", "webp"
	Bytes       int
	Fingerprint string  // SHA-256 of the raw bytes, hex
	Brightness  float64 // mean channel brightness in [0,1]; 0 when not decodable
	Decoded     bool
	DHash       *goimagehash.ImageHash // nil when not decodable
	Metadata    *ImageMetadata         // nil when absent
}

// Pixels returns Width*Height.
func (i *ImageInfo) Pixels() int { return i.Width * i.Height }

// AspectRatio returns Width/Height, or 0 for a degenerate image.
func (i *ImageInfo) AspectRatio() float64 {
	if i.Height == 0 {
		return 0
	}
	return float64(i.Width) / float64(i.Height)
}

// CompressionRatio is encoded size over raw 24-bit size.
func (i *ImageInfo) CompressionRatio() float64 {
	raw := i.Pixels() * 3
	if raw == 0 {
		return 0
	}
	return float64(i.Bytes) / float64(raw)
}

// Image is a lazily loaded image shared by the analyzers of one moderation pass.
// The first Info call downloads (if needed) and inspects; later calls reuse the outcome.
type Image struct {
	Ref ImageRef

	cfg  *Config
	once sync.Once
	info *ImageInfo
	err  error
}

// NewImage wraps ref for inspection using cfg's HTTP client.
func (cfg *Config) NewImage(ref ImageRef) *Image {
	return &Image{Ref: ref, cfg: cfg}
}

// Info returns the inspected image, loading it on first use.
func (img *Image) Info(ctx context.Context) (*ImageInfo, error) {
	img.once.Do(func() {
		img.info, img.err = img.load(ctx)
	})
	return img.info, img.err
}

func (img *Image) load(ctx context.Context) (*ImageInfo, error) {
	data := img.Ref.Data
	if len(data) == 0 {
		if img.Ref.URL == "" {
			return nil, ErrMissingImage
		}
		r, err := img.cfg.Download(ctx, img.Ref.URL, DownloadOpts{Timeout: img.cfg.FetchTimeout})
		if err != nil {
			return nil, err
		}
		data = r.Data
	}
	return InspectImage(data)
}

// InspectImage decodes data and computes the image characteristics.
// Dimensions are required; a full decode failure, or a header declaring more
// than maxDecodePixels, only disables brightness and hashing.
func InspectImage(data []byte) (*ImageInfo, error) {
	if len(data) == 0 {
		return nil, errors.New("inspect image: empty data")
	}
	imgCfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("inspect image: %w", err)
	}

	sum := sha256.Sum256(data)
	info := &ImageInfo{
		Width:       imgCfg.Width,
		Height:      imgCfg.Height,
		Format:      format,
		Bytes:       len(data),
		Fingerprint: hex.EncodeToString(sum[:]),
		Metadata:    ExtractImageMetadata(data),
	}

	if int64(imgCfg.Width)*int64(imgCfg.Height) > maxDecodePixels {
		return info, nil
	}
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return info, nil
	}
	info.Decoded = true
	info.Brightness = meanBrightness(decoded)
	if h, err := goimagehash.DifferenceHash(decoded); err == nil {
		info.DHash = h
	}
	return info, nil
}

// meanBrightness averages (R+G+B)/3 over a grid of at most maxBrightnessSamples pixels.
func meanBrightness(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	step := 1
	for (w/step)*(h/step) > maxBrightnessSamples {
		step++
	}

	var sum float64
	var n int
	for y := b.Min.Y; y < b.Max.Y; y += step {
		for x := b.Min.X; x < b.Max.X; x += step {
			r, g, bl, _ := img.At(x, y).RGBA()
			sum += (float64(r) + float64(g) + float64(bl)) / (3 * 0xffff)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
