package moderate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotImage is returned when the fetched resource is not served as image/*.
	ErrNotImage = errors.New("moderate: not an image")
	// ErrTooLarge is returned when the body exceeds DownloadOpts.MaxBytes.
	ErrTooLarge = errors.New("moderate: image too large")
)

// DownloadOpts configures an image download.
type DownloadOpts struct {
	MaxBytes  int64         // max response body size (default: 20MB)
	Timeout   time.Duration // per-request timeout (default: 30s)
	UserAgent string        // override config user agent
}

const (
	defaultMaxBytes = 20 * 1024 * 1024
	defaultTimeout  = 30 * time.Second
)

// DownloadResult holds downloaded image data.
type DownloadResult struct {
	Data     []byte
	MIMEType string
}

// Download fetches an image from url using cfg.HTTPClient.
// Unlike a best-effort probe, every failure is reported so analyzers can
// record why they degraded.
func (cfg *Config) Download(ctx context.Context, url string, opts DownloadOpts) (*DownloadResult, error) {
	cfg.defaults()

	if opts.MaxBytes <= 0 {
		opts.MaxBytes = defaultMaxBytes
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = cfg.UserAgent
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := cfg.HTTPClient.Do(req) //nolint:gosec // G704: URL checked by ValidateImageRef
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	// Strip MIME parameters: "image/jpeg; charset=utf-8" → "image/jpeg"
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, fmt.Errorf("%w: content type %q", ErrNotImage, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > opts.MaxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, opts.MaxBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("read image: empty body")
	}

	return &DownloadResult{Data: data, MIMEType: ct}, nil
}
