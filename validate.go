package moderate

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrInvalidImageRef is the caller input error for an image URL that cannot be fetched.
var ErrInvalidImageRef = errors.New("moderate: invalid image reference")

const maxRedirects = 3

// ValidateImageRef checks a reference before any work is scheduled for it:
//   - URL or Data must be present
//   - a URL must be absolute http(s) with a host
//
// Byte buffers are accepted as-is; their content is judged by the analyzers.
func ValidateImageRef(ref ImageRef) error {
	if ref.IsZero() {
		return ErrMissingImage
	}
	if ref.URL == "" {
		return nil
	}
	u, err := url.Parse(ref.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImageRef, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidImageRef, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidImageRef)
	}
	return nil
}

// newFetchClient is the default client for image downloads and provider calls.
// Per-request deadlines come from the caller's context.
func newFetchClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.New("too many redirects")
			}
			return nil
		},
	}
}
