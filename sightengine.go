package moderate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// ErrProviderStatus is returned when a provider answers with a failure.
var ErrProviderStatus = errors.New("moderate: provider failure")

const (
	sightengineEndpoint = "https://api.sightengine.com/1.0/check.json"
	sightengineModel    = "nudity-2.1"
	providerMaxBody     = 1 << 20
)

// SightengineProvider classifies images with the Sightengine nudity model.
type SightengineProvider struct {
	APIUser    string
	APISecret  string
	Endpoint   string       // default: Sightengine check endpoint
	HTTPClient *http.Client // nil = http.DefaultClient
}

// NewSightengineProvider returns a provider, or nil when credentials are missing
// so that callers fall back to heuristic mode.
func NewSightengineProvider(user, secret string, client *http.Client) *SightengineProvider {
	if user == "" || secret == "" {
		return nil
	}
	return &SightengineProvider{APIUser: user, APISecret: secret, HTTPClient: client}
}

// Name implements NSFWProvider.
func (p *SightengineProvider) Name() string { return "sightengine" }

type sightengineResponse struct {
	Status string                     `json:"status"`
	Nudity map[string]json.RawMessage `json:"nudity"`
	Error  *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify implements NSFWProvider. Byte buffers are uploaded; URLs are passed by reference.
// Both forms are POSTed so the credentials never appear in a request URL.
func (p *SightengineProvider) Classify(ctx context.Context, ref ImageRef) (map[string]float64, error) {
	req, err := p.newRequest(ctx, ref)
	if err != nil {
		return nil, err
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sightengine: %w", stripRequestURL(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, providerMaxBody))
	if err != nil {
		return nil, fmt.Errorf("sightengine: read response: %w", err)
	}

	var out sightengineResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("sightengine: decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Status != "success" {
		msg := http.StatusText(resp.StatusCode)
		if out.Error != nil {
			msg = out.Error.Type + ": " + out.Error.Message
		}
		return nil, fmt.Errorf("%w: sightengine: %s", ErrProviderStatus, msg)
	}

	return nudityCategories(out.Nudity), nil
}

// nudityCategories keeps the numeric risk classes. "none" is the safe class and
// nested objects (context, suggestive_classes) are not categories.
func nudityCategories(raw map[string]json.RawMessage) map[string]float64 {
	cats := make(map[string]float64, len(raw))
	for k, v := range raw {
		if k == "none" {
			continue
		}
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			continue
		}
		cats[k] = f
	}
	return cats
}

func (p *SightengineProvider) newRequest(ctx context.Context, ref ImageRef) (*http.Request, error) {
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = sightengineEndpoint
	}

	// Credentials travel in the body only; transport errors quote the request URL.
	if len(ref.Data) == 0 {
		form := url.Values{}
		form.Set("models", sightengineModel)
		form.Set("api_user", p.APIUser)
		form.Set("api_secret", p.APISecret)
		form.Set("url", ref.URL)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range map[string]string{
		"models":     sightengineModel,
		"api_user":   p.APIUser,
		"api_secret": p.APISecret,
	} {
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	fw, err := mw.CreateFormFile("media", "upload")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(ref.Data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// stripRequestURL drops the request URL from a transport error, keeping the
// operation and the cause.
func stripRequestURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s request: %w", strings.ToLower(ue.Op), ue.Err)
	}
	return err
}
