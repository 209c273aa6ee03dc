package moderate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDownload_Success(t *testing.T) {
	body := makeJPEG(16, 16)
	srv := newImageServer(t, "image/jpeg", body)

	cfg := &Config{HTTPClient: srv.Client()}
	res, err := cfg.Download(context.Background(), srv.URL+"/image.jpg", DownloadOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", res.MIMEType)
	}
	if len(res.Data) != len(body) {
		t.Errorf("Data len = %d, want %d", len(res.Data), len(body))
	}
}

func TestDownload_NonImageContentType(t *testing.T) {
	srv := newImageServer(t, "text/html", []byte("<html></html>"))

	cfg := &Config{HTTPClient: srv.Client()}
	_, err := cfg.Download(context.Background(), srv.URL+"/page.html", DownloadOpts{})
	if !errors.Is(err, ErrNotImage) {
		t.Errorf("err = %v, want ErrNotImage", err)
	}
}

func TestDownload_404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	cfg := &Config{HTTPClient: srv.Client()}
	_, err := cfg.Download(context.Background(), srv.URL+"/missing.jpg", DownloadOpts{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want status 404 error", err)
	}
}

func TestDownload_MaxBytesEnforcement(t *testing.T) {
	const maxBytes = 10
	srv := newImageServer(t, "image/png", []byte(strings.Repeat("X", 100)))

	cfg := &Config{HTTPClient: srv.Client()}
	_, err := cfg.Download(context.Background(), srv.URL+"/big.png", DownloadOpts{MaxBytes: maxBytes})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}

	res, err := cfg.Download(context.Background(), srv.URL+"/big.png", DownloadOpts{MaxBytes: 100})
	if err != nil {
		t.Fatalf("body at the limit: %v", err)
	}
	if len(res.Data) != 100 {
		t.Errorf("Data len = %d, want 100", len(res.Data))
	}
}

func TestDownload_MIMEParameterStripping(t *testing.T) {
	srv := newImageServer(t, "image/jpeg; charset=utf-8", []byte("FAKEIMAGEDATA"))

	cfg := &Config{HTTPClient: srv.Client()}
	res, err := cfg.Download(context.Background(), srv.URL+"/photo.jpg", DownloadOpts{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q after stripping, want image/jpeg", res.MIMEType)
	}
}

func TestDownload_Canceled(t *testing.T) {
	srv := newImageServer(t, "image/jpeg", makeJPEG(8, 8))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := &Config{HTTPClient: srv.Client()}
	if _, err := cfg.Download(ctx, srv.URL+"/a.jpg", DownloadOpts{}); err == nil {
		t.Error("expected error for canceled context")
	}
}
