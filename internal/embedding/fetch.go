package embedding

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// ImageFetcher downloads report photos with a size ceiling and content sniffing
type ImageFetcher struct {
	client   *http.Client
	maxBytes int64
}

// NewImageFetcher creates a fetcher with the given per-request timeout and size ceiling
func NewImageFetcher(timeout time.Duration, maxBytes int64) *ImageFetcher {
	return &ImageFetcher{
		client:   &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// validateImageURL accepts only absolute http and https URLs
func validateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported image url scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("image url has no host")
	}
	return nil
}

// Fetch downloads the image and returns its bytes and detected MIME type.
// The declared Content-Type is ignored; only the magic bytes count.
func (f *ImageFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	if err := validateImageURL(rawURL); err != nil {
		return nil, "", permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", permanent(err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, "", permanent(err)
		}
		return nil, "", err
	}
	if resp.ContentLength > f.maxBytes {
		return nil, "", permanent(fmt.Errorf("image too large: %d bytes", resp.ContentLength))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, "", permanent(fmt.Errorf("image exceeds %d bytes", f.maxBytes))
	}

	mime := mimetype.Detect(data).String()
	if !allowedImageTypes[mime] {
		return nil, "", permanent(fmt.Errorf("unsupported image type %q", mime))
	}
	return data, mime, nil
}
