// ABOUTME: HTTP fetcher for remote stem audio files
// ABOUTME: Downloads source URLs with an optional bearer token and size limit
package buffercache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultFetchTimeout is the HTTP timeout used when none is configured
const DefaultFetchTimeout = 30 * time.Second

// Fetcher retrieves the encoded bytes behind a stem source URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches stem files over HTTP
type HTTPFetcher struct {
	Client   *http.Client
	Token    string
	MaxBytes int64
}

// NewHTTPFetcher creates a fetcher with the given request timeout
func NewHTTPFetcher(timeout time.Duration, token string) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: timeout},
		Token:    token,
		MaxBytes: 64 << 20,
	}
}

// Fetch downloads url and returns the response body
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download stem: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stem download failed: HTTP %d", resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if f.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.MaxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read stem body: %w", err)
	}
	if f.MaxBytes > 0 && int64(len(data)) > f.MaxBytes {
		return nil, fmt.Errorf("stem exceeds %d bytes", f.MaxBytes)
	}
	return data, nil
}
