package adapter

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

// sharedClient is the HTTP client every adapter fetches through. Adapters
// never see the transport directly; they call fetch.
var sharedClient = &http.Client{
	Timeout: 30 * time.Second,
}

// fetch issues a GET request, sets the given headers, and returns the
// decompressed body. Mirrors the teacher's own gzip/brotli-aware body
// reader in internal/fetcher/http.go, trimmed to what adapters need.
func fetch(ctx context.Context, url string, headers map[string]string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "gzip, br")
	}

	resp, err := sharedClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := decompress(resp)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("decompress %s: %w", url, err)
	}
	return body, resp.StatusCode, nil
}

func decompress(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}
	return io.ReadAll(reader)
}
