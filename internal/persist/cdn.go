package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

const maxCDNFetchBytes = 50 * 1024 * 1024 // 50 MiB

// cdnFetchClient enforces the outbound allowlist on every redirect hop, not
// just the initial request.
func (s *Store) cdnFetchClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return fmt.Errorf("too many redirects")
			}
			if !s.hostAllowed(req.URL.Host) {
				return fmt.Errorf("redirect host %q not in outbound allowlist", req.URL.Host)
			}
			return nil
		},
	}
}

func (s *Store) hostAllowed(host string) bool {
	if len(s.allowlist) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range s.allowlist {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// cacheOne downloads sourceURL (subject to the allowlist, a 50 MiB size
// cap, and a 30s timeout), corrects a mismatched content-type for known
// video extensions, and uploads it to the CDN under a
// media/<item_id>/<variant>.<ext> key.
func (s *Store) cacheOne(ctx context.Context, itemID, variant, sourceURL string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "", fmt.Errorf("parse cdn source url: %w", err)
	}
	if !s.hostAllowed(u.Host) {
		return "", fmt.Errorf("host %q not in outbound allowlist", u.Host)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.cdnFetchClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("cdn source fetch: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCDNFetchBytes+1))
	if err != nil {
		return "", fmt.Errorf("read cdn source body: %w", err)
	}
	if len(body) > maxCDNFetchBytes {
		return "", fmt.Errorf("cdn source exceeds %d byte cap", maxCDNFetchBytes)
	}

	contentType := correctContentType(resp.Header.Get("Content-Type"), u.Path)
	ext := extensionFor(contentType, u.Path)
	key := fmt.Sprintf("media/%s/%s%s", itemID, variant, ext)

	publicURL, err := s.cdn.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", fmt.Errorf("cdn upload: %w", err)
	}
	return publicURL, nil
}

// correctContentType fixes a server-reported image/* type on a URL whose
// extension is clearly .mp4/.webm, per spec §4.8's content-type correction.
func correctContentType(reported, urlPath string) string {
	lowerPath := strings.ToLower(urlPath)
	if strings.HasPrefix(reported, "image/") {
		switch {
		case strings.HasSuffix(lowerPath, ".mp4"):
			return "video/mp4"
		case strings.HasSuffix(lowerPath, ".webm"):
			return "video/webm"
		}
	}
	return reported
}

func extensionFor(contentType, urlPath string) string {
	if ext := path.Ext(urlPath); ext != "" {
		return ext
	}
	switch {
	case strings.Contains(contentType, "gif"):
		return ".gif"
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	case strings.Contains(contentType, "webm"):
		return ".webm"
	case strings.Contains(contentType, "png"):
		return ".png"
	default:
		return ".jpg"
	}
}

func jsonMarshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
