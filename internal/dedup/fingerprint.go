// Package dedup implements content fingerprinting, URL normalization, and
// media-type inference (C5), grounded on the teacher's
// internal/engine/dedup.go canonicalization helper, generalized from
// "dedup visited URLs" to "fingerprint scraped media items".
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ingestd/mediaforge/internal/types"
)

// Fingerprint computes the 64-hex-char SHA-256 fingerprint of a scraped
// item: sha256(urlPath | lowercaseTrimmedAuthor | timestampRoundedToHourISO8601 | "<w>x<h>"?).
func Fingerprint(mediaURL, author string, postedAt time.Time, width, height int) string {
	parts := []string{
		urlPath(mediaURL),
		strings.ToLower(strings.TrimSpace(author)),
		postedAt.Truncate(time.Hour).UTC().Format(time.RFC3339),
	}
	if width > 0 && height > 0 {
		parts = append(parts, fmt.Sprintf("%dx%d", width, height))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	hexSum := hex.EncodeToString(sum[:])
	if len(hexSum) > 64 {
		hexSum = hexSum[:64]
	}
	return hexSum
}

// FingerprintItem is a convenience wrapper over Fingerprint for a ScrapedItem.
func FingerprintItem(item *types.ScrapedItem) string {
	return Fingerprint(item.MediaURL, item.Author, item.PostedAt, item.Width, item.Height)
}

// urlPath returns the URL's path component if parseable, else the input
// with query and fragment stripped.
func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		if idx := strings.IndexAny(rawURL, "?#"); idx >= 0 {
			return rawURL[:idx]
		}
		return rawURL
	}
	return u.Path
}

var trackingParams = map[string]bool{
	"ref": true, "source": true, "fbclid": true, "gclid": true,
	"mc_cid": true, "mc_eid": true,
}

// NormalizeURL canonicalizes a URL for client-facing equality (never used
// for fingerprinting): forces https, strips tracking params (utm_*, ref,
// source, fbclid, gclid, mc_cid, mc_eid), removes a trailing slash from
// non-root paths.
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.Scheme = "https"

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if strings.HasPrefix(key, "utm_") || trackingParams[key] {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	if u.Path != "/" && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}
