package dedup

import (
	"net/url"
	"path"
	"strings"

	"github.com/ingestd/mediaforge/internal/types"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".avif": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true, ".m3u8": true,
}

// InferMediaType classifies a media URL by extension first, falling back to
// a supplied content-type header, then a substring heuristic on the URL
// itself, and finally MediaUnknown.
func InferMediaType(mediaURL, contentType string) types.MediaType {
	if mediaURL != "" {
		if u, err := url.Parse(mediaURL); err == nil {
			ext := strings.ToLower(path.Ext(u.Path))
			switch {
			case ext == ".gif":
				return types.MediaGif
			case imageExtensions[ext]:
				return types.MediaImage
			case videoExtensions[ext]:
				return types.MediaVideo
			}
		}
	}

	if contentType != "" {
		ct := strings.ToLower(contentType)
		switch {
		case strings.Contains(ct, "gif"):
			return types.MediaGif
		case strings.HasPrefix(ct, "image/"):
			return types.MediaImage
		case strings.HasPrefix(ct, "video/"):
			return types.MediaVideo
		}
	}

	lower := strings.ToLower(mediaURL)
	switch {
	case strings.Contains(lower, "gif"):
		return types.MediaGif
	case strings.Contains(lower, "video") || strings.Contains(lower, "gfycat") || strings.Contains(lower, "redgifs"):
		return types.MediaVideo
	}

	return types.MediaUnknown
}

// ValidDuration reports whether a duration (nil means "no duration", valid
// for non-video media) is positive and within maxDurationMs, the scan-time
// cap a caller supplies (scan.Config.MaxDurationMs per spec §4.7).
func ValidDuration(durationMs *int64, maxDurationMs int64) bool {
	if durationMs == nil {
		return true
	}
	return *durationMs > 0 && *durationMs <= maxDurationMs
}
