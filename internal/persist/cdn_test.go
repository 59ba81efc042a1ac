package persist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrectContentTypeFixesMismatchedImageMP4(t *testing.T) {
	assert.Equal(t, "video/mp4", correctContentType("image/jpeg", "/videos/clip.mp4"))
}

func TestCorrectContentTypeLeavesMatchingTypeAlone(t *testing.T) {
	assert.Equal(t, "video/mp4", correctContentType("video/mp4", "/videos/clip.mp4"))
}

func TestExtensionForPrefersURLExtension(t *testing.T) {
	assert.Equal(t, ".png", extensionFor("image/jpeg", "/a/b.png"))
}

func TestExtensionForFallsBackToContentType(t *testing.T) {
	assert.Equal(t, ".webm", extensionFor("video/webm", "/a/b"))
}

func TestHostAllowedEmptyAllowlistPermitsAll(t *testing.T) {
	s := &Store{}
	assert.True(t, s.hostAllowed("anything.example.com"), "empty allowlist should permit all hosts")
}

func TestHostAllowedMatchesExactAndSubdomain(t *testing.T) {
	s := &Store{allowlist: []string{"cdn.example.com"}}
	assert.True(t, s.hostAllowed("cdn.example.com"), "expected exact match to be allowed")
	assert.True(t, s.hostAllowed("a.cdn.example.com"), "expected subdomain to be allowed")
	assert.False(t, s.hostAllowed("evil.com"), "expected non-matching host to be rejected")
}
