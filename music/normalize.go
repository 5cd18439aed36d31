package music

import (
	"strings"
)

var placeholderArtists = []string{
	"unknown",
	"unknown artist",
	"<unknown>",
	"various artists",
}

// Normalize lowercases and trims s for metadata comparisons.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// IsPlaceholderArtist reports whether artist carries no real information.
func IsPlaceholderArtist(artist string) bool {
	a := Normalize(artist)
	if a == "" {
		return true
	}
	for _, p := range placeholderArtists {
		if a == p {
			return true
		}
	}
	return false
}

// ArtistsOverlap reports whether either normalized artist contains the other.
func ArtistsOverlap(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	return strings.Contains(a, b) || strings.Contains(b, a)
}
