// Package music holds the track shapes shared by the resolver, the stream
// cache and the download orchestrator.
package music

import (
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
)

// LogicalTrack is a song the caller wants to play but may not own a file for.
type LogicalTrack struct {
	Name            string `json:"name"`
	Artist          string `json:"artist"`
	Album           string `json:"album,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
}

func (t LogicalTrack) FlawP() flaw.P {
	return flaw.P{
		"name":             t.Name,
		"artist":           t.Artist,
		"album":            t.Album,
		"duration_seconds": t.DurationSeconds,
	}
}

func (t LogicalTrack) Log(e *zerolog.Event) {
	e.
		Str("name", t.Name).
		Str("artist", t.Artist).
		Str("album", t.Album)
}

type ImageRef struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ResolvedStream is a verified stream of a provider track.
type ResolvedStream struct {
	ProviderTrackID string     `json:"provider_track_id"`
	Name            string     `json:"name"`
	Artist          string     `json:"artist"`
	Album           string     `json:"album,omitempty"`
	StreamURI       string     `json:"stream_uri"`
	Images          []ImageRef `json:"images,omitempty"`
	Source          string     `json:"source"`
	IsStreaming     bool       `json:"is_streaming"`
	CachedAt        time.Time  `json:"cached_at"`
}

func (s ResolvedStream) FlawP() flaw.P {
	return flaw.P{
		"provider_track_id": s.ProviderTrackID,
		"name":              s.Name,
		"artist":            s.Artist,
		"source":            s.Source,
		"stream_uri":        s.StreamURI,
	}
}

// Track is the caller's playable track. It is owned when URI points at a
// local file.
type Track struct {
	ID              string     `json:"id"`
	ProviderTrackID string     `json:"provider_track_id,omitempty"`
	Name            string     `json:"name"`
	Artist          string     `json:"artist"`
	Album           string     `json:"album,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
	URI             string     `json:"uri,omitempty"`
	Images          []ImageRef `json:"images,omitempty"`
	Source          string     `json:"source,omitempty"`
	IsStreaming     bool       `json:"is_streaming"`
}

func (t Track) IsOwned() bool {
	return IsLocalURI(t.URI)
}

func (t Track) Logical() LogicalTrack {
	return LogicalTrack{
		Name:            t.Name,
		Artist:          t.Artist,
		Album:           t.Album,
		DurationSeconds: t.DurationSeconds,
	}
}

// WithStream returns a copy of t that plays s. Empty stream fields keep the
// values t already had.
func (t Track) WithStream(s ResolvedStream) Track {
	t.ProviderTrackID = s.ProviderTrackID
	t.URI = s.StreamURI
	t.Source = s.Source
	t.IsStreaming = true
	if s.Name != "" {
		t.Name = s.Name
	}
	if s.Artist != "" {
		t.Artist = s.Artist
	}
	if s.Album != "" {
		t.Album = s.Album
	}
	if len(s.Images) > 0 {
		t.Images = s.Images
	}
	if t.ID == "" {
		t.ID = s.ProviderTrackID
	}
	return t
}

func (t Track) Log(e *zerolog.Event) {
	e.
		Str("id", t.ID).
		Str("provider_track_id", t.ProviderTrackID).
		Str("name", t.Name).
		Str("artist", t.Artist).
		Bool("is_streaming", t.IsStreaming)
}

// IsLocalURI reports whether uri is a file:// URI or a bare filesystem path.
func IsLocalURI(uri string) bool {
	if uri == "" {
		return false
	}
	u, err := url.Parse(uri)
	if nil != err {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "file", "":
		return true
	}
	// Windows drive letters parse as a one letter scheme.
	return len(u.Scheme) == 1
}

// IsAbsoluteURI reports whether uri has both a scheme and something after it.
func IsAbsoluteURI(uri string) bool {
	u, err := url.Parse(strings.TrimSpace(uri))
	if nil != err {
		return false
	}
	return u.IsAbs() && (u.Host != "" || u.Opaque != "" || u.Path != "")
}
