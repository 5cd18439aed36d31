// Package provider defines the capability contract every streaming backend
// implements.
package provider

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"
)

const (
	QualityLossless = "LOSSLESS"
	QualityHigh     = "HIGH"
	QualityLow      = "LOW"
)

type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Candidate is an unverified search hit.
type Candidate struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist"`
	Album           string `json:"album,omitempty"`
	AlbumID         string `json:"album_id,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	AudioQuality    string `json:"audio_quality,omitempty"`
	AlbumCoverURL   string `json:"album_cover_url,omitempty"`
}

func (c Candidate) FlawP() flaw.P {
	return flaw.P{
		"id":     c.ID,
		"title":  c.Title,
		"artist": c.Artist,
		"album":  c.Album,
	}
}

func (c Candidate) Log(e *zerolog.Event) {
	e.
		Str("candidate_id", c.ID).
		Str("title", c.Title).
		Str("artist", c.Artist)
}

type SearchResult struct {
	Tracks []Candidate `json:"tracks"`
	Total  int         `json:"total"`
}

type Stream struct {
	URL   string    `json:"stream_url"`
	Track Candidate `json:"track"`
}

type Album struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Year     int    `json:"year,omitempty"`
	CoverURL string `json:"cover_url,omitempty"`
}

type AlbumResult struct {
	Album  Album       `json:"album"`
	Tracks []Candidate `json:"tracks"`
}

type Artist struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url,omitempty"`
}

type ArtistResult struct {
	Artist Artist  `json:"artist"`
	Albums []Album `json:"albums"`
}

// Module is the set of operations every provider must support.
type Module interface {
	Info() Info
	SearchTracks(ctx context.Context, query string, limit int) (*SearchResult, error)
	TrackStreamURL(ctx context.Context, id, quality string) (*Stream, error)
}

type AlbumGetter interface {
	Album(ctx context.Context, id string) (*AlbumResult, error)
}

type ArtistGetter interface {
	Artist(ctx context.Context, id string) (*ArtistResult, error)
}

// Closer is implemented by modules holding background resources.
type Closer interface {
	Close()
}

// Settings decodes the kind specific part of a module manifest.
type Settings interface {
	Decode(v any) error
}

// Factory builds a live module from a manifest.
type Factory func(ctx context.Context, info Info, settings Settings, logger zerolog.Logger) (Module, error)
