// Package resolve turns tracks the user does not own into verified, cached
// provider streams.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/xeptore/melo/artwork"
	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/module"
	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/provider"
)

// ErrStaleStream wraps every failure to refresh a known stream.
var ErrStaleStream = errors.New("stream is stale and could not be refreshed")

// SourceMismatchError reports a cached stream whose module is not the active
// one, so its provider id means nothing to the active module.
type SourceMismatchError struct {
	Source string
	Active string
}

func (e *SourceMismatchError) Error() string {
	return fmt.Sprintf("stream belongs to module %q but %q is active", e.Source, e.Active)
}

// Catalog is what the engine needs from the module manager.
type Catalog interface {
	ActiveID() string
	SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error)
	TrackStreamURL(ctx context.Context, id, quality string) (*provider.Stream, error)
}

type StreamCache interface {
	ByProviderID(id string) *music.ResolvedStream
	ByMetadata(name, artist string) *music.ResolvedStream
	Save(id string, partial music.ResolvedStream) (*music.ResolvedStream, error)
}

type ArtworkSource interface {
	WithFallback(ctx context.Context, d artwork.Descriptor, forceRefresh bool) ([]music.ImageRef, error)
}

type Options struct {
	PreferredQuality string
	SearchLimit      int
	// Artwork is optional.
	Artwork ArtworkSource
}

type Engine struct {
	catalog Catalog
	cache   StreamCache
	artwork ArtworkSource
	quality string
	limit   int
	logger  zerolog.Logger
}

func New(catalog Catalog, cache StreamCache, opts Options, logger zerolog.Logger) *Engine {
	quality := opts.PreferredQuality
	if quality == "" {
		quality = provider.QualityLossless
	}
	limit := opts.SearchLimit
	if limit <= 0 {
		limit = config.DefaultSearchLimit
	}
	return &Engine{
		catalog: catalog,
		cache:   cache,
		artwork: opts.Artwork,
		quality: quality,
		limit:   limit,
		logger:  logger.With().Str("component", "resolver").Logger(),
	}
}

func isCallerError(err error) bool {
	var capErr *module.CapabilityNotSupportedError
	return errors.Is(err, module.ErrNoActiveModule) || errors.As(err, &capErr)
}

// Resolve searches the active module for t, verifies candidates in rank order
// and caches the first one that yields a stream. A nil stream with a nil error
// means nothing playable was found. Only a missing module, a missing
// capability or the end of ctx are returned as errors.
func (e *Engine) Resolve(ctx context.Context, t music.LogicalTrack) (*music.ResolvedStream, error) {
	logger := e.logger.With().Func(t.Log).Logger()

	source := e.catalog.ActiveID()
	q := query(t)
	res, err := e.catalog.SearchTracks(ctx, q, e.limit)
	if nil != err {
		switch {
		case isCallerError(err):
			return nil, err
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		default:
			logger.Warn().Func(log.Flaw(err)).Str("query", q).Msg("Search failed")
			return nil, nil
		}
	}
	if nil == res || len(res.Tracks) == 0 {
		logger.Debug().Str("query", q).Msg("Search returned no candidates")
		return nil, nil
	}

	candidates := filter(res.Tracks, t)
	if len(candidates) == 0 {
		logger.Debug().Str("query", q).Int("results", len(res.Tracks)).Msg("No candidate matched the track")
		return nil, nil
	}

	for i, c := range candidates {
		stream, err := e.catalog.TrackStreamURL(ctx, c.ID, e.quality)
		if nil != err {
			if errutil.IsContext(ctx) {
				return nil, ctx.Err()
			}
			if isCallerError(err) {
				return nil, err
			}
			logger.Debug().Err(err).Func(c.Log).Int("rank", i).Msg("Candidate is not streamable")
			continue
		}
		if !music.IsAbsoluteURI(stream.URL) {
			logger.Debug().Func(c.Log).Str("stream_url", stream.URL).Msg("Candidate returned an unusable stream url")
			continue
		}

		resolved := music.ResolvedStream{
			ProviderTrackID: c.ID,
			Name:            c.Title,
			Artist:          c.Artist,
			Album:           c.Album,
			StreamURI:       stream.URL,
			Images:          e.images(ctx, c),
			Source:          source,
			IsStreaming:     true,
		}
		saved, err := e.cache.Save(c.ID, resolved)
		if nil != err {
			logger.Error().Func(log.Flaw(err)).Func(c.Log).Msg("Failed to cache resolved stream")
			return &resolved, nil
		}
		logger.Info().Func(c.Log).Int("rank", i).Str("source", source).Msg("Resolved track")
		return saved, nil
	}

	logger.Debug().Int("candidates", len(candidates)).Msg("No candidate could be verified")
	return nil, nil
}

func (e *Engine) images(ctx context.Context, c provider.Candidate) []music.ImageRef {
	if nil == e.artwork {
		if c.AlbumCoverURL != "" {
			return []music.ImageRef{{URL: c.AlbumCoverURL}}
		}
		return nil
	}
	images, err := e.artwork.WithFallback(ctx, artwork.Descriptor{
		Name:     c.Title,
		Artist:   c.Artist,
		Album:    c.Album,
		CoverURL: c.AlbumCoverURL,
	}, false)
	if nil != err {
		e.logger.Debug().Err(err).Func(c.Log).Msg("No artwork for resolved track")
		return nil
	}
	return images
}

// Refresh asks the active module for a new stream of a known provider track
// and merges it over the cached entry. Failures wrap ErrStaleStream.
func (e *Engine) Refresh(ctx context.Context, id string) (*music.ResolvedStream, error) {
	if cached := e.cache.ByProviderID(id); nil != cached && cached.Source != "" {
		if active := e.catalog.ActiveID(); cached.Source != active {
			e.logger.Warn().Str("provider_track_id", id).Str("source", cached.Source).Str("active", active).Msg("Stream source is not the active module")
			return nil, fmt.Errorf("%w: %w", ErrStaleStream, &SourceMismatchError{Source: cached.Source, Active: active})
		}
	}

	stream, err := e.catalog.TrackStreamURL(ctx, id, e.quality)
	if nil != err {
		return nil, fmt.Errorf("%w: %w", ErrStaleStream, err)
	}

	partial := music.ResolvedStream{
		ProviderTrackID: id,
		StreamURI:       stream.URL,
		Source:          e.catalog.ActiveID(),
		IsStreaming:     true,
	}
	if nil == e.cache.ByProviderID(id) {
		partial.Name = stream.Track.Title
		partial.Artist = stream.Track.Artist
		partial.Album = stream.Track.Album
		if stream.Track.AlbumCoverURL != "" {
			partial.Images = []music.ImageRef{{URL: stream.Track.AlbumCoverURL}}
		}
	}
	saved, err := e.cache.Save(id, partial)
	if nil != err {
		return nil, fmt.Errorf("%w: %w", ErrStaleStream, err)
	}
	e.logger.Info().Str("provider_track_id", id).Msg("Refreshed stream")
	return saved, nil
}

// PlayableTrack returns t with a stream attached when it can find one. Owned
// tracks, and every track while streaming is disabled, come back unchanged,
// and so does t when nothing is found.
func (e *Engine) PlayableTrack(ctx context.Context, t music.Track, streamingEnabled bool) music.Track {
	if t.IsOwned() || !streamingEnabled {
		return t
	}

	if t.ProviderTrackID != "" {
		if cached := e.cache.ByProviderID(t.ProviderTrackID); nil != cached {
			return t.WithStream(*cached)
		}
	}
	if cached := e.cache.ByMetadata(t.Name, t.Artist); nil != cached {
		return t.WithStream(*cached)
	}

	resolved, err := e.Resolve(ctx, t.Logical())
	if nil != err {
		e.logger.Warn().Err(err).Func(t.Log).Msg("Failed to resolve track")
		return t
	}
	if nil == resolved {
		return t
	}
	return t.WithStream(*resolved)
}

// Available reports ErrNoActiveModule when there is no module to resolve
// with.
func (e *Engine) Available() error {
	if e.catalog.ActiveID() == "" {
		return module.ErrNoActiveModule
	}
	return nil
}
