// Package artwork finds cover images for tracks that do not carry one.
package artwork

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/cache"
	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/music"
)

const DefaultLastFMURL = "https://ws.audioscrobbler.com/2.0/"

var (
	ErrNoArtwork = errors.New("no artwork found")
	ErrNoAPIKey  = errors.New("last.fm api key is not configured")
)

// Descriptor identifies the track an image is looked up for.
type Descriptor struct {
	Name     string
	Artist   string
	Album    string
	CoverURL string
}

func (d Descriptor) key() string {
	return music.Normalize(d.Artist) + "\x00" + music.Normalize(d.Name) + "\x00" + music.Normalize(d.Album)
}

var lastFMSizes = map[string]int{
	"small":      34,
	"medium":     64,
	"large":      174,
	"extralarge": 300,
	"mega":       600,
}

type Resolver struct {
	apiKey  string
	baseURL string
	ttl     time.Duration
	cache   *cache.ArtworkCache
	logger  zerolog.Logger
}

type Option func(*Resolver)

func WithBaseURL(u string) Option {
	return func(r *Resolver) { r.baseURL = u }
}

func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) { r.ttl = ttl }
}

func New(apiKey string, c *cache.ArtworkCache, logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		apiKey:  apiKey,
		baseURL: DefaultLastFMURL,
		ttl:     config.DefaultArtworkTTL,
		cache:   c,
		logger:  logger.With().Str("component", "artwork").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithFallback returns the descriptor's own cover when it has one and asks
// Last.fm otherwise. Last.fm answers are memoized unless forceRefresh is set.
func (r *Resolver) WithFallback(ctx context.Context, d Descriptor, forceRefresh bool) ([]music.ImageRef, error) {
	if d.CoverURL != "" {
		return []music.ImageRef{{URL: d.CoverURL}}, nil
	}
	if r.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if music.IsPlaceholderArtist(d.Artist) || d.Name == "" {
		return nil, ErrNoArtwork
	}

	k := d.key()
	if forceRefresh {
		r.cache.Delete(k)
	}
	item, err := r.cache.Fetch(k, r.ttl, func() ([]music.ImageRef, error) {
		return r.lastFM(ctx, d)
	})
	if nil != err {
		return nil, err
	}
	return item.Value(), nil
}

func (r *Resolver) lastFM(ctx context.Context, d Descriptor) ([]music.ImageRef, error) {
	params := url.Values{
		"method":      {"track.getInfo"},
		"api_key":     {r.apiKey},
		"artist":      {d.Artist},
		"track":       {d.Name},
		"format":      {"json"},
		"autocorrect": {"1"},
	}
	body, err := httputil.Get(ctx, config.ArtworkRequestTimeout, r.baseURL+"?"+params.Encode(), nil)
	if nil != err {
		if errors.Is(err, httputil.ErrNotFound) {
			return nil, ErrNoArtwork
		}
		return nil, err
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("error").Int(); code != 0 {
		if code == 6 {
			return nil, ErrNoArtwork
		}
		return nil, flaw.From(errors.New("last.fm returned an error")).Append(flaw.P{"code": code, "message": res.Get("message").String()})
	}

	images := lo.FilterMap(res.Get("track.album.image").Array(), func(img gjson.Result, _ int) (music.ImageRef, bool) {
		u := img.Get(`\#text`).String()
		size := lastFMSizes[img.Get("size").String()]
		return music.ImageRef{URL: u, Width: size, Height: size}, u != ""
	})
	if len(images) == 0 {
		return nil, ErrNoArtwork
	}
	largest := lo.MaxBy(images, func(a, b music.ImageRef) bool { return a.Width > b.Width })
	r.logger.Debug().Str("artist", d.Artist).Str("name", d.Name).Str("image", largest.URL).Msg("Found Last.fm artwork")
	return []music.ImageRef{largest}, nil
}
