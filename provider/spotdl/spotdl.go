// Package spotdl searches the Spotify catalog and gets playable links from a
// third party downloader service.
package spotdl

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/provider"
)

const (
	Kind = "spotdl"

	defaultAccountsURL = "https://accounts.spotify.com"
	defaultAPIURL      = "https://api.spotify.com"
	trackLinkFormat    = "https://open.spotify.com/track/%s"

	tokenExpiryMargin = 30 * time.Second
)

var ErrMissingCredentials = errors.New("spotdl client_id, client_secret and downloader_url are required")

type Settings struct {
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	DownloaderURL string        `yaml:"downloader_url"`
	AccountsURL   string        `yaml:"accounts_url"`
	APIURL        string        `yaml:"api_url"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

type accessToken struct {
	value     string
	expiresAt time.Time
}

type Module struct {
	info          provider.Info
	clientID      string
	clientSecret  string
	downloaderURL string
	accountsURL   string
	apiURL        string
	pollInterval  time.Duration
	logger        zerolog.Logger

	tokenMux sync.Mutex
	token    accessToken
	now      func() time.Time
}

func Factory(_ context.Context, info provider.Info, settings provider.Settings, logger zerolog.Logger) (provider.Module, error) {
	var s Settings
	if err := settings.Decode(&s); nil != err {
		return nil, fmt.Errorf("invalid %s settings: %v", Kind, err)
	}
	return New(info, s, logger)
}

func New(info provider.Info, s Settings, logger zerolog.Logger) (*Module, error) {
	if s.ClientID == "" || s.ClientSecret == "" || s.DownloaderURL == "" {
		return nil, ErrMissingCredentials
	}
	return &Module{
		info:          info,
		clientID:      s.ClientID,
		clientSecret:  s.ClientSecret,
		downloaderURL: strings.TrimRight(s.DownloaderURL, "/"),
		accountsURL:   strings.TrimRight(lo.CoalesceOrEmpty(s.AccountsURL, defaultAccountsURL), "/"),
		apiURL:        strings.TrimRight(lo.CoalesceOrEmpty(s.APIURL, defaultAPIURL), "/"),
		pollInterval:  lo.Ternary(s.PollInterval > 0, s.PollInterval, time.Second),
		logger:        logger.With().Str("module", info.ID).Str("kind", Kind).Logger(),
		tokenMux:      sync.Mutex{},
		token:         accessToken{},
		now:           time.Now,
	}, nil
}

func (m *Module) Info() provider.Info {
	return m.info
}

// accessToken returns the cached client credentials token, requesting a new
// one when it is missing or about to expire.
func (m *Module) accessToken(ctx context.Context) (string, error) {
	m.tokenMux.Lock()
	defer m.tokenMux.Unlock()

	if m.token.value != "" && m.now().Before(m.token.expiresAt) {
		return m.token.value, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	header := http.Header{
		"Content-Type":  {"application/x-www-form-urlencoded"},
		"Authorization": {"Basic " + base64.StdEncoding.EncodeToString([]byte(m.clientID+":"+m.clientSecret))},
	}
	body, err := httputil.Fetch(ctx, config.TokenRequestTimeout, http.MethodPost, m.accountsURL+"/api/token", header, strings.NewReader(form.Encode()))
	if nil != err {
		return "", err
	}

	res := gjson.ParseBytes(body)
	value := res.Get("access_token").String()
	if value == "" {
		return "", flaw.From(errors.New("token response has no access_token"))
	}
	expiresIn := time.Duration(res.Get("expires_in").Int()) * time.Second
	m.token = accessToken{value: value, expiresAt: m.now().Add(expiresIn - tokenExpiryMargin)}
	m.logger.Debug().Dur("expires_in", expiresIn).Msg("Obtained Spotify access token")
	return value, nil
}

func (m *Module) api(ctx context.Context, timeout time.Duration, path string, params url.Values) (gjson.Result, error) {
	token, err := m.accessToken(ctx)
	if nil != err {
		return gjson.Result{}, err
	}
	reqURL := m.apiURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	body, err := httputil.Get(ctx, timeout, reqURL, http.Header{"Authorization": {"Bearer " + token}})
	if nil != err {
		if errors.Is(err, httputil.ErrUnauthorized) {
			m.tokenMux.Lock()
			m.token = accessToken{}
			m.tokenMux.Unlock()
		}
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, flaw.From(errors.New("spotify response is not valid json")).Append(flaw.P{"path": path})
	}
	return gjson.ParseBytes(body), nil
}

func joinArtists(artists gjson.Result) string {
	names := lo.FilterMap(artists.Array(), func(a gjson.Result, _ int) (string, bool) {
		n := a.Get("name").String()
		return n, n != ""
	})
	return strings.Join(names, ", ")
}

// largestImage picks the widest image of a Spotify images array.
func largestImage(images gjson.Result) string {
	best, width := "", int64(-1)
	for _, img := range images.Array() {
		if w := img.Get("width").Int(); w > width && img.Get("url").String() != "" {
			best, width = img.Get("url").String(), w
		}
	}
	return best
}

func parseTrack(v gjson.Result, album gjson.Result) provider.Candidate {
	if v.Get("album").Exists() {
		album = v.Get("album")
	}
	return provider.Candidate{
		ID:              v.Get("id").String(),
		Title:           v.Get("name").String(),
		Artist:          joinArtists(v.Get("artists")),
		Album:           album.Get("name").String(),
		AlbumID:         album.Get("id").String(),
		DurationSeconds: int(v.Get("duration_ms").Int() / 1000),
		AudioQuality:    "MP3",
		AlbumCoverURL:   largestImage(album.Get("images")),
	}
}

func (m *Module) SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error) {
	if limit <= 0 {
		limit = config.DefaultSearchLimit
	}
	params := url.Values{"q": {query}, "type": {"track"}, "limit": {fmt.Sprint(min(limit, 50))}}
	res, err := m.api(ctx, config.SearchRequestTimeout, "/v1/search", params)
	if nil != err {
		return nil, err
	}
	tracks := lo.FilterMap(res.Get("tracks.items").Array(), func(v gjson.Result, _ int) (provider.Candidate, bool) {
		c := parseTrack(v, gjson.Result{})
		return c, c.ID != ""
	})
	return &provider.SearchResult{Tracks: tracks, Total: max(int(res.Get("tracks.total").Int()), len(tracks))}, nil
}

func (m *Module) Album(ctx context.Context, id string) (*provider.AlbumResult, error) {
	res, err := m.api(ctx, config.AlbumRequestTimeout, "/v1/albums/"+url.PathEscape(id), nil)
	if nil != err {
		return nil, err
	}
	year := 0
	if date := res.Get("release_date").String(); len(date) >= 4 {
		_, _ = fmt.Sscanf(date[:4], "%d", &year)
	}
	album := provider.Album{
		ID:       res.Get("id").String(),
		Title:    res.Get("name").String(),
		Artist:   joinArtists(res.Get("artists")),
		Year:     year,
		CoverURL: largestImage(res.Get("images")),
	}
	tracks := lo.Map(res.Get("tracks.items").Array(), func(v gjson.Result, _ int) provider.Candidate {
		return parseTrack(v, res)
	})
	return &provider.AlbumResult{Album: album, Tracks: tracks}, nil
}
