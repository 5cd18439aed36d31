// Package subsonic implements a provider backed by a Subsonic compatible
// media server such as Navidrome.
package subsonic

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/constant"
	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/provider"
)

const (
	Kind       = "subsonic"
	apiVersion = "1.16.1"
	saltLength = 12
)

var (
	ErrMissingCredentials = errors.New("subsonic base_url, user and password are required")
	// ErrNotFound is returned for the Subsonic "data not found" error code.
	ErrNotFound = errors.New("subsonic: not found")
)

// APIError is a failed subsonic-response.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("subsonic error %d: %s", e.Code, e.Message)
}

type Settings struct {
	BaseURL    string `yaml:"base_url"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	ClientName string `yaml:"client_name"`
}

type Module struct {
	info     provider.Info
	baseURL  string
	user     string
	password string
	client   string
	logger   zerolog.Logger
}

func Factory(_ context.Context, info provider.Info, settings provider.Settings, logger zerolog.Logger) (provider.Module, error) {
	var s Settings
	if err := settings.Decode(&s); nil != err {
		return nil, fmt.Errorf("invalid %s settings: %v", Kind, err)
	}
	return New(info, s, logger)
}

func New(info provider.Info, s Settings, logger zerolog.Logger) (*Module, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	if baseURL == "" || s.User == "" || s.Password == "" {
		return nil, ErrMissingCredentials
	}
	if u, err := url.Parse(baseURL); nil != err || !u.IsAbs() {
		return nil, fmt.Errorf("invalid subsonic base url %q", s.BaseURL)
	}
	return &Module{
		info:     info,
		baseURL:  baseURL,
		user:     s.User,
		password: s.Password,
		client:   lo.CoalesceOrEmpty(s.ClientName, constant.AppName),
		logger:   logger.With().Str("module", info.ID).Str("kind", Kind).Logger(),
	}, nil
}

func (m *Module) Info() provider.Info {
	return m.info
}

// token returns the salted token auth pair: t = md5(password + salt).
func token(password, salt string) string {
	sum := md5.Sum([]byte(password + salt)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func (m *Module) endpoint(method string, params url.Values) string {
	salt := lo.RandomString(saltLength, lo.AlphanumericCharset)
	params.Set("u", m.user)
	params.Set("t", token(m.password, salt))
	params.Set("s", salt)
	params.Set("v", apiVersion)
	params.Set("c", m.client)
	params.Set("f", "json")
	return m.baseURL + "/rest/" + method + ".view?" + params.Encode()
}

func (m *Module) call(ctx context.Context, timeout time.Duration, method string, params url.Values) (gjson.Result, error) {
	body, err := httputil.Get(ctx, timeout, m.endpoint(method, params), nil)
	if nil != err {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, flaw.From(errors.New("subsonic response is not valid json")).Append(flaw.P{"method": method, "response_body": string(body)})
	}
	res := gjson.GetBytes(body, "subsonic-response")
	switch status := res.Get("status").String(); status {
	case "ok":
		return res, nil
	case "failed":
		apiErr := &APIError{Code: int(res.Get("error.code").Int()), Message: res.Get("error.message").String()}
		if apiErr.Code == 70 {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, apiErr.Message)
		}
		return gjson.Result{}, apiErr
	default:
		return gjson.Result{}, flaw.From(fmt.Errorf("unexpected subsonic response status: %q", status)).Append(flaw.P{"method": method})
	}
}

func (m *Module) coverArtURL(id string) string {
	if id == "" {
		return ""
	}
	return m.endpoint("getCoverArt", url.Values{"id": {id}, "size": {"1200"}})
}

func (m *Module) parseSong(v gjson.Result) provider.Candidate {
	quality := strings.ToUpper(v.Get("suffix").String())
	if br := v.Get("bitRate").Int(); br > 0 {
		quality += " " + strconv.FormatInt(br, 10) + "kbps"
	}
	return provider.Candidate{
		ID:              v.Get("id").String(),
		Title:           v.Get("title").String(),
		Artist:          v.Get("artist").String(),
		Album:           v.Get("album").String(),
		AlbumID:         v.Get("albumId").String(),
		DurationSeconds: int(v.Get("duration").Int()),
		AudioQuality:    strings.TrimSpace(quality),
		AlbumCoverURL:   m.coverArtURL(v.Get("coverArt").String()),
	}
}

func (m *Module) parseAlbum(v gjson.Result) provider.Album {
	return provider.Album{
		ID:       v.Get("id").String(),
		Title:    lo.CoalesceOrEmpty(v.Get("name").String(), v.Get("title").String()),
		Artist:   v.Get("artist").String(),
		Year:     int(v.Get("year").Int()),
		CoverURL: m.coverArtURL(v.Get("coverArt").String()),
	}
}

func (m *Module) SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error) {
	if limit <= 0 {
		limit = config.DefaultSearchLimit
	}
	params := url.Values{
		"query":       {query},
		"songCount":   {strconv.Itoa(limit)},
		"albumCount":  {"0"},
		"artistCount": {"0"},
	}
	res, err := m.call(ctx, config.SearchRequestTimeout, "search3", params)
	if nil != err {
		return nil, err
	}
	tracks := lo.Map(res.Get("searchResult3.song").Array(), func(v gjson.Result, _ int) provider.Candidate {
		return m.parseSong(v)
	})
	return &provider.SearchResult{Tracks: tracks, Total: len(tracks)}, nil
}

// TrackStreamURL checks the song exists and builds an authenticated stream
// URL. LOSSLESS asks the server for the original file.
func (m *Module) TrackStreamURL(ctx context.Context, id, quality string) (*provider.Stream, error) {
	res, err := m.call(ctx, config.StreamURLRequestTimeout, "getSong", url.Values{"id": {id}})
	if nil != err {
		return nil, err
	}
	song := res.Get("song")
	if !song.Exists() {
		return nil, flaw.From(errors.New("getSong response has no song")).Append(flaw.P{"id": id})
	}

	params := url.Values{"id": {id}}
	switch strings.ToUpper(quality) {
	case provider.QualityHigh:
		params.Set("maxBitRate", "320")
	case provider.QualityLow:
		params.Set("maxBitRate", "128")
	default:
		params.Set("format", "raw")
	}
	return &provider.Stream{URL: m.endpoint("stream", params), Track: m.parseSong(song)}, nil
}

func (m *Module) Album(ctx context.Context, id string) (*provider.AlbumResult, error) {
	res, err := m.call(ctx, config.AlbumRequestTimeout, "getAlbum", url.Values{"id": {id}})
	if nil != err {
		return nil, err
	}
	album := res.Get("album")
	return &provider.AlbumResult{
		Album: m.parseAlbum(album),
		Tracks: lo.Map(album.Get("song").Array(), func(v gjson.Result, _ int) provider.Candidate {
			return m.parseSong(v)
		}),
	}, nil
}

func (m *Module) Artist(ctx context.Context, id string) (*provider.ArtistResult, error) {
	res, err := m.call(ctx, config.ArtistRequestTimeout, "getArtist", url.Values{"id": {id}})
	if nil != err {
		return nil, err
	}
	artist := res.Get("artist")
	return &provider.ArtistResult{
		Artist: provider.Artist{
			ID:       artist.Get("id").String(),
			Name:     artist.Get("name").String(),
			ImageURL: lo.CoalesceOrEmpty(artist.Get("artistImageUrl").String(), m.coverArtURL(artist.Get("coverArt").String())),
		},
		Albums: lo.Map(artist.Get("album").Array(), func(v gjson.Result, _ int) provider.Album {
			return m.parseAlbum(v)
		}),
	}, nil
}
