package tidalproxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/provider"
)

const coverURLFormat = "https://resources.tidal.com/images/%s/1280x1280.jpg"

func coverURL(id string) string {
	if id == "" {
		return ""
	}
	return fmt.Sprintf(coverURLFormat, strings.ReplaceAll(id, "-", "/"))
}

type trackArtist struct {
	Name string
	Type string
}

func joinArtists(artists []trackArtist) string {
	mainArtists := lo.FilterMap(artists, func(a trackArtist, _ int) (string, bool) { return a.Name, a.Type == "MAIN" })
	featArtists := lo.FilterMap(artists, func(a trackArtist, _ int) (string, bool) { return a.Name, a.Type == "FEATURED" })
	out := strings.Join(mainArtists, " & ")
	if len(featArtists) > 0 {
		out += " (feat. " + strings.Join(featArtists, " & ") + ")"
	}
	return out
}

func firstOf(res gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := res.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func parseCandidate(item gjson.Result) (provider.Candidate, bool) {
	if v := item.Get("item"); v.IsObject() {
		item = v
	}
	id := item.Get("id").String()
	if id == "" {
		return provider.Candidate{}, false
	}

	artists := lo.Map(item.Get("artists").Array(), func(a gjson.Result, _ int) trackArtist {
		return trackArtist{Name: a.Get("name").String(), Type: a.Get("type").String()}
	})
	artist := joinArtists(artists)
	if artist == "" {
		artist = item.Get("artist.name").String()
	}

	title := item.Get("title").String()
	if version := item.Get("version").String(); version != "" {
		title += " (" + version + ")"
	}

	return provider.Candidate{
		ID:              id,
		Title:           title,
		Artist:          artist,
		Album:           item.Get("album.title").String(),
		AlbumID:         item.Get("album.id").String(),
		DurationSeconds: int(item.Get("duration").Int()),
		AudioQuality:    item.Get("audioQuality").String(),
		AlbumCoverURL:   coverURL(item.Get("album.cover").String()),
	}, true
}

func parseCandidates(items gjson.Result) []provider.Candidate {
	return lo.FilterMap(items.Array(), func(item gjson.Result, _ int) (provider.Candidate, bool) {
		return parseCandidate(item)
	})
}

func invalidResponse(msg string, body []byte) error {
	return flaw.From(errors.New(msg)).Append(flaw.P{"response_body": string(body)})
}

func (m *Module) SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error) {
	params := url.Values{"s": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var out provider.SearchResult
	err := m.call(ctx, config.SearchRequestTimeout, "/search/", params, func(body []byte) error {
		if !gjson.ValidBytes(body) {
			return invalidResponse("search response is not valid json", body)
		}
		res := gjson.ParseBytes(body)
		items := firstOf(res, "data.items", "items", "tracks.items")
		if !items.IsArray() {
			return invalidResponse("search response has no items", body)
		}
		out.Tracks = parseCandidates(items)
		out.Total = int(firstOf(res, "data.totalNumberOfItems", "totalNumberOfItems", "tracks.totalNumberOfItems").Int())
		if out.Total < len(out.Tracks) {
			out.Total = len(out.Tracks)
		}
		return nil
	})
	if nil != err {
		return nil, err
	}
	if limit > 0 && len(out.Tracks) > limit {
		out.Tracks = out.Tracks[:limit]
	}
	return &out, nil
}

func (m *Module) TrackStreamURL(ctx context.Context, id, quality string) (*provider.Stream, error) {
	if quality == "" {
		quality = provider.QualityLossless
	}
	params := url.Values{"id": {id}, "quality": {quality}}

	var out provider.Stream
	err := m.call(ctx, config.StreamURLRequestTimeout, "/track/", params, func(body []byte) error {
		streamURL, track, err := parseStream(body)
		if nil != err {
			return err
		}
		track.ID = id
		out = provider.Stream{URL: streamURL, Track: track}
		return nil
	})
	if nil != err {
		return nil, err
	}
	return &out, nil
}

func (m *Module) Album(ctx context.Context, id string) (*provider.AlbumResult, error) {
	var out provider.AlbumResult
	err := m.call(ctx, config.AlbumRequestTimeout, "/album/", url.Values{"id": {id}}, func(body []byte) error {
		if !gjson.ValidBytes(body) {
			return invalidResponse("album response is not valid json", body)
		}
		res := gjson.ParseBytes(body)
		data := firstOf(res, "data", "album")
		if !data.Exists() {
			data = res
		}
		items := firstOf(data, "items", "tracks.items", "tracks")
		if !items.IsArray() {
			items = firstOf(res, "items", "tracks")
		}
		out.Album = parseAlbum(data)
		if out.Album.ID == "" {
			out.Album.ID = id
		}
		out.Tracks = lo.Map(parseCandidates(items), func(c provider.Candidate, _ int) provider.Candidate {
			if c.Album == "" {
				c.Album = out.Album.Title
			}
			if c.AlbumID == "" {
				c.AlbumID = out.Album.ID
			}
			if c.AlbumCoverURL == "" {
				c.AlbumCoverURL = out.Album.CoverURL
			}
			return c
		})
		return nil
	})
	if nil != err {
		return nil, err
	}
	return &out, nil
}

func parseAlbum(v gjson.Result) provider.Album {
	artist := v.Get("artist.name").String()
	if artist == "" {
		artists := lo.Map(v.Get("artists").Array(), func(a gjson.Result, _ int) trackArtist {
			return trackArtist{Name: a.Get("name").String(), Type: a.Get("type").String()}
		})
		artist = joinArtists(artists)
	}
	year := 0
	if date := v.Get("releaseDate").String(); len(date) >= 4 {
		year, _ = strconv.Atoi(date[:4])
	}
	return provider.Album{
		ID:       v.Get("id").String(),
		Title:    v.Get("title").String(),
		Artist:   artist,
		Year:     year,
		CoverURL: coverURL(v.Get("cover").String()),
	}
}

func (m *Module) Artist(ctx context.Context, id string) (*provider.ArtistResult, error) {
	var out provider.ArtistResult
	err := m.call(ctx, config.ArtistRequestTimeout, "/artist/", url.Values{"id": {id}}, func(body []byte) error {
		if !gjson.ValidBytes(body) {
			return invalidResponse("artist response is not valid json", body)
		}
		res := gjson.ParseBytes(body)
		artist := firstOf(res, "artist", "data.artist", "data")
		if !artist.Exists() {
			return invalidResponse("artist response has no artist", body)
		}
		out.Artist = provider.Artist{
			ID:       lo.CoalesceOrEmpty(artist.Get("id").String(), id),
			Name:     artist.Get("name").String(),
			ImageURL: coverURL(artist.Get("picture").String()),
		}
		albums := firstOf(res, "albums.items", "data.albums.items", "albums")
		out.Albums = lo.FilterMap(albums.Array(), func(v gjson.Result, _ int) (provider.Album, bool) {
			a := parseAlbum(v)
			return a, a.ID != ""
		})
		return nil
	})
	if nil != err {
		return nil, err
	}
	return &out, nil
}
