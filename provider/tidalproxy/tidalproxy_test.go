package tidalproxy_test

import (
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/provider"
	"github.com/xeptore/melo/provider/tidalproxy"
)

const searchBody = `{
  "version": "2.0",
  "data": {
    "limit": 10,
    "totalNumberOfItems": 2,
    "items": [
      {
        "id": 1001,
        "title": "Gorgeous",
        "duration": 357,
        "audioQuality": "LOSSLESS",
        "artists": [{"name": "Kanye West", "type": "MAIN"}, {"name": "Kid Cudi", "type": "FEATURED"}],
        "album": {"id": 55, "title": "My Beautiful Dark Twisted Fantasy", "cover": "aa-bb-cc"}
      },
      {
        "id": 1002,
        "title": "New Slaves",
        "duration": 256,
        "audioQuality": "LOSSLESS",
        "artist": {"name": "Kanye West"},
        "album": {"id": 56, "title": "Yeezus"}
      }
    ]
  }
}`

func manifestBody(t *testing.T, encryption string, urls ...string) string {
	t.Helper()
	js := `{"mimeType":"audio/flac","codecs":"flac","encryptionType":"` + encryption + `","urls":[`
	for i, u := range urls {
		if i > 0 {
			js += ","
		}
		js += `"` + u + `"`
	}
	js += `]}`
	return `{"version":"2.0","data":{"trackId":1002,"audioQuality":"LOSSLESS","manifestMimeType":"application/vnd.tidal.bts","manifest":"` +
		base64.StdEncoding.EncodeToString([]byte(js)) + `"}}`
}

func newModule(t *testing.T, hosts ...string) *tidalproxy.Module {
	t.Helper()
	m, err := tidalproxy.New(t.Context(), provider.Info{ID: "hifi", Name: "HiFi", Version: "1.0.0"}, tidalproxy.Settings{
		Hosts:             hosts,
		RequestsPerMinute: 1000,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestFactory(t *testing.T) {
	t.Parallel()

	var node yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("hosts: [\"https://a.example\", \"https://b.example/\"]\ncountry_code: US\n"), &node))
	m, err := tidalproxy.Factory(t.Context(), provider.Info{ID: "hifi"}, &node, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "hifi", m.Info().ID)
	m.(*tidalproxy.Module).Close()

	var empty yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("hosts: []\n"), &empty))
	_, err = tidalproxy.Factory(t.Context(), provider.Info{ID: "hifi"}, &empty, zerolog.Nop())
	assert.ErrorIs(t, err, tidalproxy.ErrNoHosts)
}

func TestSearchTracks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/", r.URL.Path)
		assert.Equal(t, "new slaves kanye", r.URL.Query().Get("s"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(searchBody))
	}))
	t.Cleanup(srv.Close)

	m := newModule(t, srv.URL)
	res, err := m.SearchTracks(t.Context(), "new slaves kanye", 10)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 2)
	assert.Equal(t, 2, res.Total)

	first := res.Tracks[0]
	assert.Equal(t, "1001", first.ID)
	assert.Equal(t, "Kanye West (feat. Kid Cudi)", first.Artist)
	assert.Equal(t, "55", first.AlbumID)
	assert.Equal(t, 357, first.DurationSeconds)
	assert.Equal(t, "https://resources.tidal.com/images/aa/bb/cc/1280x1280.jpg", first.AlbumCoverURL)

	second := res.Tracks[1]
	assert.Equal(t, "Kanye West", second.Artist)
	assert.Equal(t, "Yeezus", second.Album)
	assert.Empty(t, second.AlbumCoverURL)
}

func TestTrackStreamURL(t *testing.T) {
	t.Parallel()

	t.Run("bts_manifest", func(t *testing.T) {
		t.Parallel()

		body := manifestBody(t, "NONE", "https://cdn.example/1002.flac")
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/track/", r.URL.Path)
			assert.Equal(t, "1002", r.URL.Query().Get("id"))
			assert.Equal(t, "LOSSLESS", r.URL.Query().Get("quality"))
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)

		s, err := newModule(t, srv.URL).TrackStreamURL(t.Context(), "1002", provider.QualityLossless)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/1002.flac", s.URL)
		assert.Equal(t, "1002", s.Track.ID)
		assert.Equal(t, "LOSSLESS", s.Track.AudioQuality)
	})

	t.Run("original_track_url", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`[{"trackId":1002},{"OriginalTrackUrl":"https://cdn.example/v1.flac"}]`))
		}))
		t.Cleanup(srv.Close)

		s, err := newModule(t, srv.URL).TrackStreamURL(t.Context(), "1002", "")
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/v1.flac", s.URL)
	})

	t.Run("rotates_hosts", func(t *testing.T) {
		t.Parallel()

		var badCalls, goodCalls atomic.Int32
		bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			badCalls.Add(1)
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		t.Cleanup(bad.Close)
		body := manifestBody(t, "NONE", "https://cdn.example/ok.flac")
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			goodCalls.Add(1)
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(good.Close)

		m := newModule(t, bad.URL, good.URL)
		for range 2 {
			s, err := m.TrackStreamURL(t.Context(), "1002", provider.QualityLossless)
			require.NoError(t, err)
			assert.Equal(t, "https://cdn.example/ok.flac", s.URL)
		}
		assert.Equal(t, int32(2), goodCalls.Load())
		assert.LessOrEqual(t, badCalls.Load(), int32(2))
	})

	t.Run("unauthorized_host_is_skipped", func(t *testing.T) {
		t.Parallel()

		denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		t.Cleanup(denied.Close)
		body := manifestBody(t, "NONE", "https://cdn.example/open.flac")
		good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(good.Close)

		s, err := newModule(t, denied.URL, good.URL).TrackStreamURL(t.Context(), "1003", provider.QualityLossless)
		require.NoError(t, err)
		assert.Equal(t, "https://cdn.example/open.flac", s.URL)
	})

	t.Run("all_hosts_fail", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		t.Cleanup(srv.Close)

		_, err := newModule(t, srv.URL, srv.URL).TrackStreamURL(t.Context(), "1002", provider.QualityLossless)
		assert.ErrorIs(t, err, httputil.ErrTooManyRequests)
	})

	t.Run("not_found_is_final", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusNotFound)
		}))
		t.Cleanup(srv.Close)

		_, err := newModule(t, srv.URL, srv.URL, srv.URL).TrackStreamURL(t.Context(), "404", provider.QualityLossless)
		assert.True(t, errors.Is(err, httputil.ErrNotFound))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("encrypted_manifest", func(t *testing.T) {
		t.Parallel()

		body := manifestBody(t, "OLD_AES", "https://cdn.example/enc.flac")
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		t.Cleanup(srv.Close)

		_, err := newModule(t, srv.URL).TrackStreamURL(t.Context(), "1002", provider.QualityLossless)
		require.Error(t, err)
	})
}

func TestAlbumAndArtist(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/album/":
			assert.Equal(t, "56", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(`{"data":{"id":56,"title":"Yeezus","releaseDate":"2013-06-18","cover":"dd-ee","artist":{"name":"Kanye West"},
				"items":[{"item":{"id":1,"title":"On Sight","artist":{"name":"Kanye West"}}},{"item":{"id":2,"title":"Black Skinhead","artist":{"name":"Kanye West"}}}]}}`))
		case "/artist/":
			_, _ = w.Write([]byte(`{"artist":{"id":25022,"name":"Kanye West","picture":"ff-00"},"albums":{"items":[{"id":56,"title":"Yeezus"},{"title":"no id"}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	m := newModule(t, srv.URL)

	album, err := m.Album(t.Context(), "56")
	require.NoError(t, err)
	assert.Equal(t, "Yeezus", album.Album.Title)
	assert.Equal(t, 2013, album.Album.Year)
	require.Len(t, album.Tracks, 2)
	assert.Equal(t, "Yeezus", album.Tracks[0].Album)
	assert.Equal(t, "56", album.Tracks[1].AlbumID)
	assert.Equal(t, "https://resources.tidal.com/images/dd/ee/1280x1280.jpg", album.Tracks[1].AlbumCoverURL)

	artist, err := m.Artist(t.Context(), "25022")
	require.NoError(t, err)
	assert.Equal(t, "Kanye West", artist.Artist.Name)
	require.Len(t, artist.Albums, 1)
	assert.Equal(t, "56", artist.Albums[0].ID)
}
