package download_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/xeptore/melo/download"
	"github.com/xeptore/melo/library"
	"github.com/xeptore/melo/module"
	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/provider"
	"github.com/xeptore/melo/provider/providertest"
	"github.com/xeptore/melo/resolve"
	"github.com/xeptore/melo/streamcache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

var flacPayload = append([]byte("fLaC"), bytes.Repeat([]byte{0x22}, 60)...)

var (
	gorgeous  = provider.Candidate{ID: "k1", Title: "Gorgeous", Artist: "Kanye West", Album: "MBDTF"}
	newSlaves = provider.Candidate{ID: "k2", Title: "New Slaves", Artist: "Kanye West", Album: "Yeezus"}
)

type server struct {
	*httptest.Server
	mux      sync.Mutex
	requests []string
	onAudio  func(path string)
}

func newServer(t *testing.T) *server {
	t.Helper()
	s := &server{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mux.Lock()
		s.requests = append(s.requests, r.URL.Path)
		onAudio := s.onAudio
		s.mux.Unlock()

		switch r.URL.Path {
		case "/expired":
			_, _ = w.Write([]byte("gone"))
		case "/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/cover.jpg":
			_, _ = w.Write([]byte("jpeg"))
		default:
			if nil != onAudio {
				onAudio(r.URL.Path)
			}
			_, _ = w.Write(flacPayload)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *server) setOnAudio(f func(path string)) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.onAudio = f
}

func (s *server) count(path string) int {
	s.mux.Lock()
	defer s.mux.Unlock()
	n := 0
	for _, p := range s.requests {
		if p == path {
			n++
		}
	}
	return n
}

type env struct {
	fake    *providertest.Fake
	manager *module.Manager
	cache   *streamcache.Store
	lib     *library.Library
	orch    *download.Orchestrator
	libDir  string
	opts    download.Options
	engine  *resolve.Engine
}

func newEnv(t *testing.T, fake *providertest.Fake, onProgress func(download.Progress)) *env {
	t.Helper()
	dir := t.TempDir()
	factories := map[string]provider.Factory{
		"fake": func(context.Context, provider.Info, provider.Settings, zerolog.Logger) (provider.Module, error) {
			return fake, nil
		},
	}
	manager := module.NewManager(module.NewRegistry(filepath.Join(dir, "modules.json")), factories, zerolog.Nop())
	_, err := manager.Install(t.Context(), "id: hifi\nkind: fake\n")
	require.NoError(t, err)

	cache := streamcache.New(filepath.Join(dir, "stream_cache.json"), zerolog.Nop())
	engine := resolve.New(manager, cache, resolve.Options{}, zerolog.Nop())
	libDir := filepath.Join(dir, "music")
	lib := library.New(libDir, filepath.Join(dir, "library.json"), zerolog.Nop())
	tempDir := filepath.Join(dir, "tmp")
	require.NoError(t, os.MkdirAll(tempDir, 0o755))

	opts := download.Options{
		RecordPath:      filepath.Join(dir, "downloads.json"),
		TempDir:         tempDir,
		MinPayloadBytes: 16,
		Pause:           func() time.Duration { return 0 },
		OnProgress:      onProgress,
	}
	return &env{
		fake:    fake,
		manager: manager,
		cache:   cache,
		lib:     lib,
		orch:    download.New(engine, lib, opts, zerolog.Nop()),
		libDir:  libDir,
		opts:    opts,
		engine:  engine,
	}
}

func TestDownloadTrack(t *testing.T) {
	t.Parallel()

	t.Run("resolves_and_adds_to_library", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		withCover := gorgeous
		withCover.AlbumCoverURL = srv.URL + "/cover.jpg"
		fake := providertest.New("hifi", withCover)
		fake.SetStream("k1", srv.URL+"/audio/k1")

		var (
			mux      sync.Mutex
			progress []download.Progress
		)
		e := newEnv(t, fake, func(p download.Progress) {
			mux.Lock()
			defer mux.Unlock()
			progress = append(progress, p)
		})

		owned, err := e.orch.DownloadTrack(t.Context(), music.Track{Name: "Gorgeous", Artist: "Kanye West"}, "")
		require.NoError(t, err)
		assert.True(t, owned.IsOwned())
		assert.Equal(t, "k1", owned.ID)

		b, err := os.ReadFile(filepath.Join(e.libDir, "Kanye West", "MBDTF", "Gorgeous.flac"))
		require.NoError(t, err)
		assert.Equal(t, flacPayload, b)
		cover, err := os.ReadFile(filepath.Join(e.libDir, "Kanye West", "MBDTF", "cover.jpg"))
		require.NoError(t, err)
		assert.Equal(t, "jpeg", string(cover))

		assert.True(t, e.orch.IsDownloaded("k1"))
		uri, ok := e.orch.TransientURI("k1")
		require.True(t, ok)
		assert.Equal(t, owned.URI, uri)

		rec := e.orch.Record()
		require.NotEmpty(t, rec.Recent)
		assert.Equal(t, "k1", rec.Recent[0].TrackID)

		mux.Lock()
		require.NotEmpty(t, progress)
		last := progress[len(progress)-1]
		mux.Unlock()
		assert.Equal(t, int64(len(flacPayload)), last.Written)
		assert.Equal(t, 100, last.Percent)

		reloaded := download.New(e.engine, e.lib, e.opts, zerolog.Nop())
		assert.True(t, reloaded.IsDownloaded("k1"))

		tmp, err := os.ReadDir(e.opts.TempDir)
		require.NoError(t, err)
		assert.Empty(t, tmp)
	})

	t.Run("refreshes_stale_stream_once", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		fake := providertest.New("hifi", gorgeous)
		fake.SetStream("k1", srv.URL+"/audio/fresh")
		e := newEnv(t, fake, nil)

		_, err := e.cache.Save("k1", music.ResolvedStream{
			ProviderTrackID: "k1",
			Name:            "Gorgeous",
			Artist:          "Kanye West",
			Album:           "MBDTF",
			StreamURI:       srv.URL + "/expired",
			Source:          "hifi",
			IsStreaming:     true,
		})
		require.NoError(t, err)

		owned, err := e.orch.DownloadTrack(t.Context(), music.Track{ProviderTrackID: "k1", Name: "Gorgeous", Artist: "Kanye West"}, "")
		require.NoError(t, err)
		assert.True(t, owned.IsOwned())

		assert.Equal(t, 1, srv.count("/expired"))
		assert.Equal(t, 1, srv.count("/audio/fresh"))
		require.Len(t, fake.StreamCalls(), 1)
		assert.Empty(t, fake.SearchCalls())

		cached := e.cache.ByProviderID("k1")
		require.NotNil(t, cached)
		assert.Equal(t, srv.URL+"/audio/fresh", cached.StreamURI)
		assert.Equal(t, 1, e.cache.Len())
	})

	t.Run("fails_when_refreshed_payload_is_still_invalid", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		fake := providertest.New("hifi", gorgeous)
		fake.SetStream("k1", srv.URL+"/expired")
		e := newEnv(t, fake, nil)

		_, err := e.orch.DownloadTrack(t.Context(), music.Track{Name: "Gorgeous", Artist: "Kanye West"}, "")
		var payloadErr *download.InvalidPayloadError
		require.ErrorAs(t, err, &payloadErr)
		assert.Equal(t, int64(4), payloadErr.Size)
		assert.Equal(t, int64(16), payloadErr.Min)
		assert.Equal(t, 2, srv.count("/expired"))

		assert.False(t, e.orch.IsDownloaded("k1"))
		entries, err := e.lib.Entries()
		require.NoError(t, err)
		assert.Empty(t, entries)
		tmp, err := os.ReadDir(e.opts.TempDir)
		require.NoError(t, err)
		assert.Empty(t, tmp)
	})

	t.Run("stale_error_when_refresh_fails", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		fake := providertest.New("hifi", gorgeous)
		e := newEnv(t, fake, nil)
		_, err := e.cache.Save("k1", music.ResolvedStream{ProviderTrackID: "k1", Name: "Gorgeous", Artist: "Kanye West", StreamURI: srv.URL + "/forbidden"})
		require.NoError(t, err)

		_, err = e.orch.DownloadTrack(t.Context(), music.Track{ProviderTrackID: "k1", Name: "Gorgeous", Artist: "Kanye West"}, "")
		require.ErrorIs(t, err, resolve.ErrStaleStream)
		assert.ErrorIs(t, err, providertest.ErrNoStream)
	})

	t.Run("unplayable", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, providertest.New("hifi"), nil)
		_, err := e.orch.DownloadTrack(t.Context(), music.Track{Name: "Nothing", Artist: "Nobody"}, "")
		require.ErrorIs(t, err, download.ErrUnplayable)
	})

	t.Run("no_active_module", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, providertest.New("hifi"), nil)
		require.NoError(t, e.manager.Uninstall(t.Context(), "hifi"))

		_, err := e.orch.DownloadTrack(t.Context(), music.Track{Name: "Gorgeous", Artist: "Kanye West"}, "")
		require.ErrorIs(t, err, module.ErrNoActiveModule)
	})

	t.Run("owned_track_is_returned_as_is", func(t *testing.T) {
		t.Parallel()

		fake := providertest.New("hifi", gorgeous)
		e := newEnv(t, fake, nil)
		track := music.Track{ID: "local", Name: "Gorgeous", Artist: "Kanye West", URI: "file:///music/gorgeous.flac"}
		got, err := e.orch.DownloadTrack(t.Context(), track, "")
		require.NoError(t, err)
		assert.Equal(t, track, *got)
		assert.Empty(t, fake.SearchCalls())
	})

	t.Run("skips_track_in_flight", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		started, release := make(chan struct{}), make(chan struct{})
		var once sync.Once
		srv.setOnAudio(func(string) {
			once.Do(func() {
				close(started)
				<-release
			})
		})
		fake := providertest.New("hifi", gorgeous)
		fake.SetStream("k1", srv.URL+"/audio/k1")
		e := newEnv(t, fake, nil)

		track := music.Track{ProviderTrackID: "k1", Name: "Gorgeous", Artist: "Kanye West"}
		errCh := make(chan error, 1)
		go func() {
			_, err := e.orch.DownloadTrack(context.Background(), track, "")
			errCh <- err
		}()
		<-started

		_, err := e.orch.DownloadTrack(t.Context(), track, "")
		require.ErrorIs(t, err, download.ErrTrackInProgress)

		close(release)
		require.NoError(t, <-errCh)
		assert.Equal(t, 1, srv.count("/audio/k1"))
	})
}

func TestStartAlbumDownload(t *testing.T) {
	t.Parallel()

	tracks := []music.Track{
		{ProviderTrackID: "k1", Name: "Gorgeous", Artist: "Kanye West"},
		{Name: "Nothing", Artist: "Nobody"},
		{ProviderTrackID: "k2", Name: "New Slaves", Artist: "Kanye West"},
	}

	t.Run("counts_every_track_and_removes_job", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		fake := providertest.New("hifi", gorgeous, newSlaves)
		fake.SetStream("k1", srv.URL+"/audio/k1")
		fake.SetStream("k2", srv.URL+"/audio/k2")
		e := newEnv(t, fake, nil)

		var (
			orch     atomic.Pointer[download.Orchestrator]
			mux      sync.Mutex
			observed []int
		)
		orch.Store(e.orch)
		srv.setOnAudio(func(string) {
			job, ok := orch.Load().AlbumJob("yeezus")
			mux.Lock()
			defer mux.Unlock()
			if ok {
				observed = append(observed, job.Completed)
			}
		})

		require.NoError(t, e.orch.StartAlbumDownload(t.Context(), "yeezus", tracks))

		mux.Lock()
		assert.Equal(t, []int{0, 2}, observed)
		mux.Unlock()

		_, ok := e.orch.AlbumJob("yeezus")
		assert.False(t, ok)

		entries, err := e.lib.Entries()
		require.NoError(t, err)
		assert.Len(t, entries, 2)
		assert.True(t, e.orch.IsDownloaded("k1"))
		assert.True(t, e.orch.IsDownloaded("k2"))
	})

	t.Run("empty_album", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, providertest.New("hifi"), nil)
		require.NoError(t, e.orch.StartAlbumDownload(t.Context(), "empty", nil))
		_, ok := e.orch.AlbumJob("empty")
		assert.False(t, ok)
	})

	t.Run("cancel_stops_batch_and_duplicate_is_rejected", func(t *testing.T) {
		t.Parallel()

		srv := newServer(t)
		started, release := make(chan struct{}), make(chan struct{})
		var once sync.Once
		srv.setOnAudio(func(string) {
			once.Do(func() {
				close(started)
				<-release
			})
		})
		fake := providertest.New("hifi", gorgeous, newSlaves)
		fake.SetStream("k1", srv.URL+"/audio/k1")
		fake.SetStream("k2", srv.URL+"/audio/k2")
		e := newEnv(t, fake, nil)

		errCh := make(chan error, 1)
		go func() {
			errCh <- e.orch.StartAlbumDownload(context.Background(), "yeezus", tracks)
		}()
		<-started

		job, ok := e.orch.AlbumJob("yeezus")
		require.True(t, ok)
		assert.Equal(t, download.AlbumJob{AlbumKey: "yeezus", Total: 3, Completed: 0, Failed: 0, Progress: 0, IsDownloading: true}, job)

		err := e.orch.StartAlbumDownload(t.Context(), "yeezus", tracks)
		require.ErrorIs(t, err, download.ErrAlbumInProgress)

		e.orch.CancelAlbumDownload("yeezus")
		_, ok = e.orch.AlbumJob("yeezus")
		assert.False(t, ok)

		close(release)
		require.NoError(t, <-errCh)

		assert.Equal(t, 1, srv.count("/audio/k1"))
		assert.Zero(t, srv.count("/audio/k2"))
		entries, err := e.lib.Entries()
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("context_cancel_drops_job", func(t *testing.T) {
		t.Parallel()

		e := newEnv(t, providertest.New("hifi"), nil)
		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		err := e.orch.StartAlbumDownload(ctx, "yeezus", tracks)
		require.True(t, errors.Is(err, context.Canceled))
		_, ok := e.orch.AlbumJob("yeezus")
		assert.False(t, ok)
	})
}
