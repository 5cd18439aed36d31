package streamcache_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/streamcache"
)

var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func newStore(t *testing.T) (*streamcache.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream_cache.json")
	return streamcache.New(path, zerolog.Nop(), streamcache.WithClock(func() time.Time { return fixedNow })), path
}

func stream(id, name, artist, uri string) music.ResolvedStream {
	return music.ResolvedStream{
		ProviderTrackID: id,
		Name:            name,
		Artist:          artist,
		Album:           "Album",
		StreamURI:       uri,
		Images:          []music.ImageRef{{URL: "https://img/" + id + ".jpg"}},
		Source:          "hifi",
		IsStreaming:     true,
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("missing_file_twice", func(t *testing.T) {
		t.Parallel()

		s, path := newStore(t)
		s.Load()
		assert.Zero(t, s.Len())
		s.Load()
		assert.Zero(t, s.Len())
		_, err := os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("corrupt_file", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "stream_cache.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		s := streamcache.New(path, zerolog.Nop())
		s.Load()
		assert.Zero(t, s.Len())
		assert.Nil(t, s.ByProviderID("t1"))
	})

	t.Run("reload_keeps_order", func(t *testing.T) {
		t.Parallel()

		s, path := newStore(t)
		for _, id := range []string{"c", "a", "b"} {
			_, err := s.Save(id, stream(id, "Song "+id, "Artist", "https://cdn/"+id))
			require.NoError(t, err)
		}

		reloaded := streamcache.New(path, zerolog.Nop())
		entries := reloaded.Entries()
		require.Len(t, entries, 3)
		assert.Equal(t, "c", entries[0].ProviderTrackID)
		assert.Equal(t, "a", entries[1].ProviderTrackID)
		assert.Equal(t, "b", entries[2].ProviderTrackID)
		assert.Equal(t, *s.ByProviderID("a"), *reloaded.ByProviderID("a"))
	})
}

func TestSave(t *testing.T) {
	t.Parallel()

	t.Run("round_trip", func(t *testing.T) {
		t.Parallel()

		s, _ := newStore(t)
		in := stream("t1", "New Slaves", "Kanye West", "https://cdn/t1.flac")
		saved, err := s.Save("t1", in)
		require.NoError(t, err)
		assert.Equal(t, fixedNow, saved.CachedAt)

		got := s.ByProviderID("t1")
		require.NotNil(t, got)
		got.CachedAt = time.Time{}
		assert.Equal(t, in, *got)
	})

	t.Run("merge_keeps_metadata", func(t *testing.T) {
		t.Parallel()

		s, _ := newStore(t)
		_, err := s.Save("t1", stream("t1", "New Slaves", "Kanye West", "https://old/expired"))
		require.NoError(t, err)

		merged, err := s.Save("t1", music.ResolvedStream{StreamURI: "https://fresh/ok"})
		require.NoError(t, err)
		assert.Equal(t, "https://fresh/ok", merged.StreamURI)
		assert.Equal(t, "New Slaves", merged.Name)
		assert.Equal(t, "Kanye West", merged.Artist)
		assert.Equal(t, "hifi", merged.Source)
		assert.True(t, merged.IsStreaming)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("rejects_invalid_uri", func(t *testing.T) {
		t.Parallel()

		s, path := newStore(t)
		_, err := s.Save("t1", stream("t1", "x", "y", ""))
		require.ErrorIs(t, err, streamcache.ErrInvalidStreamURI)
		_, err = s.Save("t1", stream("t1", "x", "y", "relative/path"))
		require.ErrorIs(t, err, streamcache.ErrInvalidStreamURI)
		assert.Nil(t, s.ByProviderID("t1"))
		_, err = os.Stat(path)
		assert.ErrorIs(t, err, os.ErrNotExist)

		_, err = s.Save("", stream("", "x", "y", "https://cdn/x"))
		assert.ErrorIs(t, err, streamcache.ErrEmptyID)
	})
}

func TestByMetadata(t *testing.T) {
	t.Parallel()

	s, _ := newStore(t)
	_, err := s.Save("d1", stream("d1", "Jumpman", "Drake", "https://cdn/d1"))
	require.NoError(t, err)
	_, err = s.Save("d2", stream("d2", "Jumpman", "Drake & Future", "https://cdn/d2"))
	require.NoError(t, err)

	got := s.ByMetadata(" jumpman ", "Drake feat. Future")
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ProviderTrackID)

	got = s.ByMetadata("Jumpman", "DRAKE")
	require.NotNil(t, got)
	assert.Equal(t, "d1", got.ProviderTrackID)

	got = s.ByMetadata("Jumpman", "Future")
	require.NotNil(t, got)
	assert.Equal(t, "d2", got.ProviderTrackID)

	assert.Nil(t, s.ByMetadata("Jump", "Drake"))
	assert.Nil(t, s.ByMetadata("Jumpman", "Lil Wayne"))
}

func TestRemoveAndClear(t *testing.T) {
	t.Parallel()

	s, path := newStore(t)
	_, err := s.Save("t1", stream("t1", "a", "b", "https://cdn/t1"))
	require.NoError(t, err)
	_, err = s.Save("t2", stream("t2", "c", "d", "https://cdn/t2"))
	require.NoError(t, err)

	require.NoError(t, s.Remove("t1"))
	require.NoError(t, s.Remove("missing"))
	assert.Nil(t, s.ByProviderID("t1"))
	assert.Equal(t, 1, streamcache.New(path, zerolog.Nop()).Len())

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	assert.Zero(t, s.Len())
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
