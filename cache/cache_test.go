package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeptore/melo/cache"
	"github.com/xeptore/melo/music"
)

func TestArtworkCache(t *testing.T) {
	t.Parallel()

	c := cache.New()
	t.Cleanup(c.Close)

	calls := 0
	fetch := func() ([]music.ImageRef, error) {
		calls++
		return []music.ImageRef{{URL: "https://img/1.jpg"}}, nil
	}

	item, err := c.Artwork.Fetch("k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "https://img/1.jpg", item.Value()[0].URL)

	_, err = c.Artwork.Fetch("k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.True(t, c.Artwork.Delete("k"))
	_, err = c.Artwork.Fetch("k", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	errBoom := errors.New("boom")
	_, err = c.Artwork.Fetch("other", time.Minute, func() ([]music.ImageRef, error) { return nil, errBoom })
	assert.ErrorIs(t, err, errBoom)
}
