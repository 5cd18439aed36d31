package cache

import (
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"

	"github.com/xeptore/melo/music"
)

type Cache struct {
	Artwork ArtworkCache
}

func New() *Cache {
	artworkCache := ccache.New(
		ccache.Configure[[]music.ImageRef]().
			MaxSize(1000).
			GetsPerPromote(3).
			ItemsToPrune(10),
	)

	return &Cache{
		Artwork: ArtworkCache{
			c:   artworkCache,
			mux: sync.Mutex{},
		},
	}
}

func (c *Cache) Close() {
	c.Artwork.c.Stop()
}

// ArtworkCache memoizes image lookups by track fingerprint.
type ArtworkCache struct {
	c   *ccache.Cache[[]music.ImageRef]
	mux sync.Mutex
}

func (c *ArtworkCache) Fetch(k string, ttl time.Duration, fetch func() ([]music.ImageRef, error)) (*ccache.Item[[]music.ImageRef], error) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Fetch(k, ttl, fetch)
}

func (c *ArtworkCache) Delete(k string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.c.Delete(k)
}
