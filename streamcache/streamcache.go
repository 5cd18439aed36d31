// Package streamcache persists verified provider streams so a track is only
// resolved once. Entries are keyed by provider track id and kept in insertion
// order, on disk as well as in memory.
package streamcache

import (
	"errors"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xeptore/melo/jsonfile"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/music"
)

var (
	ErrInvalidStreamURI = errors.New("stream uri must be a non-empty absolute uri")
	ErrEmptyID          = errors.New("provider track id is empty")
)

type Store struct {
	file   jsonfile.File[[]music.ResolvedStream]
	logger zerolog.Logger
	now    func() time.Time

	mux     sync.Mutex
	loaded  bool
	order   []string
	entries map[string]music.ResolvedStream
}

type Option func(*Store)

// WithClock replaces the clock used to stamp CachedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(path string, logger zerolog.Logger, opts ...Option) *Store {
	s := &Store{
		file:    jsonfile.At[[]music.ResolvedStream](path),
		logger:  logger.With().Str("component", "stream_cache").Logger(),
		now:     time.Now,
		mux:     sync.Mutex{},
		loaded:  false,
		order:   nil,
		entries: make(map[string]music.ResolvedStream),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads the backing file once. A missing or unreadable file leaves the
// store empty. Every other method loads on first use as well.
func (s *Store) Load() {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()
}

func (s *Store) loadLocked() {
	if s.loaded {
		return
	}
	s.loaded = true
	s.order = nil
	s.entries = make(map[string]music.ResolvedStream)

	stored, err := s.file.Read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Debug().Str("path", s.file.Path).Msg("Stream cache file does not exist. Starting empty")
			return
		}
		s.logger.Warn().Func(log.Flaw(err)).Str("path", s.file.Path).Msg("Failed to read stream cache file. Starting empty")
		return
	}

	for _, entry := range *stored {
		id := entry.ProviderTrackID
		if id == "" {
			continue
		}
		if _, exists := s.entries[id]; !exists {
			s.order = append(s.order, id)
		}
		s.entries[id] = entry
	}
	s.logger.Debug().Int("entries", len(s.order)).Msg("Loaded stream cache")
}

func (s *Store) persistLocked() error {
	return s.file.Write(s.snapshotLocked())
}

func (s *Store) snapshotLocked() []music.ResolvedStream {
	out := make([]music.ResolvedStream, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.entries[id])
	}
	return out
}

// ByProviderID returns the cached stream of id, or nil. Entries never expire.
func (s *Store) ByProviderID(id string) *music.ResolvedStream {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()

	entry, ok := s.entries[id]
	if !ok {
		return nil
	}
	return &entry
}

// ByMetadata returns the first entry, in insertion order, whose name equals
// name and whose artist contains or is contained in artist. Comparison is
// case-insensitive and ignores surrounding whitespace.
func (s *Store) ByMetadata(name, artist string) *music.ResolvedStream {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()

	name = music.Normalize(name)
	for _, id := range s.order {
		entry := s.entries[id]
		if music.Normalize(entry.Name) != name {
			continue
		}
		if music.ArtistsOverlap(entry.Artist, artist) {
			return &entry
		}
	}
	return nil
}

func merge(dst *music.ResolvedStream, src music.ResolvedStream) {
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Artist != "" {
		dst.Artist = src.Artist
	}
	if src.Album != "" {
		dst.Album = src.Album
	}
	if src.StreamURI != "" {
		dst.StreamURI = strings.TrimSpace(src.StreamURI)
	}
	if len(src.Images) > 0 {
		dst.Images = src.Images
	}
	if src.Source != "" {
		dst.Source = src.Source
	}
	if src.IsStreaming {
		dst.IsStreaming = true
	}
}

// Save merges partial into the entry of id, stamps CachedAt and rewrites the
// backing file. Merges that would leave the entry without a playable absolute
// stream URI are rejected with ErrInvalidStreamURI and change nothing.
func (s *Store) Save(id string, partial music.ResolvedStream) (*music.ResolvedStream, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()

	entry, exists := s.entries[id]
	merge(&entry, partial)
	entry.ProviderTrackID = id
	if !music.IsAbsoluteURI(entry.StreamURI) {
		return nil, ErrInvalidStreamURI
	}
	entry.CachedAt = s.now()

	if !exists {
		s.order = append(s.order, id)
	}
	s.entries[id] = entry

	if err := s.persistLocked(); nil != err {
		return nil, err
	}
	return &entry, nil
}

// Remove deletes id and rewrites the backing file. Unknown ids are a no-op.
func (s *Store) Remove(id string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()

	if _, ok := s.entries[id]; !ok {
		return nil
	}
	delete(s.entries, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return s.persistLocked()
}

// Clear empties the store and deletes the backing file.
func (s *Store) Clear() error {
	s.mux.Lock()
	defer s.mux.Unlock()

	s.loaded = true
	s.order = nil
	s.entries = make(map[string]music.ResolvedStream)
	return s.file.Remove()
}

func (s *Store) Len() int {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()
	return len(s.order)
}

// Entries returns a copy of every entry in insertion order.
func (s *Store) Entries() []music.ResolvedStream {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.loadLocked()
	return s.snapshotLocked()
}
