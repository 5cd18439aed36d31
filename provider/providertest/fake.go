// Package providertest provides in-memory provider modules for tests.
package providertest

import (
	"context"
	"errors"
	"sync"

	"github.com/xeptore/melo/provider"
)

var ErrNoStream = errors.New("no stream for track")

type SearchCall struct {
	Query string
	Limit int
}

type StreamCall struct {
	ID      string
	Quality string
}

// Fake is a search and stream only module. Streams maps track ids to the URL
// returned by TrackStreamURL; ids without an entry fail with ErrNoStream.
type Fake struct {
	ModuleInfo provider.Info
	Tracks     []provider.Candidate
	SearchErr  error

	mux         sync.Mutex
	streams     map[string]string
	searchCalls []SearchCall
	streamCalls []StreamCall
}

func New(id string, tracks ...provider.Candidate) *Fake {
	return &Fake{
		ModuleInfo: provider.Info{ID: id, Name: id, Version: "0.0.0"},
		Tracks:     tracks,
		streams:    make(map[string]string),
	}
}

func (f *Fake) SetStream(id, url string) {
	f.mux.Lock()
	defer f.mux.Unlock()
	f.streams[id] = url
}

func (f *Fake) DropStream(id string) {
	f.mux.Lock()
	defer f.mux.Unlock()
	delete(f.streams, id)
}

func (f *Fake) SearchCalls() []SearchCall {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([]SearchCall(nil), f.searchCalls...)
}

func (f *Fake) StreamCalls() []StreamCall {
	f.mux.Lock()
	defer f.mux.Unlock()
	return append([]StreamCall(nil), f.streamCalls...)
}

func (f *Fake) Info() provider.Info {
	return f.ModuleInfo
}

func (f *Fake) SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error) {
	if err := ctx.Err(); nil != err {
		return nil, err
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	f.searchCalls = append(f.searchCalls, SearchCall{Query: query, Limit: limit})
	if nil != f.SearchErr {
		return nil, f.SearchErr
	}
	tracks := f.Tracks
	if limit > 0 && len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return &provider.SearchResult{Tracks: append([]provider.Candidate(nil), tracks...), Total: len(f.Tracks)}, nil
}

func (f *Fake) TrackStreamURL(ctx context.Context, id, quality string) (*provider.Stream, error) {
	if err := ctx.Err(); nil != err {
		return nil, err
	}
	f.mux.Lock()
	defer f.mux.Unlock()
	f.streamCalls = append(f.streamCalls, StreamCall{ID: id, Quality: quality})
	url, ok := f.streams[id]
	if !ok {
		return nil, ErrNoStream
	}
	out := provider.Stream{URL: url, Track: provider.Candidate{ID: id}}
	for _, t := range f.Tracks {
		if t.ID == id {
			out.Track = t
			break
		}
	}
	return &out, nil
}

// Full adds album and artist lookups to Fake.
type Full struct {
	*Fake
	Albums  map[string]*provider.AlbumResult
	Artists map[string]*provider.ArtistResult
}

func NewFull(id string, tracks ...provider.Candidate) *Full {
	return &Full{
		Fake:    New(id, tracks...),
		Albums:  make(map[string]*provider.AlbumResult),
		Artists: make(map[string]*provider.ArtistResult),
	}
}

var ErrNotFound = errors.New("not found")

func (f *Full) Album(ctx context.Context, id string) (*provider.AlbumResult, error) {
	if err := ctx.Err(); nil != err {
		return nil, err
	}
	if a, ok := f.Albums[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (f *Full) Artist(ctx context.Context, id string) (*provider.ArtistResult, error) {
	if err := ctx.Err(); nil != err {
		return nil, err
	}
	if a, ok := f.Artists[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}
