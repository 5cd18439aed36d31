// Package download fetches resolved streams into the local library, one
// track at a time or as sequential album batches.
package download

import (
	"context"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/jsonfile"
	"github.com/xeptore/melo/library"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/mathutil"
	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/ratelimit"
)

// Resolver finds a stream for a track and renews one that stopped working.
type Resolver interface {
	PlayableTrack(ctx context.Context, t music.Track, streamingEnabled bool) music.Track
	Refresh(ctx context.Context, id string) (*music.ResolvedStream, error)
	// Available reports why nothing can be resolved at all, such as a missing
	// active module.
	Available() error
}

// CoverSetter is implemented by libraries that store album artwork next to
// the tracks.
type CoverSetter interface {
	SetCover(ctx context.Context, track music.Track, sourcePath string) error
}

type Progress struct {
	TrackID    string
	AlbumKey   string
	Written    int64
	TotalBytes int64
	Percent    int
}

type Options struct {
	RecordPath      string
	TempDir         string
	MinPayloadBytes int64
	RecentSize      int
	// Pause returns the delay before each album track after the first.
	Pause      func() time.Duration
	OnProgress func(Progress)
}

type Orchestrator struct {
	resolver   Resolver
	library    library.Adder
	record     jsonfile.File[Record]
	tempDir    string
	minPayload int64
	recentSize int
	pause      func() time.Duration
	onProgress func(Progress)
	now        func() time.Time
	logger     zerolog.Logger

	mux             sync.Mutex
	loaded          bool
	inFlight        map[string]struct{}
	jobs            map[string]*AlbumJob
	downloaded      map[string]struct{}
	downloadedOrder []string
	recent          []RecentDownload
	transient       map[string]string
}

func New(resolver Resolver, lib library.Adder, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:        resolver,
		library:         lib,
		record:          jsonfile.At[Record](opts.RecordPath),
		tempDir:         lo.CoalesceOrEmpty(opts.TempDir, os.TempDir()),
		minPayload:      lo.Ternary(opts.MinPayloadBytes > 0, opts.MinPayloadBytes, config.DefaultMinPayloadBytes),
		recentSize:      lo.Ternary(opts.RecentSize > 0, opts.RecentSize, config.DefaultRecentDownloadsSize),
		pause:           lo.Ternary(nil != opts.Pause, opts.Pause, ratelimit.AlbumTrackPause),
		onProgress:      opts.OnProgress,
		now:             time.Now,
		logger:          logger.With().Str("component", "download").Logger(),
		mux:             sync.Mutex{},
		loaded:          false,
		inFlight:        make(map[string]struct{}),
		jobs:            make(map[string]*AlbumJob),
		downloaded:      make(map[string]struct{}),
		downloadedOrder: nil,
		recent:          nil,
		transient:       make(map[string]string),
	}
}

func trackKey(t music.Track) string {
	return lo.CoalesceOrEmpty(t.ID, t.ProviderTrackID, music.Normalize(t.Artist)+"|"+music.Normalize(t.Name))
}

func (o *Orchestrator) begin(key string) bool {
	o.mux.Lock()
	defer o.mux.Unlock()
	if _, ok := o.inFlight[key]; ok {
		return false
	}
	o.inFlight[key] = struct{}{}
	return true
}

func (o *Orchestrator) end(key string) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.inFlight, key)
}

func (o *Orchestrator) tempPath(suffix string) string {
	return filepath.Join(o.tempDir, "melo-"+uuid.NewString()+suffix)
}

func (o *Orchestrator) reporter(key, albumKey string) func(written, total int64) {
	if nil == o.onProgress {
		return nil
	}
	return func(written, total int64) {
		o.onProgress(Progress{
			TrackID:    key,
			AlbumKey:   albumKey,
			Written:    written,
			TotalBytes: total,
			Percent:    lo.Ternary(total > 0, mathutil.Percent(written, total), 0),
		})
	}
}

// DownloadTrack resolves track, downloads its audio and hands the file to the
// library. A rejected payload triggers a single stream refresh and retry.
// ErrTrackInProgress is returned when the same track is already being
// downloaded.
func (o *Orchestrator) DownloadTrack(ctx context.Context, track music.Track, albumKey string) (*music.Track, error) {
	key := trackKey(track)
	if !o.begin(key) {
		return nil, ErrTrackInProgress
	}
	defer o.end(key)

	logger := o.logger.With().Str("track_key", key).Str("album_key", albumKey).Logger()

	playable := o.resolver.PlayableTrack(ctx, track, true)
	if playable.IsOwned() {
		logger.Debug().Str("uri", playable.URI).Msg("Track is already local")
		return &playable, nil
	}
	if !music.IsAbsoluteURI(playable.URI) {
		if err := o.resolver.Available(); nil != err {
			return nil, err
		}
		return nil, ErrUnplayable
	}

	audioPath := o.tempPath(".part")
	cover := coverURL(playable.Images)
	var coverPath string

	wg, wgCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		var err error
		playable, err = o.fetchAudio(wgCtx, logger, playable, audioPath, o.reporter(key, albumKey))
		return err
	})
	if cover != "" {
		p := o.tempPath(".cover")
		wg.Go(func() error {
			if _, err := fetchFile(wgCtx, config.CoverDownloadTimeout, cover, p, 1, nil); nil != err {
				if !errutil.IsContext(wgCtx) {
					logger.Warn().Err(err).Str("cover_url", cover).Msg("Failed to download cover art")
				}
				return nil
			}
			coverPath = p
			return nil
		})
	}
	if err := wg.Wait(); nil != err {
		removeQuietly(audioPath, coverPath)
		return nil, err
	}
	defer removeQuietly(coverPath)

	ext := sniffExt(audioPath, playable.URI)
	originalName := lo.CoalesceOrEmpty(playable.Name, playable.ProviderTrackID, key) + ext
	owned, err := o.library.Add(ctx, playable, audioPath, originalName)
	if nil != err {
		removeQuietly(audioPath)
		return nil, err
	}

	if coverPath != "" {
		if setter, ok := o.library.(CoverSetter); ok {
			if err := setter.SetCover(ctx, *owned, coverPath); nil != err {
				logger.Warn().Func(log.Flaw(err)).Msg("Failed to store cover art")
			}
		}
	}

	o.mux.Lock()
	o.loadLocked()
	err = o.markDownloadedLocked(key, *owned)
	o.mux.Unlock()
	if nil != err {
		logger.Error().Func(log.Flaw(err)).Msg("Failed to persist downloads record")
	}

	logger.Info().Str("uri", owned.URI).Msg("Track downloaded")
	return owned, nil
}

func (o *Orchestrator) fetchAudio(ctx context.Context, logger zerolog.Logger, t music.Track, dest string, report func(int64, int64)) (music.Track, error) {
	size, err := fetchFile(ctx, config.TrackDownloadTimeout, t.URI, dest, o.minPayload, report)
	if nil == err {
		logger.Debug().Int64("size", size).Msg("Downloaded track payload")
		return t, nil
	}
	if !needsRefresh(err) || t.ProviderTrackID == "" {
		return t, err
	}

	logger.Warn().Err(err).Str("uri", t.URI).Msg("Stream payload rejected, refreshing stream")
	fresh, refreshErr := o.resolver.Refresh(ctx, t.ProviderTrackID)
	if nil != refreshErr {
		return t, refreshErr
	}
	t = t.WithStream(*fresh)

	if _, err := fetchFile(ctx, config.TrackDownloadTimeout, t.URI, dest, o.minPayload, report); nil != err {
		return t, err
	}
	return t, nil
}

func coverURL(images []music.ImageRef) string {
	images = lo.Filter(images, func(img music.ImageRef, _ int) bool { return img.URL != "" && music.IsAbsoluteURI(img.URL) && !music.IsLocalURI(img.URL) })
	if len(images) == 0 {
		return ""
	}
	return lo.MaxBy(images, func(a, b music.ImageRef) bool { return a.Width > b.Width }).URL
}

var fileTypeExt = map[tag.FileType]string{
	tag.MP3:  ".mp3",
	tag.M4A:  ".m4a",
	tag.M4B:  ".m4b",
	tag.M4P:  ".m4p",
	tag.ALAC: ".m4a",
	tag.FLAC: ".flac",
	tag.OGG:  ".ogg",
	tag.DSF:  ".dsf",
}

// sniffExt picks a file extension from the audio container found in the
// file, falling back to the stream URL path and then to .mp3.
func sniffExt(filePath, streamURI string) string {
	if f, err := os.Open(filePath); nil == err {
		_, fileType, err := tag.Identify(f)
		_ = f.Close()
		if nil == err {
			if ext, ok := fileTypeExt[fileType]; ok {
				return ext
			}
		}
	}
	if u, err := url.Parse(streamURI); nil == err {
		if ext := strings.ToLower(path.Ext(u.Path)); len(ext) > 1 && len(ext) <= 5 {
			return ext
		}
	}
	return ".mp3"
}

func removeQuietly(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
