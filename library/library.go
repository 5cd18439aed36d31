// Package library files downloaded tracks into the local music directory
// and keeps a catalog of them.
package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/jsonfile"
	"github.com/xeptore/melo/must"
	"github.com/xeptore/melo/music"
)

const (
	unknownArtist = "Unknown Artist"
	unknownAlbum  = "Unknown Album"
	coverFileName = "cover.jpg"
)

// Adder takes ownership of a downloaded file.
type Adder interface {
	Add(ctx context.Context, track music.Track, sourcePath, originalName string) (*music.Track, error)
}

type Entry struct {
	Track        music.Track `json:"track"`
	Path         string      `json:"path"`
	OriginalName string      `json:"original_name"`
	AddedAt      time.Time   `json:"added_at"`
}

type Library struct {
	dir     string
	catalog jsonfile.File[[]Entry]
	now     func() time.Time
	logger  zerolog.Logger
	mux     sync.Mutex
}

func New(dir, catalogPath string, logger zerolog.Logger) *Library {
	return &Library{
		dir:     dir,
		catalog: jsonfile.At[[]Entry](catalogPath),
		now:     time.Now,
		logger:  logger.With().Str("component", "library").Logger(),
		mux:     sync.Mutex{},
	}
}

var unsafeChars = strings.NewReplacer(
	"/", "_",
	`\`, "_",
	":", "_",
	"*", "_",
	"?", "_",
	`"`, "_",
	"<", "_",
	">", "_",
	"|", "_",
)

func sanitize(s, fallback string) string {
	s = strings.TrimSpace(unsafeChars.Replace(s))
	s = strings.Trim(s, ".")
	if s == "" {
		return fallback
	}
	return s
}

func fileURI(path string) string {
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

// Add moves sourcePath to <dir>/<artist>/<album>/<name><ext>, where ext is
// taken from originalName, and records it in the catalog. Adding a track id
// again replaces its previous entry.
func (l *Library) Add(ctx context.Context, track music.Track, sourcePath, originalName string) (*music.Track, error) {
	if err := ctx.Err(); nil != err {
		return nil, err
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	ext := strings.ToLower(filepath.Ext(originalName))
	destDir := filepath.Join(l.dir, sanitize(track.Artist, unknownArtist), sanitize(track.Album, unknownAlbum))
	destPath := filepath.Join(destDir, sanitize(track.Name, "Untitled")+ext)
	flawP := flaw.P{"source_path": sourcePath, "dest_path": destPath}

	if err := os.MkdirAll(destDir, 0o0755); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create library directory: %v", err)).Append(flawP)
	}
	if err := moveFile(sourcePath, destPath); nil != err {
		return nil, must.BeFlaw(err).Append(flawP)
	}

	owned := track
	owned.URI = fileURI(destPath)
	owned.IsStreaming = false
	if owned.ID == "" {
		owned.ID = owned.ProviderTrackID
	}
	if owned.ID == "" {
		owned.ID = uuid.NewString()
	}

	entries, err := l.entries()
	if nil != err {
		return nil, err
	}
	entries = slices.DeleteFunc(entries, func(e Entry) bool { return e.Track.ID == owned.ID })
	entries = append(entries, Entry{Track: owned, Path: destPath, OriginalName: originalName, AddedAt: l.now()})
	if err := l.catalog.Write(entries); nil != err {
		return nil, err
	}

	l.logger.Info().Str("id", owned.ID).Str("path", destPath).Msg("Added track to library")
	return &owned, nil
}

func (l *Library) entries() ([]Entry, error) {
	entries, err := l.catalog.Read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return *entries, nil
}

// Entries returns the catalog in the order tracks were added.
func (l *Library) Entries() ([]Entry, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	return l.entries()
}

// moveFile renames src to dst, copying when a rename is not possible, for
// example across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); nil == err {
		return nil
	}
	if err := copyFile(src, dst); nil != err {
		return err
	}
	if err := os.Remove(src); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to remove moved file: %v", err)).Append(flawP)
	}
	return nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to open downloaded file: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := in.Close(); nil != closeErr {
			flawP := flaw.P{"err_debug_tree": errutil.Tree(closeErr).FlawP()}
			closeErr = flaw.From(fmt.Errorf("failed to close downloaded file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create library file: %v", err)).Append(flawP)
	}
	if _, err := io.Copy(out, in); nil != err {
		_ = out.Close()
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to copy into library file: %v", err)).Append(flawP)
	}
	if err := out.Close(); nil != err {
		flawP := flaw.P{"err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to close library file: %v", err)).Append(flawP)
	}
	return nil
}

// SetCover moves sourcePath to cover.jpg in the album directory of track.
// An existing cover is kept and sourcePath is left for the caller to remove.
func (l *Library) SetCover(ctx context.Context, track music.Track, sourcePath string) error {
	if err := ctx.Err(); nil != err {
		return err
	}

	l.mux.Lock()
	defer l.mux.Unlock()

	destDir := filepath.Join(l.dir, sanitize(track.Artist, unknownArtist), sanitize(track.Album, unknownAlbum))
	destPath := filepath.Join(destDir, coverFileName)
	if _, err := os.Stat(destPath); nil == err {
		return nil
	}
	if err := os.MkdirAll(destDir, 0o0755); nil != err {
		flawP := flaw.P{"dest_path": destPath, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to create library directory: %v", err)).Append(flawP)
	}
	if err := moveFile(sourcePath, destPath); nil != err {
		return must.BeFlaw(err).Append(flaw.P{"source_path": sourcePath, "dest_path": destPath})
	}
	l.logger.Debug().Str("path", destPath).Msg("Stored album cover")
	return nil
}
