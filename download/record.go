package download

import (
	"errors"
	"os"
	"slices"
	"time"

	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/music"
)

type RecentDownload struct {
	TrackID      string    `json:"track_id"`
	Name         string    `json:"name"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	URI          string    `json:"uri"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// Record is the persisted downloads document. Recent is newest first.
type Record struct {
	Downloaded []string         `json:"downloaded"`
	Recent     []RecentDownload `json:"recent"`
}

func (o *Orchestrator) loadLocked() {
	if o.loaded {
		return
	}
	o.loaded = true

	rec, err := o.record.Read()
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			o.logger.Warn().Func(log.Flaw(err)).Msg("Failed to load downloads record, starting empty")
		}
		return
	}
	for _, id := range rec.Downloaded {
		if _, ok := o.downloaded[id]; !ok {
			o.downloaded[id] = struct{}{}
			o.downloadedOrder = append(o.downloadedOrder, id)
		}
	}
	o.recent = rec.Recent
}

func (o *Orchestrator) markDownloadedLocked(key string, owned music.Track) error {
	for _, id := range []string{key, owned.ID} {
		if _, ok := o.downloaded[id]; ok || id == "" {
			continue
		}
		o.downloaded[id] = struct{}{}
		o.downloadedOrder = append(o.downloadedOrder, id)
	}
	o.transient[key] = owned.URI
	o.transient[owned.ID] = owned.URI

	recent := RecentDownload{
		TrackID:      owned.ID,
		Name:         owned.Name,
		Artist:       owned.Artist,
		Album:        owned.Album,
		URI:          owned.URI,
		DownloadedAt: o.now(),
	}
	o.recent = slices.DeleteFunc(o.recent, func(r RecentDownload) bool { return r.TrackID == owned.ID })
	o.recent = slices.Insert(o.recent, 0, recent)
	if len(o.recent) > o.recentSize {
		o.recent = o.recent[:o.recentSize]
	}

	return o.record.Write(o.snapshotLocked())
}

func (o *Orchestrator) snapshotLocked() Record {
	return Record{
		Downloaded: slices.Clone(o.downloadedOrder),
		Recent:     slices.Clone(o.recent),
	}
}

// Record returns a copy of the downloads record.
func (o *Orchestrator) Record() Record {
	o.mux.Lock()
	defer o.mux.Unlock()
	o.loadLocked()
	return o.snapshotLocked()
}

func (o *Orchestrator) IsDownloaded(id string) bool {
	o.mux.Lock()
	defer o.mux.Unlock()
	o.loadLocked()
	_, ok := o.downloaded[id]
	return ok
}

// TransientURI returns the local URI of a track downloaded during this
// process lifetime, so it can be played before the library catalog is
// reloaded.
func (o *Orchestrator) TransientURI(id string) (string, bool) {
	o.mux.Lock()
	defer o.mux.Unlock()
	uri, ok := o.transient[id]
	return uri, ok
}
