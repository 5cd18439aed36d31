package download

import (
	"context"
	"errors"
	"time"

	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/mathutil"
	"github.com/xeptore/melo/music"
)

// AlbumJob tracks a running album batch. Completed counts every finished
// track, failed ones included. A job is gone once it reaches 100% or is
// cancelled.
type AlbumJob struct {
	AlbumKey      string
	Total         int
	Completed     int
	Failed        int
	Progress      int
	IsDownloading bool
}

// StartAlbumDownload downloads tracks one after another with a short pause in
// between. It blocks until the batch finishes, is cancelled, or ctx is done.
func (o *Orchestrator) StartAlbumDownload(ctx context.Context, albumKey string, tracks []music.Track) error {
	o.mux.Lock()
	if _, ok := o.jobs[albumKey]; ok {
		o.mux.Unlock()
		return ErrAlbumInProgress
	}
	job := &AlbumJob{
		AlbumKey:      albumKey,
		Total:         len(tracks),
		Completed:     0,
		Failed:        0,
		Progress:      0,
		IsDownloading: true,
	}
	o.jobs[albumKey] = job
	o.mux.Unlock()

	logger := o.logger.With().Str("album_key", albumKey).Int("total", len(tracks)).Logger()
	logger.Info().Msg("Starting album download")

	if len(tracks) == 0 {
		o.dropJob(albumKey, job)
		return nil
	}

	for i, track := range tracks {
		if i > 0 {
			if err := sleep(ctx, o.pause()); nil != err {
				o.dropJob(albumKey, job)
				return err
			}
		}
		if !o.jobActive(albumKey, job) {
			logger.Info().Int("next_index", i).Msg("Album download cancelled")
			return nil
		}

		_, err := o.DownloadTrack(ctx, track, albumKey)
		failed := false
		if nil != err {
			switch {
			case errutil.IsContext(ctx):
				o.dropJob(albumKey, job)
				return ctx.Err()
			case errors.Is(err, ErrTrackInProgress):
				logger.Debug().Func(track.Log).Msg("Track already being downloaded, skipping")
			default:
				failed = true
				logger.Warn().Func(track.Log).Func(log.Flaw(err)).Msg("Failed to download album track")
			}
		}
		o.advance(albumKey, job, failed)
	}

	logger.Info().Msg("Album download finished")
	return nil
}

// CancelAlbumDownload removes the job. The batch stops before its next track;
// a track already downloading completes.
func (o *Orchestrator) CancelAlbumDownload(albumKey string) {
	o.mux.Lock()
	defer o.mux.Unlock()
	delete(o.jobs, albumKey)
}

// AlbumJob returns a snapshot of the running job for albumKey.
func (o *Orchestrator) AlbumJob(albumKey string) (AlbumJob, bool) {
	o.mux.Lock()
	defer o.mux.Unlock()
	job, ok := o.jobs[albumKey]
	if !ok {
		return AlbumJob{}, false //nolint:exhaustruct
	}
	return *job, true
}

func (o *Orchestrator) jobActive(albumKey string, job *AlbumJob) bool {
	o.mux.Lock()
	defer o.mux.Unlock()
	return o.jobs[albumKey] == job
}

func (o *Orchestrator) dropJob(albumKey string, job *AlbumJob) {
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.jobs[albumKey] == job {
		delete(o.jobs, albumKey)
	}
}

func (o *Orchestrator) advance(albumKey string, job *AlbumJob, failed bool) {
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.jobs[albumKey] != job {
		return
	}
	job.Completed++
	if failed {
		job.Failed++
	}
	job.Progress = mathutil.Percent(job.Completed, job.Total)
	if job.Completed >= job.Total {
		delete(o.jobs, albumKey)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
