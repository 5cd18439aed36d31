package spotdl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/httputil"
	"github.com/xeptore/melo/provider"
)

var (
	errStillProcessing = errors.New("downloader is still processing the track")
	// ErrDownloaderFailed is returned when the downloader gives up on a track.
	ErrDownloaderFailed = errors.New("downloader failed to prepare the track")
)

func (m *Module) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.pollInterval
	b.Multiplier = 1.5
	b.MaxInterval = config.DownloaderPollMaxInterval
	b.MaxElapsedTime = config.DownloaderPollTimeout
	return b
}

// TrackStreamURL asks the downloader for a link to the Spotify track and
// polls while the downloader reports that it is still preparing it. Quality
// is decided by the downloader.
func (m *Module) TrackStreamURL(ctx context.Context, id, _ string) (*provider.Stream, error) {
	params := url.Values{"url": {fmt.Sprintf(trackLinkFormat, id)}}
	reqURL := m.downloaderURL + "/api/download?" + params.Encode()

	var streamURL string
	operation := func() error {
		body, err := httputil.Get(ctx, config.StreamURLRequestTimeout, reqURL, nil)
		if nil != err {
			switch {
			case errors.Is(err, httputil.ErrTooManyRequests):
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		res := gjson.ParseBytes(body)
		switch status := strings.ToLower(res.Get("status").String()); status {
		case "processing", "queued", "pending":
			return errStillProcessing
		case "error", "failed":
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrDownloaderFailed, res.Get("message").String()))
		default:
			link := res.Get("url").String()
			if link == "" {
				link = res.Get("link").String()
			}
			if link == "" {
				return backoff.Permanent(flaw.From(errors.New("downloader response has no link")).Append(flaw.P{"status": status, "response_body": string(body)}))
			}
			streamURL = link
			return nil
		}
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Debug().Err(err).Str("track_id", id).Dur("wait", wait).Msg("Waiting for downloader")
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(m.newBackoff(), ctx), notify); nil != err {
		if nil != ctx.Err() {
			return nil, ctx.Err()
		}
		if errors.Is(err, errStillProcessing) {
			return nil, context.DeadlineExceeded
		}
		return nil, err
	}
	return &provider.Stream{URL: streamURL, Track: provider.Candidate{ID: id, AudioQuality: "MP3"}}, nil
}
