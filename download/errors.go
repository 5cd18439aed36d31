package download

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAlbumInProgress = errors.New("album download already in progress")
	ErrTrackInProgress = errors.New("track download already in progress")
	ErrUnplayable      = errors.New("no playable stream found for track")
)

// InvalidPayloadError is returned when the downloaded bytes are too small to
// be audio, which usually means the stream link expired and the server
// answered with an error page or an empty body.
type InvalidPayloadError struct {
	Size int64
	Min  int64
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("downloaded payload of %d bytes is below the %d bytes minimum", e.Size, e.Min)
}

// StatusError is returned when a stream URL answers with a non 2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected stream response status: %d %s", e.Code, http.StatusText(e.Code))
}

func needsRefresh(err error) bool {
	var (
		payloadErr *InvalidPayloadError
		statusErr  *StatusError
	)
	return errors.As(err, &payloadErr) || errors.As(err, &statusErr)
}
