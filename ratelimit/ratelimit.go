package ratelimit

import (
	"math/rand/v2"
	"time"
)

const (
	// DefaultRequestsPerMinute caps calls to a single proxy cluster.
	DefaultRequestsPerMinute = 40
	// DefaultRequestSpacing is the minimum gap between two consecutive proxy calls.
	DefaultRequestSpacing = 250 * time.Millisecond
)

// AlbumTrackPause returns a randomized pause taken between two tracks of an
// album batch, between 1 and 3 seconds.
func AlbumTrackPause() time.Duration {
	return Between(time.Second, 3*time.Second)
}

// Between returns a random duration in the half-open range [from, to).
func Between(from, to time.Duration) time.Duration {
	if to <= from {
		return from
	}
	return from + rand.N(to-from) //nolint:gosec
}
