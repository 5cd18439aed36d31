package errutil

import (
	"context"
	"errors"
	"fmt"
	"net"
)

func IsAny(err error, target error, targets ...error) (error, bool) {
	if errors.Is(err, target) {
		return target, true
	}
	for _, t := range targets {
		if errors.Is(err, t) {
			return t, true
		}
	}
	return nil, false
}

func IsContext(ctx context.Context) bool {
	err := ctx.Err()
	return nil != err && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

// IsTimeout reports client-side timeouts, including http.Client.Timeout and
// dialer timeouts, which do not always unwrap to context.DeadlineExceeded.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// UnknownError describes an error that fell through every expected case of a
// triage switch. It is meant to be panicked with.
func UnknownError(err error) string {
	return fmt.Sprintf("unhandled error of type %T: %v", err, err)
}
