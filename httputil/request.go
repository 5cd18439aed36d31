package httputil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/constant"
	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/must"
)

var (
	ErrTooManyRequests = errors.New("too many requests")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
)

// Fetch sends a request built from method, url and body with its own client
// timeout and returns the full body of a 2xx response. 401, 404 and 429 map to
// the package sentinels; any other status is a flaw carrying the response.
func Fetch(ctx context.Context, timeout time.Duration, method, url string, header http.Header, body io.Reader) (b []byte, err error) {
	flawP := flaw.P{"method": method, "url": errutil.RedactURL(url)}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to create request: %v", err)).Append(flawP)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", constant.UserAgent())
	}

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, ctx.Err()
		case errutil.IsTimeout(err):
			return nil, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return nil, flaw.From(fmt.Errorf("failed to send request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()
	flawP["response"] = errutil.HTTPResponseFlawPayload(resp)

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return nil, ErrUnauthorized
	case code == http.StatusNotFound:
		return nil, ErrNotFound
	case code == http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	default:
		respBytes, err := ReadOptionalResponseBody(ctx, resp)
		if nil != err {
			return nil, err
		}
		flawP["response_body"] = string(respBytes)
		return nil, flaw.From(fmt.Errorf("unexpected status code: %d", code)).Append(flawP)
	}

	return ReadResponseBody(ctx, resp)
}

func Get(ctx context.Context, timeout time.Duration, url string, header http.Header) ([]byte, error) {
	return Fetch(ctx, timeout, http.MethodGet, url, header, nil)
}

// IsExpected reports errors that Fetch returns for well understood conditions,
// as opposed to flaws.
func IsExpected(err error) bool {
	_, ok := errutil.IsAny(err, ErrTooManyRequests, ErrNotFound, ErrUnauthorized, context.DeadlineExceeded, context.Canceled)
	return ok
}
