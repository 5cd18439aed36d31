package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/constant"
	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/must"
)

type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	report  func(written, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if nil != p.report && n > 0 {
		p.report(p.written, p.total)
	}
	return n, err
}

// fetchFile streams url into path and returns the number of bytes written.
// Bodies smaller than minSize are removed and reported as
// *InvalidPayloadError; non 2xx responses as *StatusError.
func fetchFile(ctx context.Context, timeout time.Duration, url, path string, minSize int64, report func(written, total int64)) (size int64, err error) {
	flawP := flaw.P{"url": url, "file_path": path}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if nil != err {
		if errutil.IsContext(ctx) {
			return 0, ctx.Err()
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return 0, flaw.From(fmt.Errorf("failed to create download request: %v", err)).Append(flawP)
	}
	req.Header.Set("User-Agent", constant.UserAgent())

	client := http.Client{Timeout: timeout} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return 0, ctx.Err()
		case errutil.IsTimeout(err):
			return 0, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
			return 0, flaw.From(fmt.Errorf("failed to send download request: %v", err)).Append(flawP)
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close download response body: %v", closeErr)).Append(flawP)
			switch {
			case nil == err:
				err = closeErr
			case errutil.IsFlaw(err):
				err = must.BeFlaw(err).Join(closeErr)
			}
		}
	}()

	if code := resp.StatusCode; code < 200 || code >= 300 {
		return 0, &StatusError{Code: code}
	}

	total, _ := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0644)
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return 0, flaw.From(fmt.Errorf("failed to create download file: %v", err)).Append(flawP)
	}

	pw := &progressWriter{w: f, written: 0, total: total, report: report}
	size, copyErr := io.Copy(pw, resp.Body)
	if closeErr := f.Close(); nil != closeErr && nil == copyErr {
		copyErr = closeErr
	}
	if nil != copyErr {
		_ = os.Remove(path)
		switch {
		case errutil.IsContext(ctx):
			return 0, ctx.Err()
		case errutil.IsTimeout(copyErr):
			return 0, context.DeadlineExceeded
		default:
			flawP["err_debug_tree"] = errutil.Tree(copyErr).FlawP()
			return 0, flaw.From(fmt.Errorf("failed to write download file: %v", copyErr)).Append(flawP)
		}
	}

	if size < minSize {
		_ = os.Remove(path)
		return size, &InvalidPayloadError{Size: size, Min: minSize}
	}

	return size, nil
}
