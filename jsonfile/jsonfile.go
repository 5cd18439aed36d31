// Package jsonfile persists whole JSON documents. Every write rewrites the file
// and a missing file reads as os.ErrNotExist so callers can start empty.
package jsonfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/must"
)

type File[T any] struct {
	Path string
}

func At[T any](path string) File[T] {
	return File[T]{Path: path}
}

func (f File[T]) Read() (out *T, err error) {
	flawP := flaw.P{"file_path": f.Path}

	file, err := os.OpenFile(f.Path, os.O_RDONLY, 0o0644)
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return nil, os.ErrNotExist
		}
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to open json file for read: %v", err)).Append(flawP)
	}
	defer func() {
		if closeErr := file.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close json file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	var v T
	if err := json.NewDecoder(file).Decode(&v); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return nil, flaw.From(fmt.Errorf("failed to decode json file contents: %v", err)).Append(flawP)
	}

	return &v, nil
}

// Write replaces the file contents with v. The document is written to a uniquely
// named sibling temporary file first and renamed over the target, so readers
// never observe a half written file and concurrent writers never share one.
func (f File[T]) Write(v T) (err error) {
	flawP := flaw.P{"file_path": f.Path}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o0755); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to create json file directory: %v", err)).Append(flawP)
	}

	file, err := os.CreateTemp(filepath.Dir(f.Path), filepath.Base(f.Path)+".*.tmp")
	if nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to open json file for write: %v", err)).Append(flawP)
	}
	tmpPath := file.Name()
	flawP["tmp_file_path"] = tmpPath
	closed, renamed := false, false
	defer func() {
		if !renamed {
			_ = os.Remove(tmpPath)
		}
	}()
	defer func() {
		if closed {
			return
		}
		if closeErr := file.Close(); nil != closeErr {
			flawP["err_debug_tree"] = errutil.Tree(closeErr).FlawP()
			closeErr = flaw.From(fmt.Errorf("failed to close json file: %v", closeErr)).Append(flawP)
			if nil != err {
				err = must.BeFlaw(err).Join(closeErr)
			} else {
				err = closeErr
			}
		}
	}()

	if err := file.Chmod(0o0644); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to set json file mode: %v", err)).Append(flawP)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to encode json file contents: %v", err)).Append(flawP)
	}

	if err := file.Sync(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to sync json file: %v", err)).Append(flawP)
	}

	closed = true
	if err := file.Close(); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to close json file: %v", err)).Append(flawP)
	}

	if err := os.Rename(tmpPath, f.Path); nil != err {
		flawP["err_debug_tree"] = errutil.Tree(err).FlawP()
		return flaw.From(fmt.Errorf("failed to move json file into place: %v", err)).Append(flawP)
	}
	renamed = true

	return nil
}

// Remove deletes the file. A missing file is not an error.
func (f File[T]) Remove() error {
	if err := os.Remove(f.Path); nil != err && !errors.Is(err, os.ErrNotExist) {
		flawP := flaw.P{"file_path": f.Path, "err_debug_tree": errutil.Tree(err).FlawP()}
		return flaw.From(fmt.Errorf("failed to remove json file: %v", err)).Append(flawP)
	}
	return nil
}
