package module

import (
	"errors"
	"os"
	"slices"
	"sync"

	"github.com/xeptore/melo/jsonfile"
)

// Entry is a persisted installed module.
type Entry struct {
	ID     string `json:"id"`
	Source string `json:"source"`
}

type registryDocument struct {
	Active  string  `json:"active,omitempty"`
	Modules []Entry `json:"modules"`
}

// Registry is the installed modules file, in install order, along with the
// id of the module last made active. Every method reads and rewrites the
// whole file under the registry lock.
type Registry struct {
	file jsonfile.File[registryDocument]
	mux  sync.Mutex
}

func NewRegistry(path string) *Registry {
	return &Registry{
		file: jsonfile.At[registryDocument](path),
		mux:  sync.Mutex{},
	}
}

func (r *Registry) readLocked() (registryDocument, error) {
	doc, err := r.file.Read()
	if nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return registryDocument{Active: "", Modules: nil}, nil
		}
		return registryDocument{}, err //nolint:exhaustruct
	}
	return *doc, nil
}

// Entries returns every persisted entry. A missing file has none.
func (r *Registry) Entries() ([]Entry, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	doc, err := r.readLocked()
	if nil != err {
		return nil, err
	}
	return doc.Modules, nil
}

// Active returns the persisted active module id, or an empty string.
func (r *Registry) Active() (string, error) {
	r.mux.Lock()
	defer r.mux.Unlock()

	doc, err := r.readLocked()
	if nil != err {
		return "", err
	}
	return doc.Active, nil
}

// SetActive persists id as the active module. An empty id clears it.
func (r *Registry) SetActive(id string) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	doc, err := r.readLocked()
	if nil != err {
		return err
	}
	if doc.Active == id {
		return nil
	}
	doc.Active = id
	return r.file.Write(doc)
}

// Upsert replaces the entry with the same id in place, or appends e.
func (r *Registry) Upsert(e Entry) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	doc, err := r.readLocked()
	if nil != err {
		return err
	}
	if i := slices.IndexFunc(doc.Modules, func(v Entry) bool { return v.ID == e.ID }); i >= 0 {
		doc.Modules[i] = e
	} else {
		doc.Modules = append(doc.Modules, e)
	}
	return r.file.Write(doc)
}

// Remove deletes the entry for id and records active as the active module.
// The file is removed once no entry is left.
func (r *Registry) Remove(id, active string) error {
	r.mux.Lock()
	defer r.mux.Unlock()

	doc, err := r.readLocked()
	if nil != err {
		return err
	}
	doc.Modules = slices.DeleteFunc(doc.Modules, func(v Entry) bool { return v.ID == id })
	if len(doc.Modules) == 0 {
		return r.file.Remove()
	}
	doc.Active = active
	return r.file.Write(doc)
}
