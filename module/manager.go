// Package module owns the installed provider modules and routes every
// catalog call to the active one.
package module

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/provider"
)

type installed struct {
	kind   string
	module provider.Module
}

// Status describes an installed module.
type Status struct {
	provider.Info
	Kind   string `json:"kind"`
	Active bool   `json:"active"`
}

type Manager struct {
	registry  *Registry
	factories map[string]provider.Factory
	logger    zerolog.Logger

	mux     sync.RWMutex
	modules map[string]installed
	order   []string
	active  string
}

func NewManager(registry *Registry, factories map[string]provider.Factory, logger zerolog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		factories: factories,
		logger:    logger.With().Str("component", "module_manager").Logger(),
		mux:       sync.RWMutex{},
		modules:   make(map[string]installed),
		order:     nil,
		active:    "",
	}
}

// Init registers every persisted module and restores the persisted active
// module when it loaded, falling back to the first loaded one. Modules that
// fail to load are logged and skipped; a registry that cannot be read leaves
// the manager empty.
func (m *Manager) Init(ctx context.Context) {
	entries, err := m.registry.Entries()
	if nil != err {
		m.logger.Error().Func(log.Flaw(err)).Msg("Failed to read module registry. Continuing without modules")
		return
	}

	for _, entry := range entries {
		manifest, mod, err := evaluate(ctx, entry.Source, m.factories, m.logger)
		if nil != err {
			m.logger.Error().Err(err).Str("id", entry.ID).Msg("Failed to load installed module")
			continue
		}
		m.mux.Lock()
		m.registerLocked(manifest.ID, manifest.Kind, mod)
		m.mux.Unlock()
		m.logger.Debug().Str("id", manifest.ID).Str("kind", manifest.Kind).Msg("Loaded module")
	}

	saved, err := m.registry.Active()
	if nil != err {
		m.logger.Warn().Func(log.Flaw(err)).Msg("Failed to read active module")
		return
	}

	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.modules[saved]; ok {
		m.active = saved
	} else if saved != "" {
		m.logger.Warn().Str("id", saved).Str("active", m.active).Msg("Persisted active module did not load")
	}
}

func (m *Manager) registerLocked(id, kind string, mod provider.Module) {
	if prev, ok := m.modules[id]; ok {
		closeModule(prev.module)
	} else {
		m.order = append(m.order, id)
	}
	m.modules[id] = installed{kind: kind, module: mod}
	if m.active == "" {
		m.active = id
	}
}

func closeModule(mod provider.Module) {
	if c, ok := mod.(provider.Closer); ok {
		c.Close()
	}
}

// Install evaluates source, persists it and registers the module. It becomes
// the active module when none is active. Installing an id again replaces the
// previous module.
func (m *Manager) Install(ctx context.Context, source string) (*Status, error) {
	manifest, mod, err := evaluate(ctx, source, m.factories, m.logger)
	if nil != err {
		return nil, err
	}

	m.mux.Lock()
	defer m.mux.Unlock()

	if err := m.registry.Upsert(Entry{ID: manifest.ID, Source: source}); nil != err {
		closeModule(mod)
		return nil, err
	}
	m.registerLocked(manifest.ID, manifest.Kind, mod)
	if m.active == manifest.ID {
		if err := m.registry.SetActive(manifest.ID); nil != err {
			m.logger.Warn().Func(log.Flaw(err)).Str("id", manifest.ID).Msg("Failed to persist active module")
		}
	}
	m.logger.Info().Str("id", manifest.ID).Str("kind", manifest.Kind).Msg("Installed module")

	return &Status{Info: mod.Info(), Kind: manifest.Kind, Active: m.active == manifest.ID}, nil
}

// Uninstall removes id from memory and from the registry. When id was active
// the first remaining module in install order becomes active.
func (m *Manager) Uninstall(_ context.Context, id string) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	inst, ok := m.modules[id]
	if !ok {
		return ErrModuleNotFound
	}

	order := slices.DeleteFunc(slices.Clone(m.order), func(v string) bool { return v == id })
	active := m.active
	if active == id {
		active = ""
		if len(order) > 0 {
			active = order[0]
		}
	}
	if err := m.registry.Remove(id, active); nil != err {
		return err
	}

	delete(m.modules, id)
	m.order = order
	m.active = active
	closeModule(inst.module)

	m.logger.Info().Str("id", id).Str("active", m.active).Msg("Uninstalled module")
	return nil
}

// SetActive makes id the active module, here and in later processes.
func (m *Manager) SetActive(id string) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if _, ok := m.modules[id]; !ok {
		return ErrModuleNotFound
	}
	if err := m.registry.SetActive(id); nil != err {
		return err
	}
	m.active = id
	return nil
}

// Active returns the active module, or nil when there is none.
func (m *Manager) Active() provider.Module {
	m.mux.RLock()
	defer m.mux.RUnlock()

	if m.active == "" {
		return nil
	}
	return m.modules[m.active].module
}

// List returns installed modules in install order.
func (m *Manager) List() []Status {
	m.mux.RLock()
	defer m.mux.RUnlock()

	out := make([]Status, 0, len(m.order))
	for _, id := range m.order {
		inst := m.modules[id]
		out = append(out, Status{Info: inst.module.Info(), Kind: inst.kind, Active: id == m.active})
	}
	return out
}

// Close releases background resources held by installed modules.
func (m *Manager) Close() {
	m.mux.Lock()
	defer m.mux.Unlock()

	for _, inst := range m.modules {
		closeModule(inst.module)
	}
}

func (m *Manager) activeModule() (provider.Module, error) {
	if mod := m.Active(); nil != mod {
		return mod, nil
	}
	return nil, ErrNoActiveModule
}

func (m *Manager) SearchTracks(ctx context.Context, query string, limit int) (*provider.SearchResult, error) {
	mod, err := m.activeModule()
	if nil != err {
		return nil, err
	}
	return mod.SearchTracks(ctx, query, limit)
}

func (m *Manager) TrackStreamURL(ctx context.Context, id, quality string) (*provider.Stream, error) {
	mod, err := m.activeModule()
	if nil != err {
		return nil, err
	}
	return mod.TrackStreamURL(ctx, id, quality)
}

func (m *Manager) Album(ctx context.Context, id string) (*provider.AlbumResult, error) {
	mod, err := m.activeModule()
	if nil != err {
		return nil, err
	}
	getter, ok := mod.(provider.AlbumGetter)
	if !ok {
		return nil, &CapabilityNotSupportedError{Module: mod.Info().ID, Operation: "album"}
	}
	return getter.Album(ctx, id)
}

func (m *Manager) Artist(ctx context.Context, id string) (*provider.ArtistResult, error) {
	mod, err := m.activeModule()
	if nil != err {
		return nil, err
	}
	getter, ok := mod.(provider.ArtistGetter)
	if !ok {
		return nil, &CapabilityNotSupportedError{Module: mod.Info().ID, Operation: "artist"}
	}
	return getter.Artist(ctx, id)
}

// ActiveID returns the id of the active module, or an empty string.
func (m *Manager) ActiveID() string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return m.active
}
