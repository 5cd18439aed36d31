package module

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/melo/provider"
)

// Manifest is the installable description of a module. Kind selects one of
// the compiled in provider implementations and Settings is handed to it.
type Manifest struct {
	ID       string    `yaml:"id"`
	Name     string    `yaml:"name"`
	Version  string    `yaml:"version"`
	Kind     string    `yaml:"kind"`
	Settings yaml.Node `yaml:"settings"`
}

func (m *Manifest) Info() provider.Info {
	return provider.Info{
		ID:      m.ID,
		Name:    m.Name,
		Version: m.Version,
	}
}

// ParseManifest expands ${VAR} references from the environment and decodes
// source. A manifest without an id is rejected.
func ParseManifest(source string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(source)), &m); nil != err {
		return nil, &InstallError{Reason: "module source is not a valid manifest", Err: err}
	}
	m.ID = strings.TrimSpace(m.ID)
	m.Kind = strings.TrimSpace(m.Kind)
	if m.ID == "" {
		return nil, &InstallError{Reason: "module manifest has no id"}
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if m.Settings.Kind == 0 {
		m.Settings = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}
	return &m, nil
}

// evaluate turns a module source into a live module.
func evaluate(ctx context.Context, source string, factories map[string]provider.Factory, logger zerolog.Logger) (*Manifest, provider.Module, error) {
	manifest, err := ParseManifest(source)
	if nil != err {
		return nil, nil, err
	}
	factory, ok := factories[manifest.Kind]
	if !ok {
		return nil, nil, &InstallError{Reason: "unknown module kind " + strconv.Quote(manifest.Kind)}
	}
	mod, err := factory(ctx, manifest.Info(), &manifest.Settings, logger)
	if nil != err {
		return nil, nil, &InstallError{Reason: "invalid module settings", Err: err}
	}
	return manifest, mod, nil
}
