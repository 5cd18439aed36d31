package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/xeptore/melo/ptr"
)

const (
	ModuleRegistryFileName = "modules.json"
	StreamCacheFileName    = "stream_cache.json"
	DownloadsFileName      = "downloads.json"
	LibraryCatalogFileName = "library.json"
)

type Config struct {
	DataDir          string `json:"data_dir"          yaml:"data_dir"`
	LibraryDir       string `json:"library_dir"       yaml:"library_dir"`
	StreamingEnabled *bool  `json:"streaming_enabled" yaml:"streaming_enabled"`
	PreferredQuality string `json:"preferred_quality" yaml:"preferred_quality"`
	SearchLimit      int    `json:"search_limit"      yaml:"search_limit"`
	MinPayloadBytes  int64  `json:"min_payload_bytes" yaml:"min_payload_bytes"`
	LastFMAPIKey     string `json:"lastfm_api_key"    yaml:"lastfm_api_key"`
	LogLevel         string `json:"log_level"         yaml:"log_level"`
	LogFormat        string `json:"log_format"        yaml:"log_format"`
}

func (cfg *Config) validate() error {
	if cfg.DataDir == "" {
		return errors.New("data dir is empty")
	}

	if cfg.LibraryDir == "" {
		return errors.New("library dir is empty")
	}

	if cfg.SearchLimit < 0 {
		return fmt.Errorf("search limit must not be negative, got %d", cfg.SearchLimit)
	}

	if cfg.MinPayloadBytes < 0 {
		return fmt.Errorf("min payload bytes must not be negative, got %d", cfg.MinPayloadBytes)
	}

	return nil
}

func (cfg *Config) applyDefaults() {
	if cfg.PreferredQuality == "" {
		cfg.PreferredQuality = DefaultPreferredQuality
	}
	if cfg.SearchLimit == 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.MinPayloadBytes == 0 {
		cfg.MinPayloadBytes = DefaultMinPayloadBytes
	}
	if nil == cfg.StreamingEnabled {
		cfg.StreamingEnabled = ptr.Of(true)
	}
	if cfg.LastFMAPIKey == "" {
		cfg.LastFMAPIKey = os.Getenv("LASTFM_API_KEY")
	}
}

func (cfg *Config) Streaming() bool {
	return ptr.ValueOr(cfg.StreamingEnabled, false)
}

func (cfg *Config) ModuleRegistryPath() string {
	return filepath.Join(cfg.DataDir, ModuleRegistryFileName)
}

func (cfg *Config) StreamCachePath() string {
	return filepath.Join(cfg.DataDir, StreamCacheFileName)
}

func (cfg *Config) DownloadsPath() string {
	return filepath.Join(cfg.DataDir, DownloadsFileName)
}

func (cfg *Config) LibraryCatalogPath() string {
	return filepath.Join(cfg.DataDir, LibraryCatalogFileName)
}

func FromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if nil != err {
		return nil, fmt.Errorf("failed to read config file %q: %v", filePath, err)
	}

	cfg, err := parse(data)
	if nil != err {
		return nil, fmt.Errorf("config file %q: %v", filePath, err)
	}
	return cfg, nil
}

func FromString(data string) (*Config, error) {
	return parse([]byte(data))
}

func parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); nil != err {
		return nil, fmt.Errorf("failed to unmarshal config: %v", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); nil != err {
		return nil, fmt.Errorf("validation failed: %v", err)
	}

	return &cfg, nil
}
