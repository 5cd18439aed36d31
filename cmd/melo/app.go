package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/xeptore/melo/artwork"
	"github.com/xeptore/melo/cache"
	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/download"
	"github.com/xeptore/melo/library"
	"github.com/xeptore/melo/log"
	"github.com/xeptore/melo/module"
	"github.com/xeptore/melo/provider"
	"github.com/xeptore/melo/provider/spotdl"
	"github.com/xeptore/melo/provider/subsonic"
	"github.com/xeptore/melo/provider/tidalproxy"
	"github.com/xeptore/melo/resolve"
	"github.com/xeptore/melo/streamcache"
)

var factories = map[string]provider.Factory{
	tidalproxy.Kind: tidalproxy.Factory,
	subsonic.Kind:   subsonic.Factory,
	spotdl.Kind:     spotdl.Factory,
}

type app struct {
	config  *config.Config
	logger  zerolog.Logger
	cache   *cache.Cache
	modules *module.Manager
	streams *streamcache.Store
	engine  *resolve.Engine
	library *library.Library
	orch    *download.Orchestrator
}

func loadConfig(cliCtx *cli.Context) (*config.Config, error) {
	cfgEnv := os.Getenv("CONFIG")
	cfgFilePath := cliCtx.String(flagConfigFilePath)
	switch {
	case cfgFilePath != "" && cfgEnv != "":
		return nil, errors.New("config file path and config environment variable are both set. specify only one")
	case cfgFilePath == "" && cfgEnv == "":
		return nil, errors.New("config file path and config environment variable are both empty. specify one")
	case cfgFilePath != "":
		cfg, err := config.FromFile(cfgFilePath)
		if nil != err {
			return nil, fmt.Errorf("failed to load config file: %v", err)
		}
		return cfg, nil
	default:
		cfg, err := config.FromString(cfgEnv)
		if nil != err {
			return nil, fmt.Errorf("failed to load config from environment variable: %v", err)
		}
		return cfg, nil
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	for _, dir := range []string{cfg.DataDir, cfg.LibraryDir} {
		if err := os.MkdirAll(dir, 0o0755); nil != err {
			return nil, fmt.Errorf("failed to create directory %q: %v", dir, err)
		}
	}

	c := cache.New()
	modules := module.NewManager(module.NewRegistry(cfg.ModuleRegistryPath()), factories, logger)
	modules.Init(ctx)

	streams := streamcache.New(cfg.StreamCachePath(), logger)
	streams.Load()

	engine := resolve.New(modules, streams, resolve.Options{
		PreferredQuality: cfg.PreferredQuality,
		SearchLimit:      cfg.SearchLimit,
		Artwork:          artwork.New(cfg.LastFMAPIKey, &c.Artwork, logger),
	}, logger)

	lib := library.New(cfg.LibraryDir, cfg.LibraryCatalogPath(), logger)

	var (
		progressMux sync.Mutex
		lastPercent = make(map[string]int)
	)
	orch := download.New(engine, lib, download.Options{
		RecordPath:      cfg.DownloadsPath(),
		TempDir:         filepath.Join(cfg.DataDir, "tmp"),
		MinPayloadBytes: cfg.MinPayloadBytes,
		RecentSize:      config.DefaultRecentDownloadsSize,
		Pause:           nil,
		OnProgress: func(p download.Progress) {
			progressMux.Lock()
			defer progressMux.Unlock()
			if p.Percent/25 == lastPercent[p.TrackID]/25 && p.Percent != 100 {
				return
			}
			lastPercent[p.TrackID] = p.Percent
			logger.Info().Str("track", p.TrackID).Int("percent", p.Percent).Int64("bytes", p.Written).Msg("Downloading")
		},
	}, logger)
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "tmp"), 0o0755); nil != err {
		return nil, fmt.Errorf("failed to create download temp directory: %v", err)
	}

	return &app{
		config:  cfg,
		logger:  logger,
		cache:   c,
		modules: modules,
		streams: streams,
		engine:  engine,
		library: lib,
		orch:    orch,
	}, nil
}

func (a *app) Close() {
	a.modules.Close()
	a.cache.Close()
}

// withApp loads config, wires every component and runs fn with a context that
// is cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, cliCtx *cli.Context, a *app) error) cli.ActionFunc {
	return func(cliCtx *cli.Context) (err error) {
		ctx, cancel := signal.NotifyContext(cliCtx.Context, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		cfg, err := loadConfig(cliCtx)
		if nil != err {
			return err
		}

		logger, err := log.New(os.Stderr, cfg.LogFormat, cfg.LogLevel)
		if nil != err {
			return fmt.Errorf("failed to create logger: %v", err)
		}

		a, err := newApp(ctx, cfg, logger)
		if nil != err {
			return err
		}
		defer a.Close()
		defer func() {
			if r := recover(); nil != r {
				logger.Error().Func(log.Panic(r)).Msg("Command panicked")
				err = errors.New("command panicked")
			}
		}()

		return fn(ctx, cliCtx, a)
	}
}
