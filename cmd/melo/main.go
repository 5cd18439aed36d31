package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"github.com/xeptore/flaw/v8"

	"github.com/xeptore/melo/constant"
	"github.com/xeptore/melo/errutil"
	"github.com/xeptore/melo/log"
)

const (
	flagConfigFilePath = "config"
	flagDebug          = "debug"
	flagName           = "name"
	flagArtist         = "artist"
	flagAlbum          = "album"
	flagID             = "id"
	flagLimit          = "limit"
)

func main() {
	logger := log.NewPretty(os.Stderr).Level(zerolog.TraceLevel)
	if err := godotenv.Load(); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug().Msg(".env file was not found")
		} else {
			logger.Fatal().Err(err).Msg("Failed to load .env file")
		}
	}

	var debug bool
	trackFlags := []cli.Flag{
		//nolint:exhaustruct
		&cli.StringFlag{Name: flagName, Aliases: []string{"n"}, Usage: "Track title", Required: true},
		//nolint:exhaustruct
		&cli.StringFlag{Name: flagArtist, Aliases: []string{"a"}, Usage: "Track artist"},
		//nolint:exhaustruct
		&cli.StringFlag{Name: flagAlbum, Usage: "Album title"},
	}

	//nolint:exhaustruct
	app := &cli.App{
		Name:     constant.AppName,
		Version:  constant.Version,
		Compiled: constant.CompileTime,
		Suggest:  true,
		Usage:    "Music streaming and download resolver",
		Flags: []cli.Flag{
			//nolint:exhaustruct
			&cli.StringFlag{
				Name:    flagConfigFilePath,
				Aliases: []string{"c"},
				Usage:   "Config file path. CONFIG environment variable is used when empty",
			},
			//nolint:exhaustruct
			&cli.BoolFlag{
				Name:        flagDebug,
				Usage:       "Print full error details",
				Destination: &debug,
			},
		},
		Commands: []*cli.Command{
			//nolint:exhaustruct
			{
				Name:  "module",
				Usage: "Manage provider modules",
				Subcommands: []*cli.Command{
					//nolint:exhaustruct
					{Name: "install", Usage: "Install a module from a manifest file", ArgsUsage: "<manifest.yaml>", Action: withApp(moduleInstall)},
					//nolint:exhaustruct
					{Name: "list", Aliases: []string{"ls"}, Usage: "List installed modules", Action: withApp(moduleList)},
					//nolint:exhaustruct
					{Name: "use", Usage: "Make a module active", ArgsUsage: "<id>", Action: withApp(moduleUse)},
					//nolint:exhaustruct
					{Name: "uninstall", Aliases: []string{"rm"}, Usage: "Uninstall a module", ArgsUsage: "<id>", Action: withApp(moduleUninstall)},
				},
			},
			//nolint:exhaustruct
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Search tracks with the active module",
				ArgsUsage: "<query>",
				Action:    withApp(search),
				Flags: []cli.Flag{
					//nolint:exhaustruct
					&cli.IntFlag{Name: flagLimit, Aliases: []string{"l"}, Usage: "Maximum number of results"},
				},
			},
			//nolint:exhaustruct
			{Name: "resolve", Usage: "Find a verified stream for a track", Action: withApp(resolveTrack), Flags: trackFlags},
			//nolint:exhaustruct
			{
				Name:   "play",
				Usage:  "Print the playable form of a track",
				Action: withApp(playable),
				Flags: append(trackFlags,
					//nolint:exhaustruct
					&cli.StringFlag{Name: flagID, Usage: "Provider track id"},
				),
			},
			//nolint:exhaustruct
			{Name: "refresh", Usage: "Refresh the stream of a cached provider track", ArgsUsage: "<provider-id>", Action: withApp(refresh)},
			//nolint:exhaustruct
			{
				Name:    "download",
				Aliases: []string{"d"},
				Usage:   "Download a track into the library",
				Action:  withApp(downloadTrack),
				Flags: append(trackFlags,
					//nolint:exhaustruct
					&cli.StringFlag{Name: flagID, Usage: "Provider track id"},
				),
			},
			//nolint:exhaustruct
			{Name: "album", Usage: "Download every track of an album of the active module", ArgsUsage: "<album-id>", Action: withApp(downloadAlbum)},
			//nolint:exhaustruct
			{Name: "artist", Usage: "List albums of an artist of the active module", ArgsUsage: "<artist-id>", Action: withApp(artistAlbums)},
			//nolint:exhaustruct
			{
				Name:  "cache",
				Usage: "Inspect the stream cache",
				Subcommands: []*cli.Command{
					//nolint:exhaustruct
					{Name: "show", Usage: "Print cached streams", Action: withApp(cacheShow)},
					//nolint:exhaustruct
					{Name: "clear", Usage: "Remove every cached stream", Action: withApp(cacheClear)},
				},
			},
			//nolint:exhaustruct
			{Name: "library", Usage: "List downloaded tracks", Action: withApp(libraryList)},
		},
	}

	if err := app.Run(os.Args); nil != err {
		if errors.Is(err, context.Canceled) {
			logger.Trace().Msg("Application was canceled")
			return
		}
		if flawErr := new(flaw.Flaw); errors.As(err, &flawErr) {
			if debug {
				if b, yamlErr := errutil.FlawToYAML(flawErr); nil == yamlErr {
					fmt.Fprintln(os.Stderr, string(b))
					os.Exit(1)
				}
			}
			logger.Fatal().Func(log.Flaw(flawErr)).Msg("Application exited with flaw")
			return
		}
		logger.Fatal().Err(err).Msg("Application exited with error")
	}
}
