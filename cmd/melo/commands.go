package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/xeptore/melo/config"
	"github.com/xeptore/melo/ctxutil"
	"github.com/xeptore/melo/music"
	"github.com/xeptore/melo/provider"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); nil != err {
		return fmt.Errorf("failed to encode output: %v", err)
	}
	return nil
}

func firstArg(cliCtx *cli.Context, name string) (string, error) {
	arg := cliCtx.Args().First()
	if arg == "" {
		return "", fmt.Errorf("missing %s argument", name)
	}
	return arg, nil
}

func trackFromFlags(cliCtx *cli.Context) music.Track {
	return music.Track{
		ID:              "",
		ProviderTrackID: cliCtx.String(flagID),
		Name:            cliCtx.String(flagName),
		Artist:          cliCtx.String(flagArtist),
		Album:           cliCtx.String(flagAlbum),
		DurationSeconds: 0,
		URI:             "",
		Images:          nil,
		Source:          "",
		IsStreaming:     false,
	}
}

func moduleInstall(ctx context.Context, cliCtx *cli.Context, a *app) error {
	path, err := firstArg(cliCtx, "manifest")
	if nil != err {
		return err
	}
	source, err := os.ReadFile(path)
	if nil != err {
		return fmt.Errorf("failed to read module manifest: %v", err)
	}
	status, err := a.modules.Install(ctx, string(source))
	if nil != err {
		return err
	}
	return printJSON(status)
}

func moduleList(_ context.Context, _ *cli.Context, a *app) error {
	return printJSON(a.modules.List())
}

func moduleUse(_ context.Context, cliCtx *cli.Context, a *app) error {
	id, err := firstArg(cliCtx, "module id")
	if nil != err {
		return err
	}
	return a.modules.SetActive(id)
}

func moduleUninstall(ctx context.Context, cliCtx *cli.Context, a *app) error {
	id, err := firstArg(cliCtx, "module id")
	if nil != err {
		return err
	}
	return a.modules.Uninstall(ctx, id)
}

func search(ctx context.Context, cliCtx *cli.Context, a *app) error {
	query, err := firstArg(cliCtx, "query")
	if nil != err {
		return err
	}
	limit := lo.Ternary(cliCtx.Int(flagLimit) > 0, cliCtx.Int(flagLimit), a.config.SearchLimit)
	res, err := a.modules.SearchTracks(ctx, query, limit)
	if nil != err {
		return err
	}
	return printJSON(res)
}

func resolveTrack(ctx context.Context, cliCtx *cli.Context, a *app) error {
	resolved, err := a.engine.Resolve(ctx, trackFromFlags(cliCtx).Logical())
	if nil != err {
		return err
	}
	if nil == resolved {
		return errors.New("no matching stream found")
	}
	return printJSON(resolved)
}

func playable(ctx context.Context, cliCtx *cli.Context, a *app) error {
	t := a.engine.PlayableTrack(ctx, trackFromFlags(cliCtx), a.config.Streaming())
	return printJSON(t)
}

func refresh(ctx context.Context, cliCtx *cli.Context, a *app) error {
	id, err := firstArg(cliCtx, "provider track id")
	if nil != err {
		return err
	}
	fresh, err := a.engine.Refresh(ctx, id)
	if nil != err {
		return err
	}
	return printJSON(fresh)
}

func downloadTrack(ctx context.Context, cliCtx *cli.Context, a *app) error {
	// Let the track being written finish moving into the library after an
	// interrupt.
	ctx, cancel := ctxutil.WithGracePeriod(ctx, config.ShutdownGracePeriod)
	defer cancel()

	owned, err := a.orch.DownloadTrack(ctx, trackFromFlags(cliCtx), "")
	if nil != err {
		return err
	}
	return printJSON(owned)
}

func albumTracks(res *provider.AlbumResult) []music.Track {
	return lo.Map(res.Tracks, func(c provider.Candidate, _ int) music.Track {
		cover := lo.CoalesceOrEmpty(c.AlbumCoverURL, res.Album.CoverURL)
		return music.Track{
			ID:              "",
			ProviderTrackID: c.ID,
			Name:            c.Title,
			Artist:          lo.CoalesceOrEmpty(c.Artist, res.Album.Artist),
			Album:           lo.CoalesceOrEmpty(c.Album, res.Album.Title),
			DurationSeconds: c.DurationSeconds,
			URI:             "",
			Images:          lo.Ternary(cover != "", []music.ImageRef{{URL: cover, Width: 0, Height: 0}}, nil),
			Source:          "",
			IsStreaming:     false,
		}
	})
}

func downloadAlbum(ctx context.Context, cliCtx *cli.Context, a *app) error {
	id, err := firstArg(cliCtx, "album id")
	if nil != err {
		return err
	}
	res, err := a.modules.Album(ctx, id)
	if nil != err {
		return err
	}

	ctx, cancel := ctxutil.WithGracePeriod(ctx, config.ShutdownGracePeriod)
	defer cancel()

	key := a.modules.ActiveID() + ":" + id
	if err := a.orch.StartAlbumDownload(ctx, key, albumTracks(res)); nil != err {
		return err
	}
	return printJSON(a.orch.Record().Recent)
}

func artistAlbums(ctx context.Context, cliCtx *cli.Context, a *app) error {
	id, err := firstArg(cliCtx, "artist id")
	if nil != err {
		return err
	}
	res, err := a.modules.Artist(ctx, id)
	if nil != err {
		return err
	}
	return printJSON(res)
}

func cacheShow(_ context.Context, _ *cli.Context, a *app) error {
	return printJSON(a.streams.Entries())
}

func cacheClear(_ context.Context, _ *cli.Context, a *app) error {
	if err := a.streams.Clear(); nil != err {
		return err
	}
	a.logger.Info().Msg("Stream cache cleared")
	return nil
}

func libraryList(_ context.Context, _ *cli.Context, a *app) error {
	entries, err := a.library.Entries()
	if nil != err {
		return err
	}
	return printJSON(entries)
}
