package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/onair/internal/services"
	"github.com/desertthunder/onair/internal/shared"
)

const checkTimeout = 15 * time.Second

// diagnostic is the outcome of one startup check.
type diagnostic struct {
	Name   string
	Detail string
	Err    error
}

// playlistChecker is the slice of the catalog client the diagnostics need.
type playlistChecker interface {
	Healthy() error
	UserProfile(ctx context.Context) (*services.SpotifyUser, error)
	PlaylistSize(ctx context.Context, playlistID string) (int, error)
}

// diagnose runs the startup checks in order. Catalog checks are skipped when catalog is nil.
func (r *Runner) diagnose(ctx context.Context, catalog playlistChecker) []diagnostic {
	var results []diagnostic
	run := func(name string, fn func(ctx context.Context) (string, error)) {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		detail, err := fn(ctx)
		results = append(results, diagnostic{Name: name, Detail: detail, Err: err})
	}

	run("config", func(context.Context) (string, error) {
		return r.configPath, r.config.Validate()
	})

	run("storage", func(context.Context) (string, error) {
		return r.config.Storage.Dir, checkWritable(r.config.Storage.Dir)
	})

	run("database", func(context.Context) (string, error) {
		db, err := shared.OpenHistory(r.config.Database)
		if err != nil {
			return r.config.Database.Path, err
		}
		return r.config.Database.Path, db.Close()
	})

	run("feed", func(ctx context.Context) (string, error) {
		id, err := r.resolveServiceID(ctx)
		if err != nil {
			return r.config.Feed.Station, err
		}
		return fmt.Sprintf("%s → service %s", r.config.Feed.Station, id), nil
	})

	if catalog == nil {
		return results
	}

	run("token", func(ctx context.Context) (string, error) {
		if err := catalog.Healthy(); err != nil {
			return r.config.Credentials.Spotify.TokenPath, err
		}
		user, err := catalog.UserProfile(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("authorized as %s", user.ID), nil
	})

	run("playlist", func(ctx context.Context) (string, error) {
		size, err := catalog.PlaylistSize(ctx, r.config.Catalog.PlaylistID)
		if err != nil {
			return r.config.Catalog.PlaylistID, err
		}
		return fmt.Sprintf("%s holds %d of %d tracks", r.config.Catalog.PlaylistID, size, r.config.Engine.MaxPlaylistSize), nil
	})

	return results
}

// checkWritable creates dir if needed and proves a file can be written there.
func checkWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("%w: storage.dir", shared.ErrMissingConfig)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}

// resolveServiceID returns feed.service_id, or looks the station up in the brand directory.
func (r *Runner) resolveServiceID(ctx context.Context) (string, error) {
	if id := r.config.Feed.ServiceID; id != "" {
		return id, nil
	}
	brands := services.NewBrandDirectory(r.config.Feed.BrandsURL, r.httpClient)
	return brands.Lookup(ctx, r.config.Feed.Station)
}

// Doctor prints every diagnostic and fails when any check failed.
func (r *Runner) Doctor(ctx context.Context, cmd *cli.Command) error {
	var catalog playlistChecker
	if spotify, err := r.newCatalog(); err != nil {
		r.logger.Warn("catalog checks skipped", "error", err)
	} else {
		catalog = spotify
	}

	results := r.diagnose(ctx, catalog)

	r.writePlainHeader("onair doctor")
	failed := 0
	for _, d := range results {
		if d.Err != nil {
			failed++
			r.writePlain("✗ %-9s %v\n", d.Name, d.Err)
			continue
		}
		r.writePlain("✓ %-9s %s\n", d.Name, d.Detail)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d checks failed", shared.ErrServiceUnavailable, failed, len(results))
	}
	r.writePlainln("All checks passed")
	return nil
}
