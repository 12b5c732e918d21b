package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/onair/internal/shared"
)

// Setup creates the config file when missing, then the storage directory and the history database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := r.configPath
	if configPath == "" {
		configPath = "config.toml"
	}

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		if err := r.loadConfig(configPath); err != nil {
			return fmt.Errorf("failed to load created config: %w", err)
		}
		r.writePlain("✓ Config written to %s\n", configPath)
	} else {
		r.writePlain("✓ Using existing config %s\n", configPath)
	}

	config := r.config

	for _, dir := range []string{config.Storage.Dir, config.Export.Dir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		r.logger.Debug("directory ready", "path", dir)
	}
	r.writePlain("✓ Storage directory %s\n", config.Storage.Dir)

	r.logger.Info("initializing database", "path", config.Database.Path)
	db, err := shared.OpenHistory(config.Database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()
	r.writePlain("✓ History database %s\n", config.Database.Path)

	r.writePlainln("Next steps:")
	r.writePlain("1. Set credentials.spotify.client_id, client_secret and catalog.playlist_id in %s\n", configPath)
	r.writePlain("2. Run 'onair auth' to authorize the playlist account\n")
	r.writePlain("3. Run 'onair doctor', then 'onair serve'\n")
	return nil
}
