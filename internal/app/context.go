package app

import (
	"context"
	"errors"
	"fmt"

	"flagship/internal/config"
	"flagship/internal/repo"
)

// ResolveWorldAndConfig picks the active world and makes sure it has a stored
// config, seeding the defaults if missing. It prefers the override, then a
// single-world database.
func ResolveWorldAndConfig(ctx context.Context, worldOverride string, r repo.Repo) (string, *config.Config, error) {
	worldID := worldOverride
	if worldID == "" {
		w, err := r.SingleWorld(ctx)
		if errors.Is(err, repo.ErrNotFound) {
			return "", nil, fmt.Errorf("no world yet; run 'flagship world create --id <id>'")
		}
		if err != nil {
			return "", nil, fmt.Errorf("world not specified; use --world: %w", err)
		}
		worldID = w.ID
	}
	w, err := r.GetWorld(ctx, worldID)
	if err != nil {
		return "", nil, fmt.Errorf("world %s: %w", worldID, err)
	}
	cfg, err := r.GetWorldConfig(ctx, worldID)
	if errors.Is(err, repo.ErrNotFound) {
		cfg = config.Default(worldID)
		cfg.World.Width, cfg.World.Height, cfg.World.Seed = w.Width, w.Height, w.Seed
		if err := r.UpsertWorldConfig(ctx, worldID, cfg); err != nil {
			return "", nil, fmt.Errorf("seed world config: %w", err)
		}
		return worldID, cfg, nil
	}
	if err != nil {
		return "", nil, err
	}
	return worldID, cfg, nil
}

// CreateConfig returns the config a new world starts from: an explicit file,
// else the workspace flagship.yml, else the defaults.
func CreateConfig(workspace, path, worldID string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case path != "":
		cfg, err = config.FromFile(path)
	default:
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default(worldID)
	}
	if worldID != "" {
		cfg.World.ID = worldID
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
