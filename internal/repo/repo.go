package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flagship/internal/config"
	"flagship/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const worldColumns = `id,seed,tick,width,height,visibility,next_id,rng_state,created_at`

func scanWorld(row interface{ Scan(...any) error }) (domain.World, error) {
	var w domain.World
	var seed, nextID int64
	err := row.Scan(&w.ID, &seed, &w.Tick, &w.Width, &w.Height, &w.Visibility, &nextID, &w.RNGState, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return w, ErrNotFound
	}
	w.Seed, w.NextID = uint64(seed), uint64(nextID)
	return w, err
}

func (r Repo) GetWorld(ctx context.Context, id string) (domain.World, error) {
	return scanWorld(r.DB.QueryRowContext(ctx, `SELECT `+worldColumns+` FROM worlds WHERE id=?`, id))
}

func (r Repo) ListWorlds(ctx context.Context) ([]domain.World, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+worldColumns+` FROM worlds ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.World
	for rows.Next() {
		w, err := scanWorld(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// SingleWorld returns the only world in the database.
func (r Repo) SingleWorld(ctx context.Context) (domain.World, error) {
	worlds, err := r.ListWorlds(ctx)
	if err != nil {
		return domain.World{}, err
	}
	if len(worlds) == 0 {
		return domain.World{}, ErrNotFound
	}
	if len(worlds) > 1 {
		return domain.World{}, fmt.Errorf("multiple worlds found; specify one")
	}
	return worlds[0], nil
}

func (r Repo) DeleteWorld(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM worlds WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveWorldTx writes a full save. Child rows are replaced wholesale so the
// stored state is exactly the exported one.
func (r Repo) SaveWorldTx(ctx context.Context, tx *sql.Tx, s domain.Save) error {
	w := s.World
	if _, err := tx.ExecContext(ctx, `INSERT INTO worlds(`+worldColumns+`) VALUES (?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET tick=excluded.tick, visibility=excluded.visibility, next_id=excluded.next_id, rng_state=excluded.rng_state`,
		w.ID, int64(w.Seed), w.Tick, w.Width, w.Height, w.Visibility, int64(w.NextID), w.RNGState, w.CreatedAt); err != nil {
		return fmt.Errorf("upsert world: %w", err)
	}
	for _, table := range []string{"entities", "groups", "scheduled_actions", "encounters"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE world_id=?`, w.ID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := insertEntities(ctx, tx, w.ID, s.Entities); err != nil {
		return err
	}
	if err := insertGroups(ctx, tx, w.ID, s.Groups); err != nil {
		return err
	}
	if err := insertSchedule(ctx, tx, w.ID, s.Schedule); err != nil {
		return err
	}
	return upsertEncounter(ctx, tx, w.ID, s.Encounter)
}

// LoadWorld reads a full save.
func (r Repo) LoadWorld(ctx context.Context, id string) (domain.Save, error) {
	var s domain.Save
	w, err := r.GetWorld(ctx, id)
	if err != nil {
		return s, err
	}
	s.World = w
	if s.Entities, err = listEntities(ctx, r.DB, id); err != nil {
		return s, err
	}
	if s.Groups, err = listGroups(ctx, r.DB, id); err != nil {
		return s, err
	}
	if s.Schedule, err = listSchedule(ctx, r.DB, id); err != nil {
		return s, err
	}
	if s.Encounter, err = getEncounter(ctx, r.DB, id); err != nil {
		return s, err
	}
	return s, nil
}

func (r Repo) ListEntities(ctx context.Context, worldID, kind, faction string) ([]domain.Entity, error) {
	all, err := listEntities(ctx, r.DB, worldID)
	if err != nil {
		return nil, err
	}
	var res []domain.Entity
	for _, e := range all {
		if (kind == "" || e.Kind == kind) && (faction == "" || e.Faction == faction) {
			res = append(res, e)
		}
	}
	return res, nil
}

func (r Repo) ListScheduledActions(ctx context.Context, worldID string) ([]domain.ScheduledAction, error) {
	return listSchedule(ctx, r.DB, worldID)
}

func (r Repo) GetEncounter(ctx context.Context, worldID string) (domain.Encounter, error) {
	return getEncounter(ctx, r.DB, worldID)
}

func (r Repo) UpsertWorldConfig(ctx context.Context, worldID string, cfg *config.Config) error {
	return upsertWorldConfig(ctx, r.DB, worldID, cfg)
}

func (r Repo) UpsertWorldConfigTx(ctx context.Context, tx *sql.Tx, worldID string, cfg *config.Config) error {
	return upsertWorldConfig(ctx, tx, worldID, cfg)
}

// Configs are stored as YAML so infinite mean times survive the round trip.
func upsertWorldConfig(ctx context.Context, db execer, worldID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.World.ID = worldID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = db.ExecContext(ctx, `INSERT INTO world_configs(world_id,config_yaml,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(world_id) DO UPDATE SET config_yaml=excluded.config_yaml, updated_at=excluded.updated_at`, worldID, string(payload), now, now)
	return err
}

func (r Repo) GetWorldConfig(ctx context.Context, worldID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_yaml FROM world_configs WHERE world_id=?`, worldID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	cfg, err := config.FromYAML([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("stored config for %s: %w", worldID, err)
	}
	return cfg, nil
}

// LatestEvents returns the newest events first.
func (r Repo) LatestEvents(ctx context.Context, limit int, worldID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if worldID != "" {
		clauses = append(clauses, "world_id=?")
		args = append(args, worldID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,world_id,tick,ts,type,COALESCE(subject,''),payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.WorldID, &e.Tick, &e.TS, &e.Type, &e.Subject, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
