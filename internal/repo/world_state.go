package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"flagship/internal/domain"
)

func insertEntities(ctx context.Context, tx *sql.Tx, worldID string, entities []domain.Entity) error {
	for _, e := range entities {
		if _, err := tx.ExecContext(ctx, `INSERT INTO entities(world_id,id,seq,kind,faction,name,x,y,group_id,controlled) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			worldID, e.ID, int64(e.Seq), e.Kind, nullable(e.Faction), nullable(e.Name), e.Cell.X, e.Cell.Y, nullableStringPtr(e.GroupID), e.Controlled); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}
	return nil
}

func listEntities(ctx context.Context, db queryer, worldID string) ([]domain.Entity, error) {
	rows, err := db.QueryContext(ctx, `SELECT id,seq,kind,COALESCE(faction,''),COALESCE(name,''),x,y,group_id,controlled FROM entities WHERE world_id=? ORDER BY seq`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Entity
	for rows.Next() {
		var e domain.Entity
		var seq int64
		var group sql.NullString
		if err := rows.Scan(&e.ID, &seq, &e.Kind, &e.Faction, &e.Name, &e.Cell.X, &e.Cell.Y, &group, &e.Controlled); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		if group.Valid {
			g := group.String
			e.GroupID = &g
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func insertGroups(ctx context.Context, tx *sql.Tx, worldID string, groups []domain.Group) error {
	for _, g := range groups {
		directives := g.Directives
		if directives == nil {
			directives = []string{}
		}
		data, err := json.Marshal(directives)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO groups(world_id,id,seq,faction,directive,directives_json) VALUES (?,?,?,?,?,?)`,
			worldID, g.ID, int64(g.Seq), g.Faction, g.Directive, string(data)); err != nil {
			return fmt.Errorf("insert group %s: %w", g.ID, err)
		}
	}
	return nil
}

func listGroups(ctx context.Context, db queryer, worldID string) ([]domain.Group, error) {
	rows, err := db.QueryContext(ctx, `SELECT id,seq,faction,directive,directives_json FROM groups WHERE world_id=? ORDER BY seq`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Group
	for rows.Next() {
		var g domain.Group
		var seq int64
		var data string
		if err := rows.Scan(&g.ID, &seq, &g.Faction, &g.Directive, &data); err != nil {
			return nil, err
		}
		g.Seq = uint64(seq)
		if err := json.Unmarshal([]byte(data), &g.Directives); err != nil {
			return nil, fmt.Errorf("group %s directives: %w", g.ID, err)
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func insertSchedule(ctx context.Context, tx *sql.Tx, worldID string, actions []domain.ScheduledAction) error {
	for _, a := range actions {
		if _, err := tx.ExecContext(ctx, `INSERT INTO scheduled_actions(world_id,seq,command,target_tick) VALUES (?,?,?,?)`,
			worldID, int64(a.Seq), a.Command, a.TargetTick); err != nil {
			return fmt.Errorf("insert scheduled action %d: %w", a.Seq, err)
		}
	}
	return nil
}

func listSchedule(ctx context.Context, db queryer, worldID string) ([]domain.ScheduledAction, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq,command,target_tick FROM scheduled_actions WHERE world_id=? ORDER BY target_tick, seq`, worldID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScheduledAction
	for rows.Next() {
		var a domain.ScheduledAction
		var seq int64
		if err := rows.Scan(&seq, &a.Command, &a.TargetTick); err != nil {
			return nil, err
		}
		a.Seq = uint64(seq)
		res = append(res, a)
	}
	return res, rows.Err()
}

func upsertEncounter(ctx context.Context, tx *sql.Tx, worldID string, enc domain.Encounter) error {
	cannons := enc.Cannons
	if cannons == nil {
		cannons = []string{}
	}
	data, err := json.Marshal(cannons)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO encounters(world_id,active,controller,flagship_health,cannons_json,ship_damaged_signal,ship_destroyed_signal) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(world_id) DO UPDATE SET active=excluded.active, controller=excluded.controller, flagship_health=excluded.flagship_health,
cannons_json=excluded.cannons_json, ship_damaged_signal=excluded.ship_damaged_signal, ship_destroyed_signal=excluded.ship_destroyed_signal`,
		worldID, enc.Active, nullableStringPtr(enc.Controller), float64(enc.FlagshipHealth), string(data),
		nullable(enc.ShipDamagedSignal), nullable(enc.ShipDestroyedSignal))
	if err != nil {
		return fmt.Errorf("upsert encounter: %w", err)
	}
	return nil
}

// getEncounter loads the encounter row. A missing row or NULL columns read
// as a dormant encounter.
func getEncounter(ctx context.Context, db queryer, worldID string) (domain.Encounter, error) {
	var enc domain.Encounter
	var active sql.NullBool
	var controller, cannons, damaged, destroyed sql.NullString
	var health sql.NullFloat64
	err := db.QueryRowContext(ctx, `SELECT active,controller,flagship_health,cannons_json,ship_damaged_signal,ship_destroyed_signal FROM encounters WHERE world_id=?`, worldID).
		Scan(&active, &controller, &health, &cannons, &damaged, &destroyed)
	if err == sql.ErrNoRows {
		return domain.Encounter{Cannons: []string{}}, nil
	}
	if err != nil {
		return enc, err
	}
	enc.Active = active.Valid && active.Bool
	if controller.Valid {
		c := controller.String
		enc.Controller = &c
	}
	if health.Valid {
		enc.FlagshipHealth = float32(health.Float64)
	}
	enc.Cannons = []string{}
	if cannons.Valid && cannons.String != "" {
		if err := json.Unmarshal([]byte(cannons.String), &enc.Cannons); err != nil {
			return enc, fmt.Errorf("encounter cannons: %w", err)
		}
	}
	enc.ShipDamagedSignal = damaged.String
	enc.ShipDestroyedSignal = destroyed.String
	return enc, nil
}
