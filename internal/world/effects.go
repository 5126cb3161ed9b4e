package world

import (
	"context"
	"fmt"

	"flagship/internal/domain"
	"flagship/internal/events"
)

const reinforcementSpread = 4

// DropDebris leaves a hull chunk on the map.
func (w *World) DropDebris(_ context.Context, at domain.Cell) error {
	chunk, err := w.Spawn(domain.KindShipChunk, "", "ship chunk", at)
	if err != nil {
		return err
	}
	w.record(events.TypeEffect, "debris", events.EventPayload{"cell": at, "entity": chunk.ID})
	return nil
}

func (w *World) Strike(_ context.Context, at domain.Cell) error {
	if !w.inBounds(at) {
		return fmt.Errorf("strike: %w: %v", ErrOutOfBounds, at)
	}
	w.record(events.TypeEffect, "strike", events.EventPayload{"cell": at})
	return nil
}

// Slice records a beam sweep. The end point may fall off the map.
func (w *World) Slice(_ context.Context, from, to domain.Cell) error {
	w.record(events.TypeEffect, "slice", events.EventPayload{"from": from, "to": to})
	return nil
}

// DropReinforcements lands a squad of the faction around at and sends it to
// assault.
func (w *World) DropReinforcements(_ context.Context, faction string, at domain.Cell) error {
	size := w.cfg.Encounter.ReinforcementSize
	ids := make([]string, 0, size)
	for i := 0; i < size; i++ {
		cell, ok := w.FindDropCell(w.rng, at, 0, reinforcementSpread)
		if !ok {
			break
		}
		p, err := w.Spawn(domain.KindPawn, faction, fmt.Sprintf("%s trooper", faction), cell)
		if err != nil {
			return fmt.Errorf("reinforcements: %w", err)
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return fmt.Errorf("reinforcements: no free cell near %v", at)
	}
	g, err := w.NewGroup(faction, domain.DirectiveAssault, ids)
	if err != nil {
		return fmt.Errorf("reinforcements: %w", err)
	}
	w.record(events.TypeEffect, "reinforcements", events.EventPayload{"faction": faction, "cell": at, "group": g.ID, "count": len(ids)})
	return nil
}

// DropDefector lands a single pawn of the deserting faction.
func (w *World) DropDefector(_ context.Context, faction string, at domain.Cell) error {
	cell := at
	if w.occupied(at) {
		c, ok := w.FindDropCell(w.rng, at, 0, reinforcementSpread)
		if !ok {
			return fmt.Errorf("defector: no free cell near %v", at)
		}
		cell = c
	}
	p, err := w.Spawn(domain.KindPawn, faction, "defector", cell)
	if err != nil {
		return fmt.Errorf("defector: %w", err)
	}
	w.record(events.TypeEffect, "defector", events.EventPayload{"faction": faction, "cell": cell, "entity": p.ID})
	return nil
}

func (w *World) Notify(_ context.Context, text string) error {
	w.record(events.TypeNotice, "message", events.EventPayload{"text": text})
	return nil
}

func (w *World) ShowSummary(_ context.Context, title string, names []string) error {
	if names == nil {
		names = []string{}
	}
	w.record(events.TypeNotice, "summary", events.EventPayload{"title": title, "names": names})
	return nil
}
