package world

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"flagship/internal/chance"
	"flagship/internal/domain"
)

const (
	dropSearchTries = 200
	landingRadius   = 8
)

func (w *World) Entity(id string) (domain.Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

func (w *World) Buildings() []domain.Entity {
	return w.filter(func(e domain.Entity) bool { return e.IsBuilding() })
}

func (w *World) Pawns(faction string) []domain.Entity {
	return w.filter(func(e domain.Entity) bool { return e.Kind == domain.KindPawn && e.Faction == faction })
}

// HostilesTo returns pawns at war with faction. The controlling faction is
// at war with everyone else; other factions only with the controlling one.
func (w *World) HostilesTo(faction string) []domain.Entity {
	return w.filter(func(e domain.Entity) bool {
		return e.Kind == domain.KindPawn && w.hostile(faction, e.Faction)
	})
}

func (w *World) hostile(a, b string) bool {
	if a == b {
		return false
	}
	c := w.cfg.Factions.Controlling
	return a == c || b == c
}

func (w *World) filter(keep func(domain.Entity) bool) []domain.Entity {
	var out []domain.Entity
	for _, id := range w.order {
		if e := w.entities[id]; keep(e) {
			out = append(out, e)
		}
	}
	return out
}

func (w *World) Groups() []domain.Group {
	out := make([]domain.Group, 0, len(w.groupOrder))
	for _, id := range w.groupOrder {
		g := w.groups[id]
		g.Directives = slices.Clone(g.Directives)
		out = append(out, g)
	}
	return out
}

// Members returns the entities in a group.
func (w *World) Members(groupID string) []domain.Entity {
	return w.filter(func(e domain.Entity) bool { return e.GroupID != nil && *e.GroupID == groupID })
}

func (w *World) Center() domain.Cell {
	return domain.Cell{X: w.meta.Width / 2, Y: w.meta.Height / 2}
}

func (w *World) RandomCell(rng *rand.Rand) domain.Cell {
	return domain.Cell{X: rng.IntN(w.meta.Width), Y: rng.IntN(w.meta.Height)}
}

func (w *World) RandomEdgeCell(rng *rand.Rand) domain.Cell {
	maxX, maxY := w.meta.Width-1, w.meta.Height-1
	switch rng.IntN(4) {
	case 0:
		return domain.Cell{X: rng.IntN(w.meta.Width), Y: 0}
	case 1:
		return domain.Cell{X: rng.IntN(w.meta.Width), Y: maxY}
	case 2:
		return domain.Cell{X: 0, Y: rng.IntN(w.meta.Height)}
	}
	return domain.Cell{X: maxX, Y: rng.IntN(w.meta.Height)}
}

func (w *World) FindDropCell(rng *rand.Rand, near domain.Cell, edgeMargin, maxDist int) (domain.Cell, bool) {
	if maxDist < 0 || 2*edgeMargin >= w.meta.Width || 2*edgeMargin >= w.meta.Height {
		return domain.Cell{}, false
	}
	r := min(maxDist, max(w.meta.Width, w.meta.Height))
	for i := 0; i < dropSearchTries; i++ {
		c := domain.Cell{
			X: near.X + chance.IntRange(rng, -r, r),
			Y: near.Y + chance.IntRange(rng, -r, r),
		}
		if c.X < edgeMargin || c.Y < edgeMargin || c.X >= w.meta.Width-edgeMargin || c.Y >= w.meta.Height-edgeMargin {
			continue
		}
		if w.occupied(c) {
			continue
		}
		return c, true
	}
	return domain.Cell{}, false
}

// LandingSpot picks a free cell near a random map edge for a shuttle.
func (w *World) LandingSpot(rng *rand.Rand) domain.Cell {
	edge := w.RandomEdgeCell(rng)
	if c, ok := w.FindDropCell(rng, edge, 1, landingRadius); ok {
		return c
	}
	return edge
}

func (w *World) occupied(c domain.Cell) bool {
	for _, id := range w.order {
		if w.entities[id].Cell == c {
			return true
		}
	}
	return false
}

func (w *World) inBounds(c domain.Cell) bool {
	return c.X >= 0 && c.Y >= 0 && c.X < w.meta.Width && c.Y < w.meta.Height
}

func (w *World) AddDirective(groupID, directive string) error {
	g, ok := w.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if !g.HasDirective(directive) {
		g.Directives = append(slices.Clone(g.Directives), directive)
		w.groups[groupID] = g
	}
	return nil
}

func (w *World) SetDirective(groupID, directive string) error {
	g, ok := w.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	if !g.HasDirective(directive) {
		return fmt.Errorf("%w: %s on %s", ErrUnknownDirective, directive, groupID)
	}
	g.Directive = directive
	w.groups[groupID] = g
	return nil
}

// RemoveFromGroup detaches an entity from its group. A group left without
// members is dropped.
func (w *World) RemoveFromGroup(entityID string) error {
	e, ok := w.entities[entityID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEntityNotFound, entityID)
	}
	if e.GroupID == nil {
		return nil
	}
	groupID := *e.GroupID
	e.GroupID = nil
	w.entities[entityID] = e
	if len(w.Members(groupID)) == 0 {
		delete(w.groups, groupID)
		w.groupOrder = slices.DeleteFunc(w.groupOrder, func(id string) bool { return id == groupID })
	}
	return nil
}

// NewGroup forms a group under directive. Members leave their previous group.
func (w *World) NewGroup(faction, directive string, members []string) (domain.Group, error) {
	for _, id := range members {
		if _, ok := w.entities[id]; !ok {
			return domain.Group{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
		}
	}
	id, seq := w.nextID("group")
	g := domain.Group{ID: id, Seq: seq, Faction: faction, Directive: directive, Directives: []string{directive}}
	w.groups[id] = g
	w.groupOrder = append(w.groupOrder, id)
	for _, m := range members {
		if err := w.RemoveFromGroup(m); err != nil {
			return domain.Group{}, err
		}
		e := w.entities[m]
		gid := id
		e.GroupID = &gid
		w.entities[m] = e
	}
	return g, nil
}
