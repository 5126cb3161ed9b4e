// Package sim declares what a tick-driven component may see of its world.
package sim

import (
	"context"
	"math/rand/v2"

	"flagship/internal/domain"
)

// Site is the world as seen by one component: an entity index resolved by id
// on every use, coordination groups and map geometry.
type Site interface {
	// Entity looks up an entity. A false result means the entity is gone.
	Entity(id string) (domain.Entity, bool)
	Buildings() []domain.Entity
	Pawns(faction string) []domain.Entity
	HostilesTo(faction string) []domain.Entity
	Groups() []domain.Group

	Center() domain.Cell
	RandomCell(rng *rand.Rand) domain.Cell
	RandomEdgeCell(rng *rand.Rand) domain.Cell
	// FindDropCell searches near for a free cell at least edgeMargin cells
	// from the map edge and at most maxDist cells from near. It gives up after
	// a bounded number of tries.
	FindDropCell(rng *rand.Rand, near domain.Cell, edgeMargin, maxDist int) (domain.Cell, bool)
	LandingSpot(rng *rand.Rand) domain.Cell

	AddDirective(groupID, directive string) error
	SetDirective(groupID, directive string) error
	RemoveFromGroup(entityID string) error
	NewGroup(faction, directive string, members []string) (domain.Group, error)
}

// Effects are the outward-facing side effects a component can trigger.
type Effects interface {
	DropDebris(ctx context.Context, at domain.Cell) error
	Strike(ctx context.Context, at domain.Cell) error
	Slice(ctx context.Context, from, to domain.Cell) error
	DropReinforcements(ctx context.Context, faction string, at domain.Cell) error
	DropDefector(ctx context.Context, faction string, at domain.Cell) error
	Notify(ctx context.Context, text string) error
	ShowSummary(ctx context.Context, title string, names []string) error
}

// Signals publishes named notifications.
type Signals interface {
	Publish(ctx context.Context, channel string)
}

// Env is handed to every core operation. It replaces any ambient global
// state: the tick, the shared RNG and the world collaborators all come in
// through here.
type Env struct {
	Ctx     context.Context
	Tick    int64
	Rand    *rand.Rand
	Site    Site
	Effects Effects
	Signals Signals
}

// Context returns Ctx or a background context.
func (e Env) Context() context.Context {
	if e.Ctx == nil {
		return context.Background()
	}
	return e.Ctx
}

// Tickable is implemented by components the world ticks once per step.
type Tickable interface {
	Tick(env Env)
}
