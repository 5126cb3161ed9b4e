package domain

import "slices"

// Entity kinds.
const (
	KindPawn          = "pawn"
	KindBuilding      = "building"
	KindCannonControl = "cannon_control"
	KindZeusCannon    = "zeus_cannon"
	KindShipChunk     = "ship_chunk"
)

// Group directives.
const (
	DirectiveAssault = "assault"
	DirectiveDefend  = "defend"
	DirectiveFlee    = "flee"
	DirectiveExitMap = "exit_map"
)

type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Cell) Add(o Cell) Cell { return Cell{X: c.X + o.X, Y: c.Y + o.Y} }

type World struct {
	ID         string `json:"id"`
	Seed       uint64 `json:"seed"`
	Tick       int64  `json:"tick"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Visibility int    `json:"visibility"`
	NextID     uint64 `json:"next_id"`
	RNGState   []byte `json:"-"`
	CreatedAt  string `json:"created_at"`
}

type Entity struct {
	ID         string  `json:"id"`
	Seq        uint64  `json:"seq"`
	Kind       string  `json:"kind"`
	Faction    string  `json:"faction,omitempty"`
	Name       string  `json:"name,omitempty"`
	Cell       Cell    `json:"cell"`
	GroupID    *string `json:"group_id,omitempty"`
	Controlled bool    `json:"controlled,omitempty"`
}

func (e Entity) IsBuilding() bool {
	switch e.Kind {
	case KindBuilding, KindCannonControl, KindZeusCannon:
		return true
	}
	return false
}

// Group is a coordination group: pawns of one faction acting under a shared
// directive. Directives lists every directive ever attached to the group;
// Directive is the one currently followed.
type Group struct {
	ID         string   `json:"id"`
	Seq        uint64   `json:"seq"`
	Faction    string   `json:"faction"`
	Directive  string   `json:"directive"`
	Directives []string `json:"directives"`
}

func (g Group) HasDirective(d string) bool {
	return slices.Contains(g.Directives, d)
}

type ScheduledAction struct {
	Seq        uint64 `json:"seq"`
	Command    string `json:"command"`
	TargetTick int64  `json:"target_tick"`
}

// Encounter is the persisted form of a flagship fight. The zero value is a
// dormant encounter.
type Encounter struct {
	Active              bool     `json:"active"`
	Controller          *string  `json:"controller,omitempty"`
	FlagshipHealth      float32  `json:"flagshipHealth"`
	Cannons             []string `json:"cannons"`
	ShipDamagedSignal   string   `json:"shipDamagedSignal"`
	ShipDestroyedSignal string   `json:"shipDestroyedSignal"`
}

// Save is everything needed to rebuild a world.
type Save struct {
	World     World             `json:"world"`
	Entities  []Entity          `json:"entities"`
	Groups    []Group           `json:"groups"`
	Schedule  []ScheduledAction `json:"schedule"`
	Encounter Encounter         `json:"encounter"`
}

type Event struct {
	ID      int64  `json:"id"`
	WorldID string `json:"world_id"`
	Tick    int64  `json:"tick"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Subject string `json:"subject,omitempty"`
	Payload string `json:"payload_json"`
}
