package config

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"flagship/internal/chance"
	"flagship/internal/encounter"
)

// Config models flagship.yml.
type Config struct {
	World struct {
		ID     string `yaml:"id" json:"id"`
		Width  int    `yaml:"width" json:"width"`
		Height int    `yaml:"height" json:"height"`
		Seed   uint64 `yaml:"seed" json:"seed"`
	} `yaml:"world" json:"world"`
	Factions struct {
		Controlling string `yaml:"controlling" json:"controlling"`
		Deserters   string `yaml:"deserters" json:"deserters"`
		Allied      string `yaml:"allied" json:"allied"`
	} `yaml:"factions" json:"factions"`
	Encounter struct {
		Cadence int64 `yaml:"cadence" json:"cadence"`
		Phase   int64 `yaml:"phase" json:"phase"`
		Signals struct {
			Damaged   string `yaml:"damaged" json:"damaged"`
			Destroyed string `yaml:"destroyed" json:"destroyed"`
		} `yaml:"signals" json:"signals"`
		Processes struct {
			Strike    chance.Process `yaml:"strike" json:"strike"`
			Slice     chance.Process `yaml:"slice" json:"slice"`
			Reinforce chance.Process `yaml:"reinforce" json:"reinforce"`
			Defector  chance.Process `yaml:"defector" json:"defector"`
		} `yaml:"processes" json:"processes"`
		Debris struct {
			EdgeMargin int `yaml:"edge_margin" json:"edge_margin"`
			MaxDist    int `yaml:"max_dist" json:"max_dist"`
		} `yaml:"debris" json:"debris"`
		SliceRadius struct {
			Min int `yaml:"min" json:"min"`
			Max int `yaml:"max" json:"max"`
		} `yaml:"slice_radius" json:"slice_radius"`
		ReinforcementSize int     `yaml:"reinforcement_size" json:"reinforcement_size"`
		CannonDamage      float32 `yaml:"cannon_damage" json:"cannon_damage"`
		ArrivalDelay      int64   `yaml:"arrival_delay" json:"arrival_delay"`
	} `yaml:"encounter" json:"encounter"`
	Visibility struct {
		Initial       int   `yaml:"initial" json:"initial"`
		DecayInterval int64 `yaml:"decay_interval" json:"decay_interval"`
		DecayAmount   int   `yaml:"decay_amount" json:"decay_amount"`
		OnDestroyed   int   `yaml:"on_destroyed" json:"on_destroyed"`
	} `yaml:"visibility" json:"visibility"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.World.ID == "" {
		return fmt.Errorf("config.world.id is required")
	}
	if c.World.Width <= 0 || c.World.Height <= 0 {
		return fmt.Errorf("config.world width and height must be positive")
	}
	if c.Factions.Controlling == "" || c.Factions.Deserters == "" || c.Factions.Allied == "" {
		return fmt.Errorf("config.factions requires controlling, deserters and allied")
	}
	if c.Factions.Controlling == c.Factions.Allied || c.Factions.Controlling == c.Factions.Deserters {
		return fmt.Errorf("config.factions.controlling must differ from the other factions")
	}
	e := c.Encounter
	if e.Cadence <= 0 {
		return fmt.Errorf("config.encounter.cadence must be positive")
	}
	if e.Phase < 0 || e.Phase >= e.Cadence {
		return fmt.Errorf("config.encounter.phase must be in [0, cadence)")
	}
	if e.Signals.Damaged == "" || e.Signals.Destroyed == "" {
		return fmt.Errorf("config.encounter.signals requires damaged and destroyed")
	}
	for name, p := range map[string]chance.Process{
		"strike":    e.Processes.Strike,
		"slice":     e.Processes.Slice,
		"reinforce": e.Processes.Reinforce,
		"defector":  e.Processes.Defector,
	} {
		if math.IsNaN(p.MTB) || p.Unit <= 0 || p.Check <= 0 {
			return fmt.Errorf("process %s needs a mtb, a positive unit and a positive check", name)
		}
	}
	if e.Debris.EdgeMargin < 0 || e.Debris.MaxDist <= 0 {
		return fmt.Errorf("config.encounter.debris needs edge_margin >= 0 and max_dist > 0")
	}
	if e.SliceRadius.Min <= 0 || e.SliceRadius.Max < e.SliceRadius.Min {
		return fmt.Errorf("config.encounter.slice_radius must satisfy 0 < min <= max")
	}
	if e.ReinforcementSize <= 0 {
		return fmt.Errorf("config.encounter.reinforcement_size must be positive")
	}
	if !(e.CannonDamage > 0) {
		return fmt.Errorf("config.encounter.cannon_damage must be positive")
	}
	if e.ArrivalDelay < 0 {
		return fmt.Errorf("config.encounter.arrival_delay must not be negative")
	}
	if c.Visibility.DecayInterval <= 0 || c.Visibility.DecayAmount < 0 {
		return fmt.Errorf("config.visibility needs a positive decay_interval")
	}
	return nil
}

// EncounterConfig converts the encounter section for the encounter package.
func (c *Config) EncounterConfig() encounter.Config {
	e := c.Encounter
	return encounter.Config{
		ControllingFaction: c.Factions.Controlling,
		DeserterFaction:    c.Factions.Deserters,
		AlliedFaction:      c.Factions.Allied,
		Cadence:            e.Cadence,
		Phase:              e.Phase,
		Strike:             e.Processes.Strike,
		Slice:              e.Processes.Slice,
		Reinforce:          e.Processes.Reinforce,
		Defector:           e.Processes.Defector,
		DebrisEdgeMargin:   e.Debris.EdgeMargin,
		DebrisMaxDist:      e.Debris.MaxDist,
		SliceMinRadius:     e.SliceRadius.Min,
		SliceMaxRadius:     e.SliceRadius.Max,
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flagship.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(worldID string) string {
	return fmt.Sprintf(defaultTemplate, worldID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a world.
func Default(worldID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(worldID))).Decode(&cfg)
	cfg.World.ID = worldID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `world:
  id: %q
  width: 250
  height: 250
  seed: 1

factions:
  controlling: empire
  deserters: deserters
  allied: player

encounter:
  cadence: 30
  phase: 1
  signals:
    damaged: flagship.damaged
    destroyed: flagship.destroyed
  # mean time between events, in units of "unit" ticks, checked every "check" ticks
  processes:
    strike:
      mtb: 20
      unit: 60
      check: 30
    slice:
      mtb: 120
      unit: 60
      check: 30
    reinforce:
      mtb: 140
      unit: 60
      check: 30
    defector:
      mtb: 100
      unit: 60
      check: 30
  debris:
    edge_margin: 10
    max_dist: 999999
  slice_radius:
    min: 5
    max: 14
  reinforcement_size: 6
  cannon_damage: 0.1
  arrival_delay: 2500

visibility:
  initial: 0
  decay_interval: 60000
  decay_amount: 1
  on_destroyed: 10
`
