package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("outpost")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.World.ID != "outpost" {
		t.Fatalf("world id %q", cfg.World.ID)
	}
	ec := cfg.EncounterConfig()
	if ec.Cadence != 30 || ec.Phase != 1 {
		t.Fatalf("cadence %d phase %d", ec.Cadence, ec.Phase)
	}
	if ec.Strike.MTB != 20 || ec.Slice.MTB != 120 || ec.Reinforce.MTB != 140 || ec.Defector.MTB != 100 {
		t.Fatalf("process tuning lost: %+v", ec)
	}
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
world:
  id: small
  width: 40
  height: 30
encounter:
  processes:
    strike:
      mtb: 5
`))
	if err != nil {
		t.Fatalf("from yaml: %v", err)
	}
	if cfg.World.Width != 40 || cfg.World.Height != 30 {
		t.Fatalf("size %dx%d", cfg.World.Width, cfg.World.Height)
	}
	if cfg.Encounter.Processes.Strike.MTB != 5 || cfg.Encounter.Processes.Strike.Unit != 60 {
		t.Fatalf("strike %+v", cfg.Encounter.Processes.Strike)
	}
	if cfg.Encounter.Signals.Destroyed != "flagship.destroyed" {
		t.Fatalf("signals not defaulted")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing id":   "world:\n  id: \"\"\n",
		"bad phase":    "world:\n  id: w\nencounter:\n  phase: 30\n",
		"bad radius":   "world:\n  id: w\nencounter:\n  slice_radius:\n    min: 9\n    max: 3\n",
		"same faction": "world:\n  id: w\nfactions:\n  allied: empire\n",
		"bad yaml":     "world: [",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg != nil {
		t.Fatalf("missing file should be nil,nil: %v %v", cfg, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "flagship.yml"), []byte(GenerateDefault("ws")), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.World.ID != "ws" {
		t.Fatalf("id %q", cfg.World.ID)
	}
	if !strings.HasSuffix(Path(dir), "flagship.yml") {
		t.Fatalf("path %s", Path(dir))
	}
}
