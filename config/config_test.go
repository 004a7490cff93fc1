package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsAreValid(t *testing.T) {
	if err := Defaults().Validate(); err != nil {
		t.Fatalf("Defaults: %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "room.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Signals.MaxDepth != 8 || cfg.Signals.MaxDispatches != 100 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.TickRateHz != 20 || cfg.RateLimit.Burst != 120 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if _, ok := cfg.Tables.Terrain("glass"); !ok {
		t.Fatal("glass terrain missing")
	}
	if _, ok := cfg.Tables.Terrain("grass"); ok {
		t.Fatal("terrain list should be replaced, not merged")
	}
	if _, ok := cfg.Tables.Gadget("gadget-blaster"); !ok {
		t.Fatal("untouched tables keep their defaults")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil || cfg.Addr != ":8080" {
		t.Fatalf("Load(\"\") = %+v, %v", cfg, err)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"tick":      "tick_rate_hz: 0\n",
		"depth":     "signals:\n  max_depth: -1\n",
		"duplicate": "tables:\n  items:\n    - id: a\n    - id: a\n",
		"clip":      "tables:\n  gadgets:\n    - id: g\n      clip_size: 0\n",
		"syntax":    "addr: [\n",
	}
	for name, body := range cases {
		p := filepath.Join(dir, name+".yaml")
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(p); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTableLookup(t *testing.T) {
	tables := DefaultTables()
	stone, ok := tables.Terrain("stone")
	if !ok || stone.Health != 300 {
		t.Fatalf("stone = %+v, %v", stone, ok)
	}
	if grass, _ := tables.Terrain("grass"); grass.Health != 0 {
		t.Fatal("grass should be indestructible")
	}
	if _, ok := tables.Item("nope"); ok {
		t.Fatal("unknown item found")
	}
	if crate, ok := tables.Prop("crate"); !ok || len(crate.Colliders) != 1 {
		t.Fatalf("crate = %+v", crate)
	}
}
