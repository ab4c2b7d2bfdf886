package config

import (
	"os"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Shipment.Route != "BOG-DXB" || cfg.Shipment.FlightFrequencyDays != 7 {
		t.Fatalf("unexpected shipment defaults: %+v", cfg.Shipment)
	}
	sim := cfg.SimulationDefaults()
	if sim.RoastDevelopment != "medium" || sim.Packaging != "valve" || sim.Climate != "temperate" {
		t.Fatalf("unexpected simulation defaults: %+v", sim)
	}
	if sim.Process != "" {
		t.Fatalf("process must come from the batch, got %q", sim.Process)
	}
}

func TestFromYAMLOverridesKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("simulation:\n  climate: tropical\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Simulation.Climate != "tropical" {
		t.Fatalf("climate not overridden: %s", cfg.Simulation.Climate)
	}
	if cfg.Simulation.Packaging != "valve" || cfg.Engine.Parallelism != 4 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"climate":     "simulation:\n  climate: desert\n",
		"development": "simulation:\n  roast_development: french\n",
		"packaging":   "simulation:\n  packaging: jar\n",
		"parallelism": "engine:\n  parallelism: -1\n",
		"route":       "shipment:\n  route: \"\"\n",
		"log level":   "logging:\n  level: trace\n",
		"webhook":     "webhooks:\n  - events: [dispatch.blocked]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromYAML([]byte(doc)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOrDefault(dir)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	if cfg.Shipment.Route != "BOG-DXB" {
		t.Fatalf("expected defaults, got %+v", cfg.Shipment)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	if err := os.WriteFile(Path(dir), []byte("shipment:\n  route: BOG-MAD\n  flight_frequency_days: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Shipment.Route != "BOG-MAD" || cfg.Shipment.FlightFrequencyDays != 2 {
		t.Fatalf("unexpected shipment: %+v", cfg.Shipment)
	}
}

func TestParseServeEnv(t *testing.T) {
	t.Setenv("DEGASLINE_JWT_SECRET", "s3cret")
	t.Setenv("DEGASLINE_ALLOW_LEGACY_ACTOR_HEADER", "true")
	got, err := ParseServeEnv()
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if got.JWTSecret != "s3cret" || !got.AllowLegacyActorHeader {
		t.Fatalf("unexpected env: %+v", got)
	}
}
