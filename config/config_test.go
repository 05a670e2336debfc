package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg != want {
		t.Errorf("Load(nil) = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadFlagOverridesDefault(t *testing.T) {
	cfg, err := Load([]string{"-port", "6000", "-max-peers", "10"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "6000" {
		t.Errorf("Port = %q, want 6000", cfg.Port)
	}
	if cfg.MaxPeers != 10 {
		t.Errorf("MaxPeers = %d, want 10", cfg.MaxPeers)
	}
	if cfg.Host != Default().Host {
		t.Errorf("Host = %q, want default %q (untouched flag)", cfg.Host, Default().Host)
	}
}

func TestLoadFileThenFlagOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dcbridged.json")
	body := []byte(`{"host":"10.0.0.1","port":"7000","max_peers":5,"log_level":"debug","metrics_interval":"10s","flood_guard_pps":5,"flood_guard_burst":10}`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load([]string{"-config", path, "-port", "7999"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "10.0.0.1" {
		t.Errorf("Host = %q, want file value 10.0.0.1", cfg.Host)
	}
	if cfg.Port != "7999" {
		t.Errorf("Port = %q, want flag override 7999", cfg.Port)
	}
	if cfg.MaxPeers != 5 {
		t.Errorf("MaxPeers = %d, want file value 5", cfg.MaxPeers)
	}
	if cfg.MetricsInterval.Duration != 10*time.Second {
		t.Errorf("MetricsInterval = %v, want 10s", cfg.MetricsInterval.Duration)
	}
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Config{Host: "", Port: "not-a-number", MaxPeers: 0, FloodGuardPPS: 0, FloodGuardBurst: 0}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("Validate() = nil, want multiple errors")
	}
	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("Validate() error is not a *multierror.Error: %T", err)
	}
	if len(merr.Errors) < 4 {
		t.Errorf("Validate() collected %d errors, want at least 4", len(merr.Errors))
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}
