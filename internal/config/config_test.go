package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Trading.Mode != "paper" {
		t.Errorf("trading.mode = %q, want paper", cfg.Trading.Mode)
	}
	if cfg.Strategy.ATRPeriod != 14 || cfg.Strategy.LimitOffsetFraction != 0.1 {
		t.Errorf("strategy defaults = %+v", cfg.Strategy)
	}
	if cfg.Venue.HeartbeatTimeout != 10*time.Second {
		t.Errorf("venue.heartbeat_timeout = %s, want 10s", cfg.Venue.HeartbeatTimeout)
	}
	if cfg.Manager.DraftExpiry != 30*time.Minute {
		t.Errorf("manager.draft_expiry = %s, want 30m", cfg.Manager.DraftExpiry)
	}
}

func TestValidateRejectsNegativeLimitOffset(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Strategy.LimitOffsetFraction = -0.1
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error for negative limit_offset_fraction")
	}
	if !strings.Contains(err.Error(), "limit_offset_fraction") {
		t.Fatalf("error = %v, want mention of limit_offset_fraction", err)
	}
}
