package mdkconfig

import (
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.SnapshotRetention != 5 {
		t.Errorf("SnapshotRetention = %d, want 5", cfg.SnapshotRetention)
	}
	if cfg.MaxEventAge != 45*24*time.Hour {
		t.Errorf("MaxEventAge = %v, want 45 days", cfg.MaxEventAge)
	}
	if !cfg.IsAcceptedScheme("mip04-v2") {
		t.Error("mip04-v2 should be accepted by default")
	}
	if cfg.IsAcceptedScheme("mip04-v1") {
		t.Error("mip04-v1 should not be accepted by default")
	}
}

func TestConfigRoundtrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SnapshotRetention = 9

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.SnapshotRetention != 9 {
		t.Errorf("SnapshotRetention = %d, want 9", loaded.SnapshotRetention)
	}
}
