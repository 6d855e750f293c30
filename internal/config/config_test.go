package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Clearenv()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Trust.EMAAlpha != 0.3 {
		t.Errorf("Trust.EMAAlpha = %v, want 0.3", cfg.Trust.EMAAlpha)
	}
	if cfg.Storage.Path != "./garl.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
}

func TestLoadRequiresKeyWhenEphemeralDisabled(t *testing.T) {
	os.Clearenv()
	os.Setenv("SIGNING_ALLOW_EPHEMERAL", "false")
	defer os.Unsetenv("SIGNING_ALLOW_EPHEMERAL")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when no signing key and ephemeral disabled")
	}
}

func TestCORSOriginList(t *testing.T) {
	s := ServerConfig{CORSOrigins: "https://a.example, https://b.example,,"}
	got := s.CORSOriginList()
	want := []string{"https://a.example", "https://b.example"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("origin[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
