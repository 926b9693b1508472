package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/config"
)

func validConfig() string {
	return `
database:
  driver: "memory"
limits:
  daily_limit: 10
  monthly_limit: 100
`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestHolder_Get(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	got := h.Get()
	if got == nil {
		t.Fatal("Get returned nil")
	}
	if got.Limits.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d, want 10", got.Limits.DailyLimit)
	}
}

func TestHolder_Reload(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	newContent := `
database:
  driver: "memory"
limits:
  daily_limit: 50
  monthly_limit: 100
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}

	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}
	if h.Get().Limits.DailyLimit != 50 {
		t.Errorf("DailyLimit after reload = %d, want 50", h.Get().Limits.DailyLimit)
	}
}

func TestHolder_ReloadKeepsOldConfigOnError(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	if err := os.WriteFile(path, []byte("limits: [broken"), 0644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}

	if err := h.Reload(); err == nil {
		t.Fatal("expected reload error for broken config")
	}
	if h.Get().Limits.DailyLimit != 10 {
		t.Errorf("DailyLimit = %d, want old value 10 kept", h.Get().Limits.DailyLimit)
	}
}

func TestHolder_OnChange(t *testing.T) {
	path := writeConfig(t, validConfig())

	h, err := config.NewHolder(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewHolder error: %v", err)
	}
	defer h.Stop()

	var mu sync.Mutex
	var seen int64
	h.OnChange(func(cfg *config.Config) {
		mu.Lock()
		seen = cfg.Limits.DailyLimit
		mu.Unlock()
	})

	newContent := `
database:
  driver: "memory"
limits:
  daily_limit: 25
  monthly_limit: 100
`
	if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
		t.Fatalf("write new config: %v", err)
	}
	if err := h.Reload(); err != nil {
		t.Fatalf("Reload error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen != 25 {
		t.Errorf("listener saw DailyLimit = %d, want 25", seen)
	}
}

func TestHolder_LoadFailure(t *testing.T) {
	if _, err := config.NewHolder("/nonexistent/config.yaml", zerolog.Nop()); err == nil {
		t.Error("expected error for missing config file")
	}
}
