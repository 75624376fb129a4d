package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeClampsZeroAndNegative(t *testing.T) {
	neg := -1000 * time.Millisecond
	cfg := &Config{
		NoOutputTimeout:   0,
		CompletionConfirm: neg,
	}
	cfg.Normalize()
	if cfg.NoOutputTimeout != DefaultNoOutputTimeout {
		t.Errorf("NoOutputTimeout = %s, want default %s", cfg.NoOutputTimeout, DefaultNoOutputTimeout)
	}
	if cfg.CompletionConfirm != DefaultCompletionConfirm {
		t.Errorf("CompletionConfirm = %s, want default %s", cfg.CompletionConfirm, DefaultCompletionConfirm)
	}
}

func TestNormalizeCapsCompletionConfirmToNoOutputTimeout(t *testing.T) {
	cfg := &Config{
		NoOutputTimeout:   2 * time.Second,
		CompletionConfirm: 10 * time.Second,
	}
	cfg.Normalize()
	if cfg.CompletionConfirm != 2*time.Second {
		t.Errorf("CompletionConfirm = %s, want capped to NoOutputTimeout 2s", cfg.CompletionConfirm)
	}
}

func TestNormalizeAllowsExplicitZeroAutoAcceptDelay(t *testing.T) {
	zero := time.Duration(0)
	cfg := &Config{AutoAcceptDelay: &zero}
	cfg.Normalize()
	if cfg.AutoAcceptDelay == nil || *cfg.AutoAcceptDelay != 0 {
		t.Errorf("explicit zero AutoAcceptDelay must be preserved, got %v", cfg.AutoAcceptDelay)
	}
}

func TestNormalizeDefaultsNilAutoAcceptDelay(t *testing.T) {
	cfg := &Config{}
	cfg.Normalize()
	if cfg.AutoAcceptDelay == nil || *cfg.AutoAcceptDelay != DefaultAutoAcceptDelay {
		t.Errorf("nil AutoAcceptDelay should default, got %v", cfg.AutoAcceptDelay)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.NoOutputTimeout != DefaultNoOutputTimeout {
		t.Errorf("expected defaults on missing file, got %+v", cfg)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	delay := 250 * time.Millisecond
	original := &Config{
		NoOutputTimeout: 45 * time.Second,
		UpdatePrompt:    "refresh the todo list",
		AutoAcceptDelay: &delay,
		Agent:           "codex",
	}
	original.Normalize()

	if err := Save(path, original); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.NoOutputTimeout != original.NoOutputTimeout {
		t.Errorf("NoOutputTimeout round-trip mismatch: %s vs %s", loaded.NoOutputTimeout, original.NoOutputTimeout)
	}
	if loaded.UpdatePrompt != original.UpdatePrompt {
		t.Errorf("UpdatePrompt round-trip mismatch: %q vs %q", loaded.UpdatePrompt, original.UpdatePrompt)
	}
	if loaded.Agent != "codex" {
		t.Errorf("Agent round-trip mismatch: %q", loaded.Agent)
	}
}
