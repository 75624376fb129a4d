// Package config loads and validates the supervisor's tunable knobs:
// idle-detection windows, respawn-cycle prompts, auto-accept gating, and
// token/context policy thresholds. Adapted from the teacher's
// internal/config/wing.go (YAML-backed settings with duration strings and
// clamp-to-default validation) for the session-supervision domain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults mirror the values named throughout spec §3/§4.I/§4.J/§4.L.
const (
	DefaultNoOutputTimeout     = 30 * time.Second
	DefaultCompletionConfirm   = 3 * time.Second
	DefaultWorkingAbsenceWin   = 2 * time.Second
	DefaultInterStepDelay      = 1 * time.Second
	DefaultAutoAcceptDelay     = 500 * time.Millisecond
	DefaultAICheckTimeout      = 10 * time.Second
	DefaultAICheckCooldown     = 15 * time.Second
	DefaultCompactPostSendGuard = 10 * time.Second
	DefaultClearPostSendGuard   = 5 * time.Second
	DefaultMaxSessionTokens     = 500_000
	DefaultMaxTokensPerMessage  = 100_000
	DefaultMaxTokenDeltaPerMsg  = 100_000
	DefaultUpdatePrompt         = "update all the docs"
	DefaultClearCommand         = "/clear"
	DefaultCompactCommand       = "/compact"
	DefaultInitCommand          = "/init"
)

// Config holds every tunable the supervisor's components read. Zero values
// are replaced with the defaults above by Normalize — callers never need to
// special-case "unset".
type Config struct {
	// Idle Detector (spec §4.I)
	NoOutputTimeout   time.Duration `yaml:"no_output_timeout,omitempty"`
	CompletionConfirm time.Duration `yaml:"completion_confirm,omitempty"`
	WorkingAbsenceWin time.Duration `yaml:"working_absence_window,omitempty"`
	AIConfirmEnabled  bool          `yaml:"ai_confirm_enabled,omitempty"`
	AICheckTimeout    time.Duration `yaml:"ai_check_timeout,omitempty"`
	AICheckCooldown   time.Duration `yaml:"ai_check_cooldown,omitempty"`

	// Respawn Controller (spec §4.J)
	RespawnEnabled  bool          `yaml:"respawn_enabled,omitempty"`
	UpdatePrompt    string        `yaml:"update_prompt,omitempty"`
	SendClear       bool          `yaml:"send_clear,omitempty"`
	SendInit        bool          `yaml:"send_init,omitempty"`
	InitPrompt      string        `yaml:"init_prompt,omitempty"`
	InterStepDelay  time.Duration `yaml:"inter_step_delay,omitempty"`

	// Auto-Accept (spec §4.K)
	AutoAcceptEnabled  bool          `yaml:"auto_accept_enabled,omitempty"`
	AutoAcceptDelay    *time.Duration `yaml:"auto_accept_delay,omitempty"`
	AutoAcceptAIGated  bool          `yaml:"auto_accept_ai_gated,omitempty"`

	// Token/Context Policies (spec §4.L / §4.7)
	AutoCompactEnabled   bool   `yaml:"auto_compact_enabled,omitempty"`
	AutoCompactThreshold int    `yaml:"auto_compact_threshold,omitempty"`
	AutoCompactPrompt    string `yaml:"auto_compact_prompt,omitempty"`
	AutoClearEnabled     bool   `yaml:"auto_clear_enabled,omitempty"`
	AutoClearThreshold   int    `yaml:"auto_clear_threshold,omitempty"`

	// Child program (spec §6)
	Agent    string            `yaml:"agent,omitempty"`
	CWD      string            `yaml:"cwd,omitempty"`
	UseMultiplexer bool        `yaml:"use_multiplexer,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
}

// Normalize clamps every duration/threshold to its documented default when
// it is zero or negative, per spec §4.I's validation rules. It is always
// safe to call repeatedly (idempotent).
func (c *Config) Normalize() {
	c.NoOutputTimeout = clampDuration(c.NoOutputTimeout, DefaultNoOutputTimeout)
	c.CompletionConfirm = clampDuration(c.CompletionConfirm, DefaultCompletionConfirm)
	// completionConfirmMs is additionally capped to noOutputTimeoutMs (spec §4.I).
	if c.CompletionConfirm > c.NoOutputTimeout {
		c.CompletionConfirm = c.NoOutputTimeout
	}
	c.WorkingAbsenceWin = clampDuration(c.WorkingAbsenceWin, DefaultWorkingAbsenceWin)
	c.AICheckTimeout = clampDuration(c.AICheckTimeout, DefaultAICheckTimeout)
	c.AICheckCooldown = clampDuration(c.AICheckCooldown, DefaultAICheckCooldown)
	c.InterStepDelay = clampDuration(c.InterStepDelay, DefaultInterStepDelay)

	if c.UpdatePrompt == "" {
		c.UpdatePrompt = DefaultUpdatePrompt
	}

	// autoAcceptDelayMs=0 is explicitly allowed (means "immediate"); only a
	// nil or negative value falls back to the default.
	if c.AutoAcceptDelay == nil {
		d := DefaultAutoAcceptDelay
		c.AutoAcceptDelay = &d
	} else if *c.AutoAcceptDelay < 0 {
		d := DefaultAutoAcceptDelay
		c.AutoAcceptDelay = &d
	}

	if c.AutoCompactThreshold <= 0 {
		c.AutoCompactThreshold = int(0.55 * float64(DefaultMaxSessionTokens))
	}
	if c.AutoClearThreshold <= 0 {
		c.AutoClearThreshold = int(0.9 * float64(DefaultMaxSessionTokens))
	}
	if c.InitPrompt == "" {
		c.InitPrompt = DefaultInitCommand
	}
	if c.Agent == "" {
		c.Agent = "claude"
	}
}

func clampDuration(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Load reads a YAML config file at path, normalizing every field. A missing
// file yields a zero Config normalized to defaults (matching the teacher's
// "missing file -> defaults" loadConfig behavior).
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Normalize()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}

// Save writes cfg back to path as YAML, creating parent directories as
// needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
