package config

import (
	"bytes"
	"fmt"

	"github.com/BurntSushi/toml"
)

// Preset is a named respawn-prompt bundle ("update-docs", "lint-fix", ...)
// loadable from a TOML file, the same on-disk shape prompt-pulse uses for
// its display presets. A preset supplies the respawn-cycle prompts without
// requiring a full Config rewrite.
type Preset struct {
	Name          string `toml:"name"`
	UpdatePrompt  string `toml:"update_prompt"`
	SendClear     bool   `toml:"send_clear"`
	SendInit      bool   `toml:"send_init"`
	InitPrompt    string `toml:"init_prompt"`
}

type rawPreset struct {
	Name          string `toml:"name"`
	UpdatePrompt  string `toml:"update_prompt"`
	SendClear     bool   `toml:"send_clear"`
	SendInit      bool   `toml:"send_init"`
	InitPrompt    string `toml:"init_prompt"`
}

// LoadPresetFromTOML parses raw TOML bytes into a Preset, validating the
// required name field and defaulting UpdatePrompt the way
// Jesssullivan-pp/pkg/preset/toml.go's LoadFromTOML validates and defaults
// its required fields.
func LoadPresetFromTOML(data []byte) (Preset, error) {
	var raw rawPreset
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return Preset{}, fmt.Errorf("config: decode preset toml: %w", err)
	}
	if raw.Name == "" {
		return Preset{}, fmt.Errorf("config: preset missing required name field")
	}
	p := Preset{
		Name:         raw.Name,
		UpdatePrompt: raw.UpdatePrompt,
		SendClear:    raw.SendClear,
		SendInit:     raw.SendInit,
		InitPrompt:   raw.InitPrompt,
	}
	if p.UpdatePrompt == "" {
		p.UpdatePrompt = DefaultUpdatePrompt
	}
	if p.InitPrompt == "" {
		p.InitPrompt = DefaultInitCommand
	}
	return p, nil
}

// SavePresetToTOML serializes p back to TOML bytes.
func SavePresetToTOML(p Preset) ([]byte, error) {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(p); err != nil {
		return nil, fmt.Errorf("config: encode preset toml: %w", err)
	}
	return buf.Bytes(), nil
}

// ApplyPreset merges a loaded preset's prompts into cfg, leaving every
// other field untouched.
func ApplyPreset(cfg *Config, p Preset) {
	cfg.UpdatePrompt = p.UpdatePrompt
	cfg.SendClear = p.SendClear
	cfg.SendInit = p.SendInit
	cfg.InitPrompt = p.InitPrompt
}
