// Package config loads the kernel's operator-tunable knobs from omc.yaml
// (optional; defaults apply when absent), matching the teacher's
// policy.Config/DefaultConfig/LoadConfig pattern.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/omc/kernel/internal/domain"
)

// ModeStaleness maps a mode name to its marker staleness window in ms.
type ModeStaleness map[domain.ModeName]int64

// WatchdogConfig controls background liveness thresholds (all in seconds).
type WatchdogConfig struct {
	HeartbeatStaleSeconds int `yaml:"heartbeat_stale_seconds"`
	TaskStuckSeconds      int `yaml:"task_stuck_seconds"`
	SwarmStaleClaimSeconds int `yaml:"swarm_stale_claim_seconds"`
}

// ContextConfig bounds the Context Injection Pipeline's assembled output.
type ContextConfig struct {
	MaxChars int `yaml:"max_chars"`
}

// Config holds every operator-tunable knob for the kernel.
type Config struct {
	StalenessMs          ModeStaleness  `yaml:"staleness_ms"`
	SameFailureThreshold int            `yaml:"same_failure_threshold"`
	Watchdog             WatchdogConfig `yaml:"watchdog"`
	Context              ContextConfig  `yaml:"context"`
	LogFile              string         `yaml:"log_file"`
}

// DefaultConfig returns the kernel's built-in defaults, used when omc.yaml
// is absent or a field is left unset.
func DefaultConfig() *Config {
	return &Config{
		StalenessMs: ModeStaleness{
			domain.ModeAutopilot:    3600_000,
			domain.ModeUltrapilot:   3600_000,
			domain.ModeRalph:        3600_000,
			domain.ModeUltrawork:    3600_000,
			domain.ModeTeamPipeline: 3600_000,
		},
		SameFailureThreshold: 3,
		Watchdog: WatchdogConfig{
			HeartbeatStaleSeconds:  300,
			TaskStuckSeconds:       600,
			SwarmStaleClaimSeconds: 300,
		},
		Context: ContextConfig{MaxChars: 6000},
		LogFile: "",
	}
}

// Load reads omc.yaml at path, overlaying it onto DefaultConfig(). A missing
// file is not an error — the defaults are returned as-is, matching the
// spec's instruction that ambient config is never a hard requirement.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.StalenessMs == nil {
		cfg.StalenessMs = DefaultConfig().StalenessMs
	}
	return cfg, nil
}

// OmcConfig is the schema-validated .omc-config.json envelope (spec §4.6:
// "validates .omc-config.json is readable"). Unknown fields are tolerated
// for forward-compat; the enum/envelope fields below are strictly checked.
type OmcConfig struct {
	Version int             `json:"version"`
	Beads   *BeadsConfig    `json:"beads,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// BeadsConfig configures the (out-of-scope) beads-context registration
// referenced by spec §4.6's init trigger; only its presence/shape is
// validated here, not acted on.
type BeadsConfig struct {
	Enabled bool   `json:"enabled"`
	Project string `json:"project,omitempty"`
}

// LoadOmcConfig reads and validates .omc-config.json. A missing file returns
// (nil, nil) — init tolerates its absence.
func LoadOmcConfig(path string) (*OmcConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg OmcConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Raw = data
	return &cfg, nil
}
