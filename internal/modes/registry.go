package modes

import (
	"fmt"
	"time"

	"github.com/omc/kernel/internal/atomicstore"
	"github.com/omc/kernel/internal/domain"
	"github.com/omc/kernel/internal/pathguard"
)

// modeConfig is one row of the static mode-config table (spec §4.3),
// modeled on the teacher's policy.OrchestrationConfig/WorkerConfig
// table-of-structs idiom.
type modeConfig struct {
	usesMarker  bool // true: marker file; false: JSON state file
	exclusive   bool // participates in invariant M1
	stalenessMs int64
}

const defaultStalenessMs = int64(60 * 60 * 1000) // 1 hour, spec §4.3 default

var table = map[domain.ModeName]modeConfig{
	domain.ModeAutopilot:    {exclusive: true, stalenessMs: defaultStalenessMs},
	domain.ModeUltrapilot:   {exclusive: true, stalenessMs: defaultStalenessMs},
	domain.ModeRalph:        {stalenessMs: defaultStalenessMs},
	domain.ModeUltrawork:    {stalenessMs: defaultStalenessMs},
	domain.ModeUltraQA:      {stalenessMs: defaultStalenessMs},
	domain.ModeTeamPipeline: {exclusive: true, stalenessMs: defaultStalenessMs},
	domain.ModeSwarm:        {usesMarker: true, exclusive: true, stalenessMs: defaultStalenessMs},
	domain.ModeEcomode:      {usesMarker: true, stalenessMs: defaultStalenessMs},
	domain.ModePipeline:     {usesMarker: true, stalenessMs: defaultStalenessMs},
}

// StartCheck is the {allowed, blockedBy, message} result of canStartMode.
type StartCheck struct {
	Allowed   bool
	BlockedBy domain.ModeName
	Message   string
}

// SetStalenessMs overrides the default staleness window for each mode named
// in overrides (spec §4.3: staleness windows are operator-tunable via
// omc.yaml's staleness_ms). Modes absent from overrides keep
// defaultStalenessMs. Called once per process, before any CanStartMode/
// IsModeActive call, from the loaded Config.
func SetStalenessMs(overrides map[domain.ModeName]int64) {
	for name, ms := range overrides {
		if cfg, ok := table[name]; ok {
			cfg.stalenessMs = ms
			table[name] = cfg
		}
	}
}

// CanStartMode answers "can I start mode X now?" (spec §4.3). If name
// participates in M1, every other exclusive mode is scanned; if any is
// active, the request is denied.
func CanStartMode(name domain.ModeName, root string) (StartCheck, error) {
	cfg, ok := table[name]
	if !ok {
		return StartCheck{}, fmt.Errorf("modes: unknown mode %q", name)
	}
	if !cfg.exclusive {
		return StartCheck{Allowed: true}, nil
	}
	for _, other := range domain.ExclusiveModes {
		if other == name {
			continue
		}
		active, err := IsModeActive(other, root)
		if err != nil {
			return StartCheck{}, err
		}
		if active {
			return StartCheck{
				Allowed:   false,
				BlockedBy: other,
				Message:   fmt.Sprintf("cannot start %s: %s is already active in this worktree", name, other),
			}, nil
		}
	}
	return StartCheck{Allowed: true}, nil
}

// IsModeActive reports whether name is currently active in root. For
// marker modes: the marker file exists and is not stale. For JSON modes:
// the state record's active field is true.
func IsModeActive(name domain.ModeName, root string) (bool, error) {
	cfg, ok := table[name]
	if !ok {
		return false, fmt.Errorf("modes: unknown mode %q", name)
	}
	if cfg.usesMarker {
		marker, found, err := ReadModeMarker(name, root)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil
		}
		if isStale(marker, cfg.stalenessMs) {
			_ = RemoveModeMarker(name, root)
			return false, nil
		}
		return true, nil
	}
	var frame domain.Frame
	found, err := LoadGlobal(name, root, &frame)
	if err != nil || !found {
		return false, err
	}
	return frame.Active, nil
}

func isStale(m domain.Marker, stalenessMs int64) bool {
	if stalenessMs <= 0 {
		return false
	}
	age := time.Since(m.StartedAt)
	return age > time.Duration(stalenessMs)*time.Millisecond
}

func markerPath(name domain.ModeName, root string) (string, error) {
	return pathguard.ResolveOmc(fmt.Sprintf("state/%s-active.marker", name), root)
}

// CreateModeMarker writes a marker file for a marker-based mode.
func CreateModeMarker(name domain.ModeName, root string) error {
	path, err := markerPath(name, root)
	if err != nil {
		return err
	}
	return atomicstore.WriteJSON(path, domain.Marker{Mode: name, StartedAt: time.Now()})
}

// RemoveModeMarker deletes the marker file, tolerating "already gone".
func RemoveModeMarker(name domain.ModeName, root string) error {
	path, err := markerPath(name, root)
	if err != nil {
		return err
	}
	return atomicstore.Remove(path)
}

// ReadModeMarker reads the marker file for name, if present.
func ReadModeMarker(name domain.ModeName, root string) (domain.Marker, bool, error) {
	path, err := markerPath(name, root)
	if err != nil {
		return domain.Marker{}, false, err
	}
	var m domain.Marker
	found, err := atomicstore.SafeReadJSON(path, &m)
	return m, found, err
}

// GetActiveModes lists every currently-active mode in root; used by the
// Permission Arbiter (spec §4.9).
func GetActiveModes(root string) ([]domain.ModeName, error) {
	var active []domain.ModeName
	for name := range table {
		ok, err := IsModeActive(name, root)
		if err != nil {
			return nil, err
		}
		if ok {
			active = append(active, name)
		}
	}
	return active, nil
}
