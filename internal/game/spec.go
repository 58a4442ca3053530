package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// MaxPlayersKey is the setting every game uses for its player cap.
const MaxPlayersKey = "max_players"

// Engine names.
const (
	EngineBuiltin = "builtin"
	EngineLua     = "lua"
)

// InputKind is how a setting is edited by clients.
type InputKind string

const (
	InputNumber InputKind = "number"
	InputSwitch InputKind = "switch"
)

// Setting describes one configurable game option.
type Setting struct {
	Name    string    `yaml:"name"`
	Label   string    `yaml:"label"`
	Input   InputKind `yaml:"input"`
	Default any       `yaml:"default"`
	Min     *int      `yaml:"min"`
	Max     *int      `yaml:"max"`
}

// Spec is one game catalogue entry.
//
// Precondition: ID must be non-empty after loading.
type Spec struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	Engine         string    `yaml:"engine"`
	Script         string    `yaml:"script"`
	TicksPerSecond int       `yaml:"ticks_per_second"`
	Settings       []Setting `yaml:"settings"`
}

// Validate checks the entry's invariants.
//
// Postcondition: Returns nil, or an error naming every violation.
func (s Spec) Validate() error {
	var errs []error
	if s.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	switch s.Engine {
	case "", EngineBuiltin:
	case EngineLua:
		if s.Script == "" {
			errs = append(errs, errors.New("lua engine requires a script"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", s.Engine))
	}
	if s.TicksPerSecond < 0 {
		errs = append(errs, fmt.Errorf("ticks_per_second must be >= 0, got %d", s.TicksPerSecond))
	}
	seen := make(map[string]bool)
	for _, st := range s.Settings {
		if st.Name == "" {
			errs = append(errs, errors.New("setting name must not be empty"))
			continue
		}
		if seen[st.Name] {
			errs = append(errs, fmt.Errorf("duplicate setting %q", st.Name))
		}
		seen[st.Name] = true
		switch st.Input {
		case InputNumber:
			if st.Min != nil && st.Max != nil && *st.Min > *st.Max {
				errs = append(errs, fmt.Errorf("setting %q: min %d > max %d", st.Name, *st.Min, *st.Max))
			}
		case InputSwitch:
		default:
			errs = append(errs, fmt.Errorf("setting %q: unknown input %q", st.Name, st.Input))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("game %q: %w", s.ID, err)
	}
	return nil
}

// Defaults returns the schema's default settings.
func (s Spec) Defaults() protocol.Settings {
	return s.Normalize(nil)
}

// Normalize fits in to the schema: missing or mistyped values take their
// default, numbers are clamped to range, and keys outside the schema are dropped.
//
// Postcondition: Returns a new map holding exactly one value per schema setting.
func (s Spec) Normalize(in protocol.Settings) protocol.Settings {
	out := make(protocol.Settings, len(s.Settings))
	for _, st := range s.Settings {
		switch st.Input {
		case InputNumber:
			v, ok := in.Int(st.Name)
			if !ok {
				v, _ = protocol.Settings{"d": st.Default}.Int("d")
			}
			if st.Min != nil && v < *st.Min {
				v = *st.Min
			}
			if st.Max != nil && v > *st.Max {
				v = *st.Max
			}
			out[st.Name] = v
		case InputSwitch:
			v, ok := in.Bool(st.Name)
			if !ok {
				v, _ = st.Default.(bool)
			}
			out[st.Name] = v
		}
	}
	return out
}

// MaxPlayers returns the player cap carried by settings, or fallback.
func MaxPlayers(settings protocol.Settings, fallback int) int {
	if n, ok := settings.Int(MaxPlayersKey); ok && n > 0 {
		return n
	}
	return fallback
}

func intPtr(v int) *int { return &v }

// GenericSpec is the schema applied while a lobby has no game selected.
func GenericSpec(defaultMaxPlayers int) Spec {
	return Spec{
		Settings: []Setting{
			{Name: MaxPlayersKey, Label: "Max Players:", Input: InputNumber, Default: defaultMaxPlayers, Min: intPtr(1), Max: intPtr(99)},
		},
	}
}

// DefaultSpecs returns the built-in catalogue used when no catalogue
// directory exists.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			ID:     "snake",
			Name:   "Snake",
			Engine: EngineBuiltin,
			Settings: []Setting{
				{Name: MaxPlayersKey, Label: "Max Players:", Input: InputNumber, Default: 2, Min: intPtr(2), Max: intPtr(4)},
				{Name: "board_width", Label: "Width of Board:", Input: InputNumber, Default: 15, Min: intPtr(5), Max: intPtr(30)},
				{Name: "board_height", Label: "Height of Board:", Input: InputNumber, Default: 15, Min: intPtr(5), Max: intPtr(30)},
			},
		},
		{
			ID:             "pong",
			Name:           "Pong",
			Engine:         EngineBuiltin,
			TicksPerSecond: 30,
			Settings: []Setting{
				{Name: MaxPlayersKey, Label: "Max Players:", Input: InputNumber, Default: 2, Min: intPtr(1), Max: intPtr(2)},
				{Name: "idle_timeout", Label: "Idle Timeout (s):", Input: InputNumber, Default: 60, Min: intPtr(5), Max: intPtr(600)},
			},
		},
	}
}

// LoadCatalog reads every .yaml file in dir as one Spec.
//
// Precondition: dir must be a readable directory path.
// Postcondition: Returns all parsed, validated specs or a non-nil error.
func LoadCatalog(dir string) ([]Spec, error) {
	files, err := yamlFiles(dir)
	if err != nil {
		return nil, err
	}
	specs := make([]Spec, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		var s Spec
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("parsing game file %s: %w", path, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		specs = append(specs, s)
	}
	return specs, nil
}

// LoadCatalogOrDefault loads dir, falling back to DefaultSpecs when dir does
// not exist.
func LoadCatalogOrDefault(dir string) ([]Spec, error) {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return DefaultSpecs(), nil
	}
	return LoadCatalog(dir)
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths, nil
}
