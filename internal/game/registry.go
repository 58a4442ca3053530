package game

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

var (
	// ErrUnknownGame is returned for a game id with no registered definition.
	ErrUnknownGame = errors.New("unknown game")
	// ErrDuplicateGame is returned when a game id is registered twice.
	ErrDuplicateGame = errors.New("game already registered")
)

// Registry maps game ids to definitions.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]Definition
	generic Spec
}

// NewRegistry creates an empty Registry. Lobbies without a game use a
// generic schema whose only setting is the player cap.
//
// Precondition: defaultMaxPlayers must be >= 1.
func NewRegistry(defaultMaxPlayers int) *Registry {
	return &Registry{
		defs:    make(map[string]Definition),
		generic: GenericSpec(defaultMaxPlayers),
	}
}

// Register adds a definition.
//
// Precondition: def.Factory must be non-nil.
// Postcondition: def is retrievable by Lookup, or an error is returned.
func (r *Registry) Register(def Definition) error {
	if err := def.Spec.Validate(); err != nil {
		return err
	}
	if def.Factory == nil {
		return fmt.Errorf("game %q: nil factory", def.Spec.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Spec.ID]; ok {
		return fmt.Errorf("game %q: %w", def.Spec.ID, ErrDuplicateGame)
	}
	r.defs[def.Spec.ID] = def
	return nil
}

// Lookup returns the definition registered under id.
func (r *Registry) Lookup(id string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, fmt.Errorf("game %q: %w", id, ErrUnknownGame)
	}
	return def, nil
}

// SpecFor returns the schema that applies to a lobby with gameID selected.
// An empty gameID selects the generic schema.
func (r *Registry) SpecFor(gameID string) (Spec, error) {
	if gameID == "" {
		return r.generic, nil
	}
	def, err := r.Lookup(gameID)
	if err != nil {
		return Spec{}, err
	}
	return def.Spec, nil
}

// Normalize fits settings to the schema of gameID.
func (r *Registry) Normalize(gameID string, settings protocol.Settings) (protocol.Settings, error) {
	spec, err := r.SpecFor(gameID)
	if err != nil {
		return nil, err
	}
	return spec.Normalize(settings), nil
}

// IDs returns every registered game id in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
