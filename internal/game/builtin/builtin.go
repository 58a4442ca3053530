// Package builtin assembles the game registry from the catalogue: built-in
// engines map to their Go implementations and Lua entries to the script engine.
package builtin

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/game/pong"
	"github.com/cory-johannsen/lobby/internal/game/script"
	"github.com/cory-johannsen/lobby/internal/game/snake"
	"github.com/cory-johannsen/lobby/internal/scripting"
)

// Factories returns the Go implementations keyed by game id.
func Factories() map[string]game.Factory {
	return map[string]game.Factory{
		snake.ID: snake.New,
		pong.ID:  pong.New,
	}
}

// NewRegistry registers every spec. Lua scripts are compiled up front so a
// broken script fails here rather than when a lobby starts.
//
// Precondition: lib and logger must be non-nil; defaultMaxPlayers >= 1.
// Postcondition: Returns a populated registry, or an error naming every bad entry.
func NewRegistry(specs []game.Spec, defaultMaxPlayers int, lib *scripting.Library, logger *zap.Logger) (*game.Registry, error) {
	reg := game.NewRegistry(defaultMaxPlayers)
	factories := Factories()
	var errs []error
	for _, spec := range specs {
		var factory game.Factory
		switch spec.Engine {
		case game.EngineLua:
			if _, err := lib.Compile(spec.Script); err != nil {
				errs = append(errs, fmt.Errorf("game %q: %w", spec.ID, err))
				continue
			}
			factory = script.NewFactory(lib)
		default:
			f, ok := factories[spec.ID]
			if !ok {
				errs = append(errs, fmt.Errorf("game %q: no built-in implementation", spec.ID))
				continue
			}
			factory = f
		}
		if err := reg.Register(game.Definition{Spec: spec, Factory: factory}); err != nil {
			errs = append(errs, err)
			continue
		}
		logger.Debug("game registered", zap.String("game_id", spec.ID), zap.String("engine", spec.Engine))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return reg, nil
}

// Load reads the catalogue named by cfg and builds the registry.
//
// Postcondition: Returns a populated registry or a non-nil error.
func Load(cfg config.Config, logger *zap.Logger) (*game.Registry, error) {
	specs, err := game.LoadCatalogOrDefault(cfg.Games.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("loading game catalogue: %w", err)
	}
	lib := scripting.NewLibrary(cfg.Scripting.ScriptDir, cfg.Scripting.InstructionLimit, logger)
	reg, err := NewRegistry(specs, cfg.Lobby.DefaultMaxPlayers, lib, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("game catalogue loaded", zap.Strings("games", reg.IDs()))
	return reg, nil
}
