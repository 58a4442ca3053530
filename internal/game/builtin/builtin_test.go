package builtin_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/game/builtin"
	"github.com/cory-johannsen/lobby/internal/scripting"
)

func TestNewRegistryDefaults(t *testing.T) {
	lib := scripting.NewLibrary(t.TempDir(), 0, zaptest.NewLogger(t))
	reg, err := builtin.NewRegistry(game.DefaultSpecs(), 10, lib, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"pong", "snake"}, reg.IDs())

	def, err := reg.Lookup("pong")
	require.NoError(t, err)
	g, err := def.Factory(def.Spec)
	require.NoError(t, err)
	assert.NotNil(t, g)
}

func TestNewRegistryRejectsBadEntries(t *testing.T) {
	lib := scripting.NewLibrary(t.TempDir(), 0, zaptest.NewLogger(t))
	specs := []game.Spec{
		{ID: "chess", Engine: game.EngineBuiltin},
		{ID: "ghost", Engine: game.EngineLua, Script: "ghost.lua"},
		{ID: "snake"},
	}
	_, err := builtin.NewRegistry(specs, 10, lib, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"chess"`)
	assert.Contains(t, err.Error(), `"ghost"`)
	assert.NotContains(t, err.Error(), `"snake"`)
}

func TestLoadShippedContent(t *testing.T) {
	root := filepath.Join("..", "..", "..", "content")
	cfg := config.Default()
	cfg.Games.CatalogDir = filepath.Join(root, "games")
	cfg.Scripting.ScriptDir = filepath.Join(root, "scripts")

	reg, err := builtin.Load(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"hotpotato", "pong", "snake"}, reg.IDs())

	spec, err := reg.SpecFor("hotpotato")
	require.NoError(t, err)
	assert.Equal(t, 10, spec.TicksPerSecond)
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.Games.CatalogDir = filepath.Join(t.TempDir(), "absent")
	reg, err := builtin.Load(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"pong", "snake"}, reg.IDs())
}

func TestLoadBrokenScript(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("id: bad\nengine: lua\nscript: bad.lua\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.lua"), []byte("function ("), 0644))
	cfg := config.Default()
	cfg.Games.CatalogDir = dir
	cfg.Scripting.ScriptDir = dir

	_, err := builtin.Load(cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}
