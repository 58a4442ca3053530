package script_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/game/script"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/scripting"
)

type inbox struct {
	mu  sync.Mutex
	got map[int][]string
	end int
}

func newInbox() *inbox { return &inbox{got: map[int][]string{}} }

func (b *inbox) Send(id int, msg protocol.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch m := msg.(type) {
	case *protocol.GameData:
		b.got[id] = append(b.got[id], string(m.Payload))
	case *protocol.GameOver:
		b.end++
	}
	return nil
}

func (b *inbox) Ends() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.end
}

func (b *inbox) For(id int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.got[id]...)
}

var (
	ann  = game.Player{Username: "ann", ID: 1}
	ben  = game.Player{Username: "ben", ID: 2}
	cleo = game.Player{Username: "cleo", ID: 3}
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newScriptSession(t *testing.T, lib *scripting.Library, spec game.Spec, settings protocol.Settings) (*game.Session, *inbox) {
	t.Helper()
	box := newInbox()
	s, err := game.NewSession(game.Definition{Spec: spec, Factory: script.NewFactory(lib)}, game.SessionConfig{
		Players:  []game.Player{ann, ben, cleo},
		Host:     ann,
		Settings: settings,
		Sender:   box,
		Logger:   zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	return s, box
}

const echoScript = `
function on_start()
  local h = game.host()
  game.send_all("host:" .. h.username .. ":" .. #game.players() .. ":" .. game.setting("rounds"))
end

function on_data(player, payload)
  if payload == "end" then
    game.end_game()
  elseif payload == "spin" then
    while true do end
  elseif payload == "direct" then
    game.send("to-you", player.id, 99)
  else
    game.send_others(player.id, player.username .. ">" .. payload)
  end
end

function on_host_transfer(old)
  game.send_all("host:" .. old.username .. "->" .. game.host().username)
end
`

func writeScript(t *testing.T, body string) *scripting.Library {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "echo.lua"), []byte(body), 0644))
	return scripting.NewLibrary(dir, 10_000, zaptest.NewLogger(t))
}

func TestScriptHooksAndAPI(t *testing.T) {
	lib := writeScript(t, echoScript)
	spec := game.Spec{ID: "echo", Engine: game.EngineLua, Script: "echo.lua"}
	s, box := newScriptSession(t, lib, spec, protocol.Settings{"rounds": 3})

	s.Start()
	waitFor(t, func() bool { return len(box.For(cleo.ID)) == 1 })
	assert.Equal(t, []string{"host:ann:3:3"}, box.For(ben.ID))

	s.Data(ben, []byte("hi"))
	assert.Equal(t, []string{"host:ann:3:3", "ben>hi"}, box.For(ann.ID))
	assert.Len(t, box.For(ben.ID), 1)

	s.Data(cleo, []byte("direct"))
	assert.Equal(t, []string{"host:ann:3:3", "ben>hi", "to-you"}, box.For(cleo.ID))

	s.Disconnect(ann)
	assert.Equal(t, "host:ann->ben", box.For(ben.ID)[1])

	s.Data(ben, []byte("end"))
	waitFor(t, func() bool { return !s.Running() })
	assert.Equal(t, 2, box.Ends())
}

func TestScriptRunawayHookIsContained(t *testing.T) {
	lib := writeScript(t, echoScript)
	spec := game.Spec{ID: "echo", Engine: game.EngineLua, Script: "echo.lua"}
	s, box := newScriptSession(t, lib, spec, protocol.Settings{"rounds": 1})
	s.Start()

	s.Data(ann, []byte("spin"))
	assert.True(t, s.Running())
	s.Data(ann, []byte("ok"))
	assert.Equal(t, []string{"host:ann:3:1", "ann>ok"}, box.For(ben.ID))

	for i := 0; i < game.DefaultMaxHookFailures; i++ {
		s.Data(ann, []byte("spin"))
	}
	waitFor(t, func() bool { return !s.Running() })
}

func TestScriptAPIOutsideHookFailsLoad(t *testing.T) {
	lib := writeScript(t, `game.send_all("too early")`)
	_, err := script.NewFactory(lib)(game.Spec{ID: "bad", Engine: game.EngineLua, Script: "echo.lua"})
	assert.ErrorContains(t, err, "outside a hook")
}

func TestScriptMissingFile(t *testing.T) {
	lib := scripting.NewLibrary(t.TempDir(), 0, zaptest.NewLogger(t))
	_, err := script.NewFactory(lib)(game.Spec{ID: "gone", Engine: game.EngineLua, Script: "gone.lua"})
	assert.Error(t, err)
}

func TestHotPotatoContent(t *testing.T) {
	lib := scripting.NewLibrary(filepath.Join("..", "..", "..", "content", "scripts"), 0, zaptest.NewLogger(t))
	spec := game.Spec{ID: "hotpotato", Engine: game.EngineLua, Script: "hotpotato.lua", TicksPerSecond: 50}
	s, box := newScriptSession(t, lib, spec, protocol.Settings{"fuse_seconds": 1, "max_players": 3})

	s.Start()
	waitFor(t, func() bool { return len(box.For(ben.ID)) >= 1 })
	assert.Equal(t, "holder:1", box.For(ben.ID)[0])

	s.Data(ben, []byte("pass"))
	s.Data(ann, []byte("pass"))
	waitFor(t, func() bool { return len(box.For(cleo.ID)) >= 2 })
	assert.Equal(t, "holder:2", box.For(cleo.ID)[1])

	waitFor(t, func() bool { return !s.Running() })
	last := box.For(ann.ID)
	assert.Equal(t, "boom:2", last[len(last)-1])
}
