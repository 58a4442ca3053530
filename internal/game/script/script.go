// Package script runs catalogue games written in Lua. Each session gets its
// own sandboxed VM with a global "game" table bound to that session.
//
// A script may define any of these globals; missing ones are skipped:
//
//	on_start()
//	on_tick()
//	on_data(player, payload)
//	on_disconnect(player)
//	on_host_transfer(old_host)
//
// Players are tables {id = n, username = s}; payloads are strings.
package script

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/scripting"
)

// ModuleName is the global table scripts use to reach their session.
const ModuleName = "game"

// Game adapts a Lua sandbox to the game.Game hooks.
type Game struct {
	id  string
	sb  *scripting.Sandbox
	ctx *game.Context
}

// NewFactory returns a game.Factory that instantiates spec.Script from lib.
//
// Precondition: lib must be non-nil.
func NewFactory(lib *scripting.Library) game.Factory {
	return func(spec game.Spec) (game.Game, error) {
		g := &Game{id: spec.ID}
		sb, err := lib.Instantiate(spec.Script, g.module())
		if err != nil {
			return nil, fmt.Errorf("game %q: %w", spec.ID, err)
		}
		g.sb = sb
		return g, nil
	}
}

func (g *Game) Start(ctx *game.Context) error {
	return g.hook(ctx, "on_start")
}

func (g *Game) Tick(ctx *game.Context) error {
	return g.hook(ctx, "on_tick")
}

func (g *Game) Data(ctx *game.Context, from game.Player, payload []byte) error {
	return g.hook(ctx, "on_data", g.player(from), lua.LString(payload))
}

func (g *Game) Disconnect(ctx *game.Context, p game.Player) error {
	return g.hook(ctx, "on_disconnect", g.player(p))
}

func (g *Game) HostTransfer(ctx *game.Context, oldHost game.Player) error {
	return g.hook(ctx, "on_host_transfer", g.player(oldHost))
}

// Close releases the VM.
func (g *Game) Close() error {
	g.sb.Close()
	return nil
}

// hook calls a Lua global with ctx bound for the duration of the call.
func (g *Game) hook(ctx *game.Context, name string, args ...lua.LValue) error {
	g.ctx = ctx
	defer func() { g.ctx = nil }()
	_, _, err := g.sb.Call(name, args...)
	return err
}

func (g *Game) player(p game.Player) *lua.LTable {
	t := g.sb.L.NewTable()
	t.RawSetString("id", lua.LNumber(p.ID))
	t.RawSetString("username", lua.LString(p.Username))
	return t
}

// current returns the bound context or raises a Lua error.
func (g *Game) current(L *lua.LState) *game.Context {
	if g.ctx == nil {
		L.RaiseError("game API used outside a hook")
	}
	return g.ctx
}

func (g *Game) module() scripting.Module {
	return scripting.Module{
		Name: ModuleName,
		Funcs: map[string]lua.LGFunction{
			"send":        g.luaSend,
			"send_all":    g.luaSendAll,
			"send_others": g.luaSendOthers,
			"end_game":    g.luaEnd,
			"players":     g.luaPlayers,
			"host":        g.luaHost,
			"setting":     g.luaSetting,
			"tick_rate":   g.luaTickRate,
			"log":         g.luaLog,
		},
	}
}

// game.send(payload, id, ...)
func (g *Game) luaSend(L *lua.LState) int {
	ctx := g.current(L)
	payload := L.CheckString(1)
	ids := make([]int, 0, L.GetTop()-1)
	for i := 2; i <= L.GetTop(); i++ {
		ids = append(ids, L.CheckInt(i))
	}
	ctx.Send([]byte(payload), ids...)
	return 0
}

// game.send_all(payload)
func (g *Game) luaSendAll(L *lua.LState) int {
	ctx := g.current(L)
	ctx.SendAll([]byte(L.CheckString(1)))
	return 0
}

// game.send_others(except_id, payload)
func (g *Game) luaSendOthers(L *lua.LState) int {
	ctx := g.current(L)
	ctx.SendOthers(L.CheckInt(1), []byte(L.CheckString(2)))
	return 0
}

// game.end_game()
func (g *Game) luaEnd(L *lua.LState) int {
	g.current(L).End()
	return 0
}

// game.players() -> {{id, username}, ...} in join order
func (g *Game) luaPlayers(L *lua.LState) int {
	ctx := g.current(L)
	t := L.NewTable()
	for _, p := range ctx.Players() {
		t.Append(g.player(p))
	}
	L.Push(t)
	return 1
}

// game.host() -> {id, username}
func (g *Game) luaHost(L *lua.LState) int {
	L.Push(g.player(g.current(L).Host()))
	return 1
}

// game.setting(name) -> value or nil
func (g *Game) luaSetting(L *lua.LState) int {
	ctx := g.current(L)
	v := ctx.Settings()[L.CheckString(1)]
	L.Push(scripting.ToLua(L, v))
	return 1
}

// game.tick_rate() -> ticks per second, 0 when the game does not tick
func (g *Game) luaTickRate(L *lua.LState) int {
	L.Push(lua.LNumber(g.current(L).TicksPerSecond()))
	return 1
}

// game.log(message)
func (g *Game) luaLog(L *lua.LState) int {
	ctx := g.current(L)
	ctx.Logger().Info(L.CheckString(1), zap.String("script", g.id))
	return 0
}
