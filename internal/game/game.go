// Package game defines the pluggable game session engine: the Game
// capability interface, the registry of game definitions, the YAML game
// catalogue, and the Session runtime that drives one running game.
package game

import (
	"fmt"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// Player identifies a session member.
type Player = protocol.PlayerRef

// Game is the capability set a concrete game implements. Every hook runs on
// the session's goroutines with the session lock held, so implementations
// need no locking of their own. Hooks must not block.
type Game interface {
	// Start runs once when every member has initialised.
	Start(ctx *Context) error
	// Tick runs at the catalogue entry's fixed rate. Games with no rate never tick.
	Tick(ctx *Context) error
	// Data handles one opaque payload from a member.
	Data(ctx *Context, from Player, payload []byte) error
	// Disconnect runs after p has been removed from the member list.
	Disconnect(ctx *Context, p Player) error
	// HostTransfer runs after the host changed away from oldHost.
	HostTransfer(ctx *Context, oldHost Player) error
}

// Nop implements every hook as a no-op. Embed it to override only what a
// game needs.
type Nop struct{}

func (Nop) Start(*Context) error                { return nil }
func (Nop) Tick(*Context) error                 { return nil }
func (Nop) Data(*Context, Player, []byte) error { return nil }
func (Nop) Disconnect(*Context, Player) error   { return nil }
func (Nop) HostTransfer(*Context, Player) error { return nil }

// Closer is implemented by games that hold resources beyond a single hook.
// Close runs once, after the session has ended and no hook can run again.
type Closer interface {
	Close() error
}

// Factory builds a fresh Game for one session.
type Factory func(spec Spec) (Game, error)

// Definition binds a catalogue entry to the factory that instantiates it.
type Definition struct {
	Spec    Spec
	Factory Factory
}

// HookError reports a failure or panic inside a game hook. It is contained at
// the session boundary.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("game hook %s: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }
