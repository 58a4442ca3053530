// Package snake is a relay game: clients simulate the board and the server
// forwards each member's moves to everyone else.
package snake

import (
	"github.com/cory-johannsen/lobby/internal/game"
)

// ID is the catalogue id this game registers under.
const ID = "snake"

// Game relays every payload to the members other than its sender.
type Game struct {
	game.Nop
}

// New is the game.Factory for snake.
func New(game.Spec) (game.Game, error) {
	return &Game{}, nil
}

func (g *Game) Data(ctx *game.Context, from game.Player, payload []byte) error {
	ctx.SendOthers(from.ID, payload)
	return nil
}

// Disconnect ends the game once a single player remains.
func (g *Game) Disconnect(ctx *game.Context, _ game.Player) error {
	if len(ctx.Players()) < 2 {
		ctx.End()
	}
	return nil
}
