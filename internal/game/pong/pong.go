// Package pong implements the server side of two-player pong: it serves the
// ball, relays paddle and ball events between the players, and ends the
// match after a period with no traffic.
package pong

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/game"
)

// ID is the catalogue id this game registers under.
const ID = "pong"

// IdleTimeoutKey is the setting holding the idle timeout in seconds.
const IdleTimeoutKey = "idle_timeout"

// DefaultIdleTimeout applies when the setting is absent, in seconds.
const DefaultIdleTimeout = 60

// ServeSpeed is the magnitude of each velocity component on the opening serve.
const ServeSpeed = 6

// Event kinds carried in game_data payloads.
const (
	KindBallHit    = "ball_hit"
	KindPaddleMove = "paddle_move"
)

// Event is the JSON payload pong clients exchange.
type Event struct {
	Kind     string      `json:"kind"`
	Position *[2]float64 `json:"position,omitempty"`
	Velocity *[2]float64 `json:"velocity,omitempty"`
	Y        *float64    `json:"y,omitempty"`
}

// Game holds per-match state. Hooks are serialised by the session.
type Game struct {
	game.Nop
	idleTicks int
}

// New is the game.Factory for pong.
func New(game.Spec) (game.Game, error) {
	return &Game{}, nil
}

// Start serves the ball to member i with velocity ((2i-1)*ServeSpeed, ServeSpeed),
// so the first two players receive it travelling in opposite directions.
func (g *Game) Start(ctx *game.Context) error {
	for i, p := range ctx.Players() {
		v := [2]float64{float64((2*i - 1) * ServeSpeed), ServeSpeed}
		payload, err := json.Marshal(Event{Kind: KindBallHit, Velocity: &v})
		if err != nil {
			return fmt.Errorf("encoding serve: %w", err)
		}
		ctx.Send(payload, p.ID)
	}
	return nil
}

func (g *Game) Data(ctx *game.Context, from game.Player, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decoding pong event: %w", err)
	}
	switch ev.Kind {
	case KindBallHit, KindPaddleMove:
		g.idleTicks = 0
		ctx.SendOthers(from.ID, payload)
		return nil
	default:
		return fmt.Errorf("unknown pong event %q", ev.Kind)
	}
}

func (g *Game) Tick(ctx *game.Context) error {
	g.idleTicks++
	if g.idleTicks >= idleLimit(ctx) {
		ctx.Logger().Info("pong match idle, ending", zap.Int("idle_ticks", g.idleTicks))
		ctx.End()
	}
	return nil
}

// Disconnect ends the match when nobody is left to play against.
func (g *Game) Disconnect(ctx *game.Context, _ game.Player) error {
	if len(ctx.Players()) < 2 {
		ctx.End()
	}
	return nil
}

// idleLimit converts the idle timeout setting to ticks.
func idleLimit(ctx *game.Context) int {
	secs, ok := ctx.Settings().Int(IdleTimeoutKey)
	if !ok || secs <= 0 {
		secs = DefaultIdleTimeout
	}
	tps := ctx.TicksPerSecond()
	if tps <= 0 {
		tps = 1
	}
	return secs * tps
}
