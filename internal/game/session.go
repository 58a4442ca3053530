package game

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/protocol"
)

// DefaultMaxHookFailures is the consecutive hook failure count that ends a
// session when none is configured.
const DefaultMaxHookFailures = 3

// Sender delivers a message to a client by id without blocking.
type Sender interface {
	Send(clientID int, msg protocol.Message) error
}

// SessionConfig carries everything a session needs from its lobby.
type SessionConfig struct {
	Players     []Player
	Host        Player
	Settings    protocol.Settings
	Sender      Sender
	Logger      *zap.Logger
	MaxFailures int
	// OnEnd runs once, on its own goroutine, after the game ends itself.
	// It does not run for sessions ended by Stop.
	OnEnd func()
}

// Session drives one running game. All hooks are serialised by mu; state
// below mu is only touched with it held.
type Session struct {
	id          string
	spec        Spec
	game        Game
	sender      Sender
	logger      *zap.Logger
	maxFailures int
	onEnd       func()

	started chan struct{}
	done    chan struct{}
	running atomic.Bool

	mu           sync.Mutex
	players      []Player
	host         Player
	settings     protocol.Settings
	failures     int
	endRequested bool
	ended        bool
	ctx          *Context
}

// NewSession instantiates the game for def.
//
// Precondition: cfg.Sender and cfg.Logger must be non-nil; cfg.Players must
// contain cfg.Host.
// Postcondition: Returns a session that is not yet started, or the factory error.
func NewSession(def Definition, cfg SessionConfig) (*Session, error) {
	g, err := def.Factory(def.Spec)
	if err != nil {
		return nil, fmt.Errorf("creating game %q: %w", def.Spec.ID, err)
	}
	maxFailures := cfg.MaxFailures
	if maxFailures <= 0 {
		maxFailures = DefaultMaxHookFailures
	}
	id := uuid.NewString()
	s := &Session{
		id:          id,
		spec:        def.Spec,
		game:        g,
		sender:      cfg.Sender,
		logger:      cfg.Logger.With(observability.GameID(def.Spec.ID), observability.SessionID(id)),
		maxFailures: maxFailures,
		onEnd:       cfg.OnEnd,
		started:     make(chan struct{}),
		done:        make(chan struct{}),
		players:     slices.Clone(cfg.Players),
		host:        cfg.Host,
		settings:    cfg.Settings.Clone(),
	}
	s.ctx = &Context{s: s}
	s.running.Store(true)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// GameID returns the id of the game being played.
func (s *Session) GameID() string { return s.spec.ID }

// Running reports whether the session has not yet ended.
func (s *Session) Running() bool { return s.running.Load() }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

// Players returns a snapshot of the current members.
func (s *Session) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.players)
}

// Host returns the current host.
func (s *Session) Host() Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.host
}

// Start runs the start hook on its own goroutine and, when the game has a
// tick rate, starts the tick loop.
//
// Precondition: Start must be called at most once.
func (s *Session) Start() {
	s.logger.Info("game session starting",
		zap.Int("players", len(s.Players())),
		zap.Int("ticks_per_second", s.spec.TicksPerSecond),
	)
	go func() {
		defer close(s.started)
		s.invoke(hookStart, func(c *Context) error { return s.game.Start(c) })
	}()
	if s.spec.TicksPerSecond > 0 {
		go s.tickLoop(time.Second / time.Duration(s.spec.TicksPerSecond))
	}
}

const hookStart = "start"

// Data forwards one payload from a member to the game.
func (s *Session) Data(from Player, payload []byte) {
	s.invoke("data", func(c *Context) error {
		if !s.isMember(from.ID) {
			return fmt.Errorf("data from non-member %d", from.ID)
		}
		return s.game.Data(c, from, payload)
	})
}

// Disconnect removes p from the session. If p was host the first remaining
// member becomes host. The game's Disconnect hook runs after removal and its
// HostTransfer hook after any promotion.
func (s *Session) Disconnect(p Player) {
	s.invoke("disconnect", func(c *Context) error {
		idx := slices.IndexFunc(s.players, func(m Player) bool { return m.ID == p.ID })
		if idx < 0 {
			return nil
		}
		s.players = slices.Delete(s.players, idx, idx+1)
		promoted := false
		oldHost := s.host
		if oldHost.ID == p.ID && len(s.players) > 0 {
			s.host = s.players[0]
			promoted = true
		}
		err := s.game.Disconnect(c, p)
		if promoted {
			err = errors.Join(err, s.game.HostTransfer(c, oldHost))
		}
		return err
	})
}

// TransferHost makes newHost the host and runs the HostTransfer hook.
func (s *Session) TransferHost(newHost Player) {
	s.invoke("host_transfer", func(c *Context) error {
		if s.host.ID == newHost.ID {
			return nil
		}
		if !s.isMember(newHost.ID) {
			return fmt.Errorf("host transfer to non-member %d", newHost.ID)
		}
		old := s.host
		s.host = newHost
		return s.game.HostTransfer(c, old)
	})
}

// Stop ends the session without notifying members or running OnEnd.
// It is used when the owning lobby goes away.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.running.Store(false)
	s.mu.Unlock()
	close(s.done)
	s.release()
	s.logger.Info("game session stopped")
}

// release closes the game's resources. Callers must have set ended.
func (s *Session) release() {
	if c, ok := s.game.(Closer); ok {
		if err := c.Close(); err != nil {
			s.logger.Warn("closing game", zap.Error(err))
		}
	}
}

// isMember requires s.mu.
func (s *Session) isMember(id int) bool {
	return slices.ContainsFunc(s.players, func(m Player) bool { return m.ID == id })
}

// awaitStart blocks until the start hook has returned. It reports false when
// the session ended first.
func (s *Session) awaitStart() bool {
	select {
	case <-s.started:
		return true
	case <-s.done:
		return false
	}
}

// invoke runs fn under the session lock, containing errors and panics. Every
// hook but start waits for the start hook to return. The session is finished
// after the lock is released when the game asked to end or failed too often
// in a row.
func (s *Session) invoke(hook string, fn func(*Context) error) {
	if hook != hookStart && !s.awaitStart() {
		return
	}
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}

	if err := s.call(hook, fn); err != nil {
		s.failures++
		s.logger.Warn("game hook failed",
			zap.String("hook", hook),
			zap.Int("consecutive_failures", s.failures),
			zap.Error(err),
		)
		if s.failures >= s.maxFailures {
			s.logger.Error("too many consecutive hook failures, ending game",
				zap.Int("max_failures", s.maxFailures),
			)
			s.endRequested = true
		}
	} else {
		s.failures = 0
	}

	var members []Player
	finish := s.endRequested
	if finish {
		s.ended = true
		s.running.Store(false)
		members = slices.Clone(s.players)
	}
	s.mu.Unlock()

	if finish {
		s.finish(members)
	}
}

func (s *Session) call(hook string, fn func(*Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HookError{Hook: hook, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(s.ctx); err != nil {
		return &HookError{Hook: hook, Err: err}
	}
	return nil
}

func (s *Session) finish(members []Player) {
	close(s.done)
	s.release()
	for _, m := range members {
		_ = s.sender.Send(m.ID, &protocol.GameOver{})
	}
	s.logger.Info("game session ended", zap.Int("players", len(members)))
	if s.onEnd != nil {
		go s.onEnd()
	}
}

func (s *Session) tickLoop(interval time.Duration) {
	select {
	case <-s.started:
	case <-s.done:
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			if gap := now.Sub(last); gap >= 2*interval {
				s.logger.Warn("tick overrun, ticks skipped",
					zap.Int("skipped", int(gap/interval)-1),
					zap.Duration("gap", gap),
				)
			}
			last = now
			s.invoke("tick", func(c *Context) error { return s.game.Tick(c) })
		}
	}
}

// Context is a game's view of its session. It is only valid inside a hook.
type Context struct {
	s *Session
}

// SessionID returns the running session's id.
func (c *Context) SessionID() string { return c.s.id }

// Players returns the current members in join order.
func (c *Context) Players() []Player { return slices.Clone(c.s.players) }

// Host returns the current host.
func (c *Context) Host() Player { return c.s.host }

// Settings returns a copy of the settings snapshot taken at session start.
func (c *Context) Settings() protocol.Settings { return c.s.settings.Clone() }

// TicksPerSecond returns the game's fixed tick rate, or 0.
func (c *Context) TicksPerSecond() int { return c.s.spec.TicksPerSecond }

// Logger returns the session logger.
func (c *Context) Logger() *zap.Logger { return c.s.logger }

// Send relays payload to each listed member. Ids that are not members are skipped.
func (c *Context) Send(payload []byte, ids ...int) {
	for _, id := range ids {
		if c.s.isMember(id) {
			_ = c.s.sender.Send(id, &protocol.GameData{Payload: payload})
		}
	}
}

// SendAll relays payload to every member.
func (c *Context) SendAll(payload []byte) {
	for _, p := range c.s.players {
		_ = c.s.sender.Send(p.ID, &protocol.GameData{Payload: payload})
	}
}

// SendOthers relays payload to every member except the given id.
func (c *Context) SendOthers(except int, payload []byte) {
	for _, p := range c.s.players {
		if p.ID != except {
			_ = c.s.sender.Send(p.ID, &protocol.GameData{Payload: payload})
		}
	}
}

// End terminates the game once the current hook returns: ticking stops,
// members receive game_over, and the completion callback runs.
func (c *Context) End() {
	c.s.endRequested = true
}
