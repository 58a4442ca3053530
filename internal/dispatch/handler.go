// Package dispatch runs the per-client message pump: it registers each
// connection, routes inbound messages to the lobby manager according to the
// client's state, and tears the client down on disconnect.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/lobby"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
	"github.com/cory-johannsen/lobby/internal/transport"
)

// Conn is the connection surface the pump needs.
type Conn interface {
	RemoteAddr() string
	Send(msg protocol.Message) error
	Receive() protocol.Message
}

// Handler implements transport.SessionHandler.
type Handler struct {
	clients *registry.Registry
	lobbies *lobby.Manager
	logger  *zap.Logger
}

// NewHandler creates a Handler.
//
// Precondition: all arguments must be non-nil.
func NewHandler(clients *registry.Registry, lobbies *lobby.Manager, logger *zap.Logger) *Handler {
	return &Handler{clients: clients, lobbies: lobbies, logger: logger}
}

// HandleSession implements transport.SessionHandler.
func (h *Handler) HandleSession(ctx context.Context, conn *transport.Conn) error {
	return h.Serve(ctx, conn)
}

// Serve registers conn, announces its id, and pumps messages until the peer
// disconnects or ctx is cancelled. Cancellation only takes effect once
// Receive returns, so the caller must also close the connection.
//
// Postcondition: The client has left its lobby and is unregistered.
func (h *Handler) Serve(ctx context.Context, conn Conn) error {
	start := time.Now()
	c := h.clients.Register(conn, conn.RemoteAddr())
	logger := h.logger.With(observability.ClientID(c.ID), observability.RemoteAddr(c.Address))
	defer h.teardown(c, logger, start)

	if err := conn.Send(&protocol.Connected{Address: c.Address, ClientID: c.ID}); err != nil {
		return fmt.Errorf("sending connected: %w", err)
	}
	logger.Info("client registered")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if quit := h.Dispatch(c, conn.Receive(), logger); quit {
			return nil
		}
	}
}

// teardown leaves the lobby before unregistering; the client stays
// addressable until its lobby no longer references it.
func (h *Handler) teardown(c *registry.Client, logger *zap.Logger, start time.Time) {
	if err := h.lobbies.Leave(c); err != nil && !errors.Is(err, lobby.ErrNotInLobby) {
		logger.Warn("leaving lobby on disconnect", zap.Error(err))
	}
	h.clients.Unregister(c.ID)
	logger.Info("client unregistered", zap.Duration("connected_for", time.Since(start)))
}

// Dispatch applies one inbound message. It reports true when the client asked
// to disconnect or its connection failed.
func (h *Handler) Dispatch(c *registry.Client, msg protocol.Message, logger *zap.Logger) bool {
	typ := msg.MessageType()
	if typ == protocol.TypeDisconnect {
		return true
	}

	r, ok := routes[typ]
	if !ok {
		if protocol.ServerOnly(typ) {
			logger.Warn("ignoring server-only message from client", observability.MsgType(string(typ)))
		} else {
			logger.Warn("ignoring unroutable message", observability.MsgType(string(typ)))
		}
		return false
	}

	state := h.lobbies.StateOf(c)
	if !r.allowed.has(state) {
		logger.Warn("illegal state transition",
			observability.MsgType(string(typ)),
			zap.Stringer("state", state),
		)
		return false
	}

	if err := r.fn(h, c, msg); err != nil {
		h.reject(c, typ, err, logger)
	}
	return false
}

// reject answers a failed request. Join failures are answered with
// kicked_from_lobby so the client returns to the browser; stale state is only
// logged; everything else gets an error message.
func (h *Handler) reject(c *registry.Client, typ protocol.Type, err error, logger *zap.Logger) {
	logger.Info("request rejected", observability.MsgType(string(typ)), zap.Error(err))

	switch {
	case typ == protocol.TypeJoinLobby:
		h.send(c, &protocol.KickedFromLobby{Reason: joinReason(err)}, logger)
	case errors.Is(err, lobby.ErrNotStarting), errors.Is(err, lobby.ErrGameNotRunning):
	default:
		h.send(c, &protocol.Error{Detail: err.Error()}, logger)
	}
}

func joinReason(err error) string {
	switch {
	case errors.Is(err, lobby.ErrLobbyNotFound):
		return lobby.NotFoundReason
	case errors.Is(err, lobby.ErrLobbyFull):
		return "Lobby is full."
	case errors.Is(err, lobby.ErrGameInProgress):
		return "Game already in progress."
	default:
		return err.Error()
	}
}

func (h *Handler) send(c *registry.Client, msg protocol.Message, logger *zap.Logger) {
	if err := c.Send(msg); err != nil {
		logger.Debug("dropping message", observability.MsgType(string(msg.MessageType())), zap.Error(err))
	}
}
