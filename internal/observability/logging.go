// Package observability provides logging utilities for the lobby server.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/lobby/internal/config"
)

// Field keys shared by every component so log lines can be joined on them.
const (
	KeyClientID   = "client_id"
	KeyRemoteAddr = "remote_addr"
	KeyLobbyID    = "lobby_id"
	KeyGameID     = "game_id"
	KeySessionID  = "session_id"
	KeyMsgType    = "msg_type"
)

// NewLogger creates a structured logger from the given logging configuration.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	var zapCfg zap.Config
	switch cfg.Format {
	case "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Named("lobby"), nil
}

// ClientID returns the field identifying a connected client.
func ClientID(id int) zap.Field { return zap.Int(KeyClientID, id) }

// RemoteAddr returns the field identifying a peer address.
func RemoteAddr(addr string) zap.Field { return zap.String(KeyRemoteAddr, addr) }

// LobbyID returns the field identifying a lobby.
func LobbyID(id int) zap.Field { return zap.Int(KeyLobbyID, id) }

// GameID returns the field identifying a game type.
func GameID(id string) zap.Field { return zap.String(KeyGameID, id) }

// SessionID returns the field identifying one running game session.
func SessionID(id string) zap.Field { return zap.String(KeySessionID, id) }

// MsgType returns the field naming a protocol message type.
func MsgType(t string) zap.Field { return zap.String(KeyMsgType, t) }
