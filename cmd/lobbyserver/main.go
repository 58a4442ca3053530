// Package main provides the lobby server binary: a framed TCP endpoint for
// game clients, an admin gRPC health endpoint, and an operator console.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/admin"
	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/dispatch"
	"github.com/cory-johannsen/lobby/internal/game/builtin"
	"github.com/cory-johannsen/lobby/internal/lobby"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/registry"
	"github.com/cory-johannsen/lobby/internal/server"
	"github.com/cory-johannsen/lobby/internal/transport"
)

var errKilled = errors.New("killed from console")

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	console := flag.Bool("console", true, "read operator commands from stdin")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	games, err := builtin.Load(cfg, logger)
	if err != nil {
		logger.Fatal("loading game catalogue", zap.Error(err))
	}

	clients := registry.New()
	lobbies := lobby.NewManager(cfg.Lobby, clients, games, logger)
	handler := dispatch.NewHandler(clients, lobbies, logger)
	acceptor := transport.NewAcceptor(cfg.Server, handler, logger)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	lifecycle := server.NewLifecycle(logger)

	var adminSrv *admin.Server
	if cfg.Admin.Enabled {
		adminSrv = admin.NewServer(cfg.Admin, logger)
		lifecycle.Add("admin", adminSrv)
	}

	lifecycle.Add("lobby", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn: func() {
			if adminSrv != nil {
				adminSrv.SetServing(false)
			}
			acceptor.Stop()
			lobbies.Shutdown()
		},
	})

	if *console {
		lifecycle.Add("console", server.NewConsole(os.Stdin, func() {
			cancel(errKilled)
		}, logger))
	}

	logger.Info("lobby server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("admin", cfg.Admin.Enabled),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
