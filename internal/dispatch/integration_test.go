package dispatch_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/dispatch"
	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/game/builtin"
	"github.com/cory-johannsen/lobby/internal/lobby"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
	"github.com/cory-johannsen/lobby/internal/testutil"
	"github.com/cory-johannsen/lobby/internal/transport"
)

const wait = 2 * time.Second

func startServer(t *testing.T) string {
	t.Helper()
	logger := zaptest.NewLogger(t)

	games := game.NewRegistry(10)
	for _, spec := range game.DefaultSpecs() {
		require.NoError(t, games.Register(game.Definition{Spec: spec, Factory: builtin.Factories()[spec.ID]}))
	}
	clients := registry.New()
	mgr := lobby.NewManager(config.LobbyConfig{}, clients, games, logger)

	cfg := config.ServerConfig{
		Host:          "127.0.0.1",
		WriteTimeout:  wait,
		SendQueueSize: 64,
		MaxFrameBytes: 1 << 16,
	}
	acc := transport.NewAcceptor(cfg, dispatch.NewHandler(clients, mgr, logger), logger)
	errCh := make(chan error, 1)
	go func() { errCh <- acc.ListenAndServe() }()
	t.Cleanup(func() {
		acc.Stop()
		mgr.Shutdown()
	})

	deadline := time.After(wait)
	for !acc.IsRunning() || acc.Addr() == "" {
		select {
		case err := <-errCh:
			t.Fatalf("acceptor failed: %v", err)
		case <-deadline:
			t.Fatal("acceptor did not start in time")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	return acc.Addr()
}

func dial(t *testing.T, addr string) (*testutil.LobbyClient, int) {
	t.Helper()
	c := testutil.NewLobbyClient(t, addr)
	connected, ok := c.Next(wait).(*protocol.Connected)
	require.True(t, ok, "first message must be connected")
	assert.NotEmpty(t, connected.Address)
	return c, connected.ClientID
}

func TestEndToEndGameRound(t *testing.T) {
	addr := startServer(t)
	alice, aliceID := dial(t, addr)
	bob, bobID := dial(t, addr)
	watcher, _ := dial(t, addr)
	require.NotEqual(t, aliceID, bobID)

	alice.Send(&protocol.CreateLobby{Username: "alice", LobbyTitle: "Arena"})
	info := alice.ReadUntil(protocol.TypeLobbyInfo, wait).(*protocol.LobbyInfoMessage).Info
	assert.Equal(t, "Arena", info.Title)
	assert.Equal(t, aliceID, info.Host.ID)

	bob.Send(&protocol.LobbyListRequest{})
	list := bob.ReadUntil(protocol.TypeLobbyList, wait).(*protocol.LobbyList)
	require.Len(t, list.Lobbies, 1)

	bob.Send(&protocol.JoinLobby{LobbyID: list.Lobbies[0].LobbyID, Username: "bob"})
	info = bob.ReadUntil(protocol.TypeLobbyInfo, wait).(*protocol.LobbyInfoMessage).Info
	assert.Len(t, info.Players, 2)

	bob.Send(&protocol.ChatMessage{Text: "hi"})
	chat := alice.ReadUntil(protocol.TypeChatMessage, wait).(*protocol.ChatMessage)
	assert.Equal(t, "<bob> hi", chat.Text)

	snake := "snake"
	alice.Send(&protocol.ChangeLobbySettings{GameID: &snake})
	info = bob.ReadUntil(protocol.TypeLobbyInfo, wait).(*protocol.LobbyInfoMessage).Info
	assert.Equal(t, "snake", info.GameID)

	alice.Send(&protocol.StartGame{})
	for _, c := range []*testutil.LobbyClient{alice, bob} {
		started := c.ReadUntil(protocol.TypeGameStarted, wait).(*protocol.GameStarted)
		assert.Equal(t, "snake", started.GameID)
		assert.Equal(t, aliceID, started.HostClient.ID)
	}
	alice.Send(&protocol.GameInitialized{})
	bob.Send(&protocol.GameInitialized{})

	// A running lobby leaves the public listing.
	for {
		l := watcher.ReadUntil(protocol.TypeLobbyList, wait).(*protocol.LobbyList)
		if len(l.Lobbies) == 0 {
			break
		}
	}
	alice.Send(&protocol.GameData{Payload: []byte("move")})
	data := bob.ReadUntil(protocol.TypeGameData, wait).(*protocol.GameData)
	assert.Equal(t, []byte("move"), data.Payload)

	alice.Close()
	bob.ReadUntil(protocol.TypeGameOver, wait)
	info = bob.ReadUntil(protocol.TypeLobbyInfo, wait).(*protocol.LobbyInfoMessage).Info
	assert.Equal(t, bobID, info.Host.ID)
	assert.Len(t, info.Players, 1)
}

func TestEndToEndMalformedFrameKeepsConnection(t *testing.T) {
	addr := startServer(t)
	c, _ := dial(t, addr)

	c.SendRaw([]byte(`{"type":`))
	e, ok := c.Next(wait).(*protocol.Error)
	require.True(t, ok)
	assert.NotEmpty(t, e.Detail)

	c.Send(&protocol.LobbyListRequest{})
	_, ok = c.Next(wait).(*protocol.LobbyList)
	assert.True(t, ok, "connection survives a malformed frame")
}

func TestEndToEndIllegalMessagesAreIgnored(t *testing.T) {
	addr := startServer(t)
	c, _ := dial(t, addr)

	c.Send(&protocol.ChatMessage{Text: "nobody hears this"})
	c.Send(&protocol.LobbyInfoMessage{})
	c.Send(&protocol.GameData{Payload: []byte("x")})
	c.ExpectSilence(200 * time.Millisecond)
}

func TestEndToEndJoinMissingLobby(t *testing.T) {
	addr := startServer(t)
	c, _ := dial(t, addr)

	c.Send(&protocol.JoinLobby{LobbyID: 77, Username: "lost"})
	kicked, ok := c.Next(wait).(*protocol.KickedFromLobby)
	require.True(t, ok)
	assert.Equal(t, lobby.NotFoundReason, kicked.Reason)
}

func TestEndToEndJoinWithoutLobbyIDIsRejected(t *testing.T) {
	addr := startServer(t)
	host, _ := dial(t, addr)
	host.Send(&protocol.CreateLobby{Username: "host", LobbyTitle: "Zero"})
	info := host.ReadUntil(protocol.TypeLobbyInfo, wait).(*protocol.LobbyInfoMessage).Info
	require.Equal(t, 0, info.LobbyID)

	c, _ := dial(t, addr)
	c.SendRaw([]byte(`{"type":"join_lobby","body":{"username":"nobody"}}`))
	e, ok := c.ReadUntil(protocol.TypeError, wait).(*protocol.Error)
	require.True(t, ok)
	assert.Contains(t, e.Detail, protocol.ErrMissingField.Error())
	host.ExpectSilence(200 * time.Millisecond)
}
