package dispatch

import (
	"github.com/cory-johannsen/lobby/internal/lobby"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// stateSet is a bit set of lobby.State values.
type stateSet uint8

func statesOf(states ...lobby.State) stateSet {
	var s stateSet
	for _, st := range states {
		s |= 1 << st
	}
	return s
}

func (s stateSet) has(st lobby.State) bool { return s&(1<<st) != 0 }

var (
	anyState  = statesOf(lobby.Unattached, lobby.InLobby, lobby.InGame)
	detached  = statesOf(lobby.Unattached)
	attached  = statesOf(lobby.InLobby, lobby.InGame)
	lobbyOnly = statesOf(lobby.InLobby)
	gameOnly  = statesOf(lobby.InGame)
)

type routeFunc func(h *Handler, c *registry.Client, msg protocol.Message) error

type route struct {
	allowed stateSet
	fn      routeFunc
}

// routes is the single source of truth for inbound dispatch. Disconnect is
// handled by the pump itself.
var routes = map[protocol.Type]route{
	protocol.TypeLobbyListRequest:    {anyState, handleLobbyListRequest},
	protocol.TypeCreateLobby:         {detached, handleCreateLobby},
	protocol.TypeJoinLobby:           {detached, handleJoinLobby},
	protocol.TypeLeaveLobby:          {attached, handleLeaveLobby},
	protocol.TypeChatMessage:         {attached, handleChat},
	protocol.TypeChangeLobbySettings: {attached, handleChangeSettings},
	protocol.TypeKickPlayer:          {lobbyOnly, handleKick},
	protocol.TypeStartGameTimer:      {lobbyOnly, handleStartTimer},
	protocol.TypeStartGame:           {lobbyOnly, handleStartGame},
	protocol.TypeGameInitialized:     {lobbyOnly, handleGameInitialized},
	protocol.TypeGameData:            {gameOnly, handleGameData},
	protocol.TypeInvalid:             {anyState, handleInvalid},
}

func handleLobbyListRequest(h *Handler, c *registry.Client, _ protocol.Message) error {
	return c.Send(&protocol.LobbyList{Lobbies: h.lobbies.ListPublic()})
}

func handleCreateLobby(h *Handler, c *registry.Client, msg protocol.Message) error {
	m := msg.(*protocol.CreateLobby)
	_, err := h.lobbies.Create(c, m.Username, m.Settings, m.LobbyTitle, m.Private)
	return err
}

func handleJoinLobby(h *Handler, c *registry.Client, msg protocol.Message) error {
	m := msg.(*protocol.JoinLobby)
	return h.lobbies.Join(m.LobbyID, c, m.Username)
}

func handleLeaveLobby(h *Handler, c *registry.Client, _ protocol.Message) error {
	return h.lobbies.Leave(c)
}

func handleChat(h *Handler, c *registry.Client, msg protocol.Message) error {
	return h.lobbies.PostChat(c, msg.(*protocol.ChatMessage).Text)
}

func handleChangeSettings(h *Handler, c *registry.Client, msg protocol.Message) error {
	return h.lobbies.ChangeSettings(c, msg.(*protocol.ChangeLobbySettings))
}

func handleKick(h *Handler, c *registry.Client, msg protocol.Message) error {
	return h.lobbies.Kick(c, msg.(*protocol.KickPlayer).ClientID, "")
}

func handleStartTimer(h *Handler, c *registry.Client, msg protocol.Message) error {
	return h.lobbies.RelayStartTimer(c, msg.(*protocol.StartGameTimer).StartTime)
}

func handleStartGame(h *Handler, c *registry.Client, _ protocol.Message) error {
	return h.lobbies.AnnounceGame(c)
}

func handleGameInitialized(h *Handler, c *registry.Client, _ protocol.Message) error {
	return h.lobbies.AcknowledgeInit(c)
}

func handleGameData(h *Handler, c *registry.Client, msg protocol.Message) error {
	return h.lobbies.RelayGameData(c, msg.(*protocol.GameData).Payload)
}

func handleInvalid(_ *Handler, c *registry.Client, msg protocol.Message) error {
	return c.Send(&protocol.Error{Detail: msg.(*protocol.Invalid).Detail})
}
