// Package protocol defines the lobby wire protocol: the message catalogue,
// its JSON envelope encoding, and length-prefixed framing.
package protocol

// Type is the discriminant carried by every message envelope.
type Type string

// Message catalogue.
const (
	TypeConnected           Type = "connected"
	TypeDisconnect          Type = "disconnect"
	TypeLobbyListRequest    Type = "lobby_list_request"
	TypeLobbyList           Type = "lobby_list"
	TypeCreateLobby         Type = "create_lobby"
	TypeJoinLobby           Type = "join_lobby"
	TypeKickedFromLobby     Type = "kicked_from_lobby"
	TypeLeaveLobby          Type = "leave_lobby"
	TypeChangeLobbySettings Type = "change_lobby_settings"
	TypeLobbyInfo           Type = "lobby_info"
	TypeKickPlayer          Type = "kick_player_from_lobby"
	TypeChatMessage         Type = "chat_message"
	TypeStartGameTimer      Type = "start_game_start_timer"
	TypeStartGame           Type = "start_game"
	TypeGameStarted         Type = "game_started"
	TypeGameInitialized     Type = "game_initialized"
	TypeGameData            Type = "game_data"
	TypeGameOver            Type = "game_over"
	TypeError               Type = "error"

	// TypeInvalid marks a frame that could not be decoded. It never appears on the wire.
	TypeInvalid Type = "invalid"
)

// Message is any value in the catalogue.
type Message interface {
	MessageType() Type
}

// serverOnly lists the types only the server may emit.
var serverOnly = map[Type]bool{
	TypeConnected:       true,
	TypeLobbyList:       true,
	TypeKickedFromLobby: true,
	TypeLobbyInfo:       true,
	TypeGameStarted:     true,
	TypeGameOver:        true,
	TypeError:           true,
}

// ServerOnly reports whether t is a type clients must never send.
func ServerOnly(t Type) bool {
	return serverOnly[t]
}

// PlayerRef is the lightweight identity of a client used in manifests and listings.
type PlayerRef struct {
	Username string `json:"username"`
	ID       int    `json:"id"`
}

// LobbyInfo describes a lobby. Private and GameSettings are set only in detailed
// (in-lobby) views; Chat only when history was explicitly requested.
type LobbyInfo struct {
	LobbyID      int         `json:"lobby_id"`
	Title        string      `json:"lobby_title"`
	Host         PlayerRef   `json:"host"`
	Players      []PlayerRef `json:"players"`
	GameID       string      `json:"game_id,omitempty"`
	MaxPlayers   int         `json:"max_players"`
	Private      *bool       `json:"private,omitempty"`
	Chat         []string    `json:"chat,omitempty"`
	GameSettings Settings    `json:"game_settings,omitempty"`
}

type Connected struct {
	Address  string `json:"address"`
	ClientID int    `json:"client_id"`
}

type Disconnect struct{}

type LobbyListRequest struct{}

type LobbyList struct {
	Lobbies []LobbyInfo `json:"lobbies"`
}

type CreateLobby struct {
	Username   string   `json:"username"`
	LobbyTitle string   `json:"lobby_title"`
	Settings   Settings `json:"settings"`
	Private    bool     `json:"private"`
}

type JoinLobby struct {
	LobbyID  int    `json:"lobby_id"`
	Username string `json:"username"`
}

type KickedFromLobby struct {
	Reason string `json:"reason,omitempty"`
}

type LeaveLobby struct{}

// ChangeLobbySettings is a partial update. A nil field is left unchanged.
type ChangeLobbySettings struct {
	LobbyTitle   *string  `json:"lobby_title,omitempty"`
	Private      *bool    `json:"private,omitempty"`
	HostID       *int     `json:"host_id,omitempty"`
	GameID       *string  `json:"game_id,omitempty"`
	GameSettings Settings `json:"game_settings,omitempty"`
}

// Empty reports whether the patch touches nothing.
func (c *ChangeLobbySettings) Empty() bool {
	return c.LobbyTitle == nil && c.Private == nil && c.HostID == nil && c.GameID == nil && c.GameSettings == nil
}

type LobbyInfoMessage struct {
	Info LobbyInfo `json:"lobby_info"`
}

type KickPlayer struct {
	ClientID int `json:"client_id"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

// StartGameTimer carries the host's start time as seconds since the Unix epoch.
type StartGameTimer struct {
	StartTime float64 `json:"start_time"`
}

type StartGame struct{}

type GameStarted struct {
	Clients    []PlayerRef `json:"clients"`
	HostClient PlayerRef   `json:"host_client"`
	GameID     string      `json:"game_id"`
}

type GameInitialized struct{}

// GameData carries an opaque game payload. The lobby core never inspects it.
type GameData struct {
	Payload []byte `json:"payload"`
}

type GameOver struct{}

type Error struct {
	Detail string `json:"detail"`
}

// Invalid stands in for a frame that failed to decode.
type Invalid struct {
	Detail string
}

func (*Connected) MessageType() Type           { return TypeConnected }
func (*Disconnect) MessageType() Type          { return TypeDisconnect }
func (*LobbyListRequest) MessageType() Type    { return TypeLobbyListRequest }
func (*LobbyList) MessageType() Type           { return TypeLobbyList }
func (*CreateLobby) MessageType() Type         { return TypeCreateLobby }
func (*JoinLobby) MessageType() Type           { return TypeJoinLobby }
func (*KickedFromLobby) MessageType() Type     { return TypeKickedFromLobby }
func (*LeaveLobby) MessageType() Type          { return TypeLeaveLobby }
func (*ChangeLobbySettings) MessageType() Type { return TypeChangeLobbySettings }
func (*LobbyInfoMessage) MessageType() Type    { return TypeLobbyInfo }
func (*KickPlayer) MessageType() Type          { return TypeKickPlayer }
func (*ChatMessage) MessageType() Type         { return TypeChatMessage }
func (*StartGameTimer) MessageType() Type      { return TypeStartGameTimer }
func (*StartGame) MessageType() Type           { return TypeStartGame }
func (*GameStarted) MessageType() Type         { return TypeGameStarted }
func (*GameInitialized) MessageType() Type     { return TypeGameInitialized }
func (*GameData) MessageType() Type            { return TypeGameData }
func (*GameOver) MessageType() Type            { return TypeGameOver }
func (*Error) MessageType() Type               { return TypeError }
func (*Invalid) MessageType() Type             { return TypeInvalid }

var constructors = map[Type]func() Message{
	TypeConnected:           func() Message { return &Connected{} },
	TypeDisconnect:          func() Message { return &Disconnect{} },
	TypeLobbyListRequest:    func() Message { return &LobbyListRequest{} },
	TypeLobbyList:           func() Message { return &LobbyList{} },
	TypeCreateLobby:         func() Message { return &CreateLobby{} },
	TypeJoinLobby:           func() Message { return &JoinLobby{} },
	TypeKickedFromLobby:     func() Message { return &KickedFromLobby{} },
	TypeLeaveLobby:          func() Message { return &LeaveLobby{} },
	TypeChangeLobbySettings: func() Message { return &ChangeLobbySettings{} },
	TypeLobbyInfo:           func() Message { return &LobbyInfoMessage{} },
	TypeKickPlayer:          func() Message { return &KickPlayer{} },
	TypeChatMessage:         func() Message { return &ChatMessage{} },
	TypeStartGameTimer:      func() Message { return &StartGameTimer{} },
	TypeStartGame:           func() Message { return &StartGame{} },
	TypeGameStarted:         func() Message { return &GameStarted{} },
	TypeGameInitialized:     func() Message { return &GameInitialized{} },
	TypeGameData:            func() Message { return &GameData{} },
	TypeGameOver:            func() Message { return &GameOver{} },
	TypeError:               func() Message { return &Error{} },
}
