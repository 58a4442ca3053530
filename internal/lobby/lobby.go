package lobby

import (
	"slices"
	"sync"

	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// State is where a client stands relative to lobbies and games.
type State int

const (
	Unattached State = iota
	InLobby
	InGame
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case InLobby:
		return "in_lobby"
	case InGame:
		return "in_game"
	default:
		return "unknown"
	}
}

// Lobby is one pre-game room. Every field below mu is guarded by it.
// Membership and host only change with the Manager's write lock also held.
type Lobby struct {
	ID int

	mu         sync.Mutex
	title      string
	private    bool
	host       *registry.Client
	members    []*registry.Client
	gameID     string
	settings   protocol.Settings
	maxPlayers int
	chat       []string
	// announced is set by start_game and cleared when the session starts.
	announced bool
	acks      map[int]bool
	session   *game.Session
}

// Info returns the lobby's wire view. The detailed view adds private and
// game settings; chat is only included when requested.
func (l *Lobby) Info(detailed, withChat bool) protocol.LobbyInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.infoLocked(detailed, withChat)
}

// Session returns the active session, or nil.
func (l *Lobby) Session() *game.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Chat returns a copy of the chat history, oldest first.
func (l *Lobby) Chat() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.chat)
}

// HostID returns the host's client id.
func (l *Lobby) HostID() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.host.ID
}

// MemberIDs returns member ids in join order.
func (l *Lobby) MemberIDs() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int, len(l.members))
	for i, m := range l.members {
		ids[i] = m.ID
	}
	return ids
}

func (l *Lobby) infoLocked(detailed, withChat bool) protocol.LobbyInfo {
	info := protocol.LobbyInfo{
		LobbyID:    l.ID,
		Title:      l.title,
		Host:       l.host.Ref(),
		Players:    l.refsLocked(),
		GameID:     l.gameID,
		MaxPlayers: l.maxPlayers,
	}
	if detailed {
		private := l.private
		info.Private = &private
		info.GameSettings = l.settings.Clone()
	}
	if withChat {
		info.Chat = slices.Clone(l.chat)
	}
	return info
}

func (l *Lobby) refsLocked() []protocol.PlayerRef {
	refs := make([]protocol.PlayerRef, len(l.members))
	for i, m := range l.members {
		refs[i] = m.Ref()
	}
	return refs
}

func (l *Lobby) memberLocked(id int) *registry.Client {
	for _, m := range l.members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// barrierMetLocked reports whether every current member has acknowledged the
// announced game, and claims the start when so. It returns true at most once
// per announcement.
func (l *Lobby) barrierMetLocked() bool {
	if !l.announced || l.session != nil {
		return false
	}
	for _, m := range l.members {
		if !l.acks[m.ID] {
			return false
		}
	}
	l.announced = false
	return true
}
