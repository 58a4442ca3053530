// Package lobby owns the lobby table: creation, membership, host promotion,
// settings, chat, the public listing, and the start barrier that hands a
// lobby over to a game session.
//
// Lock order is registry, then Manager.mu, then Lobby.mu, then the client's
// own lock. Mutating operations snapshot the registry before taking
// Manager.mu so the registry lock is never acquired under a lobby lock.
// Session hooks are only invoked after every lobby lock has been released.
package lobby

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/game"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/protocol"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// NotFoundReason is sent with kicked_from_lobby when a join names a lobby
// that no longer exists.
const NotFoundReason = "Lobby no longer exists."

var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrGameInProgress = errors.New("game in progress")
	ErrNotHost        = errors.New("only the host may do that")
	ErrNotMember      = errors.New("not a member of this lobby")
	ErrNotInLobby     = errors.New("not in a lobby")
	ErrAlreadyInLobby = errors.New("already in a lobby")
	ErrNoGame         = errors.New("no game selected")
	ErrNotStarting    = errors.New("no game is starting")
	ErrGameNotRunning = errors.New("no game is running")
	ErrCapTooLow      = errors.New("player cap is below the member count")
)

// Manager is the single owner of the lobby table.
type Manager struct {
	clients *registry.Registry
	games   *game.Registry
	cfg     config.LobbyConfig
	logger  *zap.Logger

	mu      sync.RWMutex
	lobbies map[int]*Lobby
	nextID  int
}

// NewManager creates an empty Manager. Zero limits in cfg fall back to the
// configuration defaults.
//
// Precondition: clients, games and logger must be non-nil.
func NewManager(cfg config.LobbyConfig, clients *registry.Registry, games *game.Registry, logger *zap.Logger) *Manager {
	if cfg.MaxChatMessages <= 0 {
		cfg.MaxChatMessages = 50
	}
	if cfg.DefaultMaxPlayers <= 0 {
		cfg.DefaultMaxPlayers = 10
	}
	if cfg.MaxHookFailures <= 0 {
		cfg.MaxHookFailures = game.DefaultMaxHookFailures
	}
	return &Manager{
		clients: clients,
		games:   games,
		cfg:     cfg,
		logger:  logger,
		lobbies: make(map[int]*Lobby),
	}
}

// Get returns the lobby with the given id.
func (m *Manager) Get(id int) (*Lobby, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[id]
	return l, ok
}

// Lobbies returns every lobby ordered by id.
func (m *Manager) Lobbies() []*Lobby {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Lobby, 0, len(m.lobbies))
	for _, id := range slices.Sorted(maps.Keys(m.lobbies)) {
		out = append(out, m.lobbies[id])
	}
	return out
}

// Count returns the number of lobbies.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lobbies)
}

// Create opens a lobby hosted by host.
//
// Precondition: host must be registered and not in a lobby.
// Postcondition: host is the lobby's only member and host; host receives
// lobby_info; unattached clients receive the public list.
func (m *Manager) Create(host *registry.Client, username string, settings protocol.Settings, title string, private bool) (*Lobby, error) {
	targets := m.clients.All()
	m.mu.Lock()
	defer m.mu.Unlock()

	if host.InLobby() {
		return nil, ErrAlreadyInLobby
	}
	normalized, err := m.games.Normalize("", settings)
	if err != nil {
		return nil, err
	}
	l := &Lobby{
		ID:         m.nextID,
		title:      title,
		private:    private,
		host:       host,
		members:    []*registry.Client{host},
		settings:   normalized,
		maxPlayers: game.MaxPlayers(normalized, m.cfg.DefaultMaxPlayers),
		acks:       make(map[int]bool),
	}
	m.nextID++
	host.SetUsername(username)
	host.SetLobby(l.ID)
	m.lobbies[l.ID] = l

	l.mu.Lock()
	m.send(host, &protocol.LobbyInfoMessage{Info: l.infoLocked(true, false)})
	l.mu.Unlock()
	m.broadcastListLocked(targets)

	m.logger.Info("lobby created",
		observability.LobbyID(l.ID),
		observability.ClientID(host.ID),
		zap.String("title", title),
		zap.Bool("private", private),
	)
	return l, nil
}

// Join adds c to the lobby.
//
// Postcondition: On success every member receives lobby_info including chat
// and unattached clients receive the public list. On failure nothing changes.
func (m *Manager) Join(lobbyID int, c *registry.Client, username string) error {
	targets := m.clients.All()
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.InLobby() {
		return ErrAlreadyInLobby
	}
	l, ok := m.lobbies[lobbyID]
	if !ok {
		return fmt.Errorf("lobby %d: %w", lobbyID, ErrLobbyNotFound)
	}

	l.mu.Lock()
	switch {
	case l.session != nil || l.announced:
		l.mu.Unlock()
		return fmt.Errorf("lobby %d: %w", lobbyID, ErrGameInProgress)
	case len(l.members) >= l.maxPlayers:
		l.mu.Unlock()
		return fmt.Errorf("lobby %d: %w", lobbyID, ErrLobbyFull)
	}
	l.members = append(l.members, c)
	c.SetUsername(username)
	c.SetLobby(l.ID)
	m.sendInfoLocked(l, true)
	l.mu.Unlock()
	m.broadcastListLocked(targets)

	m.logger.Info("client joined lobby", observability.LobbyID(l.ID), observability.ClientID(c.ID))
	return nil
}

// Leave removes c from its lobby. A departing host is replaced by the first
// remaining member; an emptied lobby is destroyed and its session stopped.
func (m *Manager) Leave(c *registry.Client) error {
	targets := m.clients.All()
	m.mu.Lock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	after := m.removeLocked(l, c, targets)
	m.mu.Unlock()

	after()
	return nil
}

// Kick removes targetID from host's lobby and tells it why.
//
// Precondition: host must be the lobby's host.
func (m *Manager) Kick(host *registry.Client, targetID int, reason string) error {
	targets := m.clients.All()
	m.mu.Lock()
	l, err := m.lobbyOfLocked(host)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	l.mu.Lock()
	isHost := l.host == host
	target := l.memberLocked(targetID)
	l.mu.Unlock()
	if !isHost {
		m.mu.Unlock()
		return ErrNotHost
	}
	if target == nil {
		m.mu.Unlock()
		return fmt.Errorf("client %d: %w", targetID, ErrNotMember)
	}
	after := m.removeLocked(l, target, targets)
	m.mu.Unlock()

	m.send(target, &protocol.KickedFromLobby{Reason: reason})
	m.logger.Info("client kicked from lobby",
		observability.LobbyID(l.ID),
		observability.ClientID(targetID),
		zap.Int("by", host.ID),
	)
	after()
	return nil
}

// removeLocked takes c out of l and returns the session work to run once all
// locks are released.
//
// Precondition: m.mu must be write-locked.
func (m *Manager) removeLocked(l *Lobby, c *registry.Client, targets []*registry.Client) func() {
	l.mu.Lock()
	idx := slices.Index(l.members, c)
	if idx < 0 {
		l.mu.Unlock()
		c.ClearLobby()
		return func() {}
	}
	l.members = slices.Delete(l.members, idx, idx+1)
	c.ClearLobby()
	delete(l.acks, c.ID)
	sess := l.session
	ref := c.Ref()

	if len(l.members) == 0 {
		l.session = nil
		l.announced = false
		l.mu.Unlock()
		delete(m.lobbies, l.ID)
		m.broadcastListLocked(targets)
		m.logger.Info("lobby destroyed", observability.LobbyID(l.ID))
		return func() {
			if sess != nil {
				sess.Stop()
			}
		}
	}

	if l.host == c {
		l.host = l.members[0]
		m.logger.Info("lobby host promoted",
			observability.LobbyID(l.ID),
			zap.Int("old_host", c.ID),
			zap.Int("new_host", l.host.ID),
		)
	}
	var start func()
	if l.barrierMetLocked() {
		start = m.startSessionLocked(l)
	}
	m.sendInfoLocked(l, false)
	l.mu.Unlock()
	m.broadcastListLocked(targets)

	return func() {
		if sess != nil {
			sess.Disconnect(ref)
		}
		if start != nil {
			start()
		}
	}
}

// ChangeSettings applies the fields present in patch. A patch whose fields
// are all absent or equal to the current values changes nothing and sends
// nothing.
//
// Precondition: c must be the lobby's host.
// Postcondition: On any change members receive lobby_info. Unattached clients
// receive the public list when title, privacy, host or game changed, or when
// the player cap changed.
func (m *Manager) ChangeSettings(c *registry.Client, patch *protocol.ChangeLobbySettings) error {
	targets := m.clients.All()
	m.mu.Lock()
	sess, newHost, err := m.changeLocked(c, patch, targets)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if sess != nil && newHost != nil {
		sess.TransferHost(newHost.Ref())
	}
	return nil
}

// changeLocked applies patch and returns the active session and new host, if
// any, so the caller can run the host transfer hook after unlocking.
//
// Precondition: m.mu must be write-locked.
func (m *Manager) changeLocked(c *registry.Client, patch *protocol.ChangeLobbySettings, targets []*registry.Client) (*game.Session, *registry.Client, error) {
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		return nil, nil, err
	}
	l.mu.Lock()
	if l.host != c {
		l.mu.Unlock()
		return nil, nil, ErrNotHost
	}
	if patch.Empty() {
		l.mu.Unlock()
		return nil, nil, nil
	}

	var newHost *registry.Client
	if patch.HostID != nil && *patch.HostID != l.host.ID {
		if newHost = l.memberLocked(*patch.HostID); newHost == nil {
			l.mu.Unlock()
			return nil, nil, fmt.Errorf("client %d: %w", *patch.HostID, ErrNotMember)
		}
	}
	gameID := l.gameID
	if patch.GameID != nil {
		gameID = *patch.GameID
	}
	merged := l.settings.Clone()
	maps.Copy(merged, patch.GameSettings)
	settings, err := m.games.Normalize(gameID, merged)
	if err != nil {
		l.mu.Unlock()
		return nil, nil, err
	}
	settingsChanged := !settings.Equal(l.settings)
	if l.announced && (gameID != l.gameID || settingsChanged) {
		l.mu.Unlock()
		return nil, nil, fmt.Errorf("changing game while starting: %w", ErrGameInProgress)
	}
	maxPlayers := game.MaxPlayers(settings, m.cfg.DefaultMaxPlayers)
	if settingsChanged && maxPlayers < len(l.members) {
		l.mu.Unlock()
		return nil, nil, fmt.Errorf("cap %d with %d members: %w", maxPlayers, len(l.members), ErrCapTooLow)
	}

	meta := false
	if patch.LobbyTitle != nil && *patch.LobbyTitle != l.title {
		l.title = *patch.LobbyTitle
		meta = true
	}
	if patch.Private != nil && *patch.Private != l.private {
		l.private = *patch.Private
		meta = true
	}
	if newHost != nil {
		l.host = newHost
		meta = true
	}
	if gameID != l.gameID {
		l.gameID = gameID
		meta = true
	}
	capChanged := false
	if settingsChanged {
		l.settings = settings
		capChanged = maxPlayers != l.maxPlayers
		l.maxPlayers = maxPlayers
	}
	if !meta && !settingsChanged {
		l.mu.Unlock()
		return nil, nil, nil
	}
	m.sendInfoLocked(l, false)
	sess := l.session
	l.mu.Unlock()

	if meta || capChanged {
		m.broadcastListLocked(targets)
	}
	m.logger.Info("lobby settings changed",
		observability.LobbyID(l.ID),
		zap.Bool("listing_changed", meta || capChanged),
	)
	return sess, newHost, nil
}

// PostChat appends "<username> text" to the history, evicting the oldest
// lines beyond the configured capacity, and relays the new line to members.
func (m *Manager) PostChat(c *registry.Client, text string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	line := fmt.Sprintf("<%s> %s", c.Username(), text)
	l.chat = append(l.chat, line)
	if over := len(l.chat) - m.cfg.MaxChatMessages; over > 0 {
		l.chat = slices.Delete(l.chat, 0, over)
	}
	for _, mem := range l.members {
		m.send(mem, &protocol.ChatMessage{Text: line})
	}
	return nil
}

// ListPublic returns the summary view of every lobby that is not private and
// has no active session, ordered by id.
func (m *Manager) ListPublic() []protocol.LobbyInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPublicLocked()
}

// RelayStartTimer forwards the host's countdown to the other members.
func (m *Manager) RelayStartTimer(c *registry.Client, startTime float64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.host != c {
		return ErrNotHost
	}
	for _, mem := range l.members {
		if mem != c {
			m.send(mem, &protocol.StartGameTimer{StartTime: startTime})
		}
	}
	return nil
}

// AnnounceGame tells every member which game is starting and opens the start
// barrier. Each member must then acknowledge with AcknowledgeInit.
//
// Precondition: c must be the host and a registered game must be selected.
func (m *Manager) AnnounceGame(c *registry.Client) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.host != c {
		return ErrNotHost
	}
	if l.session != nil {
		return ErrGameInProgress
	}
	if l.gameID == "" {
		return ErrNoGame
	}
	if _, err := m.games.Lookup(l.gameID); err != nil {
		return err
	}

	l.announced = true
	l.acks = make(map[int]bool)
	msg := &protocol.GameStarted{
		Clients:    l.refsLocked(),
		HostClient: l.host.Ref(),
		GameID:     l.gameID,
	}
	for _, mem := range l.members {
		m.send(mem, msg)
	}
	m.logger.Info("game announced",
		observability.LobbyID(l.ID),
		observability.GameID(l.gameID),
		zap.Int("players", len(l.members)),
	)
	return nil
}

// AcknowledgeInit records that c has initialised the announced game. When
// every current member has acknowledged, the session starts. Concurrent and
// duplicate acknowledgements start it exactly once.
func (m *Manager) AcknowledgeInit(c *registry.Client) error {
	targets := m.clients.All()
	m.mu.RLock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	l.mu.Lock()
	if !l.announced {
		l.mu.Unlock()
		m.mu.RUnlock()
		return ErrNotStarting
	}
	l.acks[c.ID] = true
	var start func()
	if l.barrierMetLocked() {
		start = m.startSessionLocked(l)
	}
	l.mu.Unlock()
	if start != nil {
		m.broadcastListLocked(targets)
	}
	m.mu.RUnlock()

	if start != nil {
		start()
	}
	return nil
}

// startSessionLocked creates the lobby's session and returns its Start. On
// failure members are told and nil is returned.
//
// Precondition: l.mu must be held and the barrier claimed.
func (m *Manager) startSessionLocked(l *Lobby) func() {
	def, err := m.games.Lookup(l.gameID)
	if err == nil {
		var s *game.Session
		s, err = game.NewSession(def, game.SessionConfig{
			Players:     l.refsLocked(),
			Host:        l.host.Ref(),
			Settings:    l.settings,
			Sender:      m.clients,
			Logger:      m.logger.With(observability.LobbyID(l.ID)),
			MaxFailures: m.cfg.MaxHookFailures,
			OnEnd:       func() { m.sessionEnded(l, s) },
		})
		if err == nil {
			l.session = s
			l.acks = make(map[int]bool)
			return s.Start
		}
	}

	m.logger.Error("starting game session",
		observability.LobbyID(l.ID),
		observability.GameID(l.gameID),
		zap.Error(err),
	)
	l.acks = make(map[int]bool)
	for _, mem := range l.members {
		m.send(mem, &protocol.Error{Detail: fmt.Sprintf("could not start game: %v", err)})
	}
	return nil
}

// sessionEnded clears a session that finished on its own and returns the
// lobby to the public listing.
func (m *Manager) sessionEnded(l *Lobby, s *game.Session) {
	targets := m.clients.All()
	m.mu.Lock()
	defer m.mu.Unlock()

	l.mu.Lock()
	if l.session != s {
		l.mu.Unlock()
		return
	}
	l.session = nil
	l.acks = make(map[int]bool)
	m.sendInfoLocked(l, false)
	l.mu.Unlock()

	m.logger.Info("game session cleared", observability.LobbyID(l.ID), observability.SessionID(s.ID()))
	if m.lobbies[l.ID] == l {
		m.broadcastListLocked(targets)
	}
}

// StateOf reports where c stands.
func (m *Manager) StateOf(c *registry.Client) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		return Unattached
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.session != nil && l.session.Running() {
		return InGame
	}
	return InLobby
}

// RelayGameData hands payload to c's running session.
func (m *Manager) RelayGameData(c *registry.Client, payload []byte) error {
	m.mu.RLock()
	l, err := m.lobbyOfLocked(c)
	if err != nil {
		m.mu.RUnlock()
		return err
	}
	l.mu.Lock()
	sess := l.session
	l.mu.Unlock()
	m.mu.RUnlock()

	if sess == nil || !sess.Running() {
		return ErrGameNotRunning
	}
	sess.Data(c.Ref(), payload)
	return nil
}

// Shutdown stops every running session without notifying members.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var sessions []*game.Session
	for _, l := range m.lobbies {
		l.mu.Lock()
		if l.session != nil {
			sessions = append(sessions, l.session)
			l.session = nil
		}
		l.mu.Unlock()
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	m.logger.Info("lobby manager shut down", zap.Int("sessions_stopped", len(sessions)))
}

// lobbyOfLocked returns c's lobby.
//
// Precondition: m.mu must be held.
func (m *Manager) lobbyOfLocked(c *registry.Client) (*Lobby, error) {
	id := c.LobbyID()
	if id == registry.NoLobby {
		return nil, ErrNotInLobby
	}
	l, ok := m.lobbies[id]
	if !ok {
		return nil, fmt.Errorf("lobby %d: %w", id, ErrLobbyNotFound)
	}
	return l, nil
}

// listPublicLocked requires m.mu and no lobby lock.
func (m *Manager) listPublicLocked() []protocol.LobbyInfo {
	ids := slices.Sorted(maps.Keys(m.lobbies))
	out := make([]protocol.LobbyInfo, 0, len(ids))
	for _, id := range ids {
		l := m.lobbies[id]
		l.mu.Lock()
		if !l.private && l.session == nil {
			out = append(out, l.infoLocked(false, false))
		}
		l.mu.Unlock()
	}
	return out
}

// broadcastListLocked sends the public list to every unattached client in
// targets.
//
// Precondition: m.mu must be held and no lobby lock.
func (m *Manager) broadcastListLocked(targets []*registry.Client) {
	msg := &protocol.LobbyList{Lobbies: m.listPublicLocked()}
	for _, c := range targets {
		if !c.InLobby() {
			m.send(c, msg)
		}
	}
}

// sendInfoLocked requires l.mu.
func (m *Manager) sendInfoLocked(l *Lobby, withChat bool) {
	msg := &protocol.LobbyInfoMessage{Info: l.infoLocked(true, withChat)}
	for _, mem := range l.members {
		m.send(mem, msg)
	}
}

func (m *Manager) send(c *registry.Client, msg protocol.Message) {
	if err := c.Send(msg); err != nil {
		m.logger.Debug("dropping message",
			observability.ClientID(c.ID),
			observability.MsgType(string(msg.MessageType())),
			zap.Error(err),
		)
	}
}
