// Package registry tracks every connected client by id.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// NoLobby is the lobby id of a client that is not in any lobby.
const NoLobby = -1

// ErrClientNotFound is returned when an id does not name a registered client.
var ErrClientNotFound = errors.New("client not found")

// Sender delivers messages to one peer without blocking.
type Sender interface {
	Send(msg protocol.Message) error
}

// Client is one connected peer. Its mutable fields are guarded by a leaf lock:
// no other lock is acquired while it is held.
type Client struct {
	ID      int
	Address string

	conn Sender

	mu       sync.Mutex
	username string
	lobbyID  int
}

// Username returns the name the client last supplied.
func (c *Client) Username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.username
}

// SetUsername records the client's display name. Names need not be unique.
func (c *Client) SetUsername(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username = name
}

// LobbyID returns the client's current lobby, or NoLobby.
func (c *Client) LobbyID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lobbyID
}

// InLobby reports whether the client currently occupies a lobby.
func (c *Client) InLobby() bool {
	return c.LobbyID() != NoLobby
}

// SetLobby records the lobby the client occupies.
func (c *Client) SetLobby(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobbyID = id
}

// ClearLobby detaches the client from its lobby.
func (c *Client) ClearLobby() {
	c.SetLobby(NoLobby)
}

// Ref returns the client's lightweight identity.
func (c *Client) Ref() protocol.PlayerRef {
	return protocol.PlayerRef{Username: c.Username(), ID: c.ID}
}

// Send delivers msg to the client. Delivery is best effort.
func (c *Client) Send(msg protocol.Message) error {
	return c.conn.Send(msg)
}

// NewClient builds a detached client. Registry.Register is the normal path;
// this exists for components that need a client without a registry.
func NewClient(id int, addr string, conn Sender) *Client {
	return &Client{ID: id, Address: addr, conn: conn, lobbyID: NoLobby}
}

// Registry is the single owner of the client table.
type Registry struct {
	mu      sync.RWMutex
	clients map[int]*Client
}

// New creates an empty Registry.
//
// Postcondition: Returns a non-nil Registry with no clients.
func New() *Registry {
	return &Registry{clients: make(map[int]*Client)}
}

// Register adds a client for conn under the lowest unused non-negative id.
//
// Precondition: conn must be non-nil.
// Postcondition: The returned client is retrievable by Get until Unregister.
func (r *Registry) Register(conn Sender, addr string) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := 0
	for {
		if _, taken := r.clients[id]; !taken {
			break
		}
		id++
	}
	c := NewClient(id, addr, conn)
	r.clients[id] = c
	return c
}

// Unregister removes the client with the given id. Unknown ids are ignored.
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// Get returns the client with the given id.
//
// Postcondition: Returns the client, or an error wrapping ErrClientNotFound.
func (r *Registry) Get(id int) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %d: %w", id, ErrClientNotFound)
	}
	return c, nil
}

// All returns a snapshot of every registered client ordered by id.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Client) int { return a.ID - b.ID })
	return out
}

// Send delivers msg to the client with the given id.
func (r *Registry) Send(id int, msg protocol.Message) error {
	c, err := r.Get(id)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
