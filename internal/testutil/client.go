// Package testutil provides test helpers: a framed lobby client for
// integration tests and a recording sender for unit tests.
package testutil

import (
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// LobbyClient is a framed protocol client for integration testing.
type LobbyClient struct {
	conn   net.Conn
	frames *protocol.FrameReader
	t      *testing.T
}

// NewLobbyClient dials the given address and returns a test client.
//
// Precondition: addr must be a valid "host:port" string with a listening server.
// Postcondition: Returns a connected LobbyClient or fails the test.
func NewLobbyClient(t *testing.T, addr string) *LobbyClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() { conn.Close() })

	return &LobbyClient{
		conn:   conn,
		frames: protocol.NewFrameReader(conn, 0),
		t:      t,
	}
}

// Send writes one framed message.
func (c *LobbyClient) Send(msg protocol.Message) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteMessage(c.conn, msg); err != nil {
		c.t.Fatalf("sending %s: %v", msg.MessageType(), err)
	}
}

// SendRaw writes payload as one frame without encoding it.
func (c *LobbyClient) SendRaw(payload []byte) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		c.t.Fatalf("sending raw frame: %v", err)
	}
}

// Next reads the next message or fails after timeout.
func (c *LobbyClient) Next(timeout time.Duration) protocol.Message {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	msg, err := c.frames.ReadMessage()
	if err != nil {
		c.t.Fatalf("reading message: %v", err)
	}
	return msg
}

// ReadUntil discards messages until one of type typ arrives, then returns it.
//
// Postcondition: Returns a message of type typ, or fails on timeout.
func (c *LobbyClient) ReadUntil(typ protocol.Type, timeout time.Duration) protocol.Message {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	_ = c.conn.SetReadDeadline(deadline)
	for {
		msg, err := c.frames.ReadMessage()
		if err != nil {
			c.t.Fatalf("reading until %s: %v", typ, err)
		}
		if msg.MessageType() == typ {
			return msg
		}
	}
}

// ExpectSilence fails if any message arrives within d.
func (c *LobbyClient) ExpectSilence(d time.Duration) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(d))
	msg, err := c.frames.ReadMessage()
	if err == nil {
		c.t.Fatalf("expected no message, got %s", msg.MessageType())
	}
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		c.t.Fatalf("expected read timeout, got %v", err)
	}
}

// Close closes the underlying connection.
func (c *LobbyClient) Close() {
	c.conn.Close()
}
