// Package transport carries framed protocol messages over TCP: the listener
// that accepts clients and the per-client connection with its outbound queue.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/observability"
	"github.com/cory-johannsen/lobby/internal/protocol"
)

var (
	// ErrClosed is returned by Send after the connection has been closed.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the outbound queue has no room.
	ErrQueueFull = errors.New("send queue full")
)

// Conn is one client's framed connection. Sends are queued and written by a
// dedicated goroutine, so a stalled peer never blocks the caller.
type Conn struct {
	raw    net.Conn
	frames *protocol.FrameReader
	logger *zap.Logger

	readTimeout  time.Duration
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
	outbox chan []byte

	writerDone chan struct{}
}

// NewConn wraps raw and starts its writer goroutine.
//
// Precondition: raw must be an open connection; logger must be non-nil.
// Postcondition: Returns a Conn ready for Send and Receive.
func NewConn(raw net.Conn, cfg config.ServerConfig, logger *zap.Logger) *Conn {
	size := cfg.SendQueueSize
	if size <= 0 {
		size = 64
	}
	c := &Conn{
		raw:          raw,
		frames:       protocol.NewFrameReader(raw, cfg.MaxFrameBytes),
		logger:       logger.With(observability.RemoteAddr(raw.RemoteAddr().String())),
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
		outbox:       make(chan []byte, size),
		writerDone:   make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string {
	return c.raw.RemoteAddr().String()
}

// Send encodes msg and queues it for writing.
// Failures are logged here and returned for callers that care; they never
// affect other connections.
//
// Postcondition: The frame is queued, or the message is dropped with an error.
func (c *Conn) Send(msg protocol.Message) error {
	frame, err := protocol.EncodeFrame(msg)
	if err != nil {
		c.logger.Error("encoding outbound message", zap.Error(err))
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		c.logger.Debug("dropping message for closed connection",
			observability.MsgType(string(msg.MessageType())),
		)
		return ErrClosed
	}
	select {
	case c.outbox <- frame:
		return nil
	default:
		c.logger.Warn("send queue full, dropping message",
			observability.MsgType(string(msg.MessageType())),
			zap.Int("queue_size", cap(c.outbox)),
		)
		return ErrQueueFull
	}
}

// Receive blocks for the next inbound message. A transport failure or EOF
// yields *protocol.Disconnect; a malformed frame yields *protocol.Invalid.
func (c *Conn) Receive() protocol.Message {
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	msg, err := c.frames.ReadMessage()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			c.logger.Debug("connection closed by peer")
		} else {
			c.logger.Info("receive failed", zap.Error(err))
		}
		return &protocol.Disconnect{}
	}
	return msg
}

// Close stops accepting sends, flushes queued frames, and closes the socket.
// It is safe to call more than once.
//
// Postcondition: The socket is closed once the writer has drained.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
	c.mu.Unlock()
	<-c.writerDone
	return nil
}

// writeLoop writes queued frames until the outbox is closed. After the first
// write failure the socket is closed and remaining frames are discarded.
func (c *Conn) writeLoop() {
	defer close(c.writerDone)
	defer c.raw.Close()

	failed := false
	for frame := range c.outbox {
		if failed {
			continue
		}
		if err := c.write(frame); err != nil {
			c.logger.Info("write failed, closing connection", zap.Error(err))
			failed = true
			// Unblocks a pending Receive so the owner tears the client down.
			_ = c.raw.Close()
		}
	}
}

func (c *Conn) write(frame []byte) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.raw.Write(frame); err != nil {
		return fmt.Errorf("writing %d byte frame: %w", len(frame), err)
	}
	return nil
}
