package server

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Console reads operator commands line by line. The only command is "kill"
// (or "k"), which invokes the configured shutdown function.
type Console struct {
	in      io.Reader
	onKill  func()
	logger  *zap.Logger
	stopped atomic.Bool
}

// NewConsole creates a console reading from in.
//
// Precondition: in, onKill and logger must be non-nil.
func NewConsole(in io.Reader, onKill func(), logger *zap.Logger) *Console {
	return &Console{in: in, onKill: onKill, logger: logger}
}

// Start reads commands until "kill" is entered, the input ends, or Stop is called.
//
// Postcondition: onKill has been invoked at most once.
func (c *Console) Start() error {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if c.stopped.Load() {
			return nil
		}
		cmd := strings.ToLower(strings.TrimSpace(scanner.Text()))
		switch cmd {
		case "":
		case "k", "kill":
			c.logger.Info("kill requested from console")
			c.onKill()
			return nil
		default:
			c.logger.Info("unknown console command", zap.String("command", cmd))
		}
	}
	if err := scanner.Err(); err != nil {
		c.logger.Warn("console input failed", zap.Error(err))
	}
	return nil
}

// Stop marks the console stopped. A blocked read returns on the next line or EOF.
func (c *Console) Stop() {
	c.stopped.Store(true)
}
