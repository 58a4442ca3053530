package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/cory-johannsen/lobby/internal/protocol"
)

// Recorder is an in-memory message sink. Every message is encoded on Send so
// tests also catch values the codec would reject.
type Recorder struct {
	mu     sync.Mutex
	msgs   []protocol.Message
	closed bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Send records msg.
func (r *Recorder) Send(msg protocol.Message) error {
	if _, err := protocol.Encode(msg); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRecorderClosed
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

type recorderError string

func (e recorderError) Error() string { return string(e) }

const errRecorderClosed = recorderError("recorder closed")

// Close makes further sends fail, mimicking a dropped connection.
func (r *Recorder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs...)
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = nil
}

// Count returns the number of recorded messages of type typ.
func (r *Recorder) Count(typ protocol.Type) int {
	n := 0
	for _, m := range r.Messages() {
		if m.MessageType() == typ {
			n++
		}
	}
	return n
}

// WaitFor polls until a message of type typ has been recorded and returns the
// latest one.
//
// Postcondition: Returns the message, or fails the test after timeout.
func (r *Recorder) WaitFor(t testing.TB, typ protocol.Type, timeout time.Duration) protocol.Message {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if m, ok := Last[protocol.Message](r, typ); ok {
			return m
		}
		select {
		case <-deadline:
			t.Fatalf("no %s message within %s", typ, timeout)
			return nil
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// Last returns the most recent recorded message of type typ as T.
func Last[T protocol.Message](r *Recorder, typ protocol.Type) (T, bool) {
	msgs := r.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].MessageType() != typ {
			continue
		}
		if v, ok := msgs[i].(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// All returns every recorded message of type typ as T, oldest first.
func All[T protocol.Message](r *Recorder, typ protocol.Type) []T {
	var out []T
	for _, m := range r.Messages() {
		if m.MessageType() != typ {
			continue
		}
		if v, ok := m.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
