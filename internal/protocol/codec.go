package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// envelope is the on-wire JSON shape of every message.
type envelope struct {
	Type Type            `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

var (
	// ErrUnknownType is wrapped by DecodeError when the envelope names no catalogued type.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField is wrapped by DecodeError when a required body field is absent or null.
	ErrMissingField = errors.New("missing required field")
)

// requiredFields lists body fields whose zero value is a valid id, so absence
// must be rejected rather than decoded as 0.
var requiredFields = map[Type][]string{
	TypeJoinLobby:  {"lobby_id"},
	TypeKickPlayer: {"client_id"},
}

// DecodeError reports a malformed frame. The connection survives it.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decoding message: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode serialises msg into its JSON envelope.
//
// Precondition: msg must be a catalogued message; Invalid is rejected.
// Postcondition: Returns the envelope bytes or a non-nil error.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, errors.New("encoding nil message")
	}
	t := msg.MessageType()
	if _, ok := constructors[t]; !ok {
		return nil, fmt.Errorf("encoding %q: %w", t, ErrUnknownType)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %q body: %w", t, err)
	}
	out, err := json.Marshal(envelope{Type: t, Body: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %q envelope: %w", t, err)
	}
	return out, nil
}

// Decode parses an envelope into its concrete message.
//
// Postcondition: On failure the error is a *DecodeError.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Err: err}
	}
	ctor, ok := constructors[env.Type]
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("%q: %w", env.Type, ErrUnknownType)}
	}
	msg := ctor()
	body := bytes.TrimSpace(env.Body)
	empty := len(body) == 0 || bytes.Equal(body, []byte("null"))
	if err := checkRequired(env.Type, body, empty); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if empty {
		return msg, nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(msg); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("%q body: %w", env.Type, err)}
	}
	normalizeNumbers(msg)
	return msg, nil
}

func checkRequired(t Type, body []byte, empty bool) error {
	fields := requiredFields[t]
	if len(fields) == 0 {
		return nil
	}
	var present map[string]json.RawMessage
	if !empty {
		if err := json.Unmarshal(body, &present); err != nil {
			return fmt.Errorf("%q body: %w", t, err)
		}
	}
	for _, f := range fields {
		v, ok := present[f]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return fmt.Errorf("%q %s: %w", t, f, ErrMissingField)
		}
	}
	return nil
}

// Parse is the total form of Decode: a malformed frame yields *Invalid.
func Parse(data []byte) Message {
	msg, err := Decode(data)
	if err != nil {
		return &Invalid{Detail: err.Error()}
	}
	return msg
}

// normalizeNumbers converts json.Number settings values to int when integral,
// float64 otherwise, so settings compare and clamp predictably.
func normalizeNumbers(msg Message) {
	switch m := msg.(type) {
	case *CreateLobby:
		fixNumbers(m.Settings)
	case *ChangeLobbySettings:
		fixNumbers(m.GameSettings)
	case *LobbyInfoMessage:
		fixNumbers(m.Info.GameSettings)
	case *LobbyList:
		for i := range m.Lobbies {
			fixNumbers(m.Lobbies[i].GameSettings)
		}
	}
}

func fixNumbers(s Settings) {
	for k, v := range s {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			s[k] = int(i)
		} else if f, err := n.Float64(); err == nil {
			s[k] = f
		} else {
			delete(s, k)
		}
	}
}
