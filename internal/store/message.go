package store

import (
	"encoding/json"
	"fmt"
)

// Message is the only payload exchanged over a channel. Both keys are
// optional; a present kill=true outranks a present mode.
type Message struct {
	Mode *string `json:"mode,omitempty"`
	Kill *bool   `json:"kill,omitempty"`
}

func ModeMessage(mode string) Message {
	return Message{Mode: &mode}
}

func KillMessage() Message {
	kill := true
	return Message{Kill: &kill}
}

func (m Message) IsKill() bool {
	return m.Kill != nil && *m.Kill
}

func (m Message) HasMode() bool {
	return m.Mode != nil
}

func (m Message) Empty() bool {
	return m.Mode == nil && m.Kill == nil
}

// Merge returns m with the present keys of partial written over it.
func (m Message) Merge(partial Message) Message {
	out := m.clone()
	if partial.Mode != nil {
		mode := *partial.Mode
		out.Mode = &mode
	}
	if partial.Kill != nil {
		kill := *partial.Kill
		out.Kill = &kill
	}
	return out
}

func (m Message) clone() Message {
	var out Message
	if m.Mode != nil {
		mode := *m.Mode
		out.Mode = &mode
	}
	if m.Kill != nil {
		kill := *m.Kill
		out.Kill = &kill
	}
	return out
}

func (m Message) String() string {
	switch {
	case m.Empty():
		return "{}"
	case m.Mode != nil && m.Kill != nil:
		return fmt.Sprintf("{mode:%q kill:%t}", *m.Mode, *m.Kill)
	case m.Mode != nil:
		return fmt.Sprintf("{mode:%q}", *m.Mode)
	default:
		return fmt.Sprintf("{kill:%t}", *m.Kill)
	}
}

// EncodeValue encodes a channel value; nil encodes as JSON null.
func EncodeValue(m *Message) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	return json.Marshal(m)
}

// DecodeValue is the inverse of EncodeValue. An empty object decodes to a
// non-nil empty message, null decodes to nil.
func DecodeValue(data []byte) (*Message, error) {
	var m *Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode channel value: %w", err)
	}
	return m, nil
}

// orNil maps an empty value to nil, so every backend reports a channel
// with no keys the same way as a missing one.
func orNil(m *Message) *Message {
	if m == nil || m.Empty() {
		return nil
	}
	return m
}
