package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	TypeChat     EventType = "chat"
	TypeJoin     EventType = "join"
	TypeLeave    EventType = "leave"
	TypeSystem   EventType = "system"
	TypeError    EventType = "error"
	TypeMessages EventType = "messages"
)

// InstantLayout matches JavaScript's Date.toISOString.
const InstantLayout = "2006-01-02T15:04:05.000Z07:00"

var ErrUnknownEvent = errors.New("unknown event type")

// Event is one of Chat, Join, Leave, System or ErrorEvent.
type Event interface {
	Type() EventType
}

type Chat struct {
	Message   string
	Username  string
	Nickname  string
	Timestamp time.Time
}

type Join struct {
	Username  string
	Timestamp time.Time
}

type Leave struct {
	Username  string
	Timestamp time.Time
}

// System carries command output. Message is usually a string but any JSON
// value is allowed.
type System struct {
	Message   any
	Timestamp time.Time
}

// ErrorEvent is only ever sent to a single connection and never logged.
type ErrorEvent struct {
	Message   string
	Timestamp time.Time
}

// Snapshot is the full room log sent to a newly connected peer.
type Snapshot struct {
	Events []Event
}

func (Chat) Type() EventType       { return TypeChat }
func (Join) Type() EventType       { return TypeJoin }
func (Leave) Type() EventType      { return TypeLeave }
func (System) Type() EventType     { return TypeSystem }
func (ErrorEvent) Type() EventType { return TypeError }
func (Snapshot) Type() EventType   { return TypeMessages }

type chatWire struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Timestamp string    `json:"timestamp"`
}

type presenceWire struct {
	Type      EventType `json:"type"`
	Username  string    `json:"username"`
	Timestamp string    `json:"timestamp"`
}

type systemWire struct {
	Type      EventType `json:"type"`
	Message   any       `json:"message"`
	Timestamp string    `json:"timestamp"`
}

type errorWire struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp,omitempty"`
}

type snapshotWire struct {
	Type     EventType `json:"type"`
	Messages []Event   `json:"messages"`
}

func FormatInstant(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(InstantLayout)
}

func (c Chat) MarshalJSON() ([]byte, error) {
	return json.Marshal(chatWire{
		Type:      TypeChat,
		Message:   c.Message,
		Username:  c.Username,
		Nickname:  c.Nickname,
		Timestamp: FormatInstant(c.Timestamp),
	})
}

func (j Join) MarshalJSON() ([]byte, error) {
	return json.Marshal(presenceWire{Type: TypeJoin, Username: j.Username, Timestamp: FormatInstant(j.Timestamp)})
}

func (l Leave) MarshalJSON() ([]byte, error) {
	return json.Marshal(presenceWire{Type: TypeLeave, Username: l.Username, Timestamp: FormatInstant(l.Timestamp)})
}

func (s System) MarshalJSON() ([]byte, error) {
	return json.Marshal(systemWire{Type: TypeSystem, Message: s.Message, Timestamp: FormatInstant(s.Timestamp)})
}

func (e ErrorEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorWire{Type: TypeError, Message: e.Message, Timestamp: FormatInstant(e.Timestamp)})
}

func (s Snapshot) MarshalJSON() ([]byte, error) {
	events := s.Events
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(snapshotWire{Type: TypeMessages, Messages: events})
}

// EncodeEvents serializes a log as a JSON array. A nil log encodes as [].
func EncodeEvents(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	return json.Marshal(events)
}

// DecodeEvents parses a persisted log. Only loggable event types are accepted.
func DecodeEvents(data []byte) ([]Event, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for i, raw := range raws {
		ev, err := DecodeEvent(raw)
		if err != nil {
			return nil, fmt.Errorf("decode log entry %d: %w", i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

func DecodeEvent(raw []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}

	switch head.Type {
	case TypeChat:
		var w chatWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		ts, err := parseStored(w.Timestamp)
		if err != nil {
			return nil, err
		}
		return Chat{Message: w.Message, Username: w.Username, Nickname: w.Nickname, Timestamp: ts}, nil
	case TypeJoin, TypeLeave:
		var w presenceWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		ts, err := parseStored(w.Timestamp)
		if err != nil {
			return nil, err
		}
		if head.Type == TypeJoin {
			return Join{Username: w.Username, Timestamp: ts}, nil
		}
		return Leave{Username: w.Username, Timestamp: ts}, nil
	case TypeSystem:
		var w systemWire
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, err
		}
		ts, err := parseStored(w.Timestamp)
		if err != nil {
			return nil, err
		}
		return System{Message: w.Message, Timestamp: ts}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}
}

func parseStored(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
