package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"chatrelay-server/domain"
)

var ErrInvalidMessage = errors.New("invalid message")

// InvalidMessageReply is the only detail a client learns about a rejected frame.
const InvalidMessageReply = "Invalid message"

// required on a pointer only demands presence, so an empty username passes
// while message additionally needs min=1.
type chatFrame struct {
	Type      *string         `json:"type" validate:"required,eq=chat"`
	Message   *string         `json:"message" validate:"required,min=1"`
	Username  *string         `json:"username" validate:"required"`
	Nickname  *string         `json:"nickname"`
	Timestamp json.RawMessage `json:"timestamp"`
}

var validate = validator.New()

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseChat validates a client frame. The returned Chat keeps the client's
// timestamp (coerced to UTC) only so callers can inspect it; the relay always
// restamps before logging.
func ParseChat(data []byte) (domain.Chat, error) {
	var f chatFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if err := validate.Struct(f); err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	ts, err := CoerceInstant(f.Timestamp)
	if err != nil {
		return domain.Chat{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	chat := domain.Chat{
		Message:   *f.Message,
		Username:  *f.Username,
		Timestamp: ts,
	}
	if f.Nickname != nil {
		chat.Nickname = *f.Nickname
	}
	return chat, nil
}

// CoerceInstant accepts an ISO-8601 string, a bare date or epoch
// milliseconds. Absent or null yields the zero time.
func CoerceInstant(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}

	var ms float64
	if err := json.Unmarshal(raw, &ms); err == nil {
		if math.IsInf(ms, 0) || math.Abs(ms) > 8.64e15 {
			return time.Time{}, fmt.Errorf("timestamp %v out of range", ms)
		}
		return time.UnixMilli(int64(ms)).UTC(), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("timestamp must be a string or number")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q is not a date", s)
}
