package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChat_Valid(t *testing.T) {
	chat, err := ParseChat([]byte(`{"type":"chat","message":"hello","username":"A"}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", chat.Message)
	assert.Equal(t, "A", chat.Username)
	assert.Empty(t, chat.Nickname)
	assert.True(t, chat.Timestamp.IsZero())
}

func TestParseChat_EmptyUsernameIsPresent(t *testing.T) {
	chat, err := ParseChat([]byte(`{"type":"chat","message":"hello","username":""}`))
	require.NoError(t, err)
	assert.Empty(t, chat.Username)
}

func TestParseChat_IgnoresUnknownFields(t *testing.T) {
	chat, err := ParseChat([]byte(`{"type":"chat","message":"x","username":"A","extra":true,"nickname":"al"}`))
	require.NoError(t, err)
	assert.Equal(t, "al", chat.Nickname)
}

func TestParseChat_CoercesTimestamp(t *testing.T) {
	tests := []struct {
		name string
		ts   string
		want time.Time
	}{
		{"iso string", `"2024-03-01T12:00:00.500Z"`, time.Date(2024, 3, 1, 12, 0, 0, 500_000_000, time.UTC)},
		{"offset string", `"2024-03-01T21:00:00+09:00"`, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"date only", `"2024-03-01"`, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"epoch millis", `1709294400000`, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := `{"type":"chat","message":"m","username":"A","timestamp":` + tt.ts + `}`
			chat, err := ParseChat([]byte(frame))
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(chat.Timestamp), "got %s", chat.Timestamp)
			assert.Equal(t, time.UTC, chat.Timestamp.Location())
		})
	}
}

func TestParseChat_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"json array", `["chat"]`},
		{"missing type", `{"message":"m","username":"A"}`},
		{"wrong type", `{"type":"join","message":"m","username":"A"}`},
		{"missing message", `{"type":"chat","username":"A"}`},
		{"empty message", `{"type":"chat","message":"","username":"A"}`},
		{"message not string", `{"type":"chat","message":5,"username":"A"}`},
		{"missing username", `{"type":"chat","message":"m"}`},
		{"null username", `{"type":"chat","message":"m","username":null}`},
		{"null message", `{"type":"chat","message":null,"username":"A"}`},
		{"username not string", `{"type":"chat","message":"m","username":false}`},
		{"nickname not string", `{"type":"chat","message":"m","username":"A","nickname":1}`},
		{"unparseable timestamp", `{"type":"chat","message":"m","username":"A","timestamp":"soon"}`},
		{"timestamp object", `{"type":"chat","message":"m","username":"A","timestamp":{}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChat([]byte(tt.frame))
			assert.ErrorIs(t, err, ErrInvalidMessage)
		})
	}
}

func TestCoerceInstant_NullIsZero(t *testing.T) {
	ts, err := CoerceInstant(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.True(t, ts.IsZero())
}
