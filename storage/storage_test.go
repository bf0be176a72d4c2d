package storage

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatrelay-server/config"
)

func TestMemory_GetPut(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, ok, err := m.Get(ctx, "room1", "messages")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte(`[1]`)
	require.NoError(t, m.Put(ctx, "room1", "messages", value))
	value[1] = '2'

	got, ok, err := m.Get(ctx, "room1", "messages")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[1]`, string(got), "stored value must not alias the caller's slice")

	require.NoError(t, m.Put(ctx, "room1", "messages", []byte(`[]`)))
	got, _, _ = m.Get(ctx, "room1", "messages")
	assert.Equal(t, `[]`, string(got))
}

func TestScoped_IsolatesRooms(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := ForRoom(m, "a")
	b := ForRoom(m, "b")

	require.NoError(t, a.Put(ctx, "messages", []byte("A")))

	_, ok, err := b.Get(ctx, "messages")
	require.NoError(t, err)
	assert.False(t, ok)

	got, ok, err := a.Get(ctx, "messages")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "A", string(got))
}

func TestOpen_Drivers(t *testing.T) {
	b, err := Open(context.Background(), config.StorageConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, b)

	_, err = Open(context.Background(), config.StorageConfig{Driver: "redis"})
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(config.StorageConfig{
		DBHost:     "db.internal",
		DBPort:     "3307",
		DBUser:     "relay",
		DBPassword: "secret",
		DBName:     "chat",
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "relay", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "tcp", parsed.Net)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "chat", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

// setupTestMySQL connects to the database named by DB_* variables.
func setupTestMySQL(t *testing.T) *MySQL {
	t.Helper()

	host := os.Getenv("DB_HOST")
	if host == "" {
		t.Skip("Skipping: DB_HOST not set")
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "3306"
	}

	db, err := OpenMySQL(context.Background(), MySQLDSN(config.StorageConfig{
		DBHost:     host,
		DBPort:     port,
		DBUser:     os.Getenv("DB_USER"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     os.Getenv("DB_NAME"),
	}))
	if err != nil {
		t.Skipf("Skipping: could not connect to test database: %v", err)
	}
	t.Cleanup(func() {
		db.db.Exec("DELETE FROM room_storage WHERE room LIKE 'test-%'")
		db.Close()
	})
	return db
}

func TestMySQL_Upsert(t *testing.T) {
	db := setupTestMySQL(t)
	ctx := context.Background()
	room := fmt.Sprintf("test-%s", t.Name())

	_, ok, err := db.Get(ctx, room, "messages")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Put(ctx, room, "messages", []byte(`[{"type":"join"}]`)))
	require.NoError(t, db.Put(ctx, room, "messages", []byte(`[]`)))

	got, ok, err := db.Get(ctx, room, "messages")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `[]`, string(got))
}
