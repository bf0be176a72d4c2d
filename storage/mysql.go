package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"

	"chatrelay-server/config"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS room_storage (
	room        VARCHAR(191) NOT NULL,
	storage_key VARCHAR(191) NOT NULL,
	value       LONGBLOB     NOT NULL,
	updated_at  DATETIME(3)  NOT NULL,
	PRIMARY KEY (room, storage_key)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

const (
	selectValueSQL = "SELECT value FROM room_storage WHERE room = ? AND storage_key = ?"
	upsertValueSQL = `INSERT INTO room_storage (room, storage_key, value, updated_at) VALUES (?, ?, ?, ?)
ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)`
)

// MySQL keeps one row per (room, key). Put is an upsert of the whole value.
type MySQL struct {
	db *sql.DB
}

func MySQLDSN(cfg config.StorageConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.DBUser
	c.Passwd = cfg.DBPassword
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	c.DBName = cfg.DBName
	c.ParseTime = true
	c.Loc = time.UTC
	return c.FormatDSN()
}

func OpenMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create room_storage table: %w", err)
	}

	slog.Info("database connection established")
	return &MySQL{db: db}, nil
}

func (m *MySQL) Get(ctx context.Context, room, key string) ([]byte, bool, error) {
	var value []byte
	err := m.db.QueryRowContext(ctx, selectValueSQL, room, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s/%s: %w", room, key, err)
	}
	return value, true, nil
}

func (m *MySQL) Put(ctx context.Context, room, key string, value []byte) error {
	if _, err := m.db.ExecContext(ctx, upsertValueSQL, room, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("put %s/%s: %w", room, key, err)
	}
	return nil
}

func (m *MySQL) Close() error {
	return m.db.Close()
}
