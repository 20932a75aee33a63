package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrSessionExists is returned when a session id is already taken.
	ErrSessionExists = errors.New("session already exists")
	// ErrResultNotFound is returned when a message has no research bundle.
	ErrResultNotFound = errors.New("deep research result not found")
	// ErrNoMessages is returned by AddMessages for an empty batch.
	ErrNoMessages = errors.New("chat_messages must be a non-empty array")
)

// Store persists conversations, research bundles and graph checkpoints in
// postgres.
type Store struct {
	DB *sqlx.DB
}

// NewWithDSN connects to postgres and verifies the connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
