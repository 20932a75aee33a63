package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/fupingyezi/mini-DeepResearch/models"
)

// CreateSession inserts a chat session. Zero timestamps default to now.
func (s *Store) CreateSession(ctx context.Context, cs models.ChatSession) (models.ChatSession, error) {
	now := time.Now().UTC()
	if cs.CreatedAt.IsZero() {
		cs.CreatedAt = now
	}
	if cs.UpdatedAt.IsZero() {
		cs.UpdatedAt = cs.CreatedAt
	}
	var out models.ChatSession
	err := s.DB.GetContext(ctx, &out, `INSERT INTO chat_session (id, seq_id, title, created_at, updated_at) VALUES ($1,$2,$3,$4,$5) RETURNING id, seq_id, title, created_at, updated_at`,
		cs.ID, cs.SeqID, strings.TrimSpace(cs.Title), cs.CreatedAt, cs.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ChatSession{}, ErrSessionExists
		}
		return models.ChatSession{}, err
	}
	return out, nil
}

// ListSessions returns every session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]models.ChatSession, error) {
	out := []models.ChatSession{}
	if err := s.DB.SelectContext(ctx, &out, `SELECT id, seq_id, title, created_at, updated_at FROM chat_session ORDER BY updated_at DESC`); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateSessionTitle renames a session and bumps its updated_at.
func (s *Store) UpdateSessionTitle(ctx context.Context, id, title string) (models.ChatSession, error) {
	var out models.ChatSession
	err := s.DB.GetContext(ctx, &out, `UPDATE chat_session SET title=$1, updated_at=NOW() WHERE id=$2 RETURNING id, seq_id, title, created_at, updated_at`, strings.TrimSpace(title), id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatSession{}, models.ErrSessionNotFound
	}
	return out, err
}

// DeleteSession removes a session. Messages, research results, tasks and
// search results go with it through ON DELETE CASCADE.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM chat_session WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrSessionNotFound
	}
	return nil
}
