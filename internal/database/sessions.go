package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jordanhubbard/queryforge/internal/session"
	"github.com/jordanhubbard/queryforge/pkg/models"
)

// SessionStore implements session.Store on top of the SQL database.
// Each session is one JSON document row; state and timestamps are
// denormalized for listing.
type SessionStore struct {
	db *Database
}

// NewSessionStore returns a SQL-backed session store.
func NewSessionStore(d *Database) *SessionStore {
	return &SessionStore{db: d}
}

var _ session.Store = (*SessionStore)(nil)

// Save upserts the session checkpoint.
func (s *SessionStore) Save(ctx context.Context, sess *models.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}

	_, err = s.db.db.ExecContext(ctx, s.db.bind(`
		INSERT INTO sessions (id, state, query, doc, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			state = excluded.state,
			doc = excluded.doc,
			updated_at = excluded.updated_at`),
		sess.ID, string(sess.State), sess.Query, string(doc),
		sess.CreatedAt, time.Now().UTC(),
	)
	return err
}

// Load reads a session by id.
func (s *SessionStore) Load(ctx context.Context, id string) (*models.Session, error) {
	var doc string
	err := s.db.db.QueryRowContext(ctx, s.db.bind(`SELECT doc FROM sessions WHERE id = ?`), id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	var sess models.Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &sess, nil
}

// Delete removes a session record. Missing records are not an error.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.db.ExecContext(ctx, s.db.bind(`DELETE FROM sessions WHERE id = ?`), id)
	return err
}

// List returns sessions newest first, optionally filtered by state.
func (s *SessionStore) List(ctx context.Context, state models.State, limit int) ([]*models.Session, error) {
	q := `SELECT doc FROM sessions`
	args := []any{}
	if state != "" {
		q += ` WHERE state = ?`
		args = append(args, string(state))
	}
	q += ` ORDER BY updated_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.db.QueryContext(ctx, s.db.bind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return nil, fmt.Errorf("failed to decode session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}
