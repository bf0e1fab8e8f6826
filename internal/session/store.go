package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jordanhubbard/queryforge/pkg/models"
)

// ErrNotFound is returned when a session id has no durable record.
var ErrNotFound = fmt.Errorf("session not found")

// Store persists sessions as one durable record per id. Save is called
// after every state transition and around every external call, so
// implementations must write atomically.
type Store interface {
	Save(ctx context.Context, s *models.Session) error
	Load(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, state models.State, limit int) ([]*models.Session, error)
}

// FileStore keeps one JSON document per session under a directory.
// Writes go through a temp file + rename so a crash mid-write never
// leaves a torn checkpoint.
type FileStore struct {
	dir string
}

// NewFileStore creates the storage directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.dir, id+".json")
}

// Save writes the session checkpoint atomically.
func (fs *FileStore) Save(ctx context.Context, s *models.Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", s.ID, err)
	}

	tmp := fs.path(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, fs.path(s.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to commit session %s: %w", s.ID, err)
	}
	return nil
}

// Load reads a session by id.
func (fs *FileStore) Load(ctx context.Context, id string) (*models.Session, error) {
	data, err := os.ReadFile(fs.path(id))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return &s, nil
}

// Delete removes a session record. Missing records are not an error.
func (fs *FileStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(fs.path(id))
	if os.IsNotExist(err) {
		log.Printf("[SessionStore] Session %s not found for deletion", id)
		return nil
	}
	return err
}

// List returns sessions, newest first, optionally filtered by state.
func (fs *FileStore) List(ctx context.Context, state models.State, limit int) ([]*models.Session, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session directory: %w", err)
	}

	var sessions []*models.Session
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		s, err := fs.Load(ctx, strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			log.Printf("[SessionStore] Skipping unreadable session file %s: %v", e.Name(), err)
			continue
		}
		if state != "" && s.State != state {
			continue
		}
		sessions = append(sessions, s)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}
