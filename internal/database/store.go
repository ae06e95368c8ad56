// Package database persists verification sessions in MongoDB, a local SQLite
// file or memory.
package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"datafill/internal/models"
)

var ErrNotFound = errors.New("session not found")

// BatchSize bounds bulk writes during restore.
const BatchSize = 1000

const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

type Store interface {
	FindSession(ctx context.Context, key models.Key) (*models.Session, error)
	UpsertSession(ctx context.Context, s *models.Session) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]models.Session, error)
	Close() error
}

// BulkUpserter is implemented by stores that can write many sessions at once.
type BulkUpserter interface {
	UpsertSessions(ctx context.Context, sessions []models.Session) (int, error)
}

type Config struct {
	Backend    string
	URI        string
	Database   string
	Collection string
	SQLitePath string
	Logger     *log.Logger
}

// Open connects to the configured backend. An empty backend means MongoDB.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMongo:
		if cfg.URI == "" || cfg.Database == "" {
			return nil, fmt.Errorf("MongoDB needs DB_URI and DB_NAME")
		}
		if cfg.Collection == "" {
			cfg.Collection = "sessions"
		}
		return NewMongoDB(cfg.URI, cfg.Database, cfg.Collection)
	case BackendSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = "datafill.db"
		}
		return NewSQLite(path, cfg.Logger)
	case BackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store backend %q (want mongo, sqlite or memory)", cfg.Backend)
}

// MemoryStore is a Store that forgets everything on exit.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]models.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]models.Session)}
}

func (m *MemoryStore) FindSession(_ context.Context, key models.Key) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.Session
	for _, s := range m.sessions {
		if s.Key().Matches(key) && (found == nil || s.Timestamp.After(found.Timestamp)) {
			found = s.Clone()
		}
	}
	return found, nil
}

func (m *MemoryStore) UpsertSession(_ context.Context, s *models.Session) (*models.Session, error) {
	if s.ID == "" {
		return nil, errors.New("session has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s.Clone()
	return s.Clone(), nil
}

func (m *MemoryStore) UpsertSessions(ctx context.Context, sessions []models.Session) (int, error) {
	for i := range sessions {
		if _, err := m.UpsertSession(ctx, &sessions[i]); err != nil {
			return i, err
		}
	}
	return len(sessions), nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
