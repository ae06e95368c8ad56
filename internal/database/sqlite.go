package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"datafill/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	_ "modernc.org/sqlite"
)

const createSessionsSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    serial_number TEXT NOT NULL COLLATE NOCASE,
    device_type TEXT NOT NULL,
    sub_device_type TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL,
    doc BLOB NOT NULL
);`

const createSessionKeyIndexSQL = `
CREATE INDEX IF NOT EXISTS sessions_key
    ON sessions (serial_number, device_type, sub_device_type);`

const upsertSessionSQL = `
INSERT INTO sessions(id, serial_number, device_type, sub_device_type, timestamp, doc)
VALUES(?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    serial_number = excluded.serial_number,
    device_type = excluded.device_type,
    sub_device_type = excluded.sub_device_type,
    timestamp = excluded.timestamp,
    doc = excluded.doc;`

const sqliteTimeLayout = "2006-01-02 15:04:05.000"

// SQLite keeps each session as a BSON document next to the columns it is
// looked up by.
type SQLite struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLite(path string, logger *log.Logger) (*SQLite, error) {
	if logger == nil {
		logger = log.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// One writer at a time; sqlite serializes them anyway.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createSessionsSQL, createSessionKeyIndexSQL} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema in %s: %w", path, err)
		}
	}
	logger.Printf("Opened session database: %s", path)
	return &SQLite{db: db, logger: logger}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) FindSession(ctx context.Context, key models.Key) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM sessions
		 WHERE serial_number = ? AND device_type = ? AND sub_device_type = ?
		 ORDER BY timestamp DESC LIMIT 1`,
		key.SerialNumber, string(key.DeviceType), string(key.SubDeviceType))

	var doc []byte
	if err := row.Scan(&doc); errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", key, err)
	}
	return decodeSession(doc)
}

func (s *SQLite) UpsertSession(ctx context.Context, sess *models.Session) (*models.Session, error) {
	if err := upsertRow(ctx, s.db, sess); err != nil {
		return nil, err
	}
	s.logger.Printf("Saved session %s for %s", sess.ID, sess.Key())
	return sess.Clone(), nil
}

// UpsertSessions writes all sessions in one transaction.
func (s *SQLite) UpsertSessions(ctx context.Context, sessions []models.Session) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	for i := range sessions {
		if err := upsertRow(ctx, tx, &sessions[i]); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit sessions: %w", err)
	}
	return len(sessions), nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertRow(ctx context.Context, db execer, sess *models.Session) error {
	doc, err := bson.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", sess.ID, err)
	}
	_, err = db.ExecContext(ctx, upsertSessionSQL,
		sess.ID, sess.SerialNumber, string(sess.DeviceType), string(sess.SubDeviceType),
		sess.Timestamp.UTC().Format(sqliteTimeLayout), doc)
	if err != nil {
		return fmt.Errorf("failed to upsert session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *SQLite) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLite) ListSessions(ctx context.Context) ([]models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM sessions ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		sess, err := decodeSession(doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

func decodeSession(doc []byte) (*models.Session, error) {
	var sess models.Session
	if err := bson.Unmarshal(doc, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	sess.Timestamp = sess.Timestamp.UTC()
	return &sess, nil
}
