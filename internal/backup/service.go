package backup

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"datafill/internal/database"
	"datafill/internal/models"

	"go.mongodb.org/mongo-driver/bson"
)

const (
	FormatBSON = "bson"
	FormatJSON = "json"
)

// Store is the part of a session store backup and restore need.
type Store interface {
	ListSessions(ctx context.Context) ([]models.Session, error)
	UpsertSession(ctx context.Context, s *models.Session) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Backup writes every session to a timestamped file in outputDir and
// returns its path and the number of sessions written.
func (s *Service) Backup(ctx context.Context, outputDir, format string) (string, int, error) {
	format, err := normalizeFormat(format)
	if err != nil {
		return "", 0, err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := s.now().Format("20060102_150405")
	filename := fmt.Sprintf("backup_sessions_%s.%s", timestamp, format)
	path := filepath.Join(outputDir, filename)

	file, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create backup file: %w", err)
	}

	count, err := s.Write(ctx, file, format)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("backup failed: %w", err)
	}
	return path, count, nil
}

// Write streams all sessions to w: concatenated BSON documents, or one
// relaxed extended JSON document per line.
func (s *Service) Write(ctx context.Context, w io.Writer, format string) (int, error) {
	sessions, err := s.store.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list sessions: %w", err)
	}

	bw := bufio.NewWriter(w)
	for i := range sessions {
		var data []byte
		if format == FormatJSON {
			data, err = bson.MarshalExtJSON(sessions[i], false, false)
			if err != nil {
				return i, fmt.Errorf("failed to marshal to JSON: %w", err)
			}
			data = append(data, '\n')
		} else {
			data, err = bson.Marshal(sessions[i])
			if err != nil {
				return i, fmt.Errorf("failed to marshal to BSON: %w", err)
			}
		}
		if _, err := bw.Write(data); err != nil {
			return i, fmt.Errorf("failed to write backup data: %w", err)
		}
		if (i+1)%1000 == 0 {
			log.Printf("Backed up %d sessions...", i+1)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(sessions), fmt.Errorf("failed to write backup data: %w", err)
	}

	log.Printf("Backup completed: %d sessions", len(sessions))
	return len(sessions), nil
}

// Restore loads a backup file. With replace set, every stored session is
// deleted first.
func (s *Service) Restore(ctx context.Context, inputFile, format string, replace bool) (int, error) {
	if format == "" {
		format = DetectFormat(inputFile)
	}
	format, err := normalizeFormat(format)
	if err != nil {
		return 0, err
	}
	if err := s.ValidateBackupFile(inputFile, format); err != nil {
		return 0, err
	}

	file, err := os.Open(inputFile)
	if err != nil {
		return 0, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	sessions, err := Read(file, format)
	if err != nil {
		return 0, fmt.Errorf("restore failed: %w", err)
	}

	if replace {
		if err := s.clear(ctx); err != nil {
			return 0, err
		}
	}

	n, err := s.upsertAll(ctx, sessions)
	if err != nil {
		return n, fmt.Errorf("restore failed after %d sessions: %w", n, err)
	}
	log.Printf("Restore completed: %d sessions from %s", n, inputFile)
	return n, nil
}

func (s *Service) clear(ctx context.Context) error {
	existing, err := s.store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	for _, sess := range existing {
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil && !errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("failed to delete session %s: %w", sess.ID, err)
		}
	}
	log.Printf("Deleted %d existing sessions before restore", len(existing))
	return nil
}

func (s *Service) upsertAll(ctx context.Context, sessions []models.Session) (int, error) {
	if bulk, ok := s.store.(database.BulkUpserter); ok {
		return bulk.UpsertSessions(ctx, sessions)
	}
	for i := range sessions {
		if _, err := s.store.UpsertSession(ctx, &sessions[i]); err != nil {
			return i, err
		}
	}
	return len(sessions), nil
}

// Read decodes a backup stream written by Write.
func Read(r io.Reader, format string) ([]models.Session, error) {
	var sessions []models.Session
	br := bufio.NewReader(r)

	if format == FormatJSON {
		for line := 1; ; line++ {
			data, err := br.ReadBytes('\n')
			if len(strings.TrimSpace(string(data))) > 0 {
				var sess models.Session
				if uerr := bson.UnmarshalExtJSON(data, false, &sess); uerr != nil {
					return nil, fmt.Errorf("failed to decode JSON on line %d: %w", line, uerr)
				}
				sessions = append(sessions, sess)
			}
			if err == io.EOF {
				return sessions, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read JSON data: %w", err)
			}
		}
	}

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(br, header); err == io.EOF {
			return sessions, nil
		} else if err != nil {
			return nil, fmt.Errorf("failed to read BSON data: %w", err)
		}
		docSize := int(binary.LittleEndian.Uint32(header))
		if docSize < 5 {
			return nil, fmt.Errorf("invalid BSON document size %d", docSize)
		}
		doc := make([]byte, docSize)
		copy(doc, header)
		if _, err := io.ReadFull(br, doc[4:]); err != nil {
			return nil, fmt.Errorf("truncated BSON document: %w", err)
		}
		var sess models.Session
		if err := bson.Unmarshal(doc, &sess); err != nil {
			return nil, fmt.Errorf("failed to unmarshal BSON: %w", err)
		}
		sessions = append(sessions, sess)
	}
}

func (s *Service) ValidateBackupFile(filename, expectedFormat string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("cannot open backup file: %w", err)
	}
	defer file.Close()

	fileInfo, err := file.Stat()
	if err != nil {
		return fmt.Errorf("cannot get file info: %w", err)
	}

	if fileInfo.Size() == 0 {
		return fmt.Errorf("backup file is empty")
	}

	extension := filepath.Ext(filename)
	if expectedFormat == FormatJSON && extension != ".json" {
		return fmt.Errorf("expected JSON file but got %s", extension)
	}
	if expectedFormat == FormatBSON && extension != ".bson" {
		return fmt.Errorf("expected BSON file but got %s", extension)
	}

	return nil
}

// DetectFormat guesses the format from the file extension.
func DetectFormat(filename string) string {
	if strings.EqualFold(filepath.Ext(filename), ".json") {
		return FormatJSON
	}
	return FormatBSON
}

func normalizeFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "", FormatBSON:
		return FormatBSON, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown backup format %q (want bson or json)", format)
}
