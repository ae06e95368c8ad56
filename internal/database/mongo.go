package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"datafill/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Serial numbers are compared case-insensitively.
var caseInsensitive = &options.Collation{Locale: "en", Strength: 2}

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	Sessions *mongo.Collection
}

func NewMongoDB(uri, dbName, collection string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Printf("Connected to MongoDB at %s", uri)

	db := client.Database(dbName)
	m := &MongoDB{
		Client:   client,
		Database: db,
		Sessions: db.Collection(collection),
	}
	if err := m.ensureIndexes(ctx); err != nil {
		log.Printf("Warning: failed to create session index: %v", err)
	}
	return m, nil
}

func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	_, err := m.Sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "serialNumber", Value: 1},
			{Key: "deviceType", Value: 1},
			{Key: "subDeviceType", Value: 1},
		},
		Options: options.Index().SetCollation(caseInsensitive),
	})
	return err
}

func keyFilter(key models.Key) bson.M {
	return bson.M{
		"serialNumber":  key.SerialNumber,
		"deviceType":    key.DeviceType,
		"subDeviceType": key.SubDeviceType,
	}
}

func (m *MongoDB) FindSession(ctx context.Context, key models.Key) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.FindOne().
		SetCollation(caseInsensitive).
		SetSort(bson.D{{Key: "timestamp", Value: -1}})

	var s models.Session
	err := m.Sessions.FindOne(ctx, keyFilter(key), opts).Decode(&s)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session %s: %w", key, err)
	}
	return &s, nil
}

// UpsertSession replaces the whole document by id, creating it when missing.
func (m *MongoDB) UpsertSession(ctx context.Context, s *models.Session) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Replace().SetUpsert(true)
	res, err := m.Sessions.ReplaceOne(ctx, bson.M{"_id": s.ID}, s, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session %s: %w", s.ID, err)
	}
	if res.UpsertedCount > 0 {
		log.Printf("Inserted session %s for %s", s.ID, s.Key())
	} else {
		log.Printf("Replaced session %s for %s", s.ID, s.Key())
	}
	return s.Clone(), nil
}

// UpsertSessions writes sessions in batches of BatchSize with one bulk write each.
func (m *MongoDB) UpsertSessions(ctx context.Context, sessions []models.Session) (int, error) {
	written := 0
	for start := 0; start < len(sessions); start += BatchSize {
		end := min(start+BatchSize, len(sessions))
		if err := m.upsertBatch(ctx, sessions[start:end]); err != nil {
			return written, err
		}
		written += end - start
	}
	return written, nil
}

func (m *MongoDB) upsertBatch(ctx context.Context, batch []models.Session) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	writes := make([]mongo.WriteModel, 0, len(batch))
	for i := range batch {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": batch[i].ID}).
			SetReplacement(batch[i]).
			SetUpsert(true))
	}
	if _, err := m.Sessions.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	log.Printf("Wrote batch of %d sessions", len(batch))
	return nil
}

func (m *MongoDB) DeleteSession(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := m.Sessions.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ListSessions returns every session, newest first.
func (m *MongoDB) ListSessions(ctx context.Context) ([]models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	cursor, err := m.Sessions.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find sessions: %w", err)
	}
	defer cursor.Close(ctx)

	var sessions []models.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode sessions: %w", err)
	}
	return sessions, nil
}
