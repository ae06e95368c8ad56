package database

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"datafill/internal/models"
)

func sampleSession(id, serial string, at time.Time) models.Session {
	captured := at.Add(-time.Minute)
	return models.Session{
		ID:           id,
		SerialNumber: serial,
		DeviceType:   models.Thermometer,
		DeviceName:   "Thermometer",
		InspectorID:  "insp-1",
		Points: []models.PointResult{{
			PointID:    "37.0",
			Label:      "Point 37.0 °C",
			Reference:  37.0,
			Correction: -3.7,
			Raw:        [3]float64{40.8, 40.7, 40.6},
			Corrected:  [3]float64{37.1, 37.0, 36.9},
			Average:    37.0,
			LowerLimit: 36.7,
			UpperLimit: 37.3,
			Verdict:    models.Pass,
			CapturedAt: &captured,
		}},
		Timestamp: at,
	}
}

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
	if uri := os.Getenv("DATAFILL_TEST_MONGO_URI"); uri != "" {
		m, err := NewMongoDB(uri, "datafill_test", "sessions_"+time.Now().Format("150405"))
		if err != nil {
			t.Fatalf("NewMongoDB: %v", err)
		}
		t.Cleanup(func() {
			m.Sessions.Drop(context.Background())
			m.Close()
		})
		stores["mongo"] = m
	}
	return stores
}

func TestStoreRoundTrip(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 30, 0, 123000000, time.UTC)

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleSession("s-1", "ABC123", at)

			if _, err := store.UpsertSession(ctx, &want); err != nil {
				t.Fatalf("UpsertSession: %v", err)
			}

			got, err := store.FindSession(ctx, models.Key{SerialNumber: "abc123", DeviceType: models.Thermometer})
			if err != nil {
				t.Fatalf("FindSession: %v", err)
			}
			if got == nil {
				t.Fatal("session not found by lower-case serial")
			}
			if got.ID != "s-1" || !got.Timestamp.Equal(at) || len(got.Points) != 1 {
				t.Fatalf("got %+v", got)
			}
			p := got.Points[0]
			if p.Raw != want.Points[0].Raw || p.Verdict != models.Pass || p.CapturedAt == nil || !p.CapturedAt.Equal(*want.Points[0].CapturedAt) {
				t.Fatalf("point = %+v", p)
			}

			if other, err := store.FindSession(ctx, models.Key{SerialNumber: "ABC123", DeviceType: models.Inspector, SubDeviceType: models.Thermometer}); err != nil || other != nil {
				t.Fatalf("inspector key matched thermometer session: %+v, %v", other, err)
			}
		})
	}
}

func TestStoreUpsertReplacesByID(t *testing.T) {
	at := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := sampleSession("s-1", "ABC123", at)
			if _, err := store.UpsertSession(ctx, &s); err != nil {
				t.Fatal(err)
			}
			s.Points[0].Verdict = models.Fail
			s.ZipGroupCode = "BOX-1"
			s.Timestamp = at.Add(time.Hour)
			if _, err := store.UpsertSession(ctx, &s); err != nil {
				t.Fatal(err)
			}
			second := sampleSession("s-2", "XYZ", at)
			if _, err := store.UpsertSession(ctx, &second); err != nil {
				t.Fatal(err)
			}

			all, err := store.ListSessions(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 {
				t.Fatalf("ListSessions = %d sessions, want 2", len(all))
			}
			if all[0].ID != "s-1" || all[0].Points[0].Verdict != models.Fail || all[0].ZipGroupCode != "BOX-1" {
				t.Fatalf("newest session = %+v", all[0])
			}
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := sampleSession("s-1", "ABC123", time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
			if _, err := store.UpsertSession(ctx, &s); err != nil {
				t.Fatal(err)
			}
			if err := store.DeleteSession(ctx, "s-1"); err != nil {
				t.Fatalf("DeleteSession: %v", err)
			}
			if err := store.DeleteSession(ctx, "s-1"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("second delete err = %v", err)
			}
			if got, err := store.FindSession(ctx, s.Key()); err != nil || got != nil {
				t.Fatalf("deleted session still found: %+v, %v", got, err)
			}
		})
	}
}

func TestBulkUpsert(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			bulk, ok := store.(BulkUpserter)
			if !ok {
				t.Skip("no bulk writes")
			}
			sessions := []models.Session{
				sampleSession("a", "A1", at),
				sampleSession("b", "B1", at.Add(time.Second)),
			}
			n, err := bulk.UpsertSessions(context.Background(), sessions)
			if err != nil || n != 2 {
				t.Fatalf("UpsertSessions = %d, %v", n, err)
			}
			all, _ := store.ListSessions(context.Background())
			if len(all) != 2 || all[0].ID != "b" {
				t.Fatalf("ListSessions = %+v", all)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{Backend: "postgres"}); err == nil {
		t.Error("unknown backend accepted")
	}
	if _, err := Open(ctx, Config{Backend: BackendMongo}); err == nil {
		t.Error("mongo without URI accepted")
	}
	s, err := Open(ctx, Config{Backend: "SQLite", SQLitePath: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("Open sqlite: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLite); !ok {
		t.Fatalf("Open returned %T", s)
	}
}
