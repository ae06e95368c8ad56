package workflow

import (
	"context"
	"errors"
	"io"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"datafill/internal/database"
	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/session"
)

type fakeStore struct {
	mu         sync.Mutex
	sessions   map[string]models.Session
	finds      int
	upserts    int
	failUpsert error
	// lost stores the session and still reports failure, like a write
	// whose acknowledgement timed out.
	lost error
}

func newFakeStore(seed ...models.Session) *fakeStore {
	s := &fakeStore{sessions: make(map[string]models.Session)}
	for _, sess := range seed {
		s.sessions[sess.ID] = sess
	}
	return s
}

func (s *fakeStore) FindSession(_ context.Context, key models.Key) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	for _, sess := range s.sessions {
		if sess.Key().Matches(key) {
			return sess.Clone(), nil
		}
	}
	return nil, nil
}

func (s *fakeStore) UpsertSession(_ context.Context, sess *models.Session) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.failUpsert != nil {
		return nil, s.failUpsert
	}
	s.sessions[sess.ID] = *sess.Clone()
	if s.lost != nil {
		return nil, s.lost
	}
	return sess.Clone(), nil
}

func (s *fakeStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *fakeStore) ListSessions(_ context.Context) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Session
	for _, sess := range s.sessions {
		out = append(out, *sess.Clone())
	}
	return out, nil
}

func (s *fakeStore) upsertCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upserts
}

var testClock = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newWorkflow(t *testing.T, store Store, cfg Config) *Workflow {
	t.Helper()
	if cfg.DeviceType == "" {
		cfg.DeviceType = models.Thermometer
	}
	cfg.InspectorID = "insp-1"
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testClock }
	}
	cfg.Rand = rand.New(rand.NewSource(1))
	n := 0
	cfg.NewID = func() string {
		n++
		return "new-" + string(rune('0'+n))
	}
	cfg.Logger = log.New(io.Discard, "", 0)
	w, err := New(store, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func mustStep(t *testing.T, w *Workflow, want Step) {
	t.Helper()
	if got := w.Snapshot().Step; got != want {
		t.Fatalf("step = %s, want %s", got, want)
	}
}

func startSerial(t *testing.T, w *Workflow, sn string) {
	t.Helper()
	if err := w.SetSerialInput(sn); err != nil {
		t.Fatalf("SetSerialInput: %v", err)
	}
	if err := w.ConfirmSerial(context.Background()); err != nil {
		t.Fatalf("ConfirmSerial: %v", err)
	}
}

func enterReadings(t *testing.T, w *Workflow, readings ...string) {
	t.Helper()
	for _, r := range readings {
		if _, err := w.SetReadingInput(r); err != nil {
			t.Fatalf("SetReadingInput(%q): %v", r, err)
		}
		if err := w.NextReading(); err != nil {
			t.Fatalf("NextReading(%q): %v", r, err)
		}
	}
}

func answerPoint(t *testing.T, w *Workflow, pointID string, readings ...string) {
	t.Helper()
	if err := w.SelectPoint(pointID); err != nil {
		t.Fatalf("SelectPoint(%s): %v", pointID, err)
	}
	if c := w.Pending(); c != nil {
		t.Fatalf("unexpected conflict selecting %s: %s", pointID, c.Message)
	}
	enterReadings(t, w, readings...)
	v := w.Snapshot()
	if v.Step != StepResult {
		t.Fatalf("step = %s after readings for %s", v.Step, pointID)
	}
	if err := w.AutoCommit(context.Background(), v.AutoCommit.Token); err != nil {
		t.Fatalf("AutoCommit(%s): %v", pointID, err)
	}
}

func TestThermometerSessionFinish(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(t, store, Config{})
	ctx := context.Background()

	startSerial(t, w, "t-abc123")
	v := w.Snapshot()
	if v.Serial != "ABC123" || v.Step != StepPointSelection || len(v.Points) != 3 {
		t.Fatalf("after serial: %+v", v)
	}

	answerPoint(t, w, "37.0", "40.8", "40.7", "40.6")
	mustStep(t, w, StepPointSelection)
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	answerPoint(t, w, "34.8", "37.0", "37.0", "37.0")
	mustStep(t, w, StepComplete)

	if store.upsertCount() != 0 {
		t.Fatalf("points must not be written before finish, got %d upserts", store.upserts)
	}

	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	mustStep(t, w, StepSerialEntry)
	if store.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}

	saved := w.Snapshot().LastSaved
	if saved == nil || saved.ID != "new-1" || saved.SerialNumber != "ABC123" {
		t.Fatalf("saved = %+v", saved)
	}
	if ids := []string{saved.Points[0].PointID, saved.Points[1].PointID, saved.Points[2].PointID}; strings.Join(ids, ",") != "32.3,34.8,37.0" {
		t.Errorf("points not in catalog order: %v", ids)
	}
	if saved.InspectorID != "insp-1" || saved.DeviceName != "Thermometer" {
		t.Errorf("metadata = %q / %q", saved.InspectorID, saved.DeviceName)
	}
	if session.Overall(saved, device.ThermometerFamily.Points()) != models.Pass {
		t.Errorf("overall = %s", session.Overall(saved, device.ThermometerFamily.Points()))
	}
}

func TestFastTrackCommitsWholeSession(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(t, store, Config{FastTrack: true})
	ctx := context.Background()

	startSerial(t, w, "FT001")
	v := w.Snapshot()
	if len(v.Points) != 1 || v.Points[0].Def.ID != "37.0" {
		t.Fatalf("fast-track catalog = %+v", v.Points)
	}
	if err := w.SelectPoint("32.3"); !errors.Is(err, ErrPointUnavailable) {
		t.Fatalf("SelectPoint(32.3) err = %v", err)
	}

	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7", "40.6")
	v = w.Snapshot()
	if v.Result == nil || v.Result.Verdict != models.Pass {
		t.Fatalf("result = %+v", v.Result)
	}
	if err := w.AutoCommit(ctx, v.AutoCommit.Token); err != nil {
		t.Fatalf("AutoCommit: %v", err)
	}

	if store.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}
	saved := w.Snapshot().LastSaved
	if !session.IsComplete(saved, device.ThermometerFamily.Points()) {
		t.Fatalf("fast-track session incomplete: %+v", saved.Points)
	}
	if saved.FastTrackPoint != "37.0" {
		t.Errorf("FastTrackPoint = %q", saved.FastTrackPoint)
	}
	manual, _ := saved.Result("37.0")
	if manual.Raw != [3]float64{40.8, 40.7, 40.6} || manual.Average != 37.0 {
		t.Errorf("manual point altered: %+v", manual)
	}
	mustStep(t, w, StepSerialEntry)
}

func TestFastTrackUnsupportedFamily(t *testing.T) {
	if _, err := New(newFakeStore(), Config{DeviceType: models.Alcotest, FastTrack: true}); err == nil {
		t.Fatal("alcotest has no fast-track point")
	}
}

func storedAlcoSession() models.Session {
	f := device.AlcotestFamily
	p150, _ := f.Point("0.150")
	p475, _ := f.Point("0.475")
	return models.Session{
		ID:           "stored-1",
		SerialNumber: "AAA111",
		DeviceType:   models.Alcotest,
		DeviceName:   "Alcotest E-200",
		InspectorID:  "insp-0",
		Points: []models.PointResult{
			f.EvaluateValues(p150, [3]float64{0.150, 0.160, 0.140}, time.Time{}),
			f.EvaluateValues(p475, [3]float64{0.470, 0.480, 0.475}, time.Time{}),
		},
		Timestamp: testClock.Add(-time.Hour),
	}
}

func TestOverwriteFlow(t *testing.T) {
	stored := storedAlcoSession()
	store := newFakeStore(stored)
	w := newWorkflow(t, store, Config{DeviceType: models.Alcotest})
	ctx := context.Background()

	// Re-entering a saved serial asks before touching its session.
	if err := w.SetSerialInput("aaa111"); err != nil {
		t.Fatal(err)
	}
	if err := w.ConfirmSerial(ctx); err != nil {
		t.Fatal(err)
	}
	c := w.Pending()
	if c == nil || c.Target.PointID != "" || !strings.Contains(c.Message, "AAA111") {
		t.Fatalf("session conflict = %+v", c)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepSerialEntry)

	if err := w.ConfirmSerial(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx); err != nil {
		t.Fatalf("Confirm session: %v", err)
	}
	mustStep(t, w, StepPointSelection)

	// Selecting an answered point asks again, scoped to that point.
	if err := w.SelectPoint("0.475"); err != nil {
		t.Fatal(err)
	}
	c = w.Pending()
	if c == nil || c.Target.PointID != "0.475" || !strings.Contains(c.Message, "Point 0.475 mg/L") {
		t.Fatalf("point conflict = %+v", c)
	}
	if err := w.SelectPoint("0.850"); !errors.Is(err, ErrConflictPending) {
		t.Fatalf("action during conflict err = %v", err)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepPointSelection)
	if store.upsertCount() != 0 {
		t.Fatalf("cancel touched storage")
	}
	for _, ps := range w.Snapshot().Points {
		if ps.Def.ID == "0.475" && (ps.Verdict != models.Pass || !ps.Saved) {
			t.Fatalf("saved point status lost: %+v", ps)
		}
	}

	if err := w.SelectPoint("0.475"); err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx); err != nil {
		t.Fatalf("Confirm point: %v", err)
	}
	v := w.Snapshot()
	if v.Step != StepReading1 || v.Input != "0.470" {
		t.Fatalf("after point confirm: step %s input %q", v.Step, v.Input)
	}
	enterReadings(t, w, "0.500", "0.510", "0.490")
	if err := w.AutoCommit(ctx, w.Snapshot().AutoCommit.Token); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepPointSelection)

	answerPoint(t, w, "0.000_1", "0.010", "0.020", "0.000")
	answerPoint(t, w, "0.850", "0.850", "0.850", "0.850")
	answerPoint(t, w, "1.500", "1.500", "1.490", "1.510")
	answerPoint(t, w, "0.000_2", "0.000", "0.000", "0.000")
	mustStep(t, w, StepComplete)

	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if store.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}
	saved := store.sessions["stored-1"]
	if len(store.sessions) != 1 || len(saved.Points) != 6 {
		t.Fatalf("stored = %+v", store.sessions)
	}
	if got, _ := saved.Result("0.150"); got.Raw != stored.Points[0].Raw {
		t.Errorf("untouched point changed: %+v", got)
	}
	if got, _ := saved.Result("0.475"); got.Average != 0.5 {
		t.Errorf("re-answered point average = %v, want 0.5", got.Average)
	}
}

func TestPointGrantDroppedWhenPointChanges(t *testing.T) {
	store := newFakeStore(storedAlcoSession())
	w := newWorkflow(t, store, Config{DeviceType: models.Alcotest})
	ctx := context.Background()

	startSerial(t, w, "AAA111")
	if err := w.Confirm(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.SelectPoint("0.475"); err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepReading1)

	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	mustStep(t, w, StepPointSelection)
	if err := w.SelectPoint("0.150"); err != nil {
		t.Fatal(err)
	}
	if c := w.Pending(); c == nil || c.Target.PointID != "0.150" {
		t.Fatalf("grant for 0.475 leaked to 0.150: %+v", c)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	if err := w.SelectPoint("0.475"); err != nil {
		t.Fatal(err)
	}
	if w.Pending() == nil {
		t.Fatal("grant survived leaving the point")
	}
}

func TestCommitFailureKeepsSession(t *testing.T) {
	store := newFakeStore()
	store.failUpsert = errors.New("connection refused")
	w := newWorkflow(t, store, Config{})
	ctx := context.Background()

	startSerial(t, w, "SN42")
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	answerPoint(t, w, "34.8", "37.0", "37.0", "37.0")
	answerPoint(t, w, "37.0", "40.7", "40.7", "40.7")

	if err := w.Finish(ctx); err == nil {
		t.Fatal("Finish succeeded against a failing store")
	}
	v := w.Snapshot()
	if v.Step != StepComplete || v.Recorded != 3 || v.Busy {
		t.Fatalf("after failed commit: step %s recorded %d busy %v", v.Step, v.Recorded, v.Busy)
	}

	store.mu.Lock()
	store.failUpsert = nil
	store.mu.Unlock()
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	mustStep(t, w, StepSerialEntry)
	if len(store.sessions) != 1 {
		t.Fatalf("stored %d sessions", len(store.sessions))
	}
	if _, ok := store.sessions["new-1"]; !ok {
		t.Fatalf("retry minted another id: %+v", store.sessions)
	}
}

func TestRetryAfterLostAckReusesID(t *testing.T) {
	store := newFakeStore()
	store.lost = errors.New("context deadline exceeded")
	w := newWorkflow(t, store, Config{})
	ctx := context.Background()

	startSerial(t, w, "SN43")
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	answerPoint(t, w, "34.8", "37.0", "37.0", "37.0")
	answerPoint(t, w, "37.0", "40.7", "40.7", "40.7")

	if err := w.Finish(ctx); err == nil {
		t.Fatal("Finish reported success for an unacknowledged write")
	}
	mustStep(t, w, StepComplete)

	store.mu.Lock()
	store.lost = nil
	store.mu.Unlock()
	if err := w.Finish(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if c := w.Pending(); c != nil {
		t.Fatalf("retry conflicted with its own write: %s", c.Message)
	}
	mustStep(t, w, StepSerialEntry)
	if len(store.sessions) != 1 || w.Snapshot().LastSaved.ID != "new-1" {
		t.Fatalf("stored = %+v", store.sessions)
	}
}

// savedMeanwhile stores a session for sn as if another console saved it
// after this one passed serial entry.
func savedMeanwhile(store *fakeStore, sn string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.sessions["other-1"] = models.Session{
		ID:           "other-1",
		SerialNumber: sn,
		DeviceType:   models.Thermometer,
		DeviceName:   "Thermometer",
		InspectorID:  "insp-0",
		Timestamp:    testClock.Add(-time.Minute),
	}
}

func TestFinishConflictsWithSessionSavedMeanwhile(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(t, store, Config{})
	ctx := context.Background()

	startSerial(t, w, "SN7")
	savedMeanwhile(store, "SN7")
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	answerPoint(t, w, "34.8", "37.0", "37.0", "37.0")
	answerPoint(t, w, "37.0", "40.7", "40.7", "40.7")
	mustStep(t, w, StepComplete)

	if err := w.Finish(ctx); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	c := w.Pending()
	if c == nil || !c.Target.SessionScoped() || c.Target.SerialNumber != "SN7" {
		t.Fatalf("session conflict = %+v", c)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	if store.upsertCount() != 0 {
		t.Fatalf("cancel touched storage")
	}
	if v := w.Snapshot(); v.Step != StepComplete || v.Recorded != 3 {
		t.Fatalf("after cancel: step %s recorded %d", v.Step, v.Recorded)
	}

	if err := w.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if store.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}
	if len(store.sessions) != 1 || len(store.sessions["other-1"].Points) != 3 {
		t.Fatalf("stored = %+v", store.sessions)
	}
	if id := w.Snapshot().LastSaved.ID; id != "other-1" {
		t.Errorf("saved id = %q, want the stored one", id)
	}
	mustStep(t, w, StepSerialEntry)
}

func TestFastTrackConflictsWithSessionSavedMeanwhile(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(t, store, Config{FastTrack: true})
	ctx := context.Background()

	startSerial(t, w, "FT7")
	savedMeanwhile(store, "FT7")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7", "40.6")
	if err := w.AutoCommit(ctx, w.Snapshot().AutoCommit.Token); err != nil {
		t.Fatalf("AutoCommit: %v", err)
	}
	c := w.Pending()
	if c == nil || !c.Target.SessionScoped() {
		t.Fatalf("session conflict = %+v", c)
	}
	if err := w.Cancel(); err != nil {
		t.Fatal(err)
	}
	if store.upsertCount() != 0 {
		t.Fatalf("cancel touched storage")
	}
	if v := w.Snapshot(); v.Step != StepResult || v.Result == nil {
		t.Fatalf("after cancel: step %s result %+v", v.Step, v.Result)
	}

	if err := w.CommitResult(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Confirm(ctx); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if store.upsertCount() != 1 {
		t.Fatalf("upserts = %d, want 1", store.upserts)
	}
	saved := store.sessions["other-1"]
	if len(store.sessions) != 1 || !session.IsComplete(&saved, device.ThermometerFamily.Points()) {
		t.Fatalf("stored = %+v", store.sessions)
	}
	mustStep(t, w, StepSerialEntry)
}

func TestCapturedAtSurvivesStorage(t *testing.T) {
	store, err := database.NewSQLite(filepath.Join(t.TempDir(), "sessions.db"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	at := time.Date(2026, 6, 1, 10, 0, 0, 123456789, time.FixedZone("MSK", 3*60*60))
	w := newWorkflow(t, store, Config{FastTrack: true, Now: func() time.Time { return at }})
	ctx := context.Background()

	startSerial(t, w, "FT9")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7", "40.6")
	if err := w.CommitResult(ctx); err != nil {
		t.Fatalf("CommitResult: %v", err)
	}
	saved := w.Snapshot().LastSaved

	got, err := store.FindSession(ctx, saved.Key())
	if err != nil || got == nil {
		t.Fatalf("FindSession = %v, %v", got, err)
	}
	if !got.Timestamp.Equal(saved.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, saved.Timestamp)
	}
	if len(got.Points) != len(saved.Points) {
		t.Fatalf("points = %d, want %d", len(got.Points), len(saved.Points))
	}
	for i, p := range saved.Points {
		if p.CapturedAt == nil || got.Points[i].CapturedAt == nil {
			t.Fatalf("point %s has no capture time", p.PointID)
		}
		if !got.Points[i].CapturedAt.Equal(*p.CapturedAt) {
			t.Errorf("point %s CapturedAt = %v, want %v", p.PointID, *got.Points[i].CapturedAt, *p.CapturedAt)
		}
	}
}

func TestFastTrackCommitFailureStaysOnResult(t *testing.T) {
	store := newFakeStore()
	store.failUpsert = errors.New("timeout")
	w := newWorkflow(t, store, Config{FastTrack: true})
	ctx := context.Background()

	startSerial(t, w, "FT2")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7", "40.6")
	if err := w.AutoCommit(ctx, w.Snapshot().AutoCommit.Token); err == nil {
		t.Fatal("expected storage error")
	}
	v := w.Snapshot()
	if v.Step != StepResult || v.Recorded != 0 || v.AutoCommit.Token != 0 {
		t.Fatalf("after failure: step %s recorded %d token %d", v.Step, v.Recorded, v.AutoCommit.Token)
	}

	store.mu.Lock()
	store.failUpsert = nil
	store.mu.Unlock()
	if err := w.CommitResult(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	mustStep(t, w, StepSerialEntry)
}

func TestAutoCommitCancelledOnLeavingResult(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	ctx := context.Background()

	startSerial(t, w, "SN1")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7", "40.6")
	first := w.Snapshot().AutoCommit
	if first.Token == 0 || first.Delay != DefaultAutoCommitDelay {
		t.Fatalf("auto-commit not armed: %+v", first)
	}

	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	v := w.Snapshot()
	if v.Step != StepReading3 || v.Input != "40.6" || v.AutoCommit.Token != 0 {
		t.Fatalf("after back: step %s input %q token %d", v.Step, v.Input, v.AutoCommit.Token)
	}
	if err := w.AutoCommit(ctx, first.Token); err != nil {
		t.Fatal(err)
	}
	if w.Snapshot().Recorded != 0 {
		t.Fatal("stale auto-commit fired")
	}

	if err := w.NextReading(); err != nil {
		t.Fatal(err)
	}
	second := w.Snapshot().AutoCommit
	if second.Token == 0 || second.Token == first.Token {
		t.Fatalf("re-entering result must arm a new token: %d / %d", first.Token, second.Token)
	}
	if err := w.AutoCommit(ctx, first.Token); err != nil || w.Snapshot().Step != StepResult {
		t.Fatal("old token committed the new result")
	}
	if err := w.AutoCommit(ctx, second.Token); err != nil {
		t.Fatal(err)
	}
	if v := w.Snapshot(); v.Step != StepPointSelection || v.Recorded != 1 {
		t.Fatalf("after commit: step %s recorded %d", v.Step, v.Recorded)
	}
}

func TestFailVerdictAutoCommits(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	startSerial(t, w, "SN1")
	answerPoint(t, w, "37.0", "41.5", "41.6", "41.4")
	v := w.Snapshot()
	if v.Recorded != 1 || v.Overall != models.Fail {
		t.Fatalf("recorded %d overall %s", v.Recorded, v.Overall)
	}
}

func TestBackRestoresReadings(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	startSerial(t, w, "SN1")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	enterReadings(t, w, "40.8", "40.7")
	mustStep(t, w, StepReading3)

	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	if v := w.Snapshot(); v.Step != StepReading2 || v.Input != "40.7" || v.ReadingIndex != 2 {
		t.Fatalf("back to reading 2: %s %q", v.Step, v.Input)
	}
	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	if v := w.Snapshot(); v.Step != StepReading1 || v.Input != "40.8" {
		t.Fatalf("back to reading 1: %s %q", v.Step, v.Input)
	}
	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	if v := w.Snapshot(); v.Step != StepPointSelection || v.Point != nil {
		t.Fatalf("back to selection: %s %+v", v.Step, v.Point)
	}
}

func TestReadingValidation(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	startSerial(t, w, "SN1")
	if err := w.SelectPoint("37.0"); err != nil {
		t.Fatal(err)
	}
	if err := w.NextReading(); !errors.Is(err, ErrInvalidReading) {
		t.Fatalf("empty reading err = %v", err)
	}
	if _, err := w.SetReadingInput("-"); err != nil {
		t.Fatal(err)
	}
	if err := w.NextReading(); !errors.Is(err, ErrInvalidReading) {
		t.Fatalf("lone minus err = %v", err)
	}
	got, _ := w.SetReadingInput("123.45")
	if got != "12.4" {
		t.Fatalf("constrained input = %q", got)
	}
}

func TestSerialValidation(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	ctx := context.Background()

	if err := w.ConfirmSerial(ctx); !errors.Is(err, ErrEmptySerial) {
		t.Fatalf("empty serial err = %v", err)
	}
	if err := w.SetSerialInput("АБВ123"); err != nil {
		t.Fatal(err)
	}
	if w.Snapshot().SerialWarning == "" {
		t.Fatal("no warning for Cyrillic input")
	}
	if err := w.ConfirmSerial(ctx); !errors.Is(err, ErrCyrillicSerial) {
		t.Fatalf("cyrillic err = %v", err)
	}
	mustStep(t, w, StepSerialEntry)
}

func TestZipModeRequiresCode(t *testing.T) {
	store := newFakeStore()
	w := newWorkflow(t, store, Config{})
	ctx := context.Background()

	if err := w.SetZipMode(true); err != nil {
		t.Fatal(err)
	}
	startSerial(t, w, "ZIP1")
	if err := w.SelectPoint("32.3"); !errors.Is(err, ErrZipCodeRequired) {
		t.Fatalf("select without zip err = %v", err)
	}
	if err := w.SetZipCode(" BOX-7 "); err != nil {
		t.Fatal(err)
	}
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	answerPoint(t, w, "34.8", "37.0", "37.0", "37.0")
	answerPoint(t, w, "37.0", "40.7", "40.7", "40.7")
	if err := w.Finish(ctx); err != nil {
		t.Fatal(err)
	}
	if got := w.Snapshot().LastSaved.ZipGroupCode; got != "BOX-7" {
		t.Fatalf("zip code = %q", got)
	}
}

func TestNewSerialClearsSession(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	startSerial(t, w, "SN1")
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")

	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	startSerial(t, w, "SN1")
	if got := w.Snapshot().Recorded; got != 1 {
		t.Fatalf("same serial lost its points: %d", got)
	}

	if err := w.Back(); err != nil {
		t.Fatal(err)
	}
	startSerial(t, w, "SN2")
	if got := w.Snapshot().Recorded; got != 0 {
		t.Fatalf("new serial inherited %d points", got)
	}
}

func TestFinishNeedsCompleteSession(t *testing.T) {
	w := newWorkflow(t, newFakeStore(), Config{})
	startSerial(t, w, "SN1")
	answerPoint(t, w, "32.3", "36.3", "36.3", "36.3")
	if err := w.Finish(context.Background()); !errors.Is(err, ErrSessionIncomplete) {
		t.Fatalf("Finish on partial session err = %v", err)
	}
}

func TestAvailableSerials(t *testing.T) {
	f := device.ThermometerFamily
	done := models.Session{ID: "s1", SerialNumber: "AAA", DeviceType: models.Thermometer}
	for _, def := range f.Points() {
		session.Upsert(&done, f.EvaluateValues(def, [3]float64{def.Reference - def.Correction, def.Reference - def.Correction, def.Reference - def.Correction}, testClock))
	}
	w := newWorkflow(t, newFakeStore(done), Config{ImportedSerials: []string{"aaa", "BBB", "bbb"}})

	got, err := w.AvailableSerials(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "BBB" {
		t.Fatalf("AvailableSerials = %v", got)
	}
}

func TestInspectorSubDevice(t *testing.T) {
	store := newFakeStore(storedAlcoSession())
	w := newWorkflow(t, store, Config{DeviceType: models.Inspector, SubDeviceType: models.Alcotest})

	// A standalone alcotest session is a different key.
	startSerial(t, w, "AAA111")
	if c := w.Pending(); c != nil {
		t.Fatalf("inspector session conflicted with alcotest session: %s", c.Message)
	}
	v := w.Snapshot()
	if len(v.Points) != 6 || v.DeviceName != "Inspector (Alcotest E-200)" {
		t.Fatalf("inspector view: %d points, name %q", len(v.Points), v.DeviceName)
	}
}
