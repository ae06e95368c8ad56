// Package workflow drives one operator through verifying instruments of one
// device family, one serial number at a time.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"datafill/internal/device"
	"datafill/internal/models"
	"datafill/internal/session"

	"github.com/google/uuid"
)

var (
	ErrEmptySerial       = errors.New("serial number is required")
	ErrCyrillicSerial    = errors.New("serial number contains Cyrillic letters; switch the keyboard layout")
	ErrInvalidReading    = errors.New("enter a valid reading")
	ErrZipCodeRequired   = errors.New("ZIP mode is on: enter a ZIP code first")
	ErrPointUnavailable  = errors.New("point is not available")
	ErrWrongStep         = errors.New("action is not available at this step")
	ErrBusy              = errors.New("a save is in progress")
	ErrConflictPending   = errors.New("confirm or cancel the overwrite first")
	ErrNoConflict        = errors.New("nothing to confirm")
	ErrSessionIncomplete = errors.New("not every point has been verified")
	ErrCalculation       = errors.New("the result could not be calculated; correct the readings")
)

const DefaultAutoCommitDelay = time.Second

// Store is the storage collaborator. FindSession returns nil, nil when no
// session exists for the key.
type Store interface {
	FindSession(ctx context.Context, key models.Key) (*models.Session, error)
	UpsertSession(ctx context.Context, s *models.Session) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context) ([]models.Session, error)
}

type Config struct {
	DeviceType    models.DeviceType
	SubDeviceType models.DeviceType
	InspectorID   string

	// FastTrack collapses the catalog to the family's fast-track point and
	// synthesizes the rest of the session from it.
	FastTrack       bool
	ImportedSerials []string

	AutoCommitDelay time.Duration
	Now             func() time.Time
	Rand            *rand.Rand
	NewID           func() string
	Logger          *log.Logger
}

type Step int

const (
	StepSerialEntry Step = iota
	StepPointSelection
	StepReading1
	StepReading2
	StepReading3
	StepResult
	StepComplete
)

func (s Step) String() string {
	switch s {
	case StepSerialEntry:
		return "serial number"
	case StepPointSelection:
		return "point selection"
	case StepReading1, StepReading2, StepReading3:
		return fmt.Sprintf("reading %d", s-StepReading1+1)
	case StepResult:
		return "result"
	case StepComplete:
		return "all points complete"
	}
	return "unknown"
}

type action int

const (
	actSerial action = iota + 1
	actPoint
	actFinish
	actFastTrack
)

// Conflict is a blocked action waiting for the operator to confirm or cancel.
type Conflict struct {
	Target  session.Target
	Message string
	action  action
}

// AutoCommit is the armed delayed commit of a shown result. Token is zero
// when nothing is armed; a token stops working as soon as the result step is left.
type AutoCommit struct {
	Token uint64
	Delay time.Duration
}

type Workflow struct {
	mu     sync.Mutex
	cfg    Config
	fam    device.Family
	store  Store
	logger *log.Logger

	step      Step
	busy      bool
	pending   *Conflict
	grant     *session.Grant
	armed     uint64
	armSeq    uint64
	zipMode   bool
	zipCode   string
	imported  []string
	lastSaved *models.Session

	serialInput string
	serial      string
	cyrillic    bool

	current   *models.Session
	persisted *models.Session
	adopted   bool

	point    *models.PointDef
	readings [3]string
	input    string
	result   *models.PointResult
}

func New(store Store, cfg Config) (*Workflow, error) {
	fam, err := device.Resolve(cfg.DeviceType, cfg.SubDeviceType)
	if err != nil {
		return nil, err
	}
	if cfg.FastTrack && fam.FastTrackPoint == "" {
		return nil, fmt.Errorf("fast-track is not available for %s", fam.Name)
	}
	if cfg.AutoCommitDelay <= 0 {
		cfg.AutoCommitDelay = DefaultAutoCommitDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Workflow{
		cfg:      cfg,
		fam:      fam,
		store:    store,
		logger:   cfg.Logger,
		imported: session.DedupSerials(cfg.ImportedSerials),
	}, nil
}

func (w *Workflow) Family() device.Family { return w.fam }

// SetSerialInput records what the operator typed or scanned.
func (w *Workflow) SetSerialInput(raw string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(StepSerialEntry); err != nil {
		return err
	}
	w.serialInput = raw
	w.serial, w.cyrillic = device.NormalizeSerial(raw)
	w.syncGrant()
	return nil
}

// ConfirmSerial advances to point selection, or opens a session conflict
// when storage already holds a session for this serial number.
func (w *Workflow) ConfirmSerial(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(StepSerialEntry); err != nil {
		return err
	}
	return w.confirmSerial(ctx)
}

func (w *Workflow) confirmSerial(ctx context.Context) error {
	if w.cyrillic {
		return ErrCyrillicSerial
	}
	if w.serial == "" {
		return ErrEmptySerial
	}

	key := w.key()
	var found *models.Session
	err := w.io(func() error {
		var err error
		found, err = w.store.FindSession(ctx, key)
		return err
	})
	if err != nil {
		w.logger.Printf("Failed to look up session %s: %v", key, err)
		return fmt.Errorf("look up session %s: %w", key, err)
	}

	alreadyAdopted := w.adopted && w.current != nil && found != nil &&
		w.current.Key().Matches(key) && w.current.ID == found.ID
	if !alreadyAdopted {
		t := w.target("")
		if session.Check(found, t, w.grant) == session.RequiresConfirmation {
			w.openConflict(t, "", actSerial)
			return nil
		}
	}

	w.persisted = found
	if w.current == nil || !w.current.Key().Matches(key) {
		w.current = w.newSession()
		w.adopted = false
	}
	if found != nil && !w.adopted {
		base := found.Clone()
		for _, p := range w.current.Points {
			session.Upsert(base, p)
		}
		w.current.ID = found.ID
		w.current.Points = base.Points
		w.adopted = true
		w.logger.Printf("Continuing saved session %s for %s (%d points)", found.ID, key, len(found.Points))
	}

	w.setStep(StepPointSelection)
	w.syncGrant()
	return nil
}

// SelectPoint starts capturing readings for a catalog point. A point that
// already has a saved result opens a point conflict instead.
func (w *Workflow) SelectPoint(pointID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(StepPointSelection); err != nil {
		return err
	}
	return w.selectPoint(pointID)
}

func (w *Workflow) selectPoint(pointID string) error {
	def, ok := w.fam.Point(pointID)
	if !ok || (w.cfg.FastTrack && pointID != w.fam.FastTrackPoint) {
		return fmt.Errorf("%w: %s", ErrPointUnavailable, pointID)
	}
	if w.zipMode && strings.TrimSpace(w.zipCode) == "" {
		return ErrZipCodeRequired
	}

	t := w.target(pointID)
	if session.Check(w.persisted, t, w.grant) == session.RequiresConfirmation {
		w.openConflict(t, def.Label, actPoint)
		return nil
	}

	w.point = &def
	w.readings = [3]string{}
	if prev, ok := w.current.Result(pointID); ok {
		for i, r := range prev.Raw {
			w.readings[i] = strconv.FormatFloat(r, 'f', w.fam.ReadingPrecision, 64)
		}
	}
	w.input = w.readings[0]
	w.result = nil
	w.setStep(StepReading1)
	w.syncGrant()
	return nil
}

// SetReadingInput applies the family's input constraints and returns the
// value that was kept.
func (w *Workflow) SetReadingInput(value string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.notBlocked(); err != nil {
		return w.input, err
	}
	if !w.capturing() {
		return w.input, ErrWrongStep
	}
	w.input = w.fam.ConstrainInput(w.input, value)
	return w.input, nil
}

// NextReading stores the current reading and moves to the next one, or to
// the result after the third.
func (w *Workflow) NextReading() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.notBlocked(); err != nil {
		return err
	}
	if !w.capturing() {
		return ErrWrongStep
	}
	if _, err := device.ParseReading(w.input); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	idx := int(w.step - StepReading1)
	w.readings[idx] = w.input
	if w.step < StepReading3 {
		w.setStep(w.step + 1)
		w.input = w.readings[idx+1]
		return nil
	}
	w.enterResult()
	return nil
}

func (w *Workflow) enterResult() {
	res := w.fam.Evaluate(*w.point, w.readings, w.now())
	w.result = &res
	w.setStep(StepResult)
	if res.Verdict != models.CalculationError {
		w.armSeq++
		w.armed = w.armSeq
	}
}

// Back walks one step backwards, restoring what was typed there.
func (w *Workflow) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.notBlocked(); err != nil {
		return err
	}

	switch w.step {
	case StepSerialEntry:
		return nil
	case StepPointSelection:
		w.setStep(StepSerialEntry)
	case StepReading1:
		w.point = nil
		w.readings = [3]string{}
		w.input = ""
		w.setStep(StepPointSelection)
	case StepReading2, StepReading3:
		idx := int(w.step - StepReading1)
		w.readings[idx] = w.input
		w.input = w.readings[idx-1]
		w.setStep(w.step - 1)
	case StepResult:
		w.result = nil
		w.input = w.readings[2]
		w.setStep(StepReading3)
	case StepComplete:
		w.setStep(StepPointSelection)
	}
	w.syncGrant()
	return nil
}

// AutoCommit fires the delayed commit armed on entering the result step.
// Stale tokens are ignored.
func (w *Workflow) AutoCommit(ctx context.Context, token uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if token == 0 || token != w.armed || w.step != StepResult || w.pending != nil {
		return nil
	}
	if w.busy {
		return ErrBusy
	}
	return w.commitResult(ctx)
}

// CommitResult commits the shown result without waiting for the delay.
func (w *Workflow) CommitResult(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ready(StepResult); err != nil {
		return err
	}
	return w.commitResult(ctx)
}

func (w *Workflow) commitResult(ctx context.Context) error {
	w.disarm()
	if w.result == nil || w.result.Verdict == models.CalculationError {
		return ErrCalculation
	}
	res := *w.result

	if w.cfg.FastTrack {
		return w.commitFastTrack(ctx, res)
	}

	session.Upsert(w.current, res)
	w.logger.Printf("Point %s for %s: %s (average %v)", res.PointID, w.key(), res.Verdict, res.Average)
	w.clearPoint()
	if session.IsComplete(w.current, w.fam.Points()) {
		w.setStep(StepComplete)
	} else {
		w.setStep(StepPointSelection)
	}
	w.syncGrant()
	return nil
}

func (w *Workflow) commitFastTrack(ctx context.Context, manual models.PointResult) error {
	if w.zipMode && strings.TrimSpace(w.zipCode) == "" {
		return ErrZipCodeRequired
	}
	draft := w.current.Clone()
	session.Upsert(draft, manual)
	for _, p := range session.Synthesize(w.fam, manual.PointID, w.cfg.Rand, w.now()) {
		session.Upsert(draft, p)
	}
	draft.Points = session.OrderByCatalog(draft.Points, w.fam.Points())
	draft.FastTrackPoint = manual.PointID
	return w.commit(ctx, draft, actFastTrack)
}

// Finish commits the complete session as one record.
func (w *Workflow) Finish(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.notBlocked(); err != nil {
		return err
	}
	return w.finish(ctx)
}

func (w *Workflow) finish(ctx context.Context) error {
	if w.step != StepComplete || !session.IsComplete(w.current, w.fam.Points()) {
		return ErrSessionIncomplete
	}
	if w.zipMode && strings.TrimSpace(w.zipCode) == "" {
		return ErrZipCodeRequired
	}
	draft := w.current.Clone()
	draft.Points = session.OrderByCatalog(draft.Points, w.fam.Points())
	return w.commit(ctx, draft, actFinish)
}

// commit writes draft in one upsert. On failure the in-memory session and
// step are left exactly as they were so the operator can retry.
func (w *Workflow) commit(ctx context.Context, draft *models.Session, act action) error {
	key := w.key()
	if !w.adopted {
		var found *models.Session
		err := w.io(func() error {
			var err error
			found, err = w.store.FindSession(ctx, key)
			return err
		})
		if err != nil {
			w.logger.Printf("Failed to look up session %s before saving: %v", key, err)
			return fmt.Errorf("look up session %s: %w", key, err)
		}
		// A record carrying our own id is an earlier attempt that landed.
		own := found != nil && w.current.ID != "" && found.ID == w.current.ID
		t := w.target("")
		if !own && session.Check(found, t, w.grant) == session.RequiresConfirmation {
			w.openConflict(t, "", act)
			return nil
		}
		if found != nil {
			draft.ID = found.ID
		}
	}
	if draft.ID == "" {
		draft.ID = w.cfg.NewID()
	}
	w.current.ID = draft.ID
	if w.zipMode {
		draft.ZipGroupCode = strings.TrimSpace(w.zipCode)
	} else {
		draft.ZipGroupCode = ""
	}
	draft.Timestamp = w.now()

	var saved *models.Session
	err := w.io(func() error {
		var err error
		saved, err = w.store.UpsertSession(ctx, draft)
		return err
	})
	if err != nil {
		w.logger.Printf("Failed to save session %s (%s): %v", draft.ID, key, err)
		return fmt.Errorf("save session %s: %w", key, err)
	}
	if saved == nil {
		saved = draft
	}

	w.logger.Printf("Saved session %s for %s with %d points", saved.ID, key, len(saved.Points))
	if session.IsComplete(saved, w.fam.Points()) {
		w.imported = session.RemoveSerial(w.imported, saved.SerialNumber)
	}
	w.lastSaved = saved
	w.resetSerial()
	return nil
}

// Confirm grants the pending overwrite and resumes the blocked action.
func (w *Workflow) Confirm(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	c := w.pending
	if c == nil {
		return ErrNoConflict
	}
	w.pending = nil
	w.grant = &session.Grant{Target: c.Target}
	w.logger.Printf("Overwrite confirmed: %s", c.Message)

	switch c.action {
	case actSerial:
		return w.confirmSerial(ctx)
	case actPoint:
		return w.selectPoint(c.Target.PointID)
	case actFinish:
		return w.finish(ctx)
	case actFastTrack:
		return w.commitResult(ctx)
	}
	return nil
}

// Cancel drops the pending overwrite; the workflow stays where it was.
func (w *Workflow) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	if w.pending == nil {
		return ErrNoConflict
	}
	w.logger.Printf("Overwrite cancelled: %s", w.pending.Message)
	w.pending = nil
	return nil
}

func (w *Workflow) Pending() *Conflict {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending == nil {
		return nil
	}
	c := *w.pending
	return &c
}

// SetZipMode toggles ZIP grouping. While on, no point can be selected
// without a ZIP code.
func (w *Workflow) SetZipMode(on bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	w.zipMode = on
	return nil
}

func (w *Workflow) SetZipCode(code string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	w.zipCode = code
	return nil
}

// SetImportedSerials replaces the picker list.
func (w *Workflow) SetImportedSerials(serials []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.imported = session.DedupSerials(serials)
}

func (w *Workflow) ImportedSerials() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.imported...)
}

// AvailableSerials is the imported list minus serials whose saved session
// is already complete.
func (w *Workflow) AvailableSerials(ctx context.Context) ([]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return nil, ErrBusy
	}
	if len(w.imported) == 0 {
		return nil, nil
	}
	var stored []models.Session
	err := w.io(func() error {
		var err error
		stored, err = w.store.ListSessions(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return session.Incomplete(w.imported, stored, w.cfg.DeviceType, w.cfg.SubDeviceType, w.fam.Points()), nil
}

// Reset abandons the current serial number without saving.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.busy {
		return ErrBusy
	}
	w.resetSerial()
	return nil
}

func (w *Workflow) ready(step Step) error {
	if err := w.notBlocked(); err != nil {
		return err
	}
	if w.step != step {
		return fmt.Errorf("%w: %s", ErrWrongStep, w.step)
	}
	return nil
}

func (w *Workflow) notBlocked() error {
	if w.busy {
		return ErrBusy
	}
	if w.pending != nil {
		return ErrConflictPending
	}
	return nil
}

func (w *Workflow) capturing() bool {
	return w.step >= StepReading1 && w.step <= StepReading3
}

// io runs a storage call with the lock released. busy refuses operator
// actions until it returns. The caller holds w.mu.
func (w *Workflow) io(fn func() error) error {
	w.busy = true
	w.mu.Unlock()
	err := fn()
	w.mu.Lock()
	w.busy = false
	return err
}

// setStep disarms the auto-commit whenever the result step is left.
func (w *Workflow) setStep(s Step) {
	if w.step == StepResult && s != StepResult {
		w.disarm()
	}
	w.step = s
}

func (w *Workflow) disarm() { w.armed = 0 }

func (w *Workflow) openConflict(t session.Target, label string, act action) {
	w.disarm()
	w.pending = &Conflict{Target: t, Message: session.Describe(t, label), action: act}
	w.logger.Printf("Overwrite needs confirmation: %s", w.pending.Message)
}

// syncGrant drops a grant that no longer names the current target.
func (w *Workflow) syncGrant() {
	if w.grant == nil {
		return
	}
	g := w.grant.Target
	if !strings.EqualFold(g.SerialNumber, w.serial) ||
		g.DeviceType != w.cfg.DeviceType ||
		g.SubDeviceType != w.cfg.SubDeviceType {
		w.grant = nil
		return
	}
	if g.PointID != "" && (w.point == nil || w.point.ID != g.PointID) {
		w.grant = nil
	}
}

func (w *Workflow) clearPoint() {
	w.point = nil
	w.result = nil
	w.readings = [3]string{}
	w.input = ""
}

func (w *Workflow) resetSerial() {
	w.clearPoint()
	w.current = nil
	w.persisted = nil
	w.adopted = false
	w.serialInput = ""
	w.serial = ""
	w.cyrillic = false
	w.pending = nil
	w.grant = nil
	w.setStep(StepSerialEntry)
}

// now is the clock at the millisecond precision storage keeps.
func (w *Workflow) now() time.Time {
	return w.cfg.Now().UTC().Truncate(time.Millisecond)
}

func (w *Workflow) key() models.Key {
	return models.Key{SerialNumber: w.serial, DeviceType: w.cfg.DeviceType, SubDeviceType: w.cfg.SubDeviceType}
}

func (w *Workflow) target(pointID string) session.Target {
	return session.Target{
		SerialNumber:  w.serial,
		DeviceType:    w.cfg.DeviceType,
		SubDeviceType: w.cfg.SubDeviceType,
		PointID:       pointID,
	}
}

func (w *Workflow) newSession() *models.Session {
	return &models.Session{
		SerialNumber:  w.serial,
		DeviceType:    w.cfg.DeviceType,
		SubDeviceType: w.cfg.SubDeviceType,
		DeviceName:    device.DisplayName(w.cfg.DeviceType, w.cfg.SubDeviceType),
		InspectorID:   w.cfg.InspectorID,
	}
}
