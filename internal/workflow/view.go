package workflow

import (
	"datafill/internal/models"
	"datafill/internal/session"
)

const cyrillicWarning = "Serial numbers cannot contain Cyrillic letters. Use latin letters and digits."

// PointStatus is one row of the point selection list.
type PointStatus struct {
	Def     models.PointDef
	Verdict models.Verdict
	// Saved is set when the verdict comes from storage rather than this pass.
	Saved bool
}

// View is a copy of everything a front end needs to render the workflow.
type View struct {
	Step          Step
	DeviceType    models.DeviceType
	SubDeviceType models.DeviceType
	DeviceName    string
	FastTrack     bool

	SerialInput   string
	Serial        string
	SerialWarning string

	Points       []PointStatus
	Point        *models.PointDef
	ReadingIndex int
	Readings     [3]string
	Input        string
	Result       *models.PointResult

	Pending    *Conflict
	AutoCommit AutoCommit
	Busy       bool

	ZipMode bool
	ZipCode string

	Recorded int
	Total    int
	Overall  models.Verdict

	LastSaved *models.Session
}

func (w *Workflow) Snapshot() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	v := View{
		Step:          w.step,
		DeviceType:    w.cfg.DeviceType,
		SubDeviceType: w.cfg.SubDeviceType,
		FastTrack:     w.cfg.FastTrack,
		SerialInput:   w.serialInput,
		Serial:        w.serial,
		Readings:      w.readings,
		Input:         w.input,
		Busy:          w.busy,
		ZipMode:       w.zipMode,
		ZipCode:       w.zipCode,
		Total:         len(w.fam.Points()),
		LastSaved:     w.lastSaved,
	}
	if w.current != nil {
		v.DeviceName = w.current.DeviceName
	} else {
		v.DeviceName = w.newSession().DeviceName
	}
	if w.cyrillic {
		v.SerialWarning = cyrillicWarning
	}
	if w.point != nil {
		p := *w.point
		v.Point = &p
	}
	if w.capturing() {
		v.ReadingIndex = int(w.step-StepReading1) + 1
	}
	if w.result != nil {
		r := *w.result
		v.Result = &r
	}
	if w.pending != nil {
		c := *w.pending
		v.Pending = &c
	}
	if w.armed != 0 {
		v.AutoCommit = AutoCommit{Token: w.armed, Delay: w.cfg.AutoCommitDelay}
	}

	for _, def := range w.fam.Points() {
		if w.cfg.FastTrack && def.ID != w.fam.FastTrackPoint {
			continue
		}
		ps := PointStatus{Def: def}
		if r, ok := w.current.Result(def.ID); ok {
			ps.Verdict = r.Verdict
			if saved, ok := w.persisted.Result(def.ID); ok && saved.Verdict == r.Verdict && saved.Raw == r.Raw {
				ps.Saved = true
			}
		} else if r, ok := w.persisted.Result(def.ID); ok {
			ps.Verdict = r.Verdict
			ps.Saved = true
		}
		v.Points = append(v.Points, ps)
	}
	if w.current != nil {
		v.Recorded = len(w.current.Points)
		v.Overall = session.Overall(w.current, w.fam.Points())
	}
	return v
}
