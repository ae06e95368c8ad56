package session

import (
	"fmt"
	"strings"

	"datafill/internal/models"
)

// Target is what an overwrite would hit. An empty PointID means the whole session.
type Target struct {
	SerialNumber  string
	DeviceType    models.DeviceType
	SubDeviceType models.DeviceType
	PointID       string
}

func (t Target) Key() models.Key {
	return models.Key{SerialNumber: t.SerialNumber, DeviceType: t.DeviceType, SubDeviceType: t.SubDeviceType}
}

func (t Target) SessionScoped() bool { return t.PointID == "" }

// Grant is the operator's confirmation to overwrite exactly one Target.
type Grant struct {
	Target Target
}

// Covers requires strict equality on every field, point id included, so a
// session grant never covers a point and vice versa.
func (g *Grant) Covers(t Target) bool {
	if g == nil {
		return false
	}
	return strings.EqualFold(g.Target.SerialNumber, t.SerialNumber) &&
		g.Target.DeviceType == t.DeviceType &&
		g.Target.SubDeviceType == t.SubDeviceType &&
		g.Target.PointID == t.PointID
}

type Outcome int

const (
	NoConflict Outcome = iota
	RequiresConfirmation
)

// Check decides whether writing target would overwrite persisted data.
// persisted is the stored session for the target's key, or nil.
func Check(persisted *models.Session, t Target, grant *Grant) Outcome {
	if persisted == nil || !persisted.Key().Matches(t.Key()) {
		return NoConflict
	}
	if !t.SessionScoped() {
		if _, ok := persisted.Result(t.PointID); !ok {
			return NoConflict
		}
	}
	if grant.Covers(t) {
		return NoConflict
	}
	return RequiresConfirmation
}

// Describe is the text shown in the confirmation dialog.
func Describe(t Target, pointLabel string) string {
	dev := string(t.DeviceType)
	if t.SubDeviceType != "" {
		dev += " (" + string(t.SubDeviceType) + ")"
	}
	if t.SessionScoped() {
		return fmt.Sprintf("A saved session for S/N %s, %s already exists. Overwrite it?", t.SerialNumber, dev)
	}
	if pointLabel == "" {
		pointLabel = t.PointID
	}
	return fmt.Sprintf("%s is already saved for S/N %s, %s. Overwrite this point?", pointLabel, t.SerialNumber, dev)
}
