package models

import (
	"strings"
	"time"
)

type DeviceType string

const (
	Thermometer DeviceType = "thermometer"
	Alcotest    DeviceType = "alcotest"
	// Inspector is a terminal that verifies one of the other families, named by SubDeviceType.
	Inspector DeviceType = "inspector"
)

type Verdict string

const (
	Pass             Verdict = "pass"
	Fail             Verdict = "fail"
	CalculationError Verdict = "calculation_error"
	// Partial is only ever an overall session verdict, never a point verdict.
	Partial Verdict = "partial"
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "Pass"
	case Fail:
		return "Fail"
	case CalculationError:
		return "Calculation error"
	case Partial:
		return "Partial"
	}
	return string(v)
}

// PointDef is a static verification point from a device family catalog.
type PointDef struct {
	ID         string
	Label      string
	Reference  float64
	Correction float64
	LowerLimit float64
	UpperLimit float64
}

type PointResult struct {
	PointID    string     `bson:"pointId" json:"pointId"`
	Label      string     `bson:"label" json:"label"`
	Reference  float64    `bson:"reference" json:"reference"`
	Correction float64    `bson:"correction" json:"correction"`
	Raw        [3]float64 `bson:"rawReadings" json:"rawReadings"`
	Corrected  [3]float64 `bson:"correctedReadings" json:"correctedReadings"`
	Average    float64    `bson:"average" json:"average"`
	LowerLimit float64    `bson:"lowerLimit" json:"lowerLimit"`
	UpperLimit float64    `bson:"upperLimit" json:"upperLimit"`
	Verdict    Verdict    `bson:"verdict" json:"verdict"`
	CapturedAt *time.Time `bson:"capturedAt,omitempty" json:"capturedAt,omitempty"`
}

// Key identifies a session in storage.
type Key struct {
	SerialNumber  string
	DeviceType    DeviceType
	SubDeviceType DeviceType
}

func (k Key) String() string {
	if k.SubDeviceType != "" {
		return k.SerialNumber + "/" + string(k.DeviceType) + "/" + string(k.SubDeviceType)
	}
	return k.SerialNumber + "/" + string(k.DeviceType)
}

// Matches compares serial numbers case-insensitively, like the stored records are looked up.
func (k Key) Matches(other Key) bool {
	return strings.EqualFold(k.SerialNumber, other.SerialNumber) &&
		k.DeviceType == other.DeviceType &&
		k.SubDeviceType == other.SubDeviceType
}

// Session is every point result recorded for one serial number of one device.
// FastTrackPoint names the manually measured point when the other points were
// synthesized from it.
type Session struct {
	ID             string        `bson:"_id" json:"id"`
	SerialNumber   string        `bson:"serialNumber" json:"serialNumber"`
	DeviceType     DeviceType    `bson:"deviceType" json:"deviceType"`
	SubDeviceType  DeviceType    `bson:"subDeviceType" json:"subDeviceType,omitempty"`
	DeviceName     string        `bson:"deviceName" json:"deviceName"`
	ZipGroupCode   string        `bson:"zipGroupCode,omitempty" json:"zipGroupCode,omitempty"`
	InspectorID    string        `bson:"inspectorId" json:"inspectorId"`
	FastTrackPoint string        `bson:"fastTrackPoint,omitempty" json:"fastTrackPoint,omitempty"`
	Points         []PointResult `bson:"points" json:"points"`
	Timestamp      time.Time     `bson:"timestamp" json:"timestamp"`
}

func (s *Session) Key() Key {
	return Key{SerialNumber: s.SerialNumber, DeviceType: s.DeviceType, SubDeviceType: s.SubDeviceType}
}

// Result returns the stored result for pointID, if any.
func (s *Session) Result(pointID string) (PointResult, bool) {
	if s == nil {
		return PointResult{}, false
	}
	for _, p := range s.Points {
		if p.PointID == pointID {
			return p, true
		}
	}
	return PointResult{}, false
}

// Clone returns a deep copy so the workflow can restore state after a failed commit.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Points = make([]PointResult, len(s.Points))
	copy(c.Points, s.Points)
	for i := range c.Points {
		if at := c.Points[i].CapturedAt; at != nil {
			t := *at
			c.Points[i].CapturedAt = &t
		}
	}
	return &c
}

// ExportRow is one point of one session, flattened for CSV export.
type ExportRow struct {
	SessionID     string  `csv:"session_id"`
	SerialNumber  string  `csv:"serial_number"`
	DeviceType    string  `csv:"device_type"`
	SubDeviceType string  `csv:"sub_device_type,omitempty"`
	DeviceName    string  `csv:"device_name"`
	ZipGroupCode  string  `csv:"zip_code,omitempty"`
	InspectorID   string  `csv:"inspector_id"`
	Timestamp     string  `csv:"timestamp"`
	PointID       string  `csv:"point_id"`
	PointLabel    string  `csv:"point_label"`
	Raw1          float64 `csv:"raw_1"`
	Raw2          float64 `csv:"raw_2"`
	Raw3          float64 `csv:"raw_3"`
	Average       float64 `csv:"average"`
	LowerLimit    float64 `csv:"lower_limit"`
	UpperLimit    float64 `csv:"upper_limit"`
	Verdict       string  `csv:"verdict"`
}

// SerialRecord is one row of an imported serial-number list.
type SerialRecord struct {
	SerialNumber string `csv:"serial"`
}
