package device

import (
	"errors"
	"fmt"

	"datafill/internal/models"
)

var (
	ErrUnknownDevice     = errors.New("unknown device type")
	ErrSubDeviceRequired = errors.New("inspector requires a sub-device type")
)

var thermometerPoints = []models.PointDef{
	{ID: "32.3", Label: "Point 32.3 °C", Reference: 32.3, Correction: -4.0, LowerLimit: 32.0, UpperLimit: 32.6},
	{ID: "34.8", Label: "Point 34.8 °C", Reference: 34.8, Correction: -2.2, LowerLimit: 34.5, UpperLimit: 35.1},
	{ID: "37.0", Label: "Point 37.0 °C", Reference: 37.0, Correction: -3.7, LowerLimit: 36.7, UpperLimit: 37.3},
}

var alcotestPoints = []models.PointDef{
	{ID: "0.000_1", Label: "Point 0.000 mg/L", Reference: 0.000, LowerLimit: 0.000, UpperLimit: 0.050},
	{ID: "0.150", Label: "Point 0.150 mg/L", Reference: 0.150, LowerLimit: 0.100, UpperLimit: 0.200},
	{ID: "0.475", Label: "Point 0.475 mg/L", Reference: 0.475, LowerLimit: 0.425, UpperLimit: 0.525},
	{ID: "0.850", Label: "Point 0.850 mg/L", Reference: 0.850, LowerLimit: 0.765, UpperLimit: 0.935},
	{ID: "1.500", Label: "Point 1.500 mg/L", Reference: 1.500, LowerLimit: 1.350, UpperLimit: 1.650},
	{ID: "0.000_2", Label: "Point 0.000 mg/L (repeat)", Reference: 0.000, LowerLimit: 0.000, UpperLimit: 0.050},
}

var ThermometerFamily = Family{
	Device:             models.Thermometer,
	Name:               "Thermometer",
	Unit:               "°C",
	points:             thermometerPoints,
	AveragePrecision:   2,
	ReadingPrecision:   1,
	MaxIntDigits:       2,
	MaxDecDigits:       1,
	AutoSeparatorAfter: 2,
	AllowsSign:         true,
	HasCorrection:      true,
	Timestamped:        true,
	FastTrackPoint:     "37.0",
	SynthSpread:        0.1,
}

var AlcotestFamily = Family{
	Device:             models.Alcotest,
	Name:               "Alcotest E-200",
	Unit:               "mg/L",
	points:             alcotestPoints,
	AveragePrecision:   3,
	ReadingPrecision:   3,
	MaxIntDigits:       4,
	MaxDecDigits:       3,
	AutoSeparatorAfter: 1,
	SynthSpread:        0.01,
}

// PointsFor returns the ordered catalog of a device family.
func PointsFor(d models.DeviceType) ([]models.PointDef, error) {
	f, err := FamilyOf(d)
	if err != nil {
		return nil, err
	}
	return f.Points(), nil
}

func FamilyOf(d models.DeviceType) (Family, error) {
	switch d {
	case models.Thermometer:
		return ThermometerFamily, nil
	case models.Alcotest:
		return AlcotestFamily, nil
	}
	return Family{}, fmt.Errorf("%w: %q", ErrUnknownDevice, d)
}

// Resolve picks the family that actually gets verified. An inspector
// delegates to its sub-device; other devices must not carry one.
func Resolve(d, sub models.DeviceType) (Family, error) {
	if d == models.Inspector {
		if sub == "" {
			return Family{}, ErrSubDeviceRequired
		}
		return FamilyOf(sub)
	}
	if sub != "" {
		return Family{}, fmt.Errorf("%w: %q has no sub-devices", ErrUnknownDevice, d)
	}
	return FamilyOf(d)
}

// DisplayName is the device name stored with a session.
func DisplayName(d, sub models.DeviceType) string {
	f, err := Resolve(d, sub)
	if err != nil {
		return string(d)
	}
	if d == models.Inspector {
		return fmt.Sprintf("Inspector (%s)", f.Name)
	}
	return f.Name
}
