package device

import (
	"math"
	"time"

	"datafill/internal/models"
)

// Family is the per-device strategy the workflow is parameterized by.
type Family struct {
	Device models.DeviceType
	Name   string
	Unit   string
	points []models.PointDef

	AveragePrecision int
	ReadingPrecision int

	MaxIntDigits       int
	MaxDecDigits       int
	AutoSeparatorAfter int
	AllowsSign         bool

	HasCorrection bool
	// Timestamped families stamp CapturedAt on each point result.
	Timestamped bool

	// FastTrackPoint is the only point measured by hand in fast-track mode.
	// Empty means the family has no fast-track variant.
	FastTrackPoint string
	SynthSpread    float64
}

// Points returns a copy of the catalog in display order.
func (f Family) Points() []models.PointDef {
	out := make([]models.PointDef, len(f.points))
	copy(out, f.points)
	return out
}

func (f Family) Point(id string) (models.PointDef, bool) {
	for _, p := range f.points {
		if p.ID == id {
			return p, true
		}
	}
	return models.PointDef{}, false
}

func (f Family) PointIDs() []string {
	ids := make([]string, len(f.points))
	for i, p := range f.points {
		ids[i] = p.ID
	}
	return ids
}

// Evaluate parses three typed readings and classifies them. Any reading that
// does not parse yields a CalculationError result with no average.
func (f Family) Evaluate(def models.PointDef, raw [3]string, at time.Time) models.PointResult {
	var values [3]float64
	for i, s := range raw {
		v, err := ParseReading(s)
		if err != nil {
			res := f.base(def, at)
			res.Verdict = models.CalculationError
			return res
		}
		values[i] = v
	}
	return f.EvaluateValues(def, values, at)
}

func (f Family) EvaluateValues(def models.PointDef, raw [3]float64, at time.Time) models.PointResult {
	res := f.base(def, at)
	res.Raw = raw

	correction := 0.0
	if f.HasCorrection {
		correction = def.Correction
	}

	var sum float64
	for i, r := range raw {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			res.Raw = [3]float64{}
			res.Verdict = models.CalculationError
			return res
		}
		c := r + correction
		sum += c
		res.Corrected[i] = Round(c, f.AveragePrecision)
	}
	res.Average = Round(sum/3, f.AveragePrecision)

	if res.Average >= def.LowerLimit && res.Average <= def.UpperLimit {
		res.Verdict = models.Pass
	} else {
		res.Verdict = models.Fail
	}
	return res
}

func (f Family) base(def models.PointDef, at time.Time) models.PointResult {
	res := models.PointResult{
		PointID:    def.ID,
		Label:      def.Label,
		Reference:  def.Reference,
		LowerLimit: def.LowerLimit,
		UpperLimit: def.UpperLimit,
	}
	if f.HasCorrection {
		res.Correction = def.Correction
	}
	if f.Timestamped && !at.IsZero() {
		t := at
		res.CapturedAt = &t
	}
	return res
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}
