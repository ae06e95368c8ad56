package session

import (
	"math/rand"
	"time"

	"datafill/internal/device"
	"datafill/internal/models"
)

// Synthesize fabricates results for every catalog point except manualPointID.
// Each target average is drawn around the reference value within half the
// tolerance band and clamped into it; the three raw readings are spread
// around the raw target with the third one absorbing the residual, so their
// mean reproduces the target exactly at display precision.
func Synthesize(f device.Family, manualPointID string, rng *rand.Rand, at time.Time) []models.PointResult {
	var out []models.PointResult
	for _, def := range f.Points() {
		if def.ID == manualPointID {
			continue
		}
		raw := synthReadings(f, def, rng)
		out = append(out, f.EvaluateValues(def, raw, at))
	}
	return out
}

func synthReadings(f device.Family, def models.PointDef, rng *rand.Rand) [3]float64 {
	prec := f.ReadingPrecision
	correction := 0.0
	if f.HasCorrection {
		correction = def.Correction
	}

	band := def.UpperLimit - def.LowerLimit
	target := def.Reference + (rng.Float64()-0.5)*band*0.5
	if target < def.LowerLimit {
		target = def.LowerLimit
	}
	if target > def.UpperLimit {
		target = def.UpperLimit
	}

	rawTarget := device.Round(target-correction, prec)
	if !f.AllowsSign && rawTarget < 0 {
		rawTarget = 0
	}

	spread := f.SynthSpread / 2
	if !f.AllowsSign && spread > rawTarget/2 {
		spread = rawTarget / 2
	}
	r1 := device.Round(rawTarget+(rng.Float64()*2-1)*spread, prec)
	r2 := device.Round(rawTarget+(rng.Float64()*2-1)*spread, prec)
	r3 := device.Round(rawTarget*3-r1-r2, prec)

	if !f.AllowsSign && (r1 < 0 || r2 < 0 || r3 < 0) {
		return [3]float64{rawTarget, rawTarget, rawTarget}
	}
	return [3]float64{r1, r2, r3}
}
