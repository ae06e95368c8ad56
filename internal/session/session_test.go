package session

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"datafill/internal/device"
	"datafill/internal/models"
)

func result(id string, v models.Verdict) models.PointResult {
	return models.PointResult{PointID: id, Label: "Point " + id, Verdict: v}
}

func TestUpsertIdempotent(t *testing.T) {
	s := &models.Session{}
	r := result("37.0", models.Pass)

	Upsert(s, r)
	Upsert(s, r)
	if len(s.Points) != 1 {
		t.Fatalf("points = %d, want 1", len(s.Points))
	}

	r.Verdict = models.Fail
	Upsert(s, r)
	if len(s.Points) != 1 || s.Points[0].Verdict != models.Fail {
		t.Fatalf("update in place failed: %+v", s.Points)
	}

	Upsert(s, result("34.8", models.Pass))
	if len(s.Points) != 2 {
		t.Fatalf("points = %d, want 2", len(s.Points))
	}
}

func TestIsComplete(t *testing.T) {
	catalog := device.ThermometerFamily.Points()
	s := &models.Session{}
	for i, def := range catalog {
		if IsComplete(s, catalog) {
			t.Fatalf("complete after %d of %d points", i, len(catalog))
		}
		Upsert(s, result(def.ID, models.Pass))
	}
	if !IsComplete(s, catalog) {
		t.Fatal("session with every point is not complete")
	}
	if IsComplete(s, device.AlcotestFamily.Points()) {
		t.Fatal("thermometer session complete against alcotest catalog")
	}
}

func TestOverall(t *testing.T) {
	catalog := device.ThermometerFamily.Points()

	tests := []struct {
		name   string
		points []models.PointResult
		want   models.Verdict
	}{
		{"empty", nil, models.Partial},
		{"all pass", []models.PointResult{result("32.3", models.Pass), result("34.8", models.Pass), result("37.0", models.Pass)}, models.Pass},
		{"missing point", []models.PointResult{result("32.3", models.Pass), result("37.0", models.Pass)}, models.Partial},
		{"one fail incomplete", []models.PointResult{result("32.3", models.Fail)}, models.Fail},
		{"calculation error", []models.PointResult{result("32.3", models.Pass), result("34.8", models.CalculationError), result("37.0", models.Pass)}, models.Partial},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &models.Session{Points: tt.points}
			if got := Overall(s, catalog); got != tt.want {
				t.Errorf("Overall = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestGrantScoping(t *testing.T) {
	stored := &models.Session{
		SerialNumber: "ABC123",
		DeviceType:   models.Thermometer,
		Points:       []models.PointResult{result("37.0", models.Pass), result("34.8", models.Pass)},
	}
	xyz := &models.Session{SerialNumber: "XYZ999", DeviceType: models.Thermometer, Points: stored.Points}

	granted := Target{SerialNumber: "ABC123", DeviceType: models.Thermometer, PointID: "37.0"}
	grant := &Grant{Target: granted}

	if got := Check(stored, granted, grant); got != NoConflict {
		t.Errorf("granted target still conflicts")
	}
	if got := Check(stored, granted, nil); got != RequiresConfirmation {
		t.Errorf("ungranted answered point does not conflict")
	}

	otherPoint := granted
	otherPoint.PointID = "34.8"
	if got := Check(stored, otherPoint, grant); got != RequiresConfirmation {
		t.Errorf("grant for 37.0 suppressed conflict on 34.8")
	}

	otherSerial := granted
	otherSerial.SerialNumber = "XYZ999"
	if got := Check(xyz, otherSerial, grant); got != RequiresConfirmation {
		t.Errorf("grant for ABC123 suppressed conflict on XYZ999")
	}

	sessionTarget := granted
	sessionTarget.PointID = ""
	if got := Check(stored, sessionTarget, grant); got != RequiresConfirmation {
		t.Errorf("point grant covered the whole session")
	}

	unanswered := granted
	unanswered.PointID = "32.3"
	if got := Check(stored, unanswered, nil); got != NoConflict {
		t.Errorf("unanswered point conflicts")
	}
	if got := Check(nil, sessionTarget, nil); got != NoConflict {
		t.Errorf("no stored session but conflict")
	}
}

func TestSynthesizeThermometer(t *testing.T) {
	f := device.ThermometerFamily
	rng := rand.New(rand.NewSource(7))
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	for run := 0; run < 200; run++ {
		got := Synthesize(f, "37.0", rng, at)
		if len(got) != 2 || got[0].PointID != "32.3" || got[1].PointID != "34.8" {
			t.Fatalf("synthesized %+v", got)
		}
		for _, p := range got {
			if p.Verdict != models.Pass {
				t.Fatalf("run %d: synthesized point %s fails with average %v", run, p.PointID, p.Average)
			}
			mean := (p.Raw[0] + p.Raw[1] + p.Raw[2]) / 3
			if want := device.Round(mean+p.Correction, f.AveragePrecision); want != p.Average {
				t.Fatalf("average %v does not reproduce raw mean %v", p.Average, want)
			}
			for _, r := range p.Raw {
				if r != device.Round(r, f.ReadingPrecision) {
					t.Fatalf("reading %v not at display precision", r)
				}
			}
		}
	}
}

func TestSynthesizeAlcotestStaysNonNegative(t *testing.T) {
	f := device.AlcotestFamily
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		got := Synthesize(f, "0.475", rng, time.Time{})
		if len(got) != 5 {
			t.Fatalf("synthesized %d points, want 5", len(got))
		}
		for _, p := range got {
			if p.Verdict != models.Pass {
				t.Fatalf("run %d: point %s fails with average %v", run, p.PointID, p.Average)
			}
			for _, r := range p.Raw {
				if r < 0 || math.IsNaN(r) {
					t.Fatalf("negative reading %v for %s", r, p.PointID)
				}
			}
		}
	}
}

func TestIncompleteSerials(t *testing.T) {
	catalog := device.ThermometerFamily.Points()
	full := models.Session{SerialNumber: "AAA", DeviceType: models.Thermometer}
	for _, def := range catalog {
		Upsert(&full, result(def.ID, models.Pass))
	}
	half := models.Session{SerialNumber: "BBB", DeviceType: models.Thermometer, Points: []models.PointResult{result("32.3", models.Pass)}}
	otherDevice := full
	otherDevice.SerialNumber = "CCC"
	otherDevice.DeviceType = models.Inspector
	otherDevice.SubDeviceType = models.Thermometer

	serials := DedupSerials([]string{"aaa", "BBB", " ", "ccc", "bbb", "DDD"})
	if len(serials) != 4 {
		t.Fatalf("dedup = %v", serials)
	}

	got := Incomplete(serials, []models.Session{full, half, otherDevice}, models.Thermometer, "", catalog)
	want := []string{"BBB", "ccc", "DDD"}
	if len(got) != len(want) {
		t.Fatalf("Incomplete = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Incomplete = %v, want %v", got, want)
		}
	}

	if left := RemoveSerial(got, "bbb"); len(left) != 2 {
		t.Errorf("RemoveSerial = %v", left)
	}
}
