// Package session holds the pure parts of a verification session: point
// accumulation, overwrite conflicts and fast-track synthesis.
package session

import (
	"datafill/internal/models"
)

// Upsert replaces the result with the same point id or appends it.
func Upsert(s *models.Session, res models.PointResult) {
	for i := range s.Points {
		if s.Points[i].PointID == res.PointID {
			s.Points[i] = res
			return
		}
	}
	s.Points = append(s.Points, res)
}

// IsComplete reports whether every catalog point has a result.
func IsComplete(s *models.Session, catalog []models.PointDef) bool {
	if s == nil {
		return len(catalog) == 0
	}
	for _, def := range catalog {
		if _, ok := s.Result(def.ID); !ok {
			return false
		}
	}
	return true
}

// Overall folds point verdicts into a session verdict. Any Fail fails the
// session; Pass needs every catalog point present and passing; anything else
// is Partial.
func Overall(s *models.Session, catalog []models.PointDef) models.Verdict {
	if s == nil || len(s.Points) == 0 {
		return models.Partial
	}
	allPass := true
	for _, p := range s.Points {
		switch p.Verdict {
		case models.Fail:
			return models.Fail
		case models.Pass:
		default:
			allPass = false
		}
	}
	if allPass && IsComplete(s, catalog) {
		return models.Pass
	}
	return models.Partial
}

// OrderByCatalog sorts results into catalog order; unknown points go last.
func OrderByCatalog(points []models.PointResult, catalog []models.PointDef) []models.PointResult {
	out := make([]models.PointResult, 0, len(points))
	used := make([]bool, len(points))
	for _, def := range catalog {
		for i, p := range points {
			if !used[i] && p.PointID == def.ID {
				out = append(out, p)
				used[i] = true
				break
			}
		}
	}
	for i, p := range points {
		if !used[i] {
			out = append(out, p)
		}
	}
	return out
}
