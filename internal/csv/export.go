package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"datafill/internal/models"

	"github.com/jszwec/csvutil"
)

// ExportRows flattens sessions into one row per recorded point.
func ExportRows(sessions []models.Session) []models.ExportRow {
	var rows []models.ExportRow
	for _, s := range sessions {
		for _, p := range s.Points {
			rows = append(rows, models.ExportRow{
				SessionID:     s.ID,
				SerialNumber:  s.SerialNumber,
				DeviceType:    string(s.DeviceType),
				SubDeviceType: string(s.SubDeviceType),
				DeviceName:    s.DeviceName,
				ZipGroupCode:  s.ZipGroupCode,
				InspectorID:   s.InspectorID,
				Timestamp:     s.Timestamp.UTC().Format(time.RFC3339),
				PointID:       p.PointID,
				PointLabel:    p.Label,
				Raw1:          p.Raw[0],
				Raw2:          p.Raw[1],
				Raw3:          p.Raw[2],
				Average:       p.Average,
				LowerLimit:    p.LowerLimit,
				UpperLimit:    p.UpperLimit,
				Verdict:       string(p.Verdict),
			})
		}
	}
	return rows
}

// ExportSessions writes sessions as CSV with a header row and returns the
// number of point rows written.
func ExportSessions(w io.Writer, sessions []models.Session) (int, error) {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)

	rows := ExportRows(sessions)
	if len(rows) == 0 {
		if err := enc.EncodeHeader(models.ExportRow{}); err != nil {
			return 0, fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return 0, fmt.Errorf("failed to encode session %s: %w", row.SessionID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to write CSV: %w", err)
	}
	return len(rows), nil
}
