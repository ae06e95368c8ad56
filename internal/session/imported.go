package session

import (
	"strings"

	"datafill/internal/models"
)

// DedupSerials keeps the first spelling of each serial, ignoring case and blanks.
func DedupSerials(serials []string) []string {
	seen := make(map[string]bool, len(serials))
	var out []string
	for _, sn := range serials {
		sn = strings.TrimSpace(sn)
		if sn == "" {
			continue
		}
		k := strings.ToUpper(sn)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, sn)
	}
	return out
}

// Incomplete drops serials whose stored session for the device is already
// complete against catalog.
func Incomplete(serials []string, stored []models.Session, dev, sub models.DeviceType, catalog []models.PointDef) []string {
	var out []string
	for _, sn := range serials {
		key := models.Key{SerialNumber: sn, DeviceType: dev, SubDeviceType: sub}
		done := false
		for i := range stored {
			if stored[i].Key().Matches(key) && IsComplete(&stored[i], catalog) {
				done = true
				break
			}
		}
		if !done {
			out = append(out, sn)
		}
	}
	return out
}

// RemoveSerial drops sn from the list, ignoring case.
func RemoveSerial(serials []string, sn string) []string {
	var out []string
	for _, s := range serials {
		if !strings.EqualFold(s, sn) {
			out = append(out, s)
		}
	}
	return out
}
