package device

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// ParseReading accepts both '.' and ',' as decimal separator, as readings
// come from spreadsheets as well as from the keyboard.
func ParseReading(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, fmt.Errorf("empty reading")
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("reading %q is not a number", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("reading %q is not finite", s)
	}
	return v, nil
}

// ConstrainInput filters what the operator typed into a reading field.
// Excess characters are dropped rather than reported. When the field grew
// and the integer part just reached AutoSeparatorAfter digits, the decimal
// separator is appended for the operator.
func (f Family) ConstrainInput(prev, next string) string {
	next = width.Narrow.String(next)

	var b strings.Builder
	negative := false
	seenSep := false
	for i, r := range next {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == ',':
			if !seenSep {
				seenSep = true
				b.WriteByte('.')
			}
		case r == '-' && f.AllowsSign && i == 0:
			negative = true
		}
	}

	intPart, decPart, hasSep := strings.Cut(b.String(), ".")
	if len(intPart) > f.MaxIntDigits {
		intPart = intPart[:f.MaxIntDigits]
	}
	if len(decPart) > f.MaxDecDigits {
		decPart = decPart[:f.MaxDecDigits]
	}

	out := intPart
	if hasSep {
		out += "." + decPart
	} else if len(next) > len(prev) && f.AutoSeparatorAfter > 0 && len(intPart) == f.AutoSeparatorAfter && f.MaxDecDigits > 0 {
		out += "."
	}
	if negative {
		out = "-" + out
	}
	return out
}

// NormalizeSerial cleans a typed or scanned serial number: full-width
// characters are folded, one leading "T" scanner prefix is dropped, anything
// that is not a latin letter or digit is stripped and the rest upper-cased.
// cyrillic reports letters that almost always mean a wrong keyboard layout.
func NormalizeSerial(raw string) (serial string, cyrillic bool) {
	s := strings.TrimSpace(width.Fold.String(raw))
	for _, r := range s {
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic = true
			break
		}
	}
	if strings.HasPrefix(strings.ToUpper(s), "T") {
		s = s[1:]
	}

	var b strings.Builder
	for _, r := range s {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	return b.String(), cyrillic
}
