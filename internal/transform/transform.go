// Package transform converts raw spreadsheet cell text into typed values.
// Every function is pure.
package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// BuddhistOffset is the difference between Buddhist Era and Gregorian years.
const BuddhistOffset = 543

const (
	minGregorianYear = 1900
	maxGregorianYear = 2200
	nbsp             = "\u00a0"
)

var (
	ErrInvalidDate   = errors.New("invalid date")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidCount  = errors.New("invalid count")
)

var (
	compactDateRe = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)
	yearFirstRe   = regexp.MustCompile(`^(\d{4})[-/](\d{1,2})[-/](\d{1,2})$`)
	dayFirstRe    = regexp.MustCompile(`^(\d{1,2})[-/](\d{1,2})[-/](\d{4})$`)
	timeLayouts   = []string{"15:04:05", "15:04", "15.04.05", "15.04"}
)

var dateNullTokens = map[string]struct{}{
	"": {}, "-": {}, "--": {}, "N/A": {}, "n/a": {}, "0": {}, "00000000": {},
}

var numberNullTokens = map[string]struct{}{
	"": {}, "-": {}, "--": {}, "N/A": {}, "n/a": {},
}

// Clean trims the cell and collapses non-breaking spaces and runs of whitespace.
func Clean(s string) string {
	s = strings.ReplaceAll(s, nbsp, " ")
	return strings.Join(strings.Fields(s), " ")
}

// IsDatePlaceholder reports whether s stands for "no date".
func IsDatePlaceholder(s string) bool {
	_, ok := dateNullTokens[Clean(s)]
	return ok
}

// Date parses a Buddhist-calendar date. Accepted shapes are YYYYMMDD,
// YYYY-MM-DD, YYYY/MM/DD, DD/MM/YYYY and DD-MM-YYYY, each optionally followed
// by a time of day. ok is false when the cell is a placeholder.
func Date(s string) (t time.Time, ok bool, err error) {
	s = Clean(s)
	if _, null := dateNullTokens[s]; null {
		return time.Time{}, false, nil
	}

	datePart, timePart := s, ""
	if i := strings.IndexAny(s, " T"); i > 0 {
		datePart, timePart = s[:i], strings.TrimSpace(s[i+1:])
	}

	var y, m, d int
	switch {
	case compactDateRe.MatchString(datePart):
		p := compactDateRe.FindStringSubmatch(datePart)
		y, m, d = atoi(p[1]), atoi(p[2]), atoi(p[3])
	case yearFirstRe.MatchString(datePart):
		p := yearFirstRe.FindStringSubmatch(datePart)
		y, m, d = atoi(p[1]), atoi(p[2]), atoi(p[3])
	case dayFirstRe.MatchString(datePart):
		p := dayFirstRe.FindStringSubmatch(datePart)
		d, m, y = atoi(p[1]), atoi(p[2]), atoi(p[3])
	default:
		return time.Time{}, false, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}

	t, err = BuddhistDate(y, m, d)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %q", err, s)
	}

	if timePart != "" {
		clock, err := parseClock(timePart)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("%w: bad time in %q", ErrInvalidDate, s)
		}
		t = t.Add(clock)
	}
	return t, true, nil
}

// BuddhistDate builds the Gregorian date for a Buddhist year, month and day.
// The date must exist in the calendar.
func BuddhistDate(beYear, month, day int) (time.Time, error) {
	year := beYear - BuddhistOffset
	if year < minGregorianYear || year > maxGregorianYear {
		return time.Time{}, fmt.Errorf("%w: year %d out of range", ErrInvalidDate, beYear)
	}
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d", ErrInvalidDate, beYear, month, day)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d does not exist", ErrInvalidDate, beYear, month, day)
	}
	return t, nil
}

// FormatBuddhist renders t as a compact Buddhist date, YYYYMMDD.
func FormatBuddhist(t time.Time) string {
	return fmt.Sprintf("%04d%02d%02d", t.Year()+BuddhistOffset, int(t.Month()), t.Day())
}

func parseClock(s string) (time.Duration, error) {
	for _, layout := range timeLayouts {
		if c, err := time.Parse(layout, s); err == nil {
			return time.Duration(c.Hour())*time.Hour +
				time.Duration(c.Minute())*time.Minute +
				time.Duration(c.Second())*time.Second, nil
		}
	}
	return 0, ErrInvalidDate
}

// Amount parses a monetary or ratio cell into a fixed-point decimal rounded to
// scale places. Thousands separators, currency markers and spaces are
// stripped; a value in parentheses is negative. Valid is false for placeholders.
func Amount(s string, scale int32) (decimal.NullDecimal, error) {
	s = Clean(s)
	if _, null := numberNullTokens[s]; null {
		return decimal.NullDecimal{}, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer(",", "", " ", "", "฿", "", "บาท", "").Replace(s)
	if s == "" {
		return decimal.NullDecimal{}, fmt.Errorf("%w: empty after cleanup", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NullDecimal{Decimal: d.Round(scale), Valid: true}, nil
}

// Count parses an integer count. Placeholders count as zero.
func Count(s string) (int64, error) {
	s = Clean(s)
	if _, null := numberNullTokens[s]; null {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCount, s)
	}
	return d.IntPart(), nil
}

// Text trims the cell and cuts it to maxWidth characters. truncated reports
// whether anything was cut. maxWidth <= 0 means unbounded.
func Text(s string, maxWidth int) (out string, truncated bool) {
	out = sanitize(strings.TrimSpace(strings.ReplaceAll(s, nbsp, " ")))
	if maxWidth <= 0 || utf8.RuneCountInString(out) <= maxWidth {
		return out, false
	}
	runes := []rune(out)
	return strings.TrimRightFunc(string(runes[:maxWidth]), isSpace), true
}

// sanitize drops NUL bytes that Postgres rejects in text columns.
func sanitize(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

func isSpace(r rune) bool { return r == ' ' || r == '\t' || r == '\n' || r == '\r' }

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
