package workbook

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"ClaimSync/internal/transform"
)

// CompositeSeparator joins a merged parent header with the label beneath it.
const CompositeSeparator = "|"

// DefaultScanRows is how many leading rows are searched for the header row.
const DefaultScanRows = 10

var ErrSheetNotFound = errors.New("sheet not found")

// StructuralError means the sheet layout could not be understood.
type StructuralError struct {
	Sheet  string
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("workbook: sheet %q: %s", e.Sheet, e.Reason)
}

func (e *StructuralError) Unwrap() error { return e.Err }

// Layout describes where to find a sheet and its header row.
type Layout struct {
	// Names are matched against sheet names, exactly or as a prefix after trimming.
	Names []string
	// Index selects the sheet by position when no name matches. -1 disables it.
	Index int
	// Anchors must all appear in a row for it to be taken as the header row.
	Anchors []string
	// KeyHeaders label the transaction id column. Rows with an empty key are skipped.
	KeyHeaders []string
	// HeaderRow is the zero-based fallback header row used when no row matches the anchors.
	HeaderRow int
	ScanRows  int
}

// Row is one data row. Values align with Sheet.Headers.
type Row struct {
	Index  int
	Values []string
}

func (r Row) Value(col int) string {
	if col < 0 || col >= len(r.Values) {
		return ""
	}
	return r.Values[col]
}

// Sheet is a restartable cursor over the data rows of one worksheet.
type Sheet struct {
	Name          string
	HeaderRow     int
	SubHeaderRow  int
	LowConfidence bool

	headers []string
	keyCol  int
	rows    [][]string
	start   int
	pos     int
	skipped int
}

// Sheet locates the sheet described by l and its header layout.
func (w *Workbook) Sheet(l Layout) (*Sheet, error) {
	raw, ok := w.find(l)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrSheetNotFound, l.Names)
	}
	return newSheet(raw, l)
}

func (w *Workbook) find(l Layout) (rawSheet, bool) {
	for _, want := range l.Names {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, s := range w.sheets {
			if strings.TrimSpace(s.name) == want {
				return s, true
			}
		}
		for _, s := range w.sheets {
			if strings.HasPrefix(strings.TrimSpace(s.name), want) {
				return s, true
			}
		}
	}
	if l.Index >= 0 && l.Index < len(w.sheets) {
		return w.sheets[l.Index], true
	}
	return rawSheet{}, false
}

func newSheet(raw rawSheet, l Layout) (*Sheet, error) {
	s := &Sheet{Name: raw.name, rows: raw.rows, SubHeaderRow: -1, keyCol: -1}

	scan := l.ScanRows
	if scan <= 0 {
		scan = DefaultScanRows
	}
	s.HeaderRow = -1
	for i := 0; i < scan && i < len(raw.rows); i++ {
		if containsAll(raw.rows[i], l.Anchors) {
			s.HeaderRow = i
			break
		}
	}
	if s.HeaderRow < 0 {
		if l.HeaderRow < 0 || l.HeaderRow >= len(raw.rows) {
			return nil, &StructuralError{Sheet: raw.name, Reason: fmt.Sprintf("no header row within first %d rows and fallback row %d is missing", scan, l.HeaderRow)}
		}
		if blank(raw.rows[l.HeaderRow]) || !containsAny(raw.rows[l.HeaderRow], l.KeyHeaders) {
			return nil, &StructuralError{Sheet: raw.name, Reason: fmt.Sprintf("no header row within first %d rows and fallback row %d has no key header", scan, l.HeaderRow)}
		}
		s.HeaderRow = l.HeaderRow
		s.LowConfidence = true
	}

	header := raw.rows[s.HeaderRow]
	s.keyCol = findColumn(header, l.KeyHeaders)
	if s.keyCol < 0 {
		return nil, &StructuralError{Sheet: raw.name, Reason: fmt.Sprintf("key column %v not found in header row %d", l.KeyHeaders, s.HeaderRow)}
	}

	s.start = s.HeaderRow + 1
	if next := s.HeaderRow + 1; next < len(raw.rows) && isSubHeader(header, raw.rows[next], s.keyCol) {
		s.SubHeaderRow = next
		s.headers = flatten(header, raw.rows[next])
		s.start = next + 1
	} else {
		s.headers = append([]string(nil), header...)
	}
	return s, nil
}

// Headers returns the verbatim header labels. Two-row headers are flattened
// to "parent|child".
func (s *Sheet) Headers() []string {
	return s.headers
}

// Next returns the next data row or io.EOF. Blank rows and rows without a
// key value are counted as skipped and never returned.
func (s *Sheet) Next() (Row, error) {
	for s.pos < len(s.rows)-s.start {
		idx := s.start + s.pos
		s.pos++
		cells := s.rows[idx]
		if blank(cells) || s.keyCol >= len(cells) || transform.Clean(cells[s.keyCol]) == "" {
			s.skipped++
			continue
		}
		values := make([]string, len(s.headers))
		copy(values, cells)
		return Row{Index: idx, Values: values}, nil
	}
	return Row{}, io.EOF
}

// Reset rewinds the cursor to the first data row.
func (s *Sheet) Reset() {
	s.pos = 0
	s.skipped = 0
}

// Skipped counts rows dropped so far by Next.
func (s *Sheet) Skipped() int {
	return s.skipped
}

// isSubHeader reports whether row looks like the second line of a two-row
// header: no key value, and at least one label under a blank header cell.
func isSubHeader(header, row []string, keyCol int) bool {
	if blank(row) {
		return false
	}
	if keyCol < len(row) && transform.Clean(row[keyCol]) != "" {
		return false
	}
	for j, cell := range row {
		if transform.Clean(cell) == "" {
			continue
		}
		if j >= len(header) || transform.Clean(header[j]) == "" {
			return true
		}
	}
	return false
}

// flatten builds composite labels. A blank header cell inherits the parent to
// its left, which is how merged cells read back.
func flatten(header, sub []string) []string {
	width := len(header)
	if len(sub) > width {
		width = len(sub)
	}
	out := make([]string, width)
	parent := ""
	for j := 0; j < width; j++ {
		h, c := cellAt(header, j), cellAt(sub, j)
		hasChild := transform.Clean(c) != ""
		if transform.Clean(h) != "" {
			parent = h
			if hasChild {
				out[j] = h + CompositeSeparator + c
			} else {
				out[j] = h
			}
			continue
		}
		if hasChild && parent != "" {
			out[j] = parent + CompositeSeparator + c
		} else if hasChild {
			out[j] = c
		}
	}
	return out
}

func cellAt(row []string, j int) string {
	if j < len(row) {
		return row[j]
	}
	return ""
}

func blank(row []string) bool {
	for _, c := range row {
		if transform.Clean(c) != "" {
			return false
		}
	}
	return true
}

func containsAll(row, labels []string) bool {
	if len(labels) == 0 {
		return false
	}
	for _, l := range labels {
		if findColumn(row, []string{l}) < 0 {
			return false
		}
	}
	return true
}

func containsAny(row, labels []string) bool {
	return findColumn(row, labels) >= 0
}

func findColumn(row, labels []string) int {
	for _, l := range labels {
		want := transform.Clean(l)
		for j, cell := range row {
			if transform.Clean(cell) == want {
				return j
			}
		}
	}
	return -1
}
