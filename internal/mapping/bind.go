package mapping

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
	"ClaimSync/internal/transform"
	"ClaimSync/internal/workbook"
)

// ErrKeyTooWide is returned for an identifier that does not fit its column.
var ErrKeyTooWide = errors.New("identifier too wide")

// RowTransformError is a cell that could not be converted. Only the row fails.
type RowTransformError struct {
	Sheet  string
	Row    int
	Header string
	Field  string
	Value  string
	Err    error
}

func (e *RowTransformError) Error() string {
	return fmt.Sprintf("sheet %q row %d column %q (%s): value %q: %v", e.Sheet, e.Row, e.Header, e.Field, e.Value, e.Err)
}

func (e *RowTransformError) Unwrap() error { return e.Err }

// Binding is a SheetSpec resolved against the actual headers of a sheet.
type Binding struct {
	Spec     *SheetSpec
	Sheet    string
	headers  []string
	columns  []*entry
	unmapped []string
}

// Bind matches headers byte-for-byte against the mapping. Headers with no
// mapping entry are reported by Unmapped.
func (s *SheetSpec) Bind(sheet string, headers []string) *Binding {
	b := &Binding{Spec: s, Sheet: sheet, headers: headers, columns: make([]*entry, len(headers))}
	seen := map[string]bool{}
	for j, h := range headers {
		if e, ok := s.byHeader[h]; ok {
			b.columns[j] = e
			continue
		}
		if transform.Clean(h) == "" || seen[h] {
			continue
		}
		seen[h] = true
		b.unmapped = append(b.unmapped, h)
	}
	return b
}

// Unmapped lists distinct non-empty headers that have no mapping.
func (b *Binding) Unmapped() []string {
	return b.unmapped
}

// Map converts one row. It returns a nil record when the row has no
// transaction id after transformation.
func (b *Binding) Map(row workbook.Row) (*models.Record, error) {
	rec := models.NewRecord(b.Spec.Dest.Name)
	rec.SheetKind = b.Spec.Kind
	rec.SourceSheet = b.Sheet
	rec.SourceRow = row.Index + 1

	for j, e := range b.columns {
		if e == nil {
			continue
		}
		raw := row.Value(j)
		value, truncated, err := convert(e, raw)
		if err != nil {
			return nil, &RowTransformError{
				Sheet:  b.Sheet,
				Row:    row.Index + 1,
				Header: b.headers[j],
				Field:  e.field.Name,
				Value:  raw,
				Err:    err,
			}
		}
		if truncated {
			rec.Truncated = append(rec.Truncated, e.field.Name)
		}
		assign(rec, e.field.Name, value)
	}

	id, _ := rec.Values[models.FieldTranID].(string)
	if id == "" {
		return nil, nil
	}
	rec.TranID = id
	return rec, nil
}

// MapRow binds and maps a single row in one call.
func (t *Table) MapRow(c models.Category, kind string, headers []string, row workbook.Row) (*models.Record, []string, error) {
	spec, err := t.Sheet(c, kind)
	if err != nil {
		return nil, nil, err
	}
	b := spec.Bind(kind, headers)
	rec, err := b.Map(row)
	return rec, b.Unmapped(), err
}

func convert(e *entry, raw string) (value any, truncated bool, err error) {
	switch e.transform {
	case models.KindDate:
		t, ok, err := transform.Date(raw)
		if err != nil || !ok {
			return nil, false, err
		}
		return t, false, nil
	case models.KindAmount, models.KindRatio:
		scale := int32(models.AmountScale)
		if e.transform == models.KindRatio {
			scale = models.RatioScale
		}
		d, err := transform.Amount(raw, scale)
		if err != nil || !d.Valid {
			return nil, false, err
		}
		return d.Decimal, false, nil
	case models.KindCount:
		n, err := transform.Count(raw)
		if err != nil {
			return nil, false, err
		}
		return n, false, nil
	default:
		width := e.maxWidth
		if width <= 0 {
			width = e.field.MaxWidth
		}
		s, cut := transform.Text(raw, width)
		if cut && e.field.Key {
			return nil, false, fmt.Errorf("%w: longer than %d characters", ErrKeyTooWide, width)
		}
		return s, cut, nil
	}
}

func assign(rec *models.Record, field string, value any) {
	switch {
	case strings.HasPrefix(field, models.FundPrefix):
		d, ok := value.(decimal.Decimal)
		if !ok {
			return
		}
		if rec.FundAmounts == nil {
			rec.FundAmounts = map[string]decimal.Decimal{}
		}
		rec.FundAmounts[strings.TrimPrefix(field, models.FundPrefix)] = d
	case strings.HasPrefix(field, models.DetailPrefix):
		if rec.Detail == nil {
			rec.Detail = map[string]any{}
		}
		if t, ok := value.(time.Time); ok {
			value = t.Format(time.DateOnly)
		}
		rec.Detail[strings.TrimPrefix(field, models.DetailPrefix)] = value
	default:
		rec.Values[field] = value
	}
}
