package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
)

const (
	SourceStatement = "statement"
	SourceHIS       = "his"
)

// DefaultHISQuery reads visits from a HOSxP-style hospital database. Any
// replacement must take the service date range as $1 and $2 and return the
// columns ref, hn, an, pid, service_date, amount in that order.
const DefaultHISQuery = `SELECT o.vn, o.hn, COALESCE(o.an, ''), COALESCE(p.cid, ''), o.vstdate, COALESCE(v.paid_money, 0)
FROM ovst o
JOIN patient p ON p.hn = o.hn
LEFT JOIN vn_stat v ON v.vn = o.vn
WHERE o.vstdate BETWEEN $1 AND $2`

// StatementReader lists loaded payment statement lines.
type StatementReader interface {
	StatementItems(ctx context.Context, categories []models.Category) ([]models.Counterpart, error)
}

// StatementSource matches claims against imported payment statements.
// Inpatient-like claims are matched against inpatient statements, everything
// else against outpatient statements.
type StatementSource struct {
	reader StatementReader
}

func NewStatementSource(r StatementReader) *StatementSource {
	return &StatementSource{reader: r}
}

func (s *StatementSource) Name() string { return SourceStatement }

func (s *StatementSource) Counterparts(ctx context.Context, claims []models.Claim) ([]models.Counterpart, error) {
	cats := lo.Uniq(lo.Map(claims, func(c models.Claim, _ int) models.Category {
		return StatementCategory(c.Category)
	}))
	return s.reader.StatementItems(ctx, cats)
}

// StatementCategory is the statement category that settles claims of c.
func StatementCategory(c models.Category) models.Category {
	if c.Inpatient() {
		return models.CategoryStatementInpatient
	}
	return models.CategoryStatementOutpatient
}

// HISSource reads counterparts from the hospital information system.
type HISSource struct {
	db    *sql.DB
	query string
}

func NewHISSource(db *sql.DB, query string) *HISSource {
	if query == "" {
		query = DefaultHISQuery
	}
	return &HISSource{db: db, query: query}
}

func (s *HISSource) Name() string { return SourceHIS }

// Counterparts queries the HIS for the service date range the claims span.
// Claims without a service date are not sent; they can still only stay pending.
func (s *HISSource) Counterparts(ctx context.Context, claims []models.Claim) ([]models.Counterpart, error) {
	dated := lo.Filter(claims, func(c models.Claim, _ int) bool { return c.ServiceDate != nil })
	if len(dated) == 0 {
		return nil, nil
	}
	from, to := *dated[0].ServiceDate, *dated[0].ServiceDate
	for _, c := range dated[1:] {
		if c.ServiceDate.Before(from) {
			from = *c.ServiceDate
		}
		if c.ServiceDate.After(to) {
			to = *c.ServiceDate
		}
	}

	rows, err := s.db.QueryContext(ctx, s.query, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query his: %w", err)
	}
	defer rows.Close()

	var out []models.Counterpart
	for rows.Next() {
		var (
			cp     models.Counterpart
			date   sql.NullTime
			amount decimal.NullDecimal
		)
		if err := rows.Scan(&cp.Ref, &cp.HN, &cp.AN, &cp.PID, &date, &amount); err != nil {
			return nil, fmt.Errorf("scan his row: %w", err)
		}
		if date.Valid {
			d := date.Time
			cp.ServiceDate = &d
		}
		cp.Amount = amount.Decimal
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read his rows: %w", err)
	}
	return out, nil
}
