package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/loader"
	"ClaimSync/internal/models"
)

var upserts sync.Map // models.Table -> string

// WriteBatch upserts recs in one transaction with a savepoint per row, so a
// rejected row is rolled back alone. Failing to begin or commit the
// transaction fails the batch.
func (s *Store) WriteBatch(ctx context.Context, jobID uuid.UUID, recs []*models.Record) ([]error, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback(ctx)

	errs := make([]error, len(recs))
	for i, rec := range recs {
		query, args, err := upsertArgs(jobID, rec)
		if err != nil {
			errs[i] = err
			continue
		}
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
		if _, err := sp.Exec(ctx, query, args...); err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
			}
			errs[i] = rowError(err)
			continue
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, fmt.Errorf("release savepoint: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	return errs, nil
}

// upsertSQL builds the statement for a destination table. Identity columns
// and reconciliation columns are never part of the update set.
func upsertSQL(spec *models.TableSpec) string {
	if q, ok := upserts.Load(spec.Name); ok {
		return q.(string)
	}

	cols := []string{"import_job_id"}
	var set []string
	for _, f := range spec.Columns() {
		cols = append(cols, f.Name)
		if !f.Identity {
			set = append(set, fmt.Sprintf("%s = EXCLUDED.%s", f.Name, f.Name))
		}
	}
	conflict := "(tran_id, import_job_id)"
	if spec.FundAmounts {
		cols = append(cols, "fund_amounts")
		set = append(set, "fund_amounts = EXCLUDED.fund_amounts")
	}
	if spec.DetailPayload {
		cols = append(cols, "sheet_kind", "payload")
		set = append(set, "payload = EXCLUDED.payload")
		conflict = "(import_job_id, sheet_kind, source_row)"
	}
	cols = append(cols, "truncated_fields", "source_sheet", "source_row")
	set = append(set, "truncated_fields = EXCLUDED.truncated_fields", "row_version = t.row_version + 1", "updated_at = now()")

	params := make([]string, len(cols))
	for i := range cols {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("INSERT INTO %s AS t (%s) VALUES (%s) ON CONFLICT %s DO UPDATE SET %s",
		spec.Name, strings.Join(cols, ", "), strings.Join(params, ", "), conflict, strings.Join(set, ", "))
	upserts.Store(spec.Name, q)
	return q
}

func upsertArgs(jobID uuid.UUID, rec *models.Record) (string, []any, error) {
	spec, err := models.LookupTable(rec.Table)
	if err != nil {
		return "", nil, err
	}
	args := []any{jobID}
	for _, f := range spec.Columns() {
		args = append(args, rec.Values[f.Name])
	}
	if spec.FundAmounts {
		funds := make(map[string]json.Number, len(rec.FundAmounts))
		for code, d := range rec.FundAmounts {
			funds[code] = json.Number(d.StringFixed(models.AmountScale))
		}
		b, err := json.Marshal(funds)
		if err != nil {
			return "", nil, fmt.Errorf("encode fund amounts: %w", err)
		}
		args = append(args, string(b))
	}
	if spec.DetailPayload {
		payload := make(map[string]any, len(rec.Detail))
		for k, v := range rec.Detail {
			if d, ok := v.(decimal.Decimal); ok {
				v = json.Number(d.String())
			}
			payload[k] = v
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return "", nil, fmt.Errorf("encode detail payload: %w", err)
		}
		args = append(args, rec.SheetKind, string(b))
	}
	args = append(args, nonNil(rec.Truncated), rec.SourceSheet, rec.SourceRow)
	return upsertSQL(spec), args, nil
}

// rowError turns a data or integrity rejection (SQLSTATE classes 22 and 23)
// into a ConstraintViolation. Anything else stays a database error.
func rowError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code[:2] {
	case "22", "23":
		return &loader.ConstraintViolation{
			Code:       pgErr.Code,
			Constraint: pgErr.ConstraintName,
			Message:    pgErr.Message,
			Err:        err,
		}
	}
	return err
}
