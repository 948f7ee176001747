package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
)

var claimTables = []models.Table{models.TableClaims, models.TableReferralClaims}

const claimSelect = `SELECT c.id, c.tran_id, COALESCE(c.hn, ''), COALESCE(c.an, ''), COALESCE(c.pid, ''),
	COALESCE(c.service_date, c.admit_date), COALESCE(c.compensated_amount, c.claim_amount, 0),
	c.reconcile_status, c.row_version, j.category
FROM %s c JOIN import_jobs j ON j.id = c.import_job_id`

const candidateWhere = `c.reconcile_status = ANY($1) AND (cardinality($2::text[]) = 0 OR j.category = ANY($2))`

func filterArgs(f reconcile.Filter) (statuses, categories []string) {
	statuses = []string{string(models.ReconcilePending), string(models.ReconcileMismatched)}
	if f.Recheck {
		statuses = append(statuses, string(models.ReconcileMatched))
	}
	categories = make([]string, 0, len(f.Categories))
	for _, c := range f.Categories {
		categories = append(categories, string(c))
	}
	return statuses, categories
}

// Candidates lists claims that still need a verdict, oldest first.
func (s *Store) Candidates(ctx context.Context, f reconcile.Filter) ([]models.Claim, error) {
	statuses, categories := filterArgs(f)

	var out []models.Claim
	for _, table := range claimTables {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(claimSelect, table)+`
			WHERE `+candidateWhere+`
			ORDER BY c.id`, statuses, categories)
		if err != nil {
			return nil, fmt.Errorf("query %s candidates: %w", table, err)
		}
		claims, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Claim, error) {
			return scanClaim(row, table)
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s candidates: %w", table, err)
		}
		out = append(out, claims...)
	}
	return out, nil
}

// SettledRefs lists the counterpart refs held by claims outside f, so a run
// never pairs a counterpart that another claim already holds.
func (s *Store) SettledRefs(ctx context.Context, f reconcile.Filter) ([]string, error) {
	statuses, categories := filterArgs(f)

	var out []string
	for _, table := range claimTables {
		rows, err := s.pool.Query(ctx, fmt.Sprintf(`
			SELECT DISTINCT c.external_ref FROM %s c JOIN import_jobs j ON j.id = c.import_job_id
			WHERE c.external_ref IS NOT NULL AND NOT (`+candidateWhere+`)`, table), statuses, categories)
		if err != nil {
			return nil, fmt.Errorf("query %s settled refs: %w", table, err)
		}
		refs, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return nil, fmt.Errorf("scan %s settled refs: %w", table, err)
		}
		out = append(out, refs...)
	}
	return out, nil
}

func (s *Store) Claim(ctx context.Context, table models.Table, id int64) (models.Claim, error) {
	if err := checkClaimTable(table); err != nil {
		return models.Claim{}, err
	}
	row := s.pool.QueryRow(ctx, fmt.Sprintf(claimSelect, table)+` WHERE c.id = $1`, id)
	c, err := scanClaim(row, table)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Claim{}, models.ErrClaimNotFound
	}
	if err != nil {
		return models.Claim{}, fmt.Errorf("get claim %s/%d: %w", table, id, err)
	}
	return c, nil
}

// ApplyVerdict writes v if the claim is still at version and not manual.
func (s *Store) ApplyVerdict(ctx context.Context, v models.Verdict, version int64) (bool, error) {
	if err := checkClaimTable(v.Table); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			reconcile_status = $1::text,
			matched = ($1::text = 'matched'),
			matched_at = CASE WHEN $1::text = 'matched' THEN now() END,
			external_ref = NULLIF($2, ''),
			amount_delta = $3,
			reconcile_note = NULLIF($4, ''),
			row_version = row_version + 1,
			updated_at = now()
		WHERE id = $5 AND row_version = $6 AND reconcile_status <> 'manual'`, v.Table),
		string(v.Status), v.Ref, v.Delta, v.Note, v.ClaimID, version,
	)
	if err != nil {
		return false, fmt.Errorf("apply verdict to %s/%d: %w", v.Table, v.ClaimID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetManual records a manual reconciliation. The matcher never touches the
// claim afterwards.
func (s *Store) SetManual(ctx context.Context, table models.Table, id int64, note string) error {
	if err := checkClaimTable(table); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET reconcile_status = 'manual', reconcile_note = $2,
			row_version = row_version + 1, updated_at = now()
		WHERE id = $1`, table), id, note)
	if err != nil {
		return fmt.Errorf("set %s/%d manual: %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrClaimNotFound
	}
	return nil
}

// StatementItems lists statement lines imported under the given categories.
func (s *Store) StatementItems(ctx context.Context, categories []models.Category) ([]models.Counterpart, error) {
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(s.statement_no, '') || '/' || s.tran_id, COALESCE(s.hn, ''), COALESCE(s.an, ''),
			COALESCE(s.pid, ''), s.service_date, COALESCE(s.paid_amount, 0)
		FROM statement_items s JOIN import_jobs j ON j.id = s.import_job_id
		WHERE j.category = ANY($1)
		ORDER BY s.id`, cats)
	if err != nil {
		return nil, fmt.Errorf("query statement items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Counterpart, error) {
		var (
			cp      models.Counterpart
			service *time.Time
			amount  decimal.Decimal
		)
		if err := row.Scan(&cp.Ref, &cp.HN, &cp.AN, &cp.PID, &service, &amount); err != nil {
			return cp, err
		}
		cp.ServiceDate, cp.Amount = service, amount
		return cp, nil
	})
}

func scanClaim(row pgx.Row, table models.Table) (models.Claim, error) {
	var (
		c                models.Claim
		status, category string
	)
	err := row.Scan(&c.ID, &c.TranID, &c.HN, &c.AN, &c.PID, &c.ServiceDate, &c.Amount, &status, &c.RowVersion, &category)
	if err != nil {
		return c, err
	}
	c.Table = table
	c.Status = models.ReconcileStatus(status)
	c.Category = models.Category(category)
	return c, nil
}

func checkClaimTable(table models.Table) error {
	for _, t := range claimTables {
		if t == table {
			return nil
		}
	}
	return fmt.Errorf("%s is not a claim table", table)
}
