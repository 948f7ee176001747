// Package memstore is an in-memory store for tests. It follows the same
// upsert, versioning and manual-override rules as the Postgres store.
package memstore

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
)

// Row is a stored record plus its reconciliation state.
type Row struct {
	ID         int64
	JobID      uuid.UUID
	Category   models.Category
	Record     *models.Record
	Status     models.ReconcileStatus
	Ref        string
	Delta      decimal.NullDecimal
	Note       string
	RowVersion int64
}

type rowKey struct {
	table models.Table
	job   uuid.UUID
	id    string
	kind  string
	row   int
}

type Store struct {
	mu     sync.Mutex
	jobs   map[string]*models.ImportJob
	rows   map[rowKey]*Row
	nextID int64

	// FailRow, when set, is consulted for every record; a non-nil error
	// fails that row only.
	FailRow func(*models.Record) error
	// FailBatch, when set, fails every WriteBatch call.
	FailBatch error
	// BeforeApply runs before each verdict write, outside the lock.
	BeforeApply func(v models.Verdict)

	Writes int
}

func New() *Store {
	return &Store{jobs: map[string]*models.ImportJob{}, rows: map[rowKey]*Row{}}
}

func (s *Store) RegisterJob(_ context.Context, job *models.ImportJob) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobs[job.Filename]; ok {
		return clone(existing), nil
	}
	j := clone(job)
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	s.jobs[j.Filename] = j
	return clone(j), nil
}

func (s *Store) GetJob(_ context.Context, filename string) (*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[filename]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	return clone(j), nil
}

func (s *Store) SaveJob(_ context.Context, job *models.ImportJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Filename]; !ok {
		return models.ErrJobNotFound
	}
	s.jobs[job.Filename] = clone(job)
	return nil
}

func (s *Store) ListJobs(_ context.Context, limit int) ([]*models.ImportJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ImportJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, clone(j))
	}
	slices.SortFunc(out, func(a, b *models.ImportJob) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) WriteBatch(_ context.Context, jobID uuid.UUID, recs []*models.Record) ([]error, error) {
	if s.FailBatch != nil {
		return nil, s.FailBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	category := models.Category("")
	for _, j := range s.jobs {
		if j.ID == jobID {
			category = j.Category
		}
	}

	errs := make([]error, len(recs))
	for i, rec := range recs {
		if s.FailRow != nil {
			if err := s.FailRow(rec); err != nil {
				errs[i] = err
				continue
			}
		}
		k := rowKey{table: rec.Table, job: jobID, id: rec.TranID}
		if rec.Table == models.TableClaimDetails {
			k = rowKey{table: rec.Table, job: jobID, kind: rec.SheetKind, row: rec.SourceRow}
		}
		if existing, ok := s.rows[k]; ok {
			existing.Record = keepIdentity(existing.Record, rec)
			existing.RowVersion++
			continue
		}
		s.nextID++
		s.rows[k] = &Row{ID: s.nextID, JobID: jobID, Category: category, Record: rec, Status: models.ReconcilePending, RowVersion: 1}
	}
	s.Writes++
	return errs, nil
}

// keepIdentity returns next with the identity columns and source position
// of prev. The Postgres upsert leaves those out of its update set.
func keepIdentity(prev, next *models.Record) *models.Record {
	spec, err := models.LookupTable(next.Table)
	if err != nil {
		return next
	}
	merged := *next
	merged.SourceSheet, merged.SourceRow = prev.SourceSheet, prev.SourceRow
	merged.Values = maps.Clone(next.Values)
	for _, f := range spec.Columns() {
		if f.Identity {
			merged.Values[f.Name] = prev.Values[f.Name]
		}
	}
	return &merged
}

// Rows returns copies of the stored rows of table ordered by id.
func (s *Store) Rows(table models.Table) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Row
	for k, r := range s.rows {
		if k.table == table {
			out = append(out, *r)
		}
	}
	slices.SortFunc(out, func(a, b Row) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) Candidates(_ context.Context, f reconcile.Filter) ([]models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Claim
	for k, r := range s.rows {
		if isClaim(k) && candidate(r, f) {
			out = append(out, claimOf(r))
		}
	}
	slices.SortFunc(out, func(a, b models.Claim) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *Store) SettledRefs(_ context.Context, f reconcile.Filter) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for k, r := range s.rows {
		if isClaim(k) && r.Ref != "" && !candidate(r, f) {
			out = append(out, r.Ref)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

func isClaim(k rowKey) bool {
	return k.table == models.TableClaims || k.table == models.TableReferralClaims
}

func candidate(r *Row, f reconcile.Filter) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category) {
		return false
	}
	switch r.Status {
	case models.ReconcileManual:
		return false
	case models.ReconcileMatched:
		return f.Recheck
	}
	return true
}

func (s *Store) Claim(_ context.Context, table models.Table, id int64) (models.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(table, id)
	if r == nil {
		return models.Claim{}, models.ErrClaimNotFound
	}
	return claimOf(r), nil
}

func (s *Store) ApplyVerdict(_ context.Context, v models.Verdict, version int64) (bool, error) {
	if s.BeforeApply != nil {
		s.BeforeApply(v)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.find(v.Table, v.ClaimID)
	if r == nil {
		return false, models.ErrClaimNotFound
	}
	if r.RowVersion != version || r.Status == models.ReconcileManual {
		return false, nil
	}
	r.Status, r.Ref, r.Delta, r.Note = v.Status, v.Ref, v.Delta, v.Note
	r.RowVersion++
	return true, nil
}

// SetManual marks a claim as manually reconciled.
func (s *Store) SetManual(table models.Table, id int64, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(table, id); r != nil {
		r.Status, r.Note = models.ReconcileManual, note
		r.RowVersion++
	}
}

// Touch bumps a row's version the way a concurrent re-import would, with a
// new compensated amount.
func (s *Store) Touch(table models.Table, id int64, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r := s.find(table, id); r != nil {
		r.Record.Values["compensated_amount"] = amount
		r.RowVersion++
	}
}

func (s *Store) StatementItems(_ context.Context, categories []models.Category) ([]models.Counterpart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Counterpart
	for k, r := range s.rows {
		if k.table != models.TableStatementItems || !slices.Contains(categories, r.Category) {
			continue
		}
		v := r.Record.Values
		cp := models.Counterpart{
			Ref:         str(v["statement_no"]) + "/" + r.Record.TranID,
			HN:          str(v["hn"]),
			AN:          str(v["an"]),
			PID:         str(v["pid"]),
			ServiceDate: date(v["service_date"]),
		}
		if d, ok := v["paid_amount"].(decimal.Decimal); ok {
			cp.Amount = d
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) find(table models.Table, id int64) *Row {
	for k, r := range s.rows {
		if k.table == table && r.ID == id {
			return r
		}
	}
	return nil
}

func claimOf(r *Row) models.Claim {
	v := r.Record.Values
	c := models.Claim{
		ID:         r.ID,
		Table:      r.Record.Table,
		Category:   r.Category,
		TranID:     r.Record.TranID,
		HN:         str(v["hn"]),
		AN:         str(v["an"]),
		PID:        str(v["pid"]),
		Status:     r.Status,
		RowVersion: r.RowVersion,
	}
	c.ServiceDate = date(v["service_date"])
	if c.ServiceDate == nil {
		c.ServiceDate = date(v["admit_date"])
	}
	if d, ok := v["compensated_amount"].(decimal.Decimal); ok {
		c.Amount = d
	} else if d, ok := v["claim_amount"].(decimal.Decimal); ok {
		c.Amount = d
	}
	return c
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func date(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	return &t
}

func clone(j *models.ImportJob) *models.ImportJob {
	c := *j
	c.UnmappedHeaders = slices.Clone(j.UnmappedHeaders)
	c.Warnings = slices.Clone(j.Warnings)
	return &c
}
