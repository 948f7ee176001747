// Package reconcile matches loaded claims against payment statements or the
// hospital system and writes the verdict back onto each claim row.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/models"
)

var errLostUpdate = errors.New("claim changed since it was read")

// Filter selects candidate claims. Without Recheck only pending and
// mismatched claims are candidates; with it every non-manual claim is.
type Filter struct {
	Categories []models.Category
	Recheck    bool
}

// Store is the claim side of reconciliation. ApplyVerdict writes v only when
// the row still has the given version and is not manual; it reports whether
// a row was updated. SettledRefs lists the counterpart refs held by claims
// that f does not select.
type Store interface {
	Candidates(ctx context.Context, f Filter) ([]models.Claim, error)
	SettledRefs(ctx context.Context, f Filter) ([]string, error)
	Claim(ctx context.Context, table models.Table, id int64) (models.Claim, error)
	ApplyVerdict(ctx context.Context, v models.Verdict, version int64) (bool, error)
}

// Source supplies the counterparts for a set of claims.
type Source interface {
	Name() string
	Counterparts(ctx context.Context, claims []models.Claim) ([]models.Counterpart, error)
}

type Auditor interface {
	LogAudit(msg string)
}

type Options struct {
	Categories []models.Category
	Threshold  decimal.Decimal
	Recheck    bool
	// Report, when set, is the path of a parquet file receiving every verdict.
	Report string
}

type Summary struct {
	Source     string
	Candidates int
	Matched    int
	Mismatched int
	// Pending counts claims left without a counterpart, including those that
	// were already pending and needed no write. Unchanged counts the latter.
	Pending int
	// Manual counts claims that turned manual while the run was in progress.
	Manual    int
	Unchanged int
	Retries   int
	Verdicts  []models.Verdict
}

type Matcher struct {
	store      Store
	source     Source
	audit      Auditor
	log        logger.Logger
	retries    int
	retryDelay time.Duration
}

func NewMatcher(store Store, source Source, audit Auditor, log logger.Logger, retries int, retryDelay time.Duration) *Matcher {
	if retries <= 0 {
		retries = 5
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	return &Matcher{store: store, source: source, audit: audit, log: log, retries: retries, retryDelay: retryDelay}
}

// Run reconciles every candidate claim once.
func (m *Matcher) Run(ctx context.Context, opts Options) (Summary, error) {
	sum := Summary{Source: m.source.Name()}
	if opts.Threshold.IsNegative() {
		return sum, fmt.Errorf("threshold must not be negative: %s", opts.Threshold)
	}

	filter := Filter{Categories: opts.Categories, Recheck: opts.Recheck}
	claims, err := m.store.Candidates(ctx, filter)
	if err != nil {
		return sum, fmt.Errorf("load candidates: %w", err)
	}
	sum.Candidates = len(claims)
	if len(claims) == 0 {
		m.log.Infof("reconcile (%s): no candidate claims", sum.Source)
		return sum, nil
	}

	counterparts, err := m.source.Counterparts(ctx, claims)
	if err != nil {
		return sum, fmt.Errorf("load %s counterparts: %w", sum.Source, err)
	}
	settled, err := m.store.SettledRefs(ctx, filter)
	if err != nil {
		return sum, fmt.Errorf("load settled refs: %w", err)
	}
	taken := lo.SliceToMap(settled, func(ref string) (string, bool) { return ref, true })
	free := lo.Reject(counterparts, func(cp models.Counterpart, _ int) bool { return taken[cp.Ref] })
	m.log.Infof("reconcile (%s): %d candidates, %d counterparts, %d already settled",
		sum.Source, len(claims), len(free), len(counterparts)-len(free))
	counterparts = free

	for _, p := range Pairs(claims, counterparts) {
		v, retries, err := m.apply(ctx, p, opts.Threshold)
		sum.Retries += retries
		if err != nil {
			return sum, fmt.Errorf("claim %s/%d: %w", p.Claim.Table, p.Claim.ID, err)
		}
		switch {
		case v == nil:
			sum.Pending++
			sum.Unchanged++
			continue
		case v.Status == models.ReconcileManual:
			sum.Manual++
			continue
		case v.Status == models.ReconcileMatched:
			sum.Matched++
		case v.Status == models.ReconcileMismatched:
			sum.Mismatched++
		default:
			sum.Pending++
		}
		sum.Verdicts = append(sum.Verdicts, *v)
	}

	if opts.Report != "" {
		if err := WriteReport(opts.Report, sum.Verdicts); err != nil {
			return sum, err
		}
	}

	msg := fmt.Sprintf("reconcile %s: candidates=%d matched=%d mismatched=%d pending=%d manual=%d retries=%d",
		sum.Source, sum.Candidates, sum.Matched, sum.Mismatched, sum.Pending, sum.Manual, sum.Retries)
	m.log.Info(msg)
	m.audit.LogAudit(msg)
	return sum, nil
}

// apply writes the verdict for p with optimistic concurrency. On a lost
// update the claim is re-read and judged again against the same
// counterpart. A nil verdict means nothing needed writing.
func (m *Matcher) apply(ctx context.Context, p Pair, threshold decimal.Decimal) (*models.Verdict, int, error) {
	var (
		claim   = p.Claim
		result  *models.Verdict
		retries = -1
	)
	op := func() error {
		retries++
		v := Judge(Pair{Claim: claim, Counterpart: p.Counterpart, Tier: p.Tier}, threshold)
		if v.Status == models.ReconcilePending && claim.Status == models.ReconcilePending {
			result = nil
			return nil
		}
		ok, err := m.store.ApplyVerdict(ctx, v, claim.RowVersion)
		if err != nil {
			return backoff.Permanent(err)
		}
		if ok {
			result = &v
			return nil
		}

		fresh, err := m.store.Claim(ctx, claim.Table, claim.ID)
		if err != nil {
			return backoff.Permanent(err)
		}
		if fresh.Status == models.ReconcileManual {
			result = &models.Verdict{ClaimID: fresh.ID, Table: fresh.Table, TranID: fresh.TranID, Status: models.ReconcileManual}
			return nil
		}
		m.log.Debugf("claim %s/%d: version %d is stale (now %d), retrying", claim.Table, claim.ID, claim.RowVersion, fresh.RowVersion)
		claim = fresh
		return errLostUpdate
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), uint64(m.retries)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, max(retries, 0), err
	}
	return result, retries, nil
}
