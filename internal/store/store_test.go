package store_test

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"ClaimSync/internal/config"
	"ClaimSync/internal/loader"
	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
	"ClaimSync/internal/store"
)

const testPort = 15433

var testStore *store.Store

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	flag.Parse()
	if testing.Short() {
		return m.Run()
	}

	pg := embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
		Username("test").
		Password("test").
		Database("claimsync").
		Port(testPort).
		StartTimeout(60 * time.Second))
	if err := pg.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start embedded postgres: %v\n", err)
		return 1
	}
	defer func() { _ = pg.Stop() }()

	conf := config.Database{Host: "localhost", Port: testPort, User: "test", Password: "test", Name: "claimsync", SSLMode: "disable", MaxConns: 4}
	if err := store.Migrate(conf.DSN(), logger.NOP); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate: %v\n", err)
		return 1
	}
	s, err := store.Open(context.Background(), conf, logger.NOP)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open store: %v\n", err)
		return 1
	}
	defer s.Close()
	testStore = s
	return m.Run()
}

func requireDB(t *testing.T) *store.Store {
	t.Helper()
	if testStore == nil {
		t.Skip("integration test, skipped with -short")
	}
	return testStore
}

func newJob(t *testing.T, s *store.Store, c models.Category) *models.ImportJob {
	t.Helper()
	now := time.Now().UTC()
	job, err := s.RegisterJob(context.Background(), &models.ImportJob{
		Filename:     fmt.Sprintf("eclaim_10670_OP_25680122_%d.xls", now.UnixNano()),
		Category:     c,
		FacilityCode: "10670",
		ReportDate:   time.Date(2025, 1, 22, 0, 0, 0, 0, time.UTC),
		SequenceID:   "1",
		CreatedAt:    now,
	})
	require.NoError(t, err)
	return job
}

func claimRecord(tranID, hn string, amount string) *models.Record {
	rec := models.NewRecord(models.TableClaims)
	rec.SheetKind = "main"
	rec.SourceSheet = "REP"
	rec.SourceRow = 7
	rec.TranID = tranID
	rec.Values["tran_id"] = tranID
	rec.Values["hn"] = hn
	rec.Values["service_date"] = time.Date(2025, 1, 21, 0, 0, 0, 0, time.UTC)
	rec.Values["compensated_amount"] = decimal.RequireFromString(amount)
	rec.FundAmounts = map[string]decimal.Decimal{"hc": decimal.RequireFromString("10.5")}
	return rec
}

func TestJobs(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()

	job := newJob(t, s, models.CategoryOutpatient)
	require.NotEqual(t, uuid.Nil, job.ID)
	require.Equal(t, models.JobPending, job.Status)

	again, err := s.RegisterJob(ctx, &models.ImportJob{Filename: job.Filename, Category: models.CategoryInpatient, ReportDate: job.ReportDate})
	require.NoError(t, err)
	require.Equal(t, job.ID, again.ID)
	require.Equal(t, models.CategoryOutpatient, again.Category)

	job.Status = models.JobPartial
	job.Warnings = []string{"header found by fallback"}
	job.UnmappedHeaders = []string{"Remark"}
	job.Attempts = 1
	require.NoError(t, s.SaveJob(ctx, job))

	got, err := s.GetJob(ctx, job.Filename)
	require.NoError(t, err)
	require.Equal(t, models.JobPartial, got.Status)
	require.Equal(t, []string{"Remark"}, got.UnmappedHeaders)

	_, err = s.GetJob(ctx, "missing.xls")
	require.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestWriteBatchUpsertsAndIsolatesRows(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	job := newJob(t, s, models.CategoryOutpatient)

	bad := claimRecord("T-BAD", "H9", "1")
	bad.Values["pid"] = "12345678901234567890" // longer than varchar(13)

	errs, err := s.WriteBatch(ctx, job.ID, []*models.Record{claimRecord("T1", "H1", "100.00"), bad, claimRecord("T2", "H2", "50.00")})
	require.NoError(t, err)
	require.NoError(t, errs[0])
	require.NoError(t, errs[2])
	var cv *loader.ConstraintViolation
	require.ErrorAs(t, errs[1], &cv)
	require.Equal(t, "22001", cv.Code)

	// Same rows again: updated in place, not duplicated.
	errs, err = s.WriteBatch(ctx, job.ID, []*models.Record{claimRecord("T1", "H1", "120.00")})
	require.NoError(t, err)
	require.NoError(t, errs[0])

	claims, err := s.Candidates(ctx, reconcile.Filter{Categories: []models.Category{models.CategoryOutpatient}})
	require.NoError(t, err)
	var mine []models.Claim
	for _, c := range claims {
		if c.TranID == "T1" || c.TranID == "T2" || c.TranID == "T-BAD" {
			mine = append(mine, c)
		}
	}
	require.GreaterOrEqual(t, len(mine), 2)
	for _, c := range mine {
		if c.TranID == "T1" {
			require.True(t, decimal.RequireFromString("120.00").Equal(c.Amount))
			require.EqualValues(t, 2, c.RowVersion)
		}
		require.NotEqual(t, "T-BAD", c.TranID)
	}
}

func TestUpsertKeepsIdentityFields(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	job := newJob(t, s, models.CategoryOutpatient)

	for _, rec := range []*models.Record{claimRecord("K1", "H1", "100.00"), claimRecord("K1", "H2", "150.00")} {
		errs, err := s.WriteBatch(ctx, job.ID, []*models.Record{rec})
		require.NoError(t, err)
		require.NoError(t, errs[0])
	}

	claims, err := s.Candidates(ctx, reconcile.Filter{})
	require.NoError(t, err)
	var found []models.Claim
	for _, c := range claims {
		if c.TranID == "K1" {
			found = append(found, c)
		}
	}
	require.Len(t, found, 1)
	require.Equal(t, "H1", found[0].HN)
	require.True(t, decimal.RequireFromString("150.00").Equal(found[0].Amount))
	require.EqualValues(t, 2, found[0].RowVersion)
}

func TestApplyVerdictIsOptimistic(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	job := newJob(t, s, models.CategoryOutpatient)

	errs, err := s.WriteBatch(ctx, job.ID, []*models.Record{claimRecord("V1", "H1", "100.00")})
	require.NoError(t, err)
	require.NoError(t, errs[0])

	var c models.Claim
	claims, err := s.Candidates(ctx, reconcile.Filter{})
	require.NoError(t, err)
	for _, cand := range claims {
		if cand.TranID == "V1" {
			c = cand
		}
	}
	require.NotZero(t, c.ID)

	v := models.Verdict{ClaimID: c.ID, Table: c.Table, TranID: c.TranID, Status: models.ReconcileMatched, Ref: "STM/1", Delta: decimal.NewNullDecimal(decimal.RequireFromString("0.50"))}
	ok, err := s.ApplyVerdict(ctx, v, c.RowVersion)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.ApplyVerdict(ctx, v, c.RowVersion)
	require.NoError(t, err)
	require.False(t, ok, "stale version must not write")

	fresh, err := s.Claim(ctx, c.Table, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.ReconcileMatched, fresh.Status)

	refs, err := s.SettledRefs(ctx, reconcile.Filter{})
	require.NoError(t, err)
	require.Contains(t, refs, "STM/1")
	refs, err = s.SettledRefs(ctx, reconcile.Filter{Recheck: true})
	require.NoError(t, err)
	require.NotContains(t, refs, "STM/1", "a rechecked claim gives its counterpart back")

	require.NoError(t, s.SetManual(ctx, c.Table, c.ID, "checked by finance"))
	manual, err := s.Claim(ctx, c.Table, c.ID)
	require.NoError(t, err)
	ok, err = s.ApplyVerdict(ctx, v, manual.RowVersion)
	require.NoError(t, err)
	require.False(t, ok, "manual claims are never overwritten")

	refs, err = s.SettledRefs(ctx, reconcile.Filter{Recheck: true})
	require.NoError(t, err)
	require.Contains(t, refs, "STM/1")
}

func TestAdvisoryLock(t *testing.T) {
	s := requireDB(t)
	ctx := context.Background()
	locker := s.Locker()

	lock, ok, err := locker.TryLock(ctx, "a.xls")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "a.xls")
	require.NoError(t, err)
	require.False(t, ok)

	other, ok, err := locker.TryLock(ctx, "b.xls")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.Unlock(ctx))

	require.NoError(t, lock.Unlock(ctx))
	lock, ok, err = locker.TryLock(ctx, "a.xls")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, lock.Unlock(ctx))
}
