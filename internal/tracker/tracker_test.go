package tracker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/stretchr/testify/require"

	"ClaimSync/internal/metadata"
	"ClaimSync/internal/models"
	"ClaimSync/internal/testhelper/memstore"
	"ClaimSync/internal/tracker"
)

type auditLog struct {
	mu    sync.Mutex
	lines []string
}

func (a *auditLog) LogAudit(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, msg)
}

const filename = "eclaim_10670_IP_25680122_205506156.xls"

func setup(t *testing.T, opts tracker.Options) (*tracker.Tracker, *memstore.Store, *auditLog) {
	t.Helper()
	store := memstore.New()
	audit := &auditLog{}
	tr := tracker.New(store, tracker.NewMemoryLocker(), audit, logger.NOP, opts)

	meta, err := metadata.Parse(filename)
	require.NoError(t, err)
	_, err = tr.Register(context.Background(), meta, "sum-1")
	require.NoError(t, err)
	return tr, store, audit
}

func TestTransitions(t *testing.T) {
	require.True(t, tracker.CanTransition(models.JobPending, models.JobProcessing))
	require.True(t, tracker.CanTransition(models.JobProcessing, models.JobPartial))
	require.True(t, tracker.CanTransition(models.JobCompleted, models.JobProcessing))
	require.False(t, tracker.CanTransition(models.JobPending, models.JobCompleted))
	require.False(t, tracker.CanTransition(models.JobCompleted, models.JobFailed))
	require.False(t, tracker.CanTransition(models.JobProcessing, models.JobPending))
}

func TestOutcome(t *testing.T) {
	require.Equal(t, models.JobCompleted, tracker.Outcome(10, 0))
	require.Equal(t, models.JobCompleted, tracker.Outcome(0, 0))
	require.Equal(t, models.JobPartial, tracker.Outcome(99, 1))
	require.Equal(t, models.JobFailed, tracker.Outcome(0, 3))
}

func TestRegisterIsIdempotent(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	ctx := context.Background()

	first, err := tr.Status(ctx, filename)
	require.NoError(t, err)
	require.Equal(t, models.JobPending, first.Status)
	require.Equal(t, "10670", first.FacilityCode)
	require.Equal(t, models.CategoryInpatient, first.Category)

	meta, err := metadata.Parse(filename)
	require.NoError(t, err)
	again, err := tr.Register(ctx, meta, "sum-2")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "sum-1", again.FileChecksum)
}

func TestRunLifecycle(t *testing.T) {
	tr, _, audit := setup(t, tracker.Options{})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	require.Equal(t, models.JobProcessing, run.Job.Status)
	require.Equal(t, 1, run.Job.Attempts)
	require.NotNil(t, run.Job.StartedAt)

	job, err := run.Finish(ctx, tracker.Counts{Imported: 99, Failed: 1, Errors: []string{"row 51: bad date"}})
	require.NoError(t, err)
	require.Equal(t, models.JobPartial, job.Status)
	require.Equal(t, 100, job.TotalRows)
	require.Equal(t, "row 51: bad date", job.ErrorDetail)
	require.NotNil(t, job.CompletedAt)

	stored, err := tr.Status(ctx, filename)
	require.NoError(t, err)
	require.Equal(t, models.JobPartial, stored.Status)
	require.Len(t, audit.lines, 2)

	// Re-submission reuses the job and clears the previous outcome.
	run, err = tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	require.Equal(t, stored.ID, run.Job.ID)
	require.Equal(t, 2, run.Job.Attempts)
	require.Zero(t, run.Job.FailedRows)
	require.Empty(t, run.Job.ErrorDetail)

	job, err = run.Finish(ctx, tracker.Counts{Imported: 100})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
}

func TestFinishWithoutRowsWarns(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	job, err := run.Finish(ctx, tracker.Counts{Warnings: []string{"header found by fallback"}})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, []string{"header found by fallback", "no data rows found"}, job.Warnings)
}

func TestFail(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	job, err := run.Fail(ctx, errors.New("sheet REP: header row not found"), tracker.Counts{})
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, job.Status)
	require.Equal(t, "sheet REP: header row not found", job.ErrorDetail)

	_, err = run.Finish(ctx, tracker.Counts{Imported: 1})
	require.ErrorIs(t, err, tracker.ErrInvalidTransition)
}

func TestConcurrentBeginIsRejected(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)

	_, err = tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.ErrorIs(t, err, tracker.ErrJobInProgress)

	_, err = run.Finish(ctx, tracker.Counts{Imported: 1})
	require.NoError(t, err)

	run, err = tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	_, err = run.Finish(ctx, tracker.Counts{Imported: 1})
	require.NoError(t, err)
}

func TestConcurrentBeginWaits(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{WaitForLock: true, LockWait: 5 * time.Second})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)

	done := make(chan *tracker.Run)
	go func() {
		second, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
		if err != nil {
			close(done)
			return
		}
		done <- second
	}()

	time.Sleep(50 * time.Millisecond)
	_, err = run.Finish(ctx, tracker.Counts{Imported: 1})
	require.NoError(t, err)

	second, ok := <-done
	require.True(t, ok, "second run should start once the first finished")
	require.Equal(t, 2, second.Job.Attempts)
	_, err = second.Finish(ctx, tracker.Counts{Imported: 1})
	require.NoError(t, err)
}

func TestWaitTimesOut(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{WaitForLock: true, LockWait: 60 * time.Millisecond})
	ctx := context.Background()

	_, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	_, err = tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.ErrorIs(t, err, tracker.ErrJobInProgress)
}

func TestWatchModeSkipsUnchangedCompletedFile(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	ctx := context.Background()

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeWatch)
	require.NoError(t, err)
	_, err = run.Finish(ctx, tracker.Counts{Imported: 5})
	require.NoError(t, err)

	_, err = tr.Begin(ctx, filename, "sum-1", tracker.ModeWatch)
	require.ErrorIs(t, err, tracker.ErrAlreadyCompleted)

	// A changed file is picked up again.
	run, err = tr.Begin(ctx, filename, "sum-2", tracker.ModeWatch)
	require.NoError(t, err)
	require.Equal(t, "sum-2", run.Job.FileChecksum)
	_, err = run.Finish(ctx, tracker.Counts{Imported: 5})
	require.NoError(t, err)

	// The lock was released by the skipped attempt.
	run, err = tr.Begin(ctx, filename, "sum-2", tracker.ModeExplicit)
	require.NoError(t, err)
	_, err = run.Finish(ctx, tracker.Counts{Imported: 5})
	require.NoError(t, err)
}

func TestStaleProcessingIsTakenOver(t *testing.T) {
	tr, store, audit := setup(t, tracker.Options{})
	ctx := context.Background()

	job, err := store.GetJob(ctx, filename)
	require.NoError(t, err)
	job.Status = models.JobProcessing
	job.Attempts = 1
	require.NoError(t, store.SaveJob(ctx, job))

	run, err := tr.Begin(ctx, filename, "sum-1", tracker.ModeExplicit)
	require.NoError(t, err)
	require.Equal(t, 2, run.Job.Attempts)
	require.Contains(t, audit.lines[0], "interrupted")
	_, err = run.Finish(ctx, tracker.Counts{Imported: 1})
	require.NoError(t, err)
}

func TestBeginUnknownFile(t *testing.T) {
	tr, _, _ := setup(t, tracker.Options{})
	_, err := tr.Begin(context.Background(), "eclaim_10670_OP_25680122_1.xls", "x", tracker.ModeExplicit)
	require.ErrorIs(t, err, models.ErrJobNotFound)

	// The failed attempt must not leave the lock behind.
	_, err = tr.Begin(context.Background(), "eclaim_10670_OP_25680122_1.xls", "x", tracker.ModeExplicit)
	require.ErrorIs(t, err, models.ErrJobNotFound)
}
