// Package tracker owns the ImportJob lifecycle: registration, the run state
// machine and per-filename serialization of runs.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"ClaimSync/internal/metadata"
	"ClaimSync/internal/models"
)

var (
	ErrJobInProgress     = errors.New("an import of this file is already in progress")
	ErrAlreadyCompleted  = errors.New("file already imported with the same checksum")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

const noDataWarning = "no data rows found"

// Store persists import jobs. RegisterJob inserts the job when its filename
// is new and returns the stored row either way.
type Store interface {
	RegisterJob(ctx context.Context, job *models.ImportJob) (*models.ImportJob, error)
	GetJob(ctx context.Context, filename string) (*models.ImportJob, error)
	SaveJob(ctx context.Context, job *models.ImportJob) error
}

type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out one lock per key across every process sharing the store.
type Locker interface {
	TryLock(ctx context.Context, key string) (Lock, bool, error)
	Lock(ctx context.Context, key string) (Lock, error)
}

type Auditor interface {
	LogAudit(msg string)
}

// Mode says who asked for a run.
type Mode int

const (
	// ModeExplicit always runs, even for a completed file.
	ModeExplicit Mode = iota
	// ModeWatch skips completed files whose content is unchanged.
	ModeWatch
)

type Options struct {
	WaitForLock bool
	LockWait    time.Duration
}

// Counts is what a run reports when it ends.
type Counts struct {
	Imported      int
	Failed        int
	Skipped       int
	Truncated     int
	Unmapped      []string
	Warnings      []string
	LowConfidence bool
	Errors        []string
}

type Tracker struct {
	store  Store
	locker Locker
	audit  Auditor
	log    logger.Logger
	opts   Options
	now    func() time.Time
}

func New(store Store, locker Locker, audit Auditor, log logger.Logger, opts Options) *Tracker {
	return &Tracker{store: store, locker: locker, audit: audit, log: log, opts: opts, now: time.Now}
}

// Register records the file as a pending job the first time it is seen. A
// known filename returns the existing job unchanged.
func (t *Tracker) Register(ctx context.Context, meta metadata.FileMeta, checksum string) (*models.ImportJob, error) {
	now := t.now().UTC()
	job, err := t.store.RegisterJob(ctx, &models.ImportJob{
		Filename:     meta.Filename,
		Category:     meta.Category,
		FacilityCode: meta.FacilityCode,
		ReportDate:   meta.ReportDate,
		SequenceID:   meta.SequenceID,
		Status:       models.JobPending,
		FileChecksum: checksum,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("register job %s: %w", meta.Filename, err)
	}
	return job, nil
}

// Status returns the current job for filename.
func (t *Tracker) Status(ctx context.Context, filename string) (*models.ImportJob, error) {
	return t.store.GetJob(ctx, filename)
}

// Begin takes the per-file lock and moves the job to processing. The caller
// must end the run with Finish or Fail.
func (t *Tracker) Begin(ctx context.Context, filename, checksum string, mode Mode) (*Run, error) {
	lock, err := t.acquire(ctx, filename)
	if err != nil {
		return nil, err
	}
	run := &Run{t: t, lock: lock, key: filename}

	job, err := t.store.GetJob(ctx, filename)
	if err != nil {
		run.release(ctx)
		return nil, err
	}

	if job.Status == models.JobProcessing {
		// We hold the lock, so whoever left it in processing is gone.
		t.log.Warnf("job %s was left in processing by an interrupted run, taking over", filename)
		t.audit.LogAudit(fmt.Sprintf("job %s: taking over interrupted run (attempt %d)", filename, job.Attempts))
		job.Status = models.JobFailed
	}
	if mode == ModeWatch && job.Status == models.JobCompleted && job.FileChecksum == checksum {
		run.release(ctx)
		return nil, ErrAlreadyCompleted
	}
	if !CanTransition(job.Status, models.JobProcessing) {
		run.release(ctx)
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, models.JobProcessing)
	}

	from := job.Status
	now := t.now().UTC()
	job.Status = models.JobProcessing
	job.FileChecksum = checksum
	job.TotalRows, job.ImportedRows, job.FailedRows, job.SkippedRows, job.TruncatedCells = 0, 0, 0, 0, 0
	job.UnmappedHeaders = nil
	job.Warnings = nil
	job.LowConfidence = false
	job.ErrorDetail = ""
	job.Attempts++
	job.StartedAt = &now
	job.CompletedAt = nil
	job.UpdatedAt = now
	if err := t.store.SaveJob(ctx, job); err != nil {
		run.release(ctx)
		return nil, fmt.Errorf("start job %s: %w", filename, err)
	}

	t.audit.LogAudit(fmt.Sprintf("job %s: %s -> processing (attempt %d)", filename, from, job.Attempts))
	run.Job = job
	return run, nil
}

func (t *Tracker) acquire(ctx context.Context, filename string) (Lock, error) {
	lock, ok, err := t.locker.TryLock(ctx, filename)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", filename, err)
	}
	if ok {
		return lock, nil
	}
	if !t.opts.WaitForLock {
		return nil, fmt.Errorf("%s: %w", filename, ErrJobInProgress)
	}

	t.log.Infof("waiting for the running import of %s", filename)
	waitCtx := ctx
	if t.opts.LockWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, t.opts.LockWait)
		defer cancel()
	}
	lock, err = t.locker.Lock(waitCtx, filename)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", filename, ErrJobInProgress)
		}
		return nil, fmt.Errorf("lock %s: %w", filename, err)
	}
	return lock, nil
}

// Run is an in-flight import holding the file lock.
type Run struct {
	Job  *models.ImportJob
	t    *Tracker
	lock Lock
	key  string
	done bool
}

// Finish records the counts and the resulting terminal status.
func (r *Run) Finish(ctx context.Context, c Counts) (*models.ImportJob, error) {
	status := Outcome(c.Imported, c.Failed)
	if c.Imported == 0 && c.Failed == 0 {
		c.Warnings = append(c.Warnings, noDataWarning)
	}
	detail := ""
	if len(c.Errors) > 0 {
		detail = strings.Join(c.Errors, "\n")
	}
	return r.end(ctx, status, c, detail)
}

// Fail marks the run failed with cause. Counts gathered before the failure are kept.
func (r *Run) Fail(ctx context.Context, cause error, c Counts) (*models.ImportJob, error) {
	return r.end(ctx, models.JobFailed, c, cause.Error())
}

func (r *Run) end(ctx context.Context, status models.JobStatus, c Counts, detail string) (*models.ImportJob, error) {
	if r.done {
		return r.Job, fmt.Errorf("%w: run for %s already ended", ErrInvalidTransition, r.Job.Filename)
	}
	defer r.release(ctx)

	job := r.Job
	if !CanTransition(job.Status, status) {
		return job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, status)
	}
	now := r.t.now().UTC()
	job.Status = status
	job.ImportedRows = c.Imported
	job.FailedRows = c.Failed
	job.SkippedRows = c.Skipped
	job.TotalRows = c.Imported + c.Failed + c.Skipped
	job.TruncatedCells = c.Truncated
	job.UnmappedHeaders = c.Unmapped
	job.Warnings = c.Warnings
	job.LowConfidence = c.LowConfidence
	job.ErrorDetail = detail
	job.CompletedAt = &now
	job.UpdatedAt = now

	// The job may already be cancelled; the final status must still land.
	saveCtx := context.WithoutCancel(ctx)
	if err := r.t.store.SaveJob(saveCtx, job); err != nil {
		return job, fmt.Errorf("finish job %s: %w", job.Filename, err)
	}
	r.t.audit.LogAudit(fmt.Sprintf("job %s: processing -> %s (imported=%d failed=%d skipped=%d)",
		job.Filename, status, job.ImportedRows, job.FailedRows, job.SkippedRows))
	return job, nil
}

func (r *Run) release(ctx context.Context) {
	if r.done {
		return
	}
	r.done = true
	if r.lock == nil {
		return
	}
	if err := r.lock.Unlock(context.WithoutCancel(ctx)); err != nil {
		r.t.log.Warnf("unlock %s: %v", r.key, err)
	}
}
