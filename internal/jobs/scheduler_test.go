package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/stretchr/testify/require"

	"ClaimSync/internal/importer"
	"ClaimSync/internal/jobs"
	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
	"ClaimSync/internal/tracker"
)

type fakeImporter struct {
	calls   int
	mode    tracker.Mode
	dir     string
	results []importer.Result
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeImporter) ImportDir(_ context.Context, dir string, _ importer.Filter, mode tracker.Mode) ([]importer.Result, error) {
	f.calls++
	f.dir, f.mode = dir, mode
	if f.block != nil {
		close(f.entered)
		<-f.block
	}
	return f.results, nil
}

type fakeReconciler struct {
	opts reconcile.Options
	err  error
}

func (f *fakeReconciler) Run(_ context.Context, opts reconcile.Options) (reconcile.Summary, error) {
	f.opts = opts
	return reconcile.Summary{Candidates: 3, Matched: 2, Pending: 1}, f.err
}

type auditLog struct {
	mu    sync.Mutex
	lines []string
}

func (a *auditLog) LogAudit(msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lines = append(a.lines, msg)
}

func TestScanInbox(t *testing.T) {
	imp := &fakeImporter{results: []importer.Result{
		{Path: "a.xls", Job: &models.ImportJob{Status: models.JobCompleted}},
		{Path: "b.xls", Unchanged: true},
		{Path: "c.xls", Err: errors.New("boom")},
	}}
	audit := &auditLog{}
	s := jobs.NewCronService(jobs.CronConfig{InboxDir: "/srv/inbox"}, imp, nil, audit, logger.NOP)

	require.True(t, s.ScanInbox(context.Background()))
	require.Equal(t, "/srv/inbox", imp.dir)
	require.Equal(t, tracker.ModeWatch, imp.mode)
	require.Equal(t, []string{"Inbox scan imported 1 files, 1 failed"}, audit.lines)
}

func TestScanInboxSkipsOverlappingTick(t *testing.T) {
	imp := &fakeImporter{block: make(chan struct{}), entered: make(chan struct{})}
	s := jobs.NewCronService(jobs.CronConfig{}, imp, nil, &auditLog{}, logger.NOP)

	done := make(chan bool)
	go func() { done <- s.ScanInbox(context.Background()) }()
	<-imp.entered

	require.False(t, s.ScanInbox(context.Background()))
	close(imp.block)
	require.True(t, <-done)
	require.Equal(t, 1, imp.calls)
}

func TestReconcile(t *testing.T) {
	rec := &fakeReconciler{}
	opts := reconcile.Options{Categories: []models.Category{models.CategoryInpatient}}
	s := jobs.NewCronService(jobs.CronConfig{Reconcile: opts}, nil, rec, &auditLog{}, logger.NOP)

	require.True(t, s.Reconcile(context.Background()))
	require.Equal(t, opts.Categories, rec.opts.Categories)

	audit := &auditLog{}
	rec.err = errors.New("store down")
	s = jobs.NewCronService(jobs.CronConfig{}, nil, rec, audit, logger.NOP)
	require.True(t, s.Reconcile(context.Background()))
	require.Len(t, audit.lines, 1)
	require.Contains(t, audit.lines[0], "store down")
}

func TestStartStop(t *testing.T) {
	conf := jobs.CronConfig{TimeZone: "Asia/Bangkok", InboxSchedule: "*/5 * * * *", ReconcileSchedule: "30 2 * * *"}
	audit := &auditLog{}
	s := jobs.NewCronService(conf, &fakeImporter{}, &fakeReconciler{}, audit, logger.NOP)
	require.Equal(t, "cron", s.Name())
	require.NoError(t, s.Start())
	require.Len(t, audit.lines, 2)
	require.NoError(t, s.Stop())

	bad := jobs.NewCronService(jobs.CronConfig{TimeZone: "Mars/Olympus"}, nil, nil, audit, logger.NOP)
	require.Error(t, bad.Start())

	badSpec := jobs.NewCronService(jobs.CronConfig{InboxSchedule: "every minute"}, &fakeImporter{}, nil, audit, logger.NOP)
	require.Error(t, badSpec.Start())
}

func TestApplyOverrides(t *testing.T) {
	conf := jobs.CronConfig{InboxSchedule: "*/5 * * * *", ReconcileSchedule: "30 2 * * *", InboxDir: "./inbox"}
	conf.ApplyOverrides(map[string]interface{}{"reconcile_schedule": "", "inbox_dir": "/data/in"})
	require.Equal(t, "*/5 * * * *", conf.InboxSchedule)
	require.Empty(t, conf.ReconcileSchedule)
	require.Equal(t, "/data/in", conf.InboxDir)
}
