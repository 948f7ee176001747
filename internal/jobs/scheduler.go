// Package jobs schedules the recurring work of serve mode: scanning the
// inbox for new report files and reconciling loaded claims.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"ClaimSync/internal/config"
	"ClaimSync/internal/importer"
	"ClaimSync/internal/reconcile"
	"ClaimSync/internal/tracker"
)

type Importer interface {
	ImportDir(ctx context.Context, dir string, f importer.Filter, mode tracker.Mode) ([]importer.Result, error)
}

type Reconciler interface {
	Run(ctx context.Context, opts reconcile.Options) (reconcile.Summary, error)
}

type Auditor interface {
	LogAudit(msg string)
}

type CronConfig struct {
	TimeZone          string
	InboxDir          string
	InboxSchedule     string
	ReconcileSchedule string
	Reconcile         reconcile.Options
}

// ApplyOverrides takes schedule overrides from the service's services.yaml
// block. An empty string disables that job.
func (c *CronConfig) ApplyOverrides(cfg map[string]interface{}) {
	if cfg == nil {
		return
	}
	if v, ok := cfg["inbox_schedule"].(string); ok {
		c.InboxSchedule = v
	}
	if v, ok := cfg["reconcile_schedule"].(string); ok {
		c.ReconcileSchedule = v
	}
	if v, ok := cfg["inbox_dir"].(string); ok && v != "" {
		c.InboxDir = v
	}
}

// NewCronConfig builds the schedule from the loaded settings.
func NewCronConfig(s config.Settings, opts reconcile.Options) CronConfig {
	return CronConfig{
		TimeZone:          s.Schedule.TimeZone,
		InboxDir:          s.Importer.InboxDir,
		InboxSchedule:     s.Schedule.Inbox,
		ReconcileSchedule: s.Schedule.Reconcile,
		Reconcile:         opts,
	}
}

type CronService struct {
	conf       CronConfig
	importer   Importer
	reconciler Reconciler
	audit      Auditor
	log        logger.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	// one run of each job at a time; a tick that finds it busy is dropped
	inboxMu     sync.Mutex
	reconcileMu sync.Mutex
}

func NewCronService(conf CronConfig, imp Importer, rec Reconciler, audit Auditor, log logger.Logger) *CronService {
	return &CronService{conf: conf, importer: imp, reconciler: rec, audit: audit, log: log}
}

func (s *CronService) Name() string {
	return "cron"
}

func (s *CronService) Start() error {
	tz := s.conf.TimeZone
	if tz == "" {
		tz = config.DefaultTimeZone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("invalid timezone for cron service: %w", err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithLocation(loc))

	if s.conf.InboxSchedule != "" && s.importer != nil {
		if _, err := s.cron.AddFunc(s.conf.InboxSchedule, func() { s.ScanInbox(s.ctx) }); err != nil {
			return fmt.Errorf("failed to schedule inbox scan: %w", err)
		}
		s.audit.LogAudit(fmt.Sprintf("Inbox scan of %s scheduled for %s (%s)", s.conf.InboxDir, s.conf.InboxSchedule, tz))
	}
	if s.conf.ReconcileSchedule != "" && s.reconciler != nil {
		if _, err := s.cron.AddFunc(s.conf.ReconcileSchedule, func() { s.Reconcile(s.ctx) }); err != nil {
			return fmt.Errorf("failed to schedule reconciliation: %w", err)
		}
		s.audit.LogAudit(fmt.Sprintf("Reconciliation scheduled for %s (%s)", s.conf.ReconcileSchedule, tz))
	}

	s.cron.Start()
	s.log.Infof("cron service started with %d jobs", len(s.cron.Entries()))
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *CronService) Stop() error {
	if s.cron == nil {
		return nil
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Infof("cron service stopped")
	return nil
}

// ScanInbox imports new or changed files from the inbox. It reports whether
// a scan actually ran.
func (s *CronService) ScanInbox(ctx context.Context) bool {
	if !s.inboxMu.TryLock() {
		s.log.Warnf("inbox scan still running, skipping this tick")
		return false
	}
	defer s.inboxMu.Unlock()

	results, err := s.importer.ImportDir(ctx, s.conf.InboxDir, importer.Filter{}, tracker.ModeWatch)
	if err != nil {
		s.log.Errorf("inbox scan of %s: %v", s.conf.InboxDir, err)
		s.audit.LogAudit(fmt.Sprintf("Inbox scan of %s failed: %v", s.conf.InboxDir, err))
		return true
	}
	var imported, failed int
	for _, r := range results {
		switch {
		case r.Unchanged:
		case r.Failed():
			failed++
			s.log.Warnf("inbox file %s failed: %v", r.Path, r.Err)
		default:
			imported++
		}
	}
	if imported > 0 || failed > 0 {
		s.audit.LogAudit(fmt.Sprintf("Inbox scan imported %d files, %d failed", imported, failed))
	}
	return true
}

// Reconcile runs the matcher with the configured options.
func (s *CronService) Reconcile(ctx context.Context) bool {
	if !s.reconcileMu.TryLock() {
		s.log.Warnf("reconciliation still running, skipping this tick")
		return false
	}
	defer s.reconcileMu.Unlock()

	sum, err := s.reconciler.Run(ctx, s.conf.Reconcile)
	if err != nil {
		s.log.Errorf("scheduled reconciliation: %v", err)
		s.audit.LogAudit(fmt.Sprintf("Scheduled reconciliation failed: %v", err))
		return true
	}
	s.log.Infof("scheduled reconciliation: %d candidates, %d matched, %d mismatched, %d pending",
		sum.Candidates, sum.Matched, sum.Mismatched, sum.Pending)
	return true
}
