package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/shopspring/decimal"

	"ClaimSync/internal/archive"
	"ClaimSync/internal/audit"
	"ClaimSync/internal/config"
	"ClaimSync/internal/importer"
	"ClaimSync/internal/loader"
	"ClaimSync/internal/mapping"
	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
	"ClaimSync/internal/store"
	"ClaimSync/internal/tracker"
)

// env holds the components shared by every command.
type env struct {
	settings config.Settings
	log      logger.Logger
	audit    *audit.Logger
	store    *store.Store
	mapping  *mapping.Table
	pipeline *importer.Pipeline
	his      *sql.DB
}

// newEnv loads configuration, connects to the database and builds the import
// pipeline. The audit log is only started when startAudit is set; serve mode
// starts it as a service instead.
func newEnv(ctx context.Context, startAudit bool) (*env, error) {
	settings := config.Load(config.New())
	log := logger.NewLogger().Child("claimsync")

	table, err := loadMapping(settings.Importer)
	if err != nil {
		return nil, err
	}

	e := &env{settings: settings, log: log, mapping: table, audit: audit.New(settings.Audit)}
	if startAudit {
		if err := e.audit.Start(); err != nil {
			return nil, err
		}
	}

	e.store, err = store.Open(ctx, settings.Database, log.Child("store"))
	if err != nil {
		e.close()
		return nil, err
	}

	arch, err := archive.New(ctx, settings.Archive)
	if err != nil {
		e.close()
		return nil, err
	}

	tr := tracker.New(e.store, e.store.Locker(), e.audit, log.Child("tracker"), tracker.Options{
		WaitForLock: settings.Importer.WaitForLock,
		LockWait:    settings.Importer.LockWait,
	})
	ld := loader.New(e.store, loader.Config{
		BatchSize: settings.Importer.BatchSize,
		Workers:   settings.Importer.BatchWorkers,
		MaxErrors: settings.Importer.MaxErrors,
	}, log.Child("loader"))
	e.pipeline = importer.New(table, tr, ld, arch, importer.OptionsFrom(settings), log.Child("importer"))
	return e, nil
}

func loadMapping(conf config.Importer) (*mapping.Table, error) {
	if conf.MappingFile != "" {
		return mapping.LoadFile(conf.MappingFile)
	}
	return mapping.Default()
}

// matcher builds a reconciliation matcher over the named counterpart source.
func (e *env) matcher(source string) (*reconcile.Matcher, error) {
	if source == "" {
		source = e.settings.Reconcile.Source
	}
	var src reconcile.Source
	switch source {
	case reconcile.SourceStatement:
		src = reconcile.NewStatementSource(e.store)
	case reconcile.SourceHIS:
		if e.settings.Reconcile.HISDSN == "" {
			return nil, fmt.Errorf("reconcile source %q needs Reconcile.hisDSN", source)
		}
		his, err := e.hisDB()
		if err != nil {
			return nil, err
		}
		src = reconcile.NewHISSource(his, e.settings.Reconcile.HISQuery)
	default:
		return nil, fmt.Errorf("unknown reconcile source %q", source)
	}
	return reconcile.NewMatcher(e.store, src, e.audit, e.log.Child("reconcile"),
		e.settings.Reconcile.Retries, e.settings.Reconcile.RetryDelay), nil
}

// hisDB opens the HIS connection once.
func (e *env) hisDB() (*sql.DB, error) {
	if e.his != nil {
		return e.his, nil
	}
	db, err := sql.Open("postgres", e.settings.Reconcile.HISDSN)
	if err != nil {
		return nil, fmt.Errorf("open HIS database: %w", err)
	}
	e.his = db
	return db, nil
}

// reconcileOptions fills in configured defaults for anything not given.
func (e *env) reconcileOptions(categories []models.Category, threshold string, recheck bool, report string) (reconcile.Options, error) {
	if threshold == "" {
		threshold = e.settings.Reconcile.Threshold
	}
	th, err := decimal.NewFromString(threshold)
	if err != nil || th.IsNegative() {
		return reconcile.Options{}, fmt.Errorf("invalid threshold %q", threshold)
	}
	return reconcile.Options{Categories: categories, Threshold: th, Recheck: recheck, Report: report}, nil
}

func (e *env) close() {
	if e.his != nil {
		_ = e.his.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if err := e.audit.Stop(); err != nil {
		e.log.Warnf("stop audit log: %v", err)
	}
}

// newEnvNoDB loads configuration only, for commands that manage their own
// connection.
func newEnvNoDB() (*env, error) {
	settings := config.Load(config.New())
	return &env{settings: settings, log: logger.NewLogger().Child("claimsync")}, nil
}
