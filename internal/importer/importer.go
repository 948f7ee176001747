// Package importer runs one source file, or a directory of them, through
// metadata extraction, workbook parsing, mapping and loading under a tracked
// import job.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/samber/lo"

	"ClaimSync/internal/archive"
	"ClaimSync/internal/checksum"
	"ClaimSync/internal/config"
	"ClaimSync/internal/loader"
	"ClaimSync/internal/mapping"
	"ClaimSync/internal/metadata"
	"ClaimSync/internal/models"
	"ClaimSync/internal/tracker"
	"ClaimSync/internal/workbook"
)

type Options struct {
	FileTimeout    time.Duration
	FileWorkers    int
	ArchiveTimeout time.Duration
}

// OptionsFrom picks the pipeline settings out of the loaded configuration.
func OptionsFrom(s config.Settings) Options {
	return Options{
		FileTimeout:    s.Importer.FileTimeout,
		FileWorkers:    s.Importer.FileWorkers,
		ArchiveTimeout: s.Archive.Timeout,
	}
}

type Pipeline struct {
	mapping *mapping.Table
	tracker *tracker.Tracker
	loader  *loader.Loader
	archive archive.Archiver
	opts    Options
	log     logger.Logger
}

func New(m *mapping.Table, t *tracker.Tracker, l *loader.Loader, a archive.Archiver, opts Options, log logger.Logger) *Pipeline {
	if a == nil {
		a = archive.Nop{}
	}
	if opts.FileWorkers <= 0 {
		opts.FileWorkers = 1
	}
	return &Pipeline{mapping: m, tracker: t, loader: l, archive: a, opts: opts, log: log}
}

// Tracker exposes the job tracker for status queries.
func (p *Pipeline) Tracker() *tracker.Tracker {
	return p.tracker
}

// ImportFile imports the file at path and returns its job in its final
// state. A filename that does not parse creates no job. A file-level fault
// fails the job and is returned alongside it.
func (p *Pipeline) ImportFile(ctx context.Context, path string, mode tracker.Mode) (*models.ImportJob, error) {
	meta, err := metadata.Parse(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", meta.Filename, err)
	}
	sum := checksum.Sum(data)

	if _, err := p.tracker.Register(ctx, meta, sum); err != nil {
		return nil, err
	}
	run, err := p.tracker.Begin(ctx, meta.Filename, sum, mode)
	if err != nil {
		return nil, err
	}

	fileCtx := ctx
	if p.opts.FileTimeout > 0 {
		var cancel context.CancelFunc
		fileCtx, cancel = context.WithTimeout(ctx, p.opts.FileTimeout)
		defer cancel()
	}

	start := time.Now()
	counts, loadErr := p.load(fileCtx, run.Job, meta, data)
	var job *models.ImportJob
	if loadErr != nil {
		job, err = run.Fail(ctx, loadErr, counts)
		if err != nil {
			return job, errors.Join(loadErr, err)
		}
		p.log.Errorf("import %s failed after %s: %v", meta.Filename, time.Since(start).Round(time.Millisecond), loadErr)
		return job, loadErr
	}
	job, err = run.Finish(ctx, counts)
	if err != nil {
		return job, err
	}
	p.log.Infof("import %s %s in %s: imported=%d failed=%d skipped=%d truncated=%d",
		meta.Filename, job.Status, time.Since(start).Round(time.Millisecond),
		job.ImportedRows, job.FailedRows, job.SkippedRows, job.TruncatedCells)

	p.archiveFile(ctx, meta, sum, data)
	return job, nil
}

func (p *Pipeline) archiveFile(ctx context.Context, meta metadata.FileMeta, sum string, data []byte) {
	if p.opts.ArchiveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.ArchiveTimeout)
		defer cancel()
	}
	where, err := p.archive.Archive(ctx, meta, sum, data)
	if err != nil {
		p.log.Warnf("archive %s: %v", meta.Filename, err)
		return
	}
	if where != "" {
		p.log.Debugf("archived %s to %s", meta.Filename, where)
	}
}

// load walks every mapped sheet of the workbook. Counts gathered so far are
// returned even when a later sheet fails the file.
func (p *Pipeline) load(ctx context.Context, job *models.ImportJob, meta metadata.FileMeta, data []byte) (tracker.Counts, error) {
	var counts tracker.Counts

	wb, err := workbook.Read(meta.Filename, data)
	if err != nil {
		return counts, err
	}
	specs, err := p.mapping.Sheets(meta.Category)
	if err != nil {
		return counts, err
	}

	for _, spec := range specs {
		sheet, err := wb.Sheet(spec.Layout)
		if err != nil {
			if !spec.Optional {
				return counts, fmt.Errorf("%s sheet: %w", spec.Kind, err)
			}
			var structural *workbook.StructuralError
			if errors.As(err, &structural) {
				counts.Warnings = append(counts.Warnings, fmt.Sprintf("%s sheet skipped: %v", spec.Kind, err))
			}
			continue
		}
		if sheet.LowConfidence {
			counts.LowConfidence = true
			counts.Warnings = append(counts.Warnings,
				fmt.Sprintf("sheet %q: no row matched the header anchors, using row %d", sheet.Name, sheet.HeaderRow+1))
		}

		binding := spec.Bind(sheet.Name, sheet.Headers())
		res, err := p.loader.LoadSheet(ctx, job.ID, binding, sheet)
		res.Skipped += sheet.Skipped()
		addResult(&counts, res)
		if err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func addResult(c *tracker.Counts, res loader.BatchResult) {
	c.Imported += res.Imported
	c.Failed += res.Failed
	c.Skipped += res.Skipped
	c.Truncated += res.Truncated
	c.Unmapped = lo.Uniq(append(c.Unmapped, res.Unmapped...))
	for _, e := range res.Errors {
		c.Errors = append(c.Errors, e.Error())
	}
}

// Filter narrows a directory scan.
type Filter struct {
	Categories []models.Category
	// Glob is matched against the file's base name.
	Glob string
}

func (f Filter) match(meta metadata.FileMeta) bool {
	if len(f.Categories) > 0 && !lo.Contains(f.Categories, meta.Category) {
		return false
	}
	if f.Glob != "" {
		ok, _ := filepath.Match(f.Glob, meta.Filename)
		return ok
	}
	return true
}

// Result is the outcome of one file of a directory import.
type Result struct {
	Path string
	Job  *models.ImportJob
	// Unchanged is set when watch mode skipped a completed file.
	Unchanged bool
	Err       error
}

// Failed reports whether the file ended without a usable import.
func (r Result) Failed() bool {
	if r.Err != nil {
		return true
	}
	return r.Job != nil && r.Job.Status == models.JobFailed
}
