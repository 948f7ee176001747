// Package loader maps workbook rows and writes them to the store in fixed-size
// batches. A row that fails never takes the rest of its batch down with it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"ClaimSync/internal/config"
	"ClaimSync/internal/mapping"
	"ClaimSync/internal/models"
	"ClaimSync/internal/workbook"
)

// RecordWriter persists one batch. The returned slice holds one entry per
// record, nil on success. A non-nil error means the whole batch failed.
type RecordWriter interface {
	WriteBatch(ctx context.Context, jobID uuid.UUID, recs []*models.Record) ([]error, error)
}

// RowSource yields data rows until io.EOF.
type RowSource interface {
	Next() (workbook.Row, error)
}

type Config struct {
	BatchSize int
	Workers   int
	// MaxErrors caps how many row errors are kept for reporting. Counts are never capped.
	MaxErrors int
}

// BatchResult aggregates the outcome of one or more batches.
type BatchResult struct {
	Imported  int
	Failed    int
	Skipped   int
	Truncated int
	Unmapped  []string
	Errors    []*RowError
}

// Add merges o into r. Order of merging does not change the counts.
func (r *BatchResult) Add(o BatchResult, maxErrors int) {
	r.Imported += o.Imported
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Truncated += o.Truncated
	r.Unmapped = lo.Uniq(append(r.Unmapped, o.Unmapped...))
	for _, e := range o.Errors {
		if maxErrors > 0 && len(r.Errors) >= maxErrors {
			break
		}
		r.Errors = append(r.Errors, e)
	}
}

type Loader struct {
	writer RecordWriter
	conf   Config
	log    logger.Logger
}

func New(w RecordWriter, conf Config, log logger.Logger) *Loader {
	if conf.BatchSize <= 0 {
		conf.BatchSize = config.BatchSize
	}
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	if conf.MaxErrors <= 0 {
		conf.MaxErrors = 100
	}
	return &Loader{writer: w, conf: conf, log: log}
}

// Batches splits rows into chunks of at most size rows.
func Batches(rows []workbook.Row, size int) [][]workbook.Row {
	if len(rows) == 0 {
		return nil
	}
	return lo.Chunk(rows, size)
}

// LoadSheet drains src and loads it batch by batch against binding b.
func (l *Loader) LoadSheet(ctx context.Context, jobID uuid.UUID, b *mapping.Binding, src RowSource) (BatchResult, error) {
	var rows []workbook.Row
	for {
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return BatchResult{}, fmt.Errorf("read sheet %q: %w", b.Sheet, err)
		}
		rows = append(rows, row)
	}

	var (
		mu    sync.Mutex
		total = BatchResult{Unmapped: b.Unmapped()}
		start = time.Now()
	)
	batches := Batches(rows, l.conf.BatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.conf.Workers)
	for i, batch := range batches {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := l.LoadBatch(gctx, jobID, b, batch)
			mu.Lock()
			total.Add(res, l.conf.MaxErrors)
			mu.Unlock()
			l.log.Debugf("sheet %s batch %d/%d: imported=%d failed=%d skipped=%d", b.Sheet, i+1, len(batches), res.Imported, res.Failed, res.Skipped)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}

	l.log.Infof("sheet %s (%s): %d rows in %d batches, imported=%d failed=%d skipped=%d in %s",
		b.Sheet, b.Spec.Kind, len(rows), len(batches), total.Imported, total.Failed, total.Skipped, time.Since(start).Round(time.Millisecond))
	return total, nil
}

// LoadBatch maps and writes one batch of rows for job jobID.
func (l *Loader) LoadBatch(ctx context.Context, jobID uuid.UUID, b *mapping.Binding, rows []workbook.Row) BatchResult {
	var res BatchResult
	recs := make([]*models.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := b.Map(row)
		switch {
		case err != nil:
			res.Failed++
			res.Errors = append(res.Errors, &RowError{Sheet: b.Sheet, Row: row.Index + 1, Class: ClassTransform, Err: err})
		case rec == nil:
			res.Skipped++
		default:
			recs = append(recs, rec)
		}
	}
	if len(recs) == 0 {
		return res
	}

	rowErrs, err := l.writer.WriteBatch(ctx, jobID, recs)
	if err != nil {
		l.log.Warnf("sheet %s: batch of %d rows failed: %v", b.Sheet, len(recs), err)
		for _, rec := range recs {
			res.Failed++
			res.Errors = append(res.Errors, &RowError{Sheet: b.Sheet, Row: rec.SourceRow, TranID: rec.TranID, Class: ClassBatch, Err: err})
		}
		return res
	}

	for i, rec := range recs {
		var rowErr error
		if i < len(rowErrs) {
			rowErr = rowErrs[i]
		}
		if rowErr == nil {
			res.Imported++
			res.Truncated += len(rec.Truncated)
			continue
		}
		res.Failed++
		res.Errors = append(res.Errors, &RowError{Sheet: b.Sheet, Row: rec.SourceRow, TranID: rec.TranID, Class: classify(rowErr), Err: rowErr})
	}
	return res
}
