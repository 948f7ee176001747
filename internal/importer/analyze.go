package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"ClaimSync/internal/checksum"
	"ClaimSync/internal/metadata"
	"ClaimSync/internal/models"
	"ClaimSync/internal/workbook"
)

// SheetReport describes one mapped sheet as the importer would see it.
type SheetReport struct {
	Kind          string
	Name          string
	Table         models.Table
	HeaderRow     int
	LowConfidence bool
	Rows          int
	Skipped       int
	Invalid       int
	Unmapped      []string
	Missing       bool
	Problem       string
}

// Analysis is a dry run of an import. Nothing is written.
type Analysis struct {
	Meta     metadata.FileMeta
	Checksum string
	Format   workbook.Format
	Sheets   []SheetReport
	// Job is the existing job for the filename, if any.
	Job *models.ImportJob
	// Unchanged is set when Job already holds this exact content.
	Unchanged bool
}

// Analyze reports detected metadata, sheet layout and row counts for path
// without touching the store.
func (p *Pipeline) Analyze(ctx context.Context, path string) (*Analysis, error) {
	meta, err := metadata.Parse(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", meta.Filename, err)
	}
	a := &Analysis{Meta: meta, Checksum: checksum.Sum(data)}

	job, err := p.tracker.Status(ctx, meta.Filename)
	switch {
	case err == nil:
		a.Job = job
		a.Unchanged = checksum.Match(data, job.FileChecksum)
	case !errors.Is(err, models.ErrJobNotFound):
		return nil, err
	}

	wb, err := workbook.Read(meta.Filename, data)
	if err != nil {
		return a, err
	}
	a.Format = wb.Format

	specs, err := p.mapping.Sheets(meta.Category)
	if err != nil {
		return a, err
	}
	for _, spec := range specs {
		rep := SheetReport{Kind: spec.Kind, Table: spec.Dest.Name, HeaderRow: -1}
		sheet, err := wb.Sheet(spec.Layout)
		if err != nil {
			rep.Missing = errors.Is(err, workbook.ErrSheetNotFound)
			rep.Problem = err.Error()
			a.Sheets = append(a.Sheets, rep)
			continue
		}
		rep.Name = sheet.Name
		rep.HeaderRow = sheet.HeaderRow
		rep.LowConfidence = sheet.LowConfidence

		binding := spec.Bind(sheet.Name, sheet.Headers())
		rep.Unmapped = binding.Unmapped()
		for {
			row, err := sheet.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return a, err
			}
			rec, err := binding.Map(row)
			switch {
			case err != nil:
				rep.Invalid++
			case rec == nil:
				rep.Skipped++
			default:
				rep.Rows++
			}
		}
		rep.Skipped += sheet.Skipped()
		a.Sheets = append(a.Sheets, rep)
	}
	return a, nil
}
