package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"ClaimSync/internal/metadata"
	"ClaimSync/internal/tracker"
)

// ImportDir imports every matching file directly under dir, up to
// FileWorkers files at a time. Per-file failures are reported in the results
// and never stop the other files.
func (p *Pipeline) ImportDir(ctx context.Context, dir string, f Filter, mode tracker.Mode) ([]Result, error) {
	paths, err := p.scan(dir, f)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		p.log.Debugf("no files to import in %s", dir)
		return nil, nil
	}

	results := make([]Result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.FileWorkers)
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = Result{Path: path, Err: err}
				return nil
			}
			job, err := p.ImportFile(gctx, path, mode)
			if errors.Is(err, tracker.ErrAlreadyCompleted) {
				results[i] = Result{Path: path, Job: job, Unchanged: true}
				return nil
			}
			results[i] = Result{Path: path, Job: job, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	imported := 0
	for _, r := range results {
		if !r.Unchanged && !r.Failed() {
			imported++
		}
	}
	p.log.Infof("directory %s: %d files, %d imported", dir, len(results), imported)
	return results, ctx.Err()
}

// scan lists candidate files in name order. Names that are not report files
// are logged and left alone.
func (p *Pipeline) scan(dir string, f Filter) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		meta, err := metadata.Parse(e.Name())
		if err != nil {
			p.log.Debugf("skipping %s: %v", e.Name(), err)
			continue
		}
		if f.match(meta) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
