package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"ClaimSync/internal/importer"
	"ClaimSync/internal/models"
	"ClaimSync/internal/reconcile"
	"ClaimSync/internal/store"
	"ClaimSync/internal/tracker"
)

var categoryFlag = &cli.StringSliceFlag{
	Name:  "category",
	Usage: "limit to a report category (repeatable)",
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "import report files",
		ArgsUsage: "<path>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Usage: "import every report file in this directory"},
			categoryFlag,
			&cli.StringFlag{Name: "glob", Usage: "only files whose name matches this pattern"},
			&cli.BoolFlag{Name: "analyze", Usage: "report what would be imported without writing"},
			&cli.BoolFlag{Name: "watch", Usage: "skip files already imported with the same content"},
		},
		Action: runImport,
	}
}

func runImport(c *cli.Context) error {
	if c.Bool("analyze") {
		return runAnalyze(c)
	}
	if c.Args().Len() == 0 && !c.IsSet("dir") {
		return cli.Exit("give at least one file or --dir", 2)
	}
	categories, err := parseCategories(c.StringSlice("category"))
	if err != nil {
		return err
	}
	mode := tracker.ModeExplicit
	if c.Bool("watch") {
		mode = tracker.ModeWatch
	}

	e, err := newEnv(c.Context, true)
	if err != nil {
		return err
	}
	defer e.close()

	var results []importer.Result
	for _, path := range c.Args().Slice() {
		job, err := e.pipeline.ImportFile(c.Context, path, mode)
		results = append(results, importer.Result{Path: path, Job: job, Err: err, Unchanged: errors.Is(err, tracker.ErrAlreadyCompleted)})
	}
	if dir := c.String("dir"); dir != "" {
		dirResults, err := e.pipeline.ImportDir(c.Context, dir, importer.Filter{Categories: categories, Glob: c.String("glob")}, mode)
		results = append(results, dirResults...)
		if err != nil {
			return err
		}
	}

	printResults(results)
	return importExit(results)
}

// importExit exits 1 when any file ended failed. Unchanged files count as
// success.
func importExit(results []importer.Result) error {
	failed := 0
	for _, r := range results {
		if !r.Unchanged && r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d files failed", failed, len(results)), 1)
	}
	return nil
}

func printResults(results []importer.Result) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"File", "Status", "Imported", "Failed", "Skipped", "Notes"})
	table.SetAutoFormatHeaders(false)
	for _, r := range results {
		row := []string{r.Path, "", "", "", "", ""}
		if r.Job != nil {
			row[1] = string(r.Job.Status)
			row[2] = strconv.Itoa(r.Job.ImportedRows)
			row[3] = strconv.Itoa(r.Job.FailedRows)
			row[4] = strconv.Itoa(r.Job.SkippedRows)
			row[5] = strings.Join(r.Job.Warnings, "; ")
		}
		switch {
		case r.Unchanged:
			row[1], row[5] = "unchanged", "already imported"
		case r.Err != nil:
			if row[1] == "" {
				row[1] = "error"
			}
			row[5] = r.Err.Error()
		}
		table.Append(row)
	}
	table.Render()
}

func analyzeCommand() *cli.Command {
	return &cli.Command{
		Name:      "analyze",
		Usage:     "dry run: detected category, date, sheets and row counts",
		ArgsUsage: "<path>...",
		Action:    runAnalyze,
	}
}

func runAnalyze(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return cli.Exit("give at least one file", 2)
	}
	e, err := newEnv(c.Context, false)
	if err != nil {
		return err
	}
	defer e.close()

	var failed int
	for _, path := range c.Args().Slice() {
		a, err := e.pipeline.Analyze(c.Context, path)
		if a != nil {
			printAnalysis(a)
		}
		if err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
		}
	}
	if failed > 0 {
		return cli.Exit("", 1)
	}
	return nil
}

func printAnalysis(a *importer.Analysis) {
	fmt.Printf("%s\n  facility %s, category %s, report date %s, sequence %s, format %s\n",
		a.Meta.Filename, a.Meta.FacilityCode, a.Meta.Category, a.Meta.ReportDate.Format("2006-01-02"), a.Meta.SequenceID, a.Format)
	if a.Job != nil {
		state := "content changed"
		if a.Unchanged {
			state = "same content"
		}
		fmt.Printf("  existing job: %s, attempt %d, %s\n", a.Job.Status, a.Job.Attempts, state)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Kind", "Sheet", "Table", "Header row", "Rows", "Invalid", "Skipped", "Unmapped"})
	table.SetAutoFormatHeaders(false)
	for _, s := range a.Sheets {
		if s.Missing {
			table.Append([]string{s.Kind, "-", string(s.Table), "", "", "", "", ""})
			continue
		}
		header := strconv.Itoa(s.HeaderRow + 1)
		if s.LowConfidence {
			header += " (fallback)"
		}
		if s.Problem != "" {
			header = s.Problem
		}
		table.Append([]string{
			s.Kind, s.Name, string(s.Table), header,
			strconv.Itoa(s.Rows), strconv.Itoa(s.Invalid), strconv.Itoa(s.Skipped), strings.Join(s.Unmapped, ", "),
		})
	}
	table.Render()
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "show import jobs, the latest ones when no filename is given",
		ArgsUsage: "[filename]...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20, Usage: "how many recent jobs to list"},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c.Context, false)
			if err != nil {
				return err
			}
			defer e.close()

			var jobs []*models.ImportJob
			if c.Args().Len() == 0 {
				if jobs, err = e.store.ListJobs(c.Context, c.Int("limit")); err != nil {
					return err
				}
			}
			for _, name := range c.Args().Slice() {
				job, err := e.pipeline.Tracker().Status(c.Context, name)
				if errors.Is(err, models.ErrJobNotFound) {
					return cli.Exit("no import job for "+name, 1)
				}
				if err != nil {
					return err
				}
				jobs = append(jobs, job)
			}
			printJobs(jobs)
			return nil
		},
	}
}

func printJobs(jobs []*models.ImportJob) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"File", "Category", "Status", "Total", "Imported", "Failed", "Attempts", "Updated", "Error"})
	table.SetAutoFormatHeaders(false)
	for _, j := range jobs {
		detail := j.ErrorDetail
		if i := strings.IndexByte(detail, '\n'); i >= 0 {
			detail = detail[:i] + " ..."
		}
		table.Append([]string{
			j.Filename, string(j.Category), string(j.Status),
			strconv.Itoa(j.TotalRows), strconv.Itoa(j.ImportedRows), strconv.Itoa(j.FailedRows),
			strconv.Itoa(j.Attempts), j.UpdatedAt.Local().Format("2006-01-02 15:04:05"), detail,
		})
	}
	table.Render()
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "match loaded claims against statements or the HIS",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Usage: "statement or his (default from Reconcile.source)"},
			categoryFlag,
			&cli.StringFlag{Name: "threshold", Usage: "largest amount difference still counted as matched"},
			&cli.StringFlag{Name: "report", Usage: "write every verdict to this parquet file"},
			&cli.BoolFlag{Name: "recheck", Usage: "also re-evaluate matched claims"},
		},
		Action: func(c *cli.Context) error {
			categories, err := parseCategories(c.StringSlice("category"))
			if err != nil {
				return err
			}
			e, err := newEnv(c.Context, true)
			if err != nil {
				return err
			}
			defer e.close()

			m, err := e.matcher(c.String("source"))
			if err != nil {
				return err
			}
			opts, err := e.reconcileOptions(categories, c.String("threshold"), c.Bool("recheck"), c.String("report"))
			if err != nil {
				return err
			}
			sum, err := m.Run(c.Context, opts)
			if err != nil {
				return err
			}
			printSummary(sum)
			return nil
		},
	}
}

func printSummary(sum reconcile.Summary) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Source", "Candidates", "Matched", "Mismatched", "Pending", "Manual", "Unchanged", "Retries"})
	table.SetAutoFormatHeaders(false)
	table.Append([]string{
		sum.Source, strconv.Itoa(sum.Candidates), strconv.Itoa(sum.Matched), strconv.Itoa(sum.Mismatched),
		strconv.Itoa(sum.Pending), strconv.Itoa(sum.Manual), strconv.Itoa(sum.Unchanged), strconv.Itoa(sum.Retries),
	})
	table.Render()
}

func manualCommand() *cli.Command {
	return &cli.Command{
		Name:      "manual",
		Usage:     "mark a claim as manually reconciled; the matcher leaves it alone afterwards",
		ArgsUsage: "<claim id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "table", Value: string(models.TableClaims), Usage: "claims or referral_claims"},
			&cli.StringFlag{Name: "note", Required: true},
		},
		Action: func(c *cli.Context) error {
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return cli.Exit("claim id must be a number", 2)
			}
			e, err := newEnv(c.Context, true)
			if err != nil {
				return err
			}
			defer e.close()

			table := models.Table(c.String("table"))
			if err := e.store.SetManual(c.Context, table, id, c.String("note")); err != nil {
				return err
			}
			e.audit.LogAudit(fmt.Sprintf("claim %s/%d set to manual: %s", table, id, c.String("note")))
			fmt.Printf("%s/%d marked manual\n", table, id)
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: func(c *cli.Context) error {
			e, err := newEnvNoDB()
			if err != nil {
				return err
			}
			return store.Migrate(e.settings.Database.DSN(), e.log.Child("migrate"))
		},
	}
}

func parseCategories(values []string) ([]models.Category, error) {
	var out []models.Category
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			c := models.Category(strings.TrimSpace(part))
			if c == "" {
				continue
			}
			if !c.Valid() {
				return nil, fmt.Errorf("unknown category %q", c)
			}
			out = append(out, c)
		}
	}
	return out, nil
}
