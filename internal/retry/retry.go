// Package retry re-runs the dates named in a failure log.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"rpscrape/internal/crawler"
	"rpscrape/internal/failurelog"
	"rpscrape/internal/metrics"
	"rpscrape/internal/race"
)

var (
	// ErrNotFound is returned when the failure log does not exist.
	ErrNotFound = errors.New("failure log not found")
	// ErrConfig is returned when the region cannot be determined.
	ErrConfig = errors.New("region could not be inferred; provide one explicitly")
)

// BackupSuffix is appended to the log path for the pre-retry copy.
const BackupSuffix = ".bak"

// Runner scrapes one YYYY-MM-DD date for a region.
type Runner interface {
	RunDate(ctx context.Context, date, region string, d race.Discipline, workers int) error
}

// Options describes one retry pass.
type Options struct {
	LogPath string
	// Region overrides the region inferred from LogPath.
	Region string
	// Discipline overrides the discipline inferred from LogPath.
	Discipline race.Discipline
	Workers    int
}

// Report lists what a retry pass did.
type Report struct {
	LogPath    string
	BackupPath string
	Region     string
	Discipline race.Discipline
	Dates      []string
	Failed     map[string]error
}

// Retried counts the dates that ran without error.
func (r Report) Retried() int {
	return len(r.Dates) - len(r.Failed)
}

// Err joins the per-date failures, nil when every date ran.
func (r Report) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, d := range r.Dates {
		if err, ok := r.Failed[d]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", d, err))
		}
	}
	return errors.Join(errs...)
}

// Driver backs up and truncates a failure log, then re-runs each date in it.
type Driver struct {
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDriver builds a driver that re-runs dates through runner.
func NewDriver(runner Runner, m *metrics.Metrics, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{runner: runner, metrics: m, logger: logger}
}

// Resolve checks that opts.LogPath exists and settles the region and
// discipline a retry of it would use. It does not touch the log.
func Resolve(opts Options) (Report, error) {
	path, err := filepath.Abs(opts.LogPath)
	if err != nil {
		return Report{}, fmt.Errorf("resolve log path: %w", err)
	}
	report := Report{LogPath: path, Failed: make(map[string]error)}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return report, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	region, discipline := inferScope(path)
	if r := strings.ToLower(strings.TrimSpace(opts.Region)); r != "" {
		region = r
	}
	if opts.Discipline != race.DisciplineAll {
		discipline = opts.Discipline
	}
	if region == "" {
		return report, ErrConfig
	}
	report.Region = region
	report.Discipline = discipline
	return report, nil
}

// Retry processes opts.LogPath. ErrNotFound and ErrConfig are returned before
// the log is touched. Individual date failures do not stop the pass; they are
// collected in the report.
func (d *Driver) Retry(ctx context.Context, opts Options) (Report, error) {
	report, err := Resolve(opts)
	if err != nil {
		return report, err
	}
	path, region, discipline := report.LogPath, report.Region, report.Discipline

	fh, err := os.Open(path)
	if err != nil {
		return report, fmt.Errorf("open failure log: %w", err)
	}
	dates, err := failurelog.Dates(fh)
	_ = fh.Close()
	if err != nil {
		return report, err
	}
	report.Dates = dates
	if len(dates) == 0 {
		d.logger.Info("no dates found in log; nothing to retry", "log", path)
		return report, nil
	}

	backup := path + BackupSuffix
	if err := copyFile(path, backup); err != nil {
		return report, fmt.Errorf("back up failure log: %w", err)
	}
	report.BackupPath = backup
	d.logger.Info("backed up failure log", "backup", backup)

	if err := os.Truncate(path, 0); err != nil {
		return report, fmt.Errorf("truncate failure log: %w", err)
	}

	workers := crawler.ClampWorkers(opts.Workers)
	for _, date := range dates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		d.logger.Info("retrying date", "date", date, "region", region, "discipline", discipline.String())
		err := d.runner.RunDate(ctx, date, region, discipline, workers)
		d.metrics.ObserveRetryDate(err)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			d.logger.Error("retry failed for date", "date", date, "error", err)
			report.Failed[date] = err
		}
	}
	d.logger.Info("retry complete; remaining failures are in the log",
		"log", path, "dates", len(dates), "failed", len(report.Failed))
	return report, nil
}

// inferScope reads the region and discipline from a path laid out as
// .../dates/<region>/<discipline>/failed.log.
func inferScope(path string) (string, race.Discipline) {
	parts := strings.Split(filepath.ToSlash(path), "/")
	dirs := parts[:len(parts)-1]
	for i, p := range dirs {
		if p != "dates" {
			continue
		}
		if i+1 >= len(dirs) {
			return "", race.DisciplineAll
		}
		region := strings.ToLower(dirs[i+1])
		var discipline race.Discipline
		if i+2 < len(dirs) {
			if parsed, err := race.ParseDiscipline(dirs[i+2]); err == nil {
				discipline = parsed
			}
		}
		return region, discipline
	}
	return "", race.DisciplineAll
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
