package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"rpscrape/internal/betfair"
	"rpscrape/internal/config"
	"rpscrape/internal/failurelog"
	"rpscrape/internal/fetcher"
	"rpscrape/internal/metrics"
	"rpscrape/internal/output"
	"rpscrape/internal/race"
	"rpscrape/internal/storage"
)

// BetfairDir is the data subdirectory holding side dataset artifacts.
const BetfairDir = "betfair"

// SideJoiner builds the price dataset for a URL set.
type SideJoiner interface {
	Build(ctx context.Context, urls []string) (*betfair.Dataset, error)
}

// Request describes one scrape run.
type Request struct {
	URLs       []string
	Workers    int
	Discipline race.Discipline
	Folder     string
	FileName   string
	// Betfair asks for price enrichment; it also requires betfair_data.
	Betfair bool
}

// Summary reports what a run produced.
type Summary struct {
	RunID       string
	Jobs        int
	Workers     int
	Rows        int
	Outcomes    map[Outcome]int
	OutputPath  string
	BetfairPath string
	FailureLog  string
	Duration    time.Duration
}

// Failed counts jobs that were written to the failure log.
func (s Summary) Failed() int {
	return s.Outcomes[OutcomeFetchFailure] + s.Outcomes[OutcomeParseFailure]
}

// Deps are the collaborators a Pipeline runs with. Joiner, Store and Metrics
// are optional.
type Deps struct {
	Fetcher   fetcher.Fetcher
	Extractor race.Extractor
	Joiner    SideJoiner
	Store     storage.JobStore
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Pipeline fetches race pages concurrently and writes their records in input
// order.
type Pipeline struct {
	cfg    config.Config
	deps   Deps
	opener output.Opener
	header []string
	logger *slog.Logger
}

// NewPipeline builds a pipeline for cfg.
func NewPipeline(cfg config.Config, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		opener: output.NewOpener(cfg.GzipOutput),
		header: cfg.Header(true),
		logger: logger,
	}
}

// OutputDir is the directory a request writes its table and failure log to.
func (p *Pipeline) OutputDir(req Request) string {
	return filepath.Join(p.cfg.DataDir, req.Folder, req.Discipline.Dir())
}

// Run scrapes req.URLs. Job-level failures never abort the run; an error is
// returned only when the output cannot be written or ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, req Request) (Summary, error) {
	start := time.Now()
	summary := Summary{
		RunID:    uuid.NewString(),
		Jobs:     len(req.URLs),
		Outcomes: make(map[Outcome]int),
	}
	if len(req.URLs) == 0 {
		p.logger.Info("no races to scrape", "folder", req.Folder, "file", req.FileName)
		return summary, nil
	}
	workers := ClampWorkers(req.Workers)
	summary.Workers = workers
	outDir := p.OutputDir(req)
	logger := p.logger.With("run_id", summary.RunID, "folder", req.Folder, "file", req.FileName)

	var enrich race.Enricher
	if req.Betfair && p.cfg.BetfairData && p.deps.Joiner != nil {
		ds, path, err := p.buildSideDataset(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			logger.Warn("betfair data unavailable, continuing without it", "error", err)
		} else {
			enrich = ds
			summary.BetfairPath = path
		}
	}

	failures := failurelog.New(filepath.Join(outDir, failurelog.FileName))
	worker := NewWorker(WorkerOptions{
		Fetcher:    p.deps.Fetcher,
		Extractor:  p.deps.Extractor,
		Enrich:     enrich,
		Discipline: req.Discipline,
		Failures:   failures,
		Metrics:    p.deps.Metrics,
		Logger:     logger,
		Total:      len(req.URLs),
	})

	logger.Info("scraping races", "races", len(req.URLs), "workers", workers)
	batches, err := p.dispatch(ctx, worker, req.URLs, workers)
	if err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("run cancelled, output not written", "error", err)
		return summary, err
	}

	sort.Slice(batches, func(i, j int) bool { return batches[i].Index < batches[j].Index })
	var rows [][]string
	for _, b := range batches {
		summary.Outcomes[b.Outcome]++
		for _, rec := range b.Records {
			rows = append(rows, rec)
		}
	}

	path := filepath.Join(outDir, req.FileName+"."+p.opener.Extension())
	if err := p.write(path, rows); err != nil {
		return summary, err
	}
	summary.Rows = len(rows)
	summary.OutputPath = path
	summary.Duration = time.Since(start)
	if summary.Failed() > 0 {
		summary.FailureLog = failures.Path()
	}
	p.deps.Metrics.AddRows(len(rows))
	p.persist(ctx, summary.RunID, batches)

	logger.Info("finished scraping",
		"path", path,
		"rows", summary.Rows,
		"failed", summary.Failed(),
		"void", summary.Outcomes[OutcomeVoid],
		"skipped", summary.Outcomes[OutcomeFilterMismatch],
		"duration", summary.Duration,
	)
	return summary, nil
}

func (p *Pipeline) dispatch(ctx context.Context, w *Worker, urls []string, workers int) ([]Batch, error) {
	pool, err := NewWorkerPool(ctx, workers, len(urls))
	if err != nil {
		return nil, err
	}
	results := make(chan Batch, len(urls))
	for i, u := range urls {
		job := Job{Index: i + 1, URL: u}
		if err := pool.Submit(ctx, func(wctx context.Context) {
			results <- w.Process(wctx, job)
		}); err != nil {
			results <- Batch{Index: job.Index, URL: job.URL, Outcome: OutcomeCancelled, Err: err}
		}
	}
	pool.Close()
	close(results)

	batches := make([]Batch, 0, len(urls))
	for b := range results {
		batches = append(batches, b)
	}
	return batches, nil
}

func (p *Pipeline) write(path string, rows [][]string) (err error) {
	w, err := p.opener.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", path, cerr))
		}
	}()
	if err := output.WriteTable(w, p.header, rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (p *Pipeline) buildSideDataset(ctx context.Context, req Request) (*betfair.Dataset, string, error) {
	ds, err := p.deps.Joiner.Build(ctx, req.URLs)
	if err != nil {
		return nil, "", err
	}
	if ds == nil {
		return nil, "", errors.New("betfair joiner returned no dataset")
	}
	path := filepath.Join(p.cfg.DataDir, BetfairDir, req.Folder, req.Discipline.Dir(), req.FileName+"."+p.opener.Extension())
	w, err := p.opener.Open(path)
	if err != nil {
		return nil, "", err
	}
	werr := ds.WriteCSV(w)
	if cerr := w.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		p.logger.Warn("failed to write betfair data", "path", path, "error", werr)
		return ds, "", nil
	}
	p.logger.Info("betfair data written", "path", path, "rows", ds.Len())
	return ds, path, nil
}

func (p *Pipeline) persist(ctx context.Context, runID string, batches []Batch) {
	if p.deps.Store == nil {
		return
	}
	now := time.Now().UTC()
	jobs := make([]storage.JobRecord, 0, len(batches))
	for _, b := range batches {
		rec := storage.JobRecord{
			RunID:      runID,
			Index:      b.Index,
			URL:        b.URL,
			Outcome:    string(b.Outcome),
			Rows:       len(b.Records),
			FinishedAt: now,
		}
		if b.Err != nil {
			rec.Error = b.Err.Error()
		}
		jobs = append(jobs, rec)
	}
	if err := p.deps.Store.SaveJobs(ctx, jobs); err != nil {
		p.logger.Error("failed to record job outcomes", "run_id", runID, "error", err)
	}
}
