package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rpscrape/internal/fetcher"
	"rpscrape/internal/metrics"
	"rpscrape/internal/race"
)

var (
	// ErrFetch wraps network and transport failures.
	ErrFetch = errors.New("fetch failure")
	// ErrParse wraps documents the extractor could not read.
	ErrParse = errors.New("parse failure")
	// ErrFilterMismatch marks races outside the requested discipline.
	ErrFilterMismatch = errors.New("discipline mismatch")
)

// Outcome classifies how a job ended.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeFetchFailure   Outcome = "fetch_failure"
	OutcomeParseFailure   Outcome = "parse_failure"
	OutcomeVoid           Outcome = "void"
	OutcomeFilterMismatch Outcome = "filter_mismatch"
	OutcomeCancelled      Outcome = "cancelled"
)

// Job is one race URL with its 1-based position in the input sequence.
type Job struct {
	Index int
	URL   string
}

// Batch is the result of one job. Records is empty for every outcome but OK.
type Batch struct {
	Index   int
	URL     string
	Records []race.Record
	Outcome Outcome
	Err     error
}

// FailureRecorder receives the URLs of jobs that failed to fetch or parse.
type FailureRecorder interface {
	Append(rawURL string) error
}

// Worker fetches and extracts one race. Its side dataset access is fixed at
// construction and read-only.
type Worker struct {
	fetcher    fetcher.Fetcher
	extractor  race.Extractor
	enrich     race.Enricher
	discipline race.Discipline
	failures   FailureRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	total      int
}

// WorkerOptions configures a Worker. Enrich, Failures and Metrics are optional.
type WorkerOptions struct {
	Fetcher    fetcher.Fetcher
	Extractor  race.Extractor
	Enrich     race.Enricher
	Discipline race.Discipline
	Failures   FailureRecorder
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Total      int
}

// NewWorker builds a worker from opts.
func NewWorker(opts WorkerOptions) *Worker {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		fetcher:    opts.Fetcher,
		extractor:  opts.Extractor,
		enrich:     opts.Enrich,
		discipline: opts.Discipline,
		failures:   opts.Failures,
		metrics:    opts.Metrics,
		logger:     logger,
		total:      opts.Total,
	}
}

// Process runs one job. It never fails: every error degrades the job to an
// empty batch with a logged diagnostic.
func (w *Worker) Process(ctx context.Context, job Job) (batch Batch) {
	batch = Batch{Index: job.Index, URL: job.URL}
	logger := w.logger.With("job", fmt.Sprintf("%d/%d", job.Index, w.total), "url", job.URL)

	defer func() {
		if r := recover(); r != nil {
			batch.Records = nil
			batch.Outcome = OutcomeParseFailure
			batch.Err = fmt.Errorf("%w: panic: %v", ErrParse, r)
			logger.Error("failed to parse race", "error", batch.Err)
			w.recordFailure(logger, job.URL)
		}
		w.metrics.ObserveJob(string(batch.Outcome))
	}()

	if err := ctx.Err(); err != nil {
		batch.Outcome = OutcomeCancelled
		batch.Err = err
		return batch
	}

	logger.Info("fetching race")
	start := time.Now()
	page, err := w.fetcher.Fetch(ctx, job.URL)
	w.metrics.ObserveFetch(time.Since(start), err)
	if err != nil {
		if ctx.Err() != nil {
			batch.Outcome = OutcomeCancelled
			batch.Err = ctx.Err()
			return batch
		}
		batch.Outcome = OutcomeFetchFailure
		batch.Err = fmt.Errorf("%w: %v", ErrFetch, err)
		logger.Warn("request failed", "error", err)
		w.recordFailure(logger, job.URL)
		return batch
	}

	parsed, err := w.extractor.Extract(job.URL, page.Body, w.enrich)
	switch {
	case errors.Is(err, race.ErrVoidRace):
		batch.Outcome = OutcomeVoid
		batch.Err = err
		logger.Info("skipping void race")
		return batch
	case err != nil:
		batch.Outcome = OutcomeParseFailure
		batch.Err = fmt.Errorf("%w: %v", ErrParse, err)
		logger.Warn("failed to parse race", "error", err)
		w.recordFailure(logger, job.URL)
		return batch
	}

	if !w.discipline.Accepts(parsed.Info.Type) {
		batch.Outcome = OutcomeFilterMismatch
		batch.Err = fmt.Errorf("%w: %s race under %s", ErrFilterMismatch, parsed.Info.Type, w.discipline)
		logger.Info("skipping race", "type", parsed.Info.Type, "discipline", w.discipline.String())
		return batch
	}

	batch.Records = parsed.Records
	batch.Outcome = OutcomeOK
	logger.Info("race scraped", "runners", len(parsed.Records))
	return batch
}

func (w *Worker) recordFailure(logger *slog.Logger, rawURL string) {
	if w.failures == nil {
		return
	}
	if err := w.failures.Append(rawURL); err != nil {
		logger.Error("failure log append failed", "error", err)
	}
}
