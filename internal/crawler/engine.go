package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"rpscrape/internal/betfair"
	"rpscrape/internal/config"
	"rpscrape/internal/discovery"
	"rpscrape/internal/fetcher"
	"rpscrape/internal/metrics"
	"rpscrape/internal/race"
	robotsclient "rpscrape/internal/robots"
	"rpscrape/internal/storage"
)

// BetfairStart is the first race date price files are fetched for in date
// mode.
var BetfairStart = time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)

// EngineOptions carries process-level collaborators. Both fields are optional.
type EngineOptions struct {
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

// Engine wires discovery, the fetch stack and the pipeline from configuration.
type Engine struct {
	cfg       config.Config
	discovery *discovery.Service
	pipeline  *Pipeline
	metrics   *metrics.Metrics
	logger    *slog.Logger

	closers   []func() error
	closeOnce sync.Once
}

// NewEngine builds an engine from configuration.
func NewEngine(cfg config.Config, opts EngineOptions) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = BuildLogger(cfg.Logging, nil); err != nil {
			return nil, err
		}
	}
	var m *metrics.Metrics
	if opts.Registerer != nil {
		m = metrics.New(opts.Registerer)
	}

	limiter := fetcher.NewHostLimiter(cfg.Crawl.PerHostDelay.Duration, fetcher.RateLimiterSettings{
		Requests: cfg.Crawl.RateLimit.Requests,
		Window:   cfg.Crawl.RateLimit.Window.Duration,
	})
	httpFetcher, err := fetcher.NewHTTPFetcher(fetcher.Options{
		Headers:      fetcher.NewHeaderSource(cfg.Crawl.UserAgents),
		ExtraHeaders: cfg.Crawl.Headers,
		Timeout:      cfg.Crawl.RequestTimeout.Duration,
		MaxBodyBytes: cfg.Crawl.MaxBodyBytes,
		ProxyURL:     cfg.Crawl.ProxyURL,
		Limiter:      limiter,
	})
	if err != nil {
		return nil, fmt.Errorf("http fetcher: %w", err)
	}
	if cfg.Robots.Respect {
		httpFetcher.SetGate(robotsclient.NewAgent(cfg.Robots, httpFetcher.Client(), logger))
	}

	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	var pages fetcher.Fetcher = httpFetcher
	if addr := strings.TrimSpace(cfg.Cache.RedisAddr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect page cache: %w", err)
		}
		cache := fetcher.NewRedisCache(client, cfg.Cache.Prefix, cfg.Cache.TTL.Duration)
		closers = append(closers, cache.Close)
		pages = fetcher.NewCachedFetcher(httpFetcher, cache, logger)
	}

	extractor, err := race.NewHTMLExtractor(cfg.Header(true), cfg.Fields.Group(config.BetfairGroup), cfg.RegionOf)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("extractor: %w", err)
	}

	var store storage.JobStore
	if cfg.DB.Driver != "" && cfg.DB.DSN != "" {
		sqlWriter, err := storage.NewSQLWriter(cfg.DB)
		if err != nil {
			closeAll()
			return nil, err
		}
		store = sqlWriter
		closers = append(closers, sqlWriter.Close)
	}

	joiner := betfair.NewJoiner(httpFetcher, cfg.Endpoints.Betfair, cfg.Fields.EnabledIn(config.BetfairGroup), cfg.RegionOf, logger)
	pipeline := NewPipeline(cfg, Deps{
		Fetcher:   pages,
		Extractor: extractor,
		Joiner:    joiner,
		Store:     store,
		Metrics:   m,
		Logger:    logger,
	})

	return &Engine{
		cfg:       cfg,
		discovery: discovery.NewService(httpFetcher, cfg, m, logger),
		pipeline:  pipeline,
		metrics:   m,
		logger:    logger,
		closers:   closers,
	}, nil
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Metrics returns the engine's metrics, nil when no registerer was given.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// DateQuery selects the races of a region on a set of dates.
type DateQuery struct {
	Dates      []time.Time
	Region     string
	Discipline race.Discipline
	Workers    int
}

// ScrapeDates writes one table per date under dates/<region>. A date that
// fails is reported in the joined error; the remaining dates still run.
func (e *Engine) ScrapeDates(ctx context.Context, q DateQuery) ([]Summary, error) {
	var summaries []Summary
	var errs []error
	for _, d := range q.Dates {
		summary, err := e.ScrapeDate(ctx, d, q.Region, q.Discipline, q.Workers)
		if err != nil {
			if ctx.Err() != nil {
				return summaries, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("%s: %w", d.Format("2006-01-02"), err))
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, errors.Join(errs...)
}

// ScrapeDate discovers and scrapes the races of region on one date.
func (e *Engine) ScrapeDate(ctx context.Context, date time.Time, region string, d race.Discipline, workers int) (Summary, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	urls, err := e.discovery.ByDate(ctx, []time.Time{date}, region)
	if err != nil {
		return Summary{}, err
	}
	day := date.Format("2006-01-02")
	return e.pipeline.Run(ctx, Request{
		URLs:       urls,
		Workers:    workers,
		Discipline: d,
		Folder:     filepath.Join("dates", region),
		FileName:   region + "-" + day,
		Betfair:    !date.Before(BetfairStart),
	})
}

// CourseQuery selects every race at a set of courses over a set of years.
type CourseQuery struct {
	Courses    []config.Course
	Years      []string
	Discipline race.Discipline
	Workers    int
	// Folder is the region code or the single course's name.
	Folder string
	// FileName is the year argument as given, e.g. "2023" or "2020-2023".
	FileName string
}

// ScrapeCourses discovers and scrapes the races described by q into one table.
func (e *Engine) ScrapeCourses(ctx context.Context, q CourseQuery) (Summary, error) {
	urls, err := e.discovery.ByCourse(ctx, q.Courses, q.Years, q.Discipline)
	if err != nil {
		return Summary{}, err
	}
	return e.pipeline.Run(ctx, Request{
		URLs:       urls,
		Workers:    q.Workers,
		Discipline: q.Discipline,
		Folder:     q.Folder,
		FileName:   q.FileName,
		Betfair:    true,
	})
}

// RunDate re-scrapes one YYYY-MM-DD date; it lets the engine drive retries.
func (e *Engine) RunDate(ctx context.Context, date, region string, d race.Discipline, workers int) error {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("invalid date %q: %w", date, err)
	}
	_, err = e.ScrapeDate(ctx, day, region, d, workers)
	return err
}

// Close releases resources owned by the engine.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		var errs []error
		for _, closer := range e.closers {
			if cerr := closer(); cerr != nil {
				errs = append(errs, cerr)
			}
		}
		err = errors.Join(errs...)
	})
	return err
}
