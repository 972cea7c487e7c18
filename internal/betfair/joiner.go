package betfair

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"rpscrape/internal/fetcher"
	"rpscrape/internal/race"
)

// columns maps output field names to Betfair price file headers.
var columns = map[string]string{
	"bsp":         "BSP",
	"wap":         "PPWAP",
	"morning_wap": "MORNINGWAP",
	"pre_min":     "PPMIN",
	"pre_max":     "PPMAX",
	"ip_min":      "IPMIN",
	"ip_max":      "IPMAX",
	"morning_vol": "MORNINGTRADEDVOL",
	"pre_vol":     "PPTRADEDVOL",
	"ip_vol":      "IPTRADEDVOL",
}

// fileRegions maps results-site regions to price file regions.
var fileRegions = map[string]string{
	"gb":  "uk",
	"ire": "ire",
}

// Joiner downloads Betfair win-market price files for every (date, region)
// appearing in a URL set.
type Joiner struct {
	fetcher     fetcher.Fetcher
	baseURL     string
	fields      []string
	regionOf    func(courseID string) string
	concurrency int
	logger      *slog.Logger
}

// NewJoiner builds a joiner. fields are the configured betfair columns.
func NewJoiner(f fetcher.Fetcher, baseURL string, fields []string, regionOf func(string) string, logger *slog.Logger) *Joiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Joiner{
		fetcher:     f,
		baseURL:     strings.TrimRight(baseURL, "/"),
		fields:      fields,
		regionOf:    regionOf,
		concurrency: 4,
		logger:      logger,
	}
}

type priceFile struct {
	date   string
	region string
}

func (p priceFile) url(base string) (string, error) {
	t, err := time.Parse("2006-01-02", p.date)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/dwbfprices%swin%s.csv", base, fileRegions[p.region], t.Format("02012006")), nil
}

// Build fetches and indexes the price files for urls. Individual files that
// fail are logged and skipped; Build fails only when nothing could be loaded.
func (j *Joiner) Build(ctx context.Context, urls []string) (*Dataset, error) {
	files := j.filesFor(urls)
	if len(files) == 0 {
		return NewDataset(j.fields, nil), nil
	}

	results := make([][]Row, len(files))
	failures := make([]error, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.concurrency)
	for i, pf := range files {
		i, pf := i, pf
		g.Go(func() error {
			rows, err := j.load(gctx, pf)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				j.logger.Warn("betfair price file failed", "date", pf.date, "region", pf.region, "error", err)
				failures[i] = err
				return nil
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var rows []Row
	loaded := 0
	for i := range files {
		if failures[i] == nil {
			loaded++
		}
		rows = append(rows, results[i]...)
	}
	if loaded == 0 {
		return nil, fmt.Errorf("no betfair price files loaded: %w", errors.Join(failures...))
	}
	return NewDataset(j.fields, rows), nil
}

func (j *Joiner) filesFor(urls []string) []priceFile {
	seen := make(map[priceFile]struct{})
	var files []priceFile
	for _, u := range urls {
		ref, err := race.ParseURL(u)
		if err != nil {
			continue
		}
		region := j.regionOf(ref.CourseID)
		if _, ok := fileRegions[region]; !ok {
			continue
		}
		pf := priceFile{date: ref.Date, region: region}
		if _, dup := seen[pf]; dup {
			continue
		}
		seen[pf] = struct{}{}
		files = append(files, pf)
	}
	sort.Slice(files, func(a, b int) bool {
		if files[a].date != files[b].date {
			return files[a].date < files[b].date
		}
		return files[a].region < files[b].region
	})
	return files
}

func (j *Joiner) load(ctx context.Context, pf priceFile) ([]Row, error) {
	target, err := pf.url(j.baseURL)
	if err != nil {
		return nil, err
	}
	page, err := j.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return ParsePrices(bytes.NewReader(page.Body), pf.region, j.fields)
}

// ParsePrices reads a Betfair price CSV into rows for region, keeping fields.
func ParsePrices(r io.Reader, region string, fields []string) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read price header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToUpper(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"EVENT_DT", "SELECTION_NAME"} {
		if _, ok := pos[required]; !ok {
			return nil, fmt.Errorf("price file missing %s column", required)
		}
	}
	get := func(rec []string, col string) string {
		i, ok := pos[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var rows []Row
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read price row: %w", err)
		}
		date, off, ok := splitEventTime(get(rec, "EVENT_DT"))
		if !ok {
			continue
		}
		values := make(map[string]string, len(fields))
		for _, f := range fields {
			if col, ok := columns[f]; ok {
				values[f] = get(rec, col)
			}
		}
		rows = append(rows, Row{
			Date:   date,
			Region: region,
			Off:    off,
			Horse:  get(rec, "SELECTION_NAME"),
			Values: values,
		})
	}
	return rows, nil
}

var eventLayouts = []string{"02-01-2006 15:04", "02-01-2006 15:04:05", "2006-01-02 15:04", "2006-01-02 15:04:05"}

func splitEventTime(v string) (string, string, bool) {
	for _, layout := range eventLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02"), t.Format("15:04"), true
		}
	}
	return "", "", false
}
