// Package discovery resolves dates and courses to race result URLs.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"rpscrape/internal/config"
	"rpscrape/internal/fetcher"
	"rpscrape/internal/metrics"
	"rpscrape/internal/race"
)

// ErrUnknownRegion is returned when no courses are configured for a region.
var ErrUnknownRegion = errors.New("no courses configured for region")

const courseLinkSelector = `a[data-test-selector="link-listCourseNameLink"]`

// Service lists race URLs from the results site.
type Service struct {
	fetcher   fetcher.Fetcher
	cfg       config.Config
	site      string
	courseAPI string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewService builds a discovery service using cfg's endpoints and courses.
func NewService(f fetcher.Fetcher, cfg config.Config, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher:   f,
		cfg:       cfg,
		site:      strings.TrimRight(cfg.Endpoints.Site, "/"),
		courseAPI: strings.TrimRight(cfg.Endpoints.CourseResults, "/"),
		metrics:   m,
		logger:    logger,
	}
}

// ByDate lists the results of every configured course in region racing on
// dates. A date whose listing cannot be fetched or parsed is skipped.
func (s *Service) ByDate(ctx context.Context, dates []time.Time, region string) ([]string, error) {
	courses := s.cfg.CoursesFor(region)
	if len(courses) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRegion, region)
	}
	ids := make(map[string]struct{}, len(courses))
	for _, c := range courses {
		ids[c.ID] = struct{}{}
	}

	urls := make(map[string]struct{})
	for _, d := range dates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listing := fmt.Sprintf("%s/results/%s", s.site, d.Format("2006-01-02"))
		hrefs, err := s.courseLinks(ctx, listing)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("failed to list races for date", "date", d.Format("2006-01-02"), "url", listing, "error", err)
			continue
		}
		for _, href := range hrefs {
			parts := strings.Split(href, "/")
			if len(parts) < 3 {
				continue
			}
			if _, ok := ids[parts[2]]; !ok {
				continue
			}
			urls[s.site+href] = struct{}{}
		}
	}
	return s.finish(urls), nil
}

func (s *Service) courseLinks(ctx context.Context, listing string) ([]string, error) {
	page, err := s.fetcher.Fetch(ctx, listing)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	var hrefs []string
	doc.Find(courseLinkSelector).Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, strings.TrimSpace(href))
		}
	})
	return hrefs, nil
}

type courseListing struct {
	Data struct {
		PrincipleRaceResults []struct {
			RaceDatetime    string          `json:"raceDatetime"`
			RaceInstanceUID json.RawMessage `json:"raceInstanceUid"`
		} `json:"principleRaceResults"`
	} `json:"data"`
}

// ByCourse lists every race run at courses in years for discipline d, which
// must be flat or jumps. A course/year whose listing fails is skipped.
func (s *Service) ByCourse(ctx context.Context, courses []config.Course, years []string, d race.Discipline) ([]string, error) {
	if d == race.DisciplineAll {
		return nil, errors.New("course listings require the flat or jumps discipline")
	}
	urls := make(map[string]struct{})
	for _, c := range courses {
		for _, year := range years {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			listing := fmt.Sprintf("%s/%s/%s/%s/all-races", s.courseAPI, c.ID, year, d)
			found, err := s.courseRaces(ctx, listing, c)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Warn("failed to list races for course", "course", c.Name, "year", year, "url", listing, "error", err)
				continue
			}
			for _, u := range found {
				urls[u] = struct{}{}
			}
		}
	}
	return s.finish(urls), nil
}

func (s *Service) courseRaces(ctx context.Context, listing string, c config.Course) ([]string, error) {
	page, err := s.fetcher.Fetch(ctx, listing)
	if err != nil {
		return nil, err
	}
	var body courseListing
	if err := json.Unmarshal(page.Body, &body); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	var urls []string
	for _, r := range body.Data.PrincipleRaceResults {
		uid := strings.Trim(string(r.RaceInstanceUID), `"`)
		if len(r.RaceDatetime) < 10 || uid == "" || uid == "null" {
			continue
		}
		u := fmt.Sprintf("%s/results/%s/%s/%s/%s", s.site, c.ID, c.Name, r.RaceDatetime[:10], uid)
		u = strings.ReplaceAll(u, " ", "-")
		u = strings.ReplaceAll(u, "'", "")
		urls = append(urls, u)
	}
	return urls, nil
}

func (s *Service) finish(set map[string]struct{}) []string {
	urls := make([]string, 0, len(set))
	for u := range set {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	s.metrics.AddDiscovered(len(urls))
	return urls
}
