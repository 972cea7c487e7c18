package crawler_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpscrape/internal/config"
	"rpscrape/internal/crawler"
	"rpscrape/internal/race"
	"rpscrape/internal/retry"
)

const resultPage = `<html><body>
<span class="rp-raceTimeCourseName__time">2:05</span>
<a class="rp-raceTimeCourseName__name">Ascot</a>
<h2 class="rp-raceTimeCourseName__title">Ascot Handicap Hurdle</h2>
<table><tbody>
<tr class="rp-horseTable__mainRow">
  <td><span data-test-selector="text-horsePosition">1</span></td>
  <td><a data-test-selector="link-horseName">Fast Lad (IRE)</a></td>
</tr>
<tr class="rp-horseTable__mainRow">
  <td><span data-test-selector="text-horsePosition">2</span>
      <span class="rp-horseTable__pos__length"><span>nk</span></span></td>
  <td><a data-test-selector="link-horseName">Slow Lass</a></td>
</tr>
</tbody></table>
</body></html>`

const priceFile = "EVENT_DT,SELECTION_NAME,BSP\n01-05-2024 14:05,Fast Lad,3.6\n"

// raceSite serves date listings, result pages and price files for Ascot.
type raceSite struct {
	srv          *httptest.Server
	failOnce     string
	failed       atomic.Bool
	priceFetches atomic.Int32
}

func newRaceSite(t *testing.T, failOnce string) *raceSite {
	t.Helper()
	site := &raceSite{failOnce: failOnce}
	listing := func(links ...string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			for _, l := range links {
				fmt.Fprintf(w, `<a data-test-selector="link-listCourseNameLink" href="%s">x</a>`+"\n", l)
			}
		}
	}
	mux := http.NewServeMux()
	mux.Handle("/results/2024-05-01", listing("/results/2/ascot/2024-05-01/111", "/results/2/ascot/2024-05-01/222"))
	mux.Handle("/results/2024-01-31", listing("/results/2/ascot/2024-01-31/333", "/results/99/elsewhere/2024-01-31/444"))
	mux.HandleFunc("/results/2/ascot/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/"+site.failOnce) && site.failed.CompareAndSwap(false, true) {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		_, _ = io.WriteString(w, resultPage)
	})
	mux.HandleFunc("/betfair/", func(w http.ResponseWriter, r *http.Request) {
		site.priceFetches.Add(1)
		if r.URL.Path != "/betfair/dwbfpricesukwin01052024.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, priceFile)
	})
	site.srv = httptest.NewServer(mux)
	t.Cleanup(site.srv.Close)
	return site
}

func newEngine(t *testing.T, site *raceSite) (*crawler.Engine, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.BetfairData = true
	cfg.Endpoints.Site = site.srv.URL
	cfg.Endpoints.Betfair = site.srv.URL + "/betfair"
	cfg.Courses = map[string][]config.Course{"gb": {{ID: "2", Name: "ascot"}}}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine, err := crawler.NewEngine(cfg, crawler.EngineOptions{Logger: logger})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	return engine, dataDir
}

// readTable returns the header and the rows of a written CSV.
func readTable(t *testing.T, path string) ([]string, [][]string) {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	rows := make([][]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		rows = append(rows, strings.Split(l, ","))
	}
	return strings.Split(lines[0], ","), rows
}

func column(t *testing.T, header []string, name string) int {
	t.Helper()
	i := slices.Index(header, name)
	require.GreaterOrEqual(t, i, 0, "column %s", name)
	return i
}

func TestScrapeDateWritesRegionTableWithPrices(t *testing.T) {
	site := newRaceSite(t, "")
	engine, dataDir := newEngine(t, site)

	day := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	summary, err := engine.ScrapeDate(context.Background(), day, " GB ", race.DisciplineAll, 4)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dataDir, "dates", "gb", "all", "gb-2024-05-01.csv"), summary.OutputPath)
	assert.Equal(t, filepath.Join(dataDir, "betfair", "dates", "gb", "all", "gb-2024-05-01.csv"), summary.BetfairPath)
	assert.Equal(t, int32(1), site.priceFetches.Load())
	assert.Empty(t, summary.FailureLog)

	header, rows := readTable(t, summary.OutputPath)
	require.Len(t, rows, 4)
	raceID, horse, bsp := column(t, header, "race_id"), column(t, header, "horse"), column(t, header, "bsp")
	assert.Equal(t, []string{"111", "111", "222", "222"}, []string{rows[0][raceID], rows[1][raceID], rows[2][raceID], rows[3][raceID]})
	assert.Equal(t, "Fast Lad (IRE)", rows[0][horse])
	assert.Equal(t, "3.6", rows[0][bsp])
	assert.Equal(t, "", rows[1][bsp])
}

func TestScrapeDateBeforePriceCutoffSkipsBetfair(t *testing.T) {
	site := newRaceSite(t, "")
	engine, dataDir := newEngine(t, site)

	day := crawler.BetfairStart.AddDate(0, 0, -1)
	summary, err := engine.ScrapeDate(context.Background(), day, "gb", race.DisciplineJumps, 2)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dataDir, "dates", "gb", "jumps", "gb-2024-01-31.csv"), summary.OutputPath)
	assert.Empty(t, summary.BetfairPath)
	assert.Zero(t, site.priceFetches.Load())
	_, err = os.Stat(filepath.Join(dataDir, crawler.BetfairDir))
	assert.True(t, os.IsNotExist(err))

	header, rows := readTable(t, summary.OutputPath)
	require.Len(t, rows, 2)
	assert.Equal(t, "333", rows[0][column(t, header, "race_id")])
	assert.Equal(t, "", rows[0][column(t, header, "bsp")])
}

func TestRunDateRejectsMalformedDate(t *testing.T) {
	site := newRaceSite(t, "")
	engine, _ := newEngine(t, site)

	err := engine.RunDate(context.Background(), "01/05/2024", "gb", race.DisciplineAll, 2)
	require.ErrorContains(t, err, "invalid date")
}

func TestFailureLogReplaysThroughEngine(t *testing.T) {
	site := newRaceSite(t, "222")
	engine, dataDir := newEngine(t, site)

	day := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	first, err := engine.ScrapeDate(context.Background(), day, "gb", race.DisciplineAll, 4)
	require.NoError(t, err)

	logPath := filepath.Join(dataDir, "dates", "gb", "all", "failed.log")
	assert.Equal(t, logPath, first.FailureLog)
	assert.Equal(t, 1, first.Failed())
	assert.Equal(t, 2, first.Rows)
	original, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, site.srv.URL+"/results/2/ascot/2024-05-01/222\n", string(original))

	report, err := retry.NewDriver(engine, engine.Metrics(), engine.Logger()).Retry(context.Background(), retry.Options{
		LogPath: logPath,
		Workers: 4,
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())
	assert.Equal(t, "gb", report.Region)
	assert.Equal(t, race.DisciplineAll, report.Discipline)
	assert.Equal(t, []string{"2024-05-01"}, report.Dates)

	backup, err := os.ReadFile(logPath + retry.BackupSuffix)
	require.NoError(t, err)
	assert.Equal(t, original, backup)
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, rows := readTable(t, first.OutputPath)
	assert.Len(t, rows, 4)
}
