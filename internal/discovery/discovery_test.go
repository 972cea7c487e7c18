package discovery

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpscrape/internal/config"
	"rpscrape/internal/fetcher"
	"rpscrape/internal/race"
)

const dateListing = `<html><body>
<a data-test-selector="link-listCourseNameLink" href="/results/32/cheltenham/2024-03-12/860001">Cheltenham</a>
<a data-test-selector="link-listCourseNameLink" href="/results/2/ascot/2024-03-12/860010">Ascot</a>
<a data-test-selector="link-listCourseNameLink" href="/results/2/ascot/2024-03-12/860010">Ascot</a>
<a data-test-selector="link-listCourseNameLink" href="/results/175/curragh/2024-03-12/860020">Curragh</a>
<a href="/results/2/ascot/2024-03-12/999999">Not a course link</a>
</body></html>`

const courseListingJSON = `{"data":{"principleRaceResults":[
{"raceDatetime":"2023-06-20T14:30:00","raceInstanceUid":835001},
{"raceDatetime":"2023-06-21T15:05:00","raceInstanceUid":835120},
{"raceDatetime":"2023","raceInstanceUid":1}
]}}`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(site string) config.Config {
	cfg := config.Default()
	cfg.Endpoints.Site = site
	cfg.Endpoints.CourseResults = site + "/profile/course/filter/results"
	cfg.Courses = map[string][]config.Course{
		"gb":  {{ID: "2", Name: "ascot"}, {ID: "32", Name: "cheltenham"}},
		"ire": {{ID: "175", Name: "curragh"}},
	}
	return cfg
}

func newService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{})
	require.NoError(t, err)
	return NewService(f, testConfig(srv.URL), nil, quietLogger()), srv
}

func TestByDateFiltersRegionCourses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/results/2024-03-12", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, dateListing)
	})
	mux.HandleFunc("/results/2024-03-13", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	svc, srv := newService(t, mux)

	dates := []time.Time{
		time.Date(2024, 3, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC),
	}
	urls, err := svc.ByDate(context.Background(), dates, "GB")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/results/2/ascot/2024-03-12/860010",
		srv.URL + "/results/32/cheltenham/2024-03-12/860001",
	}, urls)
}

func TestByDateUnknownRegion(t *testing.T) {
	svc, _ := newService(t, http.NotFoundHandler())
	_, err := svc.ByDate(context.Background(), []time.Time{time.Now()}, "usa")
	require.ErrorIs(t, err, ErrUnknownRegion)
}

func TestByCourseBuildsResultURLs(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/profile/course/filter/results/2/2023/flat/all-races", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, courseListingJSON)
	})
	mux.HandleFunc("/profile/course/filter/results/2/2024/flat/all-races", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	svc, srv := newService(t, mux)

	courses := []config.Course{{ID: "2", Name: "king's lynn"}}
	urls, err := svc.ByCourse(context.Background(), courses, []string{"2023", "2024"}, race.DisciplineFlat)
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/results/2/kings-lynn/2023-06-20/835001",
		srv.URL + "/results/2/kings-lynn/2023-06-21/835120",
	}, urls)
}

func TestByCourseDeduplicatesOverlappingListings(t *testing.T) {
	// A race run on New Year's Day is listed under both seasons.
	overlap := `{"data":{"principleRaceResults":[
{"raceDatetime":"2024-01-01T13:10:00","raceInstanceUid":"851234"},
{"raceDatetime":"2023-12-30T14:00:00","raceInstanceUid":851100}
]}}`
	late := `{"data":{"principleRaceResults":[
{"raceDatetime":"2024-01-01T13:10:00","raceInstanceUid":851234}
]}}`
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/profile/course/filter/results/32/2023/jumps/all-races", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, overlap)
	})
	mux.HandleFunc("/profile/course/filter/results/32/2024/jumps/all-races", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, late)
	})
	svc, srv := newService(t, mux)

	cheltenham := config.Course{ID: "32", Name: "cheltenham"}
	urls, err := svc.ByCourse(context.Background(), []config.Course{cheltenham, cheltenham}, []string{"2023", "2024"}, race.DisciplineJumps)
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load())
	assert.Equal(t, []string{
		srv.URL + "/results/32/cheltenham/2023-12-30/851100",
		srv.URL + "/results/32/cheltenham/2024-01-01/851234",
	}, urls)
}

func TestByCourseRequiresDiscipline(t *testing.T) {
	svc, _ := newService(t, http.NotFoundHandler())
	_, err := svc.ByCourse(context.Background(), []config.Course{{ID: "2"}}, []string{"2023"}, race.DisciplineAll)
	require.Error(t, err)
}

func TestByDateStopsOnCancel(t *testing.T) {
	svc, _ := newService(t, http.NotFoundHandler())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.ByDate(ctx, []time.Time{time.Now()}, "gb")
	require.ErrorIs(t, err, context.Canceled)
}
