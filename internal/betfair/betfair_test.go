package betfair

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpscrape/internal/fetcher"
)

const ukFile = `EVENT_ID,MENU_HINT,EVENT_NAME,EVENT_DT,SELECTION_ID,SELECTION_NAME,WIN_LOSE,BSP,PPWAP,MORNINGWAP,PPMAX,PPMIN,IPMAX,IPMIN,MORNINGTRADEDVOL,PPTRADEDVOL,IPTRADEDVOL
1,GB / Asc 1st May,2m3f Hcap Hrd,01-05-2024 14:05,11,Fast Lad,1,3.6,3.5,4.0,4.2,3.1,3.6,1.01,100.5,2000.1,5000
1,GB / Asc 1st May,2m3f Hcap Hrd,01-05-2024 14:05,12,Slow Lass,0,6.2,6.0,,7.0,5.5,1000,5.8,80,1500,300
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func regionOf(id string) string {
	switch id {
	case "2":
		return "gb"
	case "175":
		return "ire"
	default:
		return ""
	}
}

func TestJoinerBuildsDatasetFromPriceFiles(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path == "/dwbfpricesukwin01052024.csv" {
			_, _ = w.Write([]byte(ukFile))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := fetcher.NewHTTPFetcher(fetcher.Options{})
	require.NoError(t, err)
	j := NewJoiner(f, srv.URL, []string{"bsp", "wap", "morning_wap"}, regionOf, quietLogger())
	j.concurrency = 1

	ds, err := j.Build(context.Background(), []string{
		"https://www.racingpost.com/results/2/ascot/2024-05-01/1",
		"https://www.racingpost.com/results/2/ascot/2024-05-01/2",
		"https://www.racingpost.com/results/175/curragh/2024-05-01/3",
		"https://www.racingpost.com/results/999/elsewhere/2024-05-01/4",
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"/dwbfpricesukwin01052024.csv", "/dwbfpricesirewin01052024.csv"}, requested)
	assert.Equal(t, 2, ds.Len())

	prices, ok := ds.Lookup("2024-05-01", "gb", "2:05", "Fast Lad (IRE)")
	require.True(t, ok)
	assert.Equal(t, "3.6", prices["bsp"])
	assert.Equal(t, "3.5", prices["wap"])

	var buf bytes.Buffer
	require.NoError(t, ds.WriteCSV(&buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "date,region,off,horse,bsp,wap,morning_wap", lines[0])
	assert.Equal(t, "2024-05-01,gb,14:05,Slow Lass,6.2,6.0,", lines[2])
}

func TestJoinerFailsWhenNothingLoads(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f, err := fetcher.NewHTTPFetcher(fetcher.Options{})
	require.NoError(t, err)
	j := NewJoiner(f, srv.URL, []string{"bsp"}, regionOf, quietLogger())

	_, err = j.Build(context.Background(), []string{"https://www.racingpost.com/results/2/ascot/2024-05-01/1"})
	require.Error(t, err)
}

func TestJoinerNoQualifyingRegions(t *testing.T) {
	j := NewJoiner(nil, "http://unused", []string{"bsp"}, regionOf, quietLogger())
	ds, err := j.Build(context.Background(), []string{"https://www.racingpost.com/results/999/x/2024-05-01/1"})
	require.NoError(t, err)
	assert.Zero(t, ds.Len())
}

func TestNormalise(t *testing.T) {
	assert.Equal(t, "14:05", NormaliseOff("2:05"))
	assert.Equal(t, "12:40", NormaliseOff("12:40"))
	assert.Equal(t, "14:05", NormaliseOff("14:05"))
	assert.Equal(t, "fastlad", NormaliseHorse("Fast Lad (IRE)"))
	assert.Equal(t, "obrien", NormaliseHorse("O'Brien"))
	assert.Equal(t, MakeKey("2024-05-01", "GB", "2:05", "Fast Lad"), MakeKey("2024-05-01", "gb", "14:05", "FAST LAD (GB)"))
}

func TestNilDatasetLookup(t *testing.T) {
	var ds *Dataset
	_, ok := ds.Lookup("2024-05-01", "gb", "1:00", "x")
	assert.False(t, ok)
}
