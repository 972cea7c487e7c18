package failurelog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatesDeduplicatesAndSorts(t *testing.T) {
	log := strings.Join([]string{
		"dates/uk/2024-05-02/foo",
		"dates/uk/2024-05-01/abc123",
		"dates/uk/2024-05-01/xyz789",
		"dates/ire/2024-05-02/foo",
		"no slashes here",
		"https://www.racingpost.com/results/2/ascot/not-a-date-x/1",
		"https://www.racingpost.com/results/2/ascot/2023-12-31/99",
		"",
	}, "\n")

	dates, err := Dates(strings.NewReader(log))
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-12-31", "2024-05-01", "2024-05-02"}, dates)
}

func TestDatesEmpty(t *testing.T) {
	dates, err := Dates(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, dates)
}

func TestAppendIsConcurrentSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dates", "gb", "flat", FileName)
	l := New(path)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(fmt.Sprintf("https://x/results/2/ascot/2024-05-01/%d", i)))
		}(i)
	}
	wg.Wait()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(t, lines, 20)

	dates, err := Dates(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-05-01"}, dates)
}
