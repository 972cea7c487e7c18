package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"rpscrape/internal/retry"
)

// The settings point at a cache nobody listens on, so building a session
// would fail; log problems must be reported first.
func TestRetryCommandChecksLogBeforeSession(t *testing.T) {
	dir := t.TempDir()
	settings := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("cache:\n  redis_addr: 127.0.0.1:1\n"), 0o644))

	noRegion := filepath.Join(dir, "courses", "ascot", "failed.log")
	require.NoError(t, os.MkdirAll(filepath.Dir(noRegion), 0o755))
	require.NoError(t, os.WriteFile(noRegion, []byte("https://www.racingpost.com/results/2/ascot/2024-05-01/1\n"), 0o644))

	for _, tc := range []struct {
		name string
		log  string
		want error
	}{
		{"missing log", filepath.Join(dir, "dates", "gb", "failed.log"), retry.ErrNotFound},
		{"no region", noRegion, retry.ErrConfig},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rootCmd.SetArgs([]string{"retry", "--config", settings, "--env-file", filepath.Join(dir, "missing.env"), "--log", tc.log})
			rootCmd.SetOut(io.Discard)
			t.Cleanup(func() { rootCmd.SetArgs(nil) })

			err := rootCmd.ExecuteContext(context.Background())
			require.ErrorIs(t, err, tc.want)
			require.NotContains(t, err.Error(), "initialise engine")
		})
	}
}
