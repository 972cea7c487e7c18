package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	pq "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpscrape/internal/config"
)

func TestNewSQLWriterRequiresDSN(t *testing.T) {
	_, err := NewSQLWriter(config.SQLConfig{Driver: "postgres"})
	require.Error(t, err)
}

func TestCreateDatabaseRejectsBadTargets(t *testing.T) {
	ctx := context.Background()
	assert.ErrorContains(t, createDatabase(ctx, "postgres", "postgres://u:p@localhost:5432"), "missing database name")
	assert.ErrorContains(t, createDatabase(ctx, "postgres", "postgres://u:p@localhost:5432/postgres"), "maintenance database")
}

func TestNilWriterSaveIsNoop(t *testing.T) {
	var w *SQLWriter
	require.NoError(t, w.SaveJobs(context.Background(), []JobRecord{{RunID: "r", Index: 1}}))
	require.NoError(t, w.Close())
}

func TestErrorClassification(t *testing.T) {
	missingDB := fmt.Errorf("ping: %w", &pq.Error{Code: "3D000"})
	assert.True(t, missingDatabase("postgres", missingDB))
	assert.False(t, missingDatabase("sqlite", missingDB))
	assert.True(t, missingDatabase("postgres", errors.New(`database "rp" does not exist`)))

	assert.True(t, missingTable(&pq.Error{Code: "42P01"}))
	assert.False(t, missingTable(&pq.Error{Code: "23505"}))
	assert.True(t, missingTable(errors.New(`relation "scrape_jobs" does not exist`)))
	assert.True(t, hasCode(fmt.Errorf("create: %w", &pq.Error{Code: "42P04"}), codeDuplicateSchema))
}
