package journal

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/mktcalc/internal/database"
	"github.com/aristath/mktcalc/internal/modules/optimization"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clock hands out increasing timestamps one second apart
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func setupTestRepository(t *testing.T) (*Repository, *database.DB, *clock) {
	t.Helper()

	db, err := database.New(database.Config{Profile: database.ProfileMemory, Name: "journal"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled))
	repo.now = c.now
	return repo, db, c
}

func optimalRecord() optimization.RunRecord {
	return optimization.RunRecord{
		Status:         optimization.StatusOptimal,
		Objective:      optimization.MaximizeReturn,
		Instruments:    5,
		ExpectedReturn: 0.1035,
		Volatility:     0.1317,
		Duration:       4 * time.Millisecond,
	}
}

func TestRepository_RecordAndList(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, repo.Record(ctx, optimization.RunRecord{
		Status:      optimization.StatusInfeasible,
		Objective:   optimization.MaximizeYield,
		Instruments: 3,
		// metrics on a non-optimal run are never stored
		ExpectedReturn: 0.5,
		Duration:       time.Millisecond,
		Detail:         "constraints are too restrictive for these assets",
	}))

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	newest := runs[0]
	assert.Equal(t, "INFEASIBLE", newest.Status)
	assert.Equal(t, "MAXIMIZE_YIELD", newest.Objective)
	assert.Nil(t, newest.ExpectedReturn)
	assert.Nil(t, newest.Volatility)
	assert.NotEmpty(t, newest.Detail)

	oldest := runs[1]
	assert.Equal(t, "OPTIMAL", oldest.Status)
	require.NotNil(t, oldest.ExpectedReturn)
	assert.InDelta(t, 0.1035, *oldest.ExpectedReturn, 1e-12)
	assert.Equal(t, int64(4), oldest.DurationMS)
	assert.Equal(t, 5, oldest.Instruments)
	assert.Len(t, oldest.ID, 36)
	assert.NotEqual(t, oldest.ID, newest.ID)
	assert.True(t, newest.CreatedAt.After(oldest.CreatedAt))
}

func TestRepository_ListLimits(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()

	empty, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(ctx, optimalRecord()))
	}

	runs, err := repo.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}

func TestRepository_SinceAndDelete(t *testing.T) {
	repo, _, c := setupTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.Record(ctx, optimalRecord())) // 12:00:01
	mark := c.t
	require.NoError(t, repo.Record(ctx, optimalRecord())) // 12:00:02
	require.NoError(t, repo.Record(ctx, optimalRecord())) // 12:00:03

	since, err := repo.Since(ctx, mark, nil)
	require.NoError(t, err)
	require.Len(t, since, 3, "the watermark itself is included")
	assert.True(t, since[0].CreatedAt.Equal(mark))
	assert.True(t, since[1].CreatedAt.Before(since[2].CreatedAt), "oldest first")

	since, err = repo.Since(ctx, mark, []string{since[0].ID})
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.True(t, since[0].CreatedAt.After(mark))

	deleted, err := repo.DeleteOlderThan(ctx, mark.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRepository_ExportWatermark(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()

	last, err := repo.LastExport(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)

	through := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.RecordExport(ctx, Export{Key: "runs/a.json", ExportedThrough: through, Runs: 4}))
	require.NoError(t, repo.RecordExport(ctx, Export{Key: "runs/b.json", ExportedThrough: through.Add(time.Hour), Runs: 1}))

	last, err = repo.LastExport(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "runs/b.json", last.Key)
	assert.Equal(t, 1, last.Runs)
	assert.True(t, through.Add(time.Hour).Equal(last.ExportedThrough))
	assert.Empty(t, last.BoundaryIDs)

	require.NoError(t, repo.RecordExport(ctx, Export{
		Key:             "runs/c.json",
		ExportedThrough: through.Add(2 * time.Hour),
		BoundaryIDs:     []string{"run-1", "run-2"},
		Runs:            2,
	}))
	last, err = repo.LastExport(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, last.BoundaryIDs)

	// keys are unique
	assert.Error(t, repo.RecordExport(ctx, Export{Key: "runs/b.json", ExportedThrough: through}))
}
