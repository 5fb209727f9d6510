package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/mktcalc/internal/database"
	"github.com/rs/zerolog"
)

// RetentionJob deletes journal rows older than the retention window
type RetentionJob struct {
	repo      *Repository
	db        *database.DB
	retention time.Duration
	onDeleted func(int64)
	now       func() time.Time
	log       zerolog.Logger
}

// NewRetentionJob creates a new retention job keeping days of history
func NewRetentionJob(repo *Repository, db *database.DB, days int, log zerolog.Logger) *RetentionJob {
	return &RetentionJob{
		repo:      repo,
		db:        db,
		retention: time.Duration(days) * 24 * time.Hour,
		now:       time.Now,
		log:       log.With().Str("job", "journal_retention").Logger(),
	}
}

// OnDeleted registers a callback receiving the row count of every run
func (j *RetentionJob) OnDeleted(fn func(int64)) {
	j.onDeleted = fn
}

// Name returns the job name
func (j *RetentionJob) Name() string {
	return "journal_retention"
}

// Run executes the retention job
func (j *RetentionJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	deleted, err := j.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("retention failed: %w", err)
	}

	if j.onDeleted != nil {
		j.onDeleted(deleted)
	}

	if deleted > 0 {
		// Not critical, the next autocheckpoint catches up
		if err := j.db.WALCheckpoint(ctx); err != nil {
			j.log.Warn().Err(err).Msg("WAL checkpoint after retention failed")
		}
	}

	j.log.Info().
		Int64("deleted", deleted).
		Time("cutoff", cutoff).
		Msg("Journal retention completed")
	return nil
}
