package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog"
)

// ExportJob uploads runs journaled since the previous export as one JSON
// document
type ExportJob struct {
	repo     *Repository
	uploader ObjectUploader
	prefix   string
	now      func() time.Time
	log      zerolog.Logger
}

// exportDocument is the uploaded object body
type exportDocument struct {
	ExportedAt time.Time `json:"exported_at"`
	From       time.Time `json:"from"`
	Through    time.Time `json:"through"`
	Runs       []Run     `json:"runs"`
}

// NewExportJob creates a new export job writing under prefix
func NewExportJob(repo *Repository, uploader ObjectUploader, prefix string, log zerolog.Logger) *ExportJob {
	return &ExportJob{
		repo:     repo,
		uploader: uploader,
		prefix:   prefix,
		now:      time.Now,
		log:      log.With().Str("job", "journal_export").Logger(),
	}
}

// Name returns the job name
func (j *ExportJob) Name() string {
	return "journal_export"
}

// Run executes the export job
func (j *ExportJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var from time.Time
	var exported []string
	last, err := j.repo.LastExport(ctx)
	if err != nil {
		return err
	}
	if last != nil {
		from = last.ExportedThrough
		exported = last.BoundaryIDs
	}

	runs, err := j.repo.Since(ctx, from, exported)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		j.log.Debug().Msg("No new runs to export")
		return nil
	}

	now := j.now().UTC()
	through := runs[len(runs)-1].CreatedAt
	body, err := json.Marshal(exportDocument{
		ExportedAt: now,
		From:       from,
		Through:    through,
		Runs:       runs,
	})
	if err != nil {
		return fmt.Errorf("failed to encode export: %w", err)
	}

	key := j.objectKey(now)
	if err := j.uploader.Upload(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return err
	}

	var boundary []string
	if through.Equal(from) {
		boundary = append(boundary, exported...)
	}
	for _, run := range runs {
		if run.CreatedAt.Equal(through) {
			boundary = append(boundary, run.ID)
		}
	}

	if err := j.repo.RecordExport(ctx, Export{Key: key, ExportedThrough: through, BoundaryIDs: boundary, Runs: len(runs)}); err != nil {
		// The object is uploaded; the next run re-exports the same rows under a new key
		return err
	}

	j.log.Info().
		Str("key", key).
		Int("runs", len(runs)).
		Int("bytes", len(body)).
		Msg("Journal exported")
	return nil
}

func (j *ExportJob) objectKey(t time.Time) string {
	return path.Join(j.prefix, fmt.Sprintf("runs-%s.json", t.Format("2006-01-02-150405.000")))
}
