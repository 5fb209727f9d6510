package journal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aristath/mktcalc/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadedObject struct {
	key         string
	body        []byte
	contentType string
}

type uploaderStub struct {
	objects []uploadedObject
	err     error
}

func (u *uploaderStub) Upload(_ context.Context, key string, body io.Reader, contentType string) error {
	if u.err != nil {
		return u.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.objects = append(u.objects, uploadedObject{key: key, body: data, contentType: contentType})
	return nil
}

var quietLog = zerolog.New(nil).Level(zerolog.Disabled)

func TestRetentionJob(t *testing.T) {
	repo, db, c := setupTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Record(ctx, optimalRecord()))
	}

	job := NewRetentionJob(repo, db, 30, quietLog)
	assert.Equal(t, "journal_retention", job.Name())

	var reported []int64
	job.OnDeleted(func(n int64) { reported = append(reported, n) })

	// everything is younger than 30 days
	job.now = func() time.Time { return c.t.Add(24 * time.Hour) }
	require.NoError(t, job.Run())

	// 31 days later everything is gone
	job.now = func() time.Time { return c.t.Add(31 * 24 * time.Hour) }
	require.NoError(t, job.Run())

	assert.Equal(t, []int64{0, 3}, reported)
	runs, err := repo.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestExportJob(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()
	uploader := &uploaderStub{}

	job := NewExportJob(repo, uploader, "mktcalc/runs", quietLog)
	job.now = func() time.Time { return time.Date(2026, 3, 2, 3, 30, 0, 0, time.UTC) }
	assert.Equal(t, "journal_export", job.Name())

	// nothing journaled yet
	require.NoError(t, job.Run())
	assert.Empty(t, uploader.objects)

	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, job.Run())

	require.Len(t, uploader.objects, 1)
	obj := uploader.objects[0]
	assert.Equal(t, "mktcalc/runs/runs-2026-03-02-033000.000.json", obj.key)
	assert.Equal(t, "application/json", obj.contentType)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(obj.body, &doc))
	assert.Len(t, doc.Runs, 2)
	assert.True(t, doc.From.IsZero())
	assert.True(t, doc.Through.Equal(doc.Runs[1].CreatedAt))

	// a second run without new rows uploads nothing
	require.NoError(t, job.Run())
	assert.Len(t, uploader.objects, 1)

	// only rows after the watermark are shipped
	job.now = func() time.Time { return time.Date(2026, 3, 3, 3, 30, 0, 0, time.UTC) }
	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, job.Run())
	require.Len(t, uploader.objects, 2)

	var second exportDocument
	require.NoError(t, json.Unmarshal(uploader.objects[1].body, &second))
	assert.Len(t, second.Runs, 1)
	assert.True(t, second.From.Equal(doc.Through))
}

func TestExportJob_RunsInTheSameMillisecond(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()
	uploader := &uploaderStub{}

	// every run lands on one millisecond; only the export timestamps move
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return stamp }

	job := NewExportJob(repo, uploader, "runs", quietLog)
	exportAt := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time {
		exportAt = exportAt.Add(time.Minute)
		return exportAt
	}

	exportedIDs := func(i int) []string {
		var doc exportDocument
		require.NoError(t, json.Unmarshal(uploader.objects[i].body, &doc))
		ids := make([]string, 0, len(doc.Runs))
		for _, run := range doc.Runs {
			ids = append(ids, run.ID)
		}
		return ids
	}

	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, job.Run())
	require.Len(t, uploader.objects, 1)
	first := exportedIDs(0)
	assert.Len(t, first, 2)

	// a run committed after the export but stamped with the watermark
	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, job.Run())
	require.Len(t, uploader.objects, 2)
	second := exportedIDs(1)
	require.Len(t, second, 1)
	assert.NotContains(t, first, second[0])

	require.NoError(t, repo.Record(ctx, optimalRecord()))
	require.NoError(t, job.Run())
	require.Len(t, uploader.objects, 3)
	third := exportedIDs(2)
	require.Len(t, third, 1)
	assert.NotContains(t, append(first, second...), third[0])

	last, err := repo.LastExport(ctx)
	require.NoError(t, err)
	assert.Len(t, last.BoundaryIDs, 4)

	// nothing left to ship
	require.NoError(t, job.Run())
	assert.Len(t, uploader.objects, 3)
}

func TestExportJob_UploadFailureKeepsWatermark(t *testing.T) {
	repo, _, _ := setupTestRepository(t)
	ctx := context.Background()
	require.NoError(t, repo.Record(ctx, optimalRecord()))

	job := NewExportJob(repo, &uploaderStub{err: errors.New("access denied")}, "runs", quietLog)
	err := job.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	last, err := repo.LastExport(ctx)
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestNewS3Client_StaticCredentials(t *testing.T) {
	client, err := NewS3Client(context.Background(), config.ExportConfig{
		Bucket:          "journal-bucket",
		Region:          "eu-west-1",
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "journal-bucket", client.Bucket())

	var _ ObjectUploader = client
}
