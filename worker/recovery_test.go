package worker

import (
	"context"
	"testing"
	"time"

	"gifconverter/models"
	"gifconverter/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInspector struct {
	active   []*models.ConversionJob
	finished []*models.ConversionJob
	failed   map[int64]models.Outcome
	failErr  error
}

func (f *fakeInspector) Active(ctx context.Context) ([]*models.ConversionJob, error) {
	return f.active, nil
}

func (f *fakeInspector) Finished(ctx context.Context, limit int) ([]*models.ConversionJob, error) {
	return f.finished, nil
}

func (f *fakeInspector) Fail(ctx context.Context, id int64, reason string, outcome models.Outcome) error {
	if f.failErr != nil {
		return f.failErr
	}
	if f.failed == nil {
		f.failed = make(map[int64]models.Outcome)
	}
	f.failed[id] = outcome
	return nil
}

func TestReconciler_FailsStalledJobs(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	stale := testJob(1)
	stale.UpdatedAt = now.Add(-time.Hour)
	fresh := testJob(2)
	fresh.UpdatedAt = now.Add(-time.Minute)

	q := &fakeInspector{active: []*models.ConversionJob{stale, fresh}}
	store := &stubStore{}
	r := NewReconciler(q, store, 10*time.Minute, 100, discardLogger())
	r.now = func() time.Time { return now }

	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stalled)

	require.Contains(t, q.failed, int64(1))
	assert.NotContains(t, q.failed, int64(2))
	assert.Equal(t, ReasonStalled, q.failed[1].Reason)

	records := store.all()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].JobID)
	assert.Equal(t, models.StatusFailed, records[0].Status)
	assert.Equal(t, ReasonStalled, records[0].Reason)
	assert.Equal(t, "clip.mp4", records[0].OriginalFileName)
}

func TestReconciler_RestoresMissingRecords(t *testing.T) {
	out := "uploads/3-output.gif"
	missing := testJob(3)
	missing.State = models.JobCompleted
	missing.Result = &models.Outcome{
		Status: models.StatusCompleted,
		Record: &models.ConversionRecord{JobID: 3, Status: models.StatusCompleted, ConvertedFilePath: &out, Width: 320},
	}

	present := testJob(4)
	present.State = models.JobFailed
	present.Result = &models.Outcome{
		Status: models.StatusFailed,
		Reason: ReasonNoVideoStream,
		Record: &models.ConversionRecord{JobID: 4, Status: models.StatusFailed, Reason: ReasonNoVideoStream},
	}

	noOutcome := testJob(5)
	noOutcome.State = models.JobCompleted

	store := &stubStore{}
	require.NoError(t, store.Create(context.Background(), &models.ConversionRecord{JobID: 4, Status: models.StatusFailed}))

	q := &fakeInspector{finished: []*models.ConversionJob{missing, present, noOutcome}}
	r := NewReconciler(q, store, 10*time.Minute, 100, discardLogger())

	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)

	rec, err := store.FindByJobID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, out, *rec.ConvertedFilePath)
	assert.Equal(t, 320, rec.Width)
	assert.Len(t, store.all(), 2)

	again, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Restored)
}

func TestReconciler_SkipsJobFinishedMeanwhile(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	stale := testJob(8)
	stale.UpdatedAt = now.Add(-time.Hour)

	q := &fakeInspector{active: []*models.ConversionJob{stale}, failErr: queue.ErrJobFinished}
	store := &stubStore{}
	r := NewReconciler(q, store, 10*time.Minute, 100, discardLogger())
	r.now = func() time.Time { return now }

	res, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Stalled)
	assert.Empty(t, store.all())
}
