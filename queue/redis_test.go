package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"gifconverter/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, retention int) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, "test-queue", retention), mr
}

func samplePayload(name string) models.JobPayload {
	return models.JobPayload{
		InputPath:    "uploads/1-" + name,
		OutputPath:   "uploads/1-output.gif",
		OriginalName: name,
	}
}

func TestQueue_AddAssignsIncreasingIDs(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	first, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	second, err := q.Add(ctx, samplePayload("b.mp4"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, models.JobQueued, second.State)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.JobQueued])

	job, err := q.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, samplePayload("a.mp4"), job.Payload)
	assert.Equal(t, models.JobQueued, job.State)
	assert.False(t, job.CreatedAt.IsZero())
}

func TestQueue_ConcurrentAddsGetDistinctIDs(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	const n = 20
	ids := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := q.Add(ctx, samplePayload("clip.mp4"))
			if assert.NoError(t, err) {
				ids <- job.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]bool)
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestQueue_ClaimIsFIFOAndMarksActive(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	first, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	_, err = q.Add(ctx, samplePayload("b.mp4"))
	require.NoError(t, err)

	job, err := q.Claim(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, models.JobActive, job.State)
	assert.False(t, job.StartedAt.IsZero())

	active, err := q.Active(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, first.ID, active[0].ID)
}

func TestQueue_ClaimTimesOutWhenEmpty(t *testing.T) {
	q, _ := newTestQueue(t, 0)

	_, err := q.Claim(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestQueue_CompleteStoresOutcome(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	added, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	_, err = q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Progress(ctx, added.ID, 40))

	out := "uploads/1-output.gif"
	outcome := models.Outcome{
		Status: models.StatusCompleted,
		Record: &models.ConversionRecord{JobID: added.ID, ConvertedFilePath: &out, Status: models.StatusCompleted},
	}
	require.NoError(t, q.Complete(ctx, added.ID, outcome))

	job, err := q.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.State)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Result)
	assert.Equal(t, models.StatusCompleted, job.Result.Status)
	assert.Equal(t, out, *job.Result.Record.ConvertedFilePath)
	assert.False(t, job.FinishedAt.IsZero())

	again, err := q.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, job, again)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.JobActive])
	assert.Equal(t, int64(1), counts[models.JobCompleted])
}

func TestQueue_FailKeepsProgressAndReason(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	added, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	_, err = q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Progress(ctx, added.ID, 30))

	reason := "Video dimensions exceed 1024x768"
	require.NoError(t, q.Fail(ctx, added.ID, reason, models.Outcome{Status: models.StatusFailed, Reason: reason}))

	job, err := q.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, 30, job.Progress)
	assert.Equal(t, reason, job.FailedReason)

	finished, err := q.Finished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, added.ID, finished[0].ID)
}

func TestQueue_RetentionEvictsOldestFinished(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		added, err := q.Add(ctx, samplePayload("a.mp4"))
		require.NoError(t, err)
		_, err = q.Claim(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, q.Complete(ctx, added.ID, models.Outcome{Status: models.StatusCompleted}))
		ids = append(ids, added.ID)
	}

	_, err := q.Get(ctx, ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound)

	for _, id := range ids[1:] {
		_, err := q.Get(ctx, id)
		assert.NoError(t, err)
	}

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[models.JobCompleted])
}

func TestQueue_GetUnknown(t *testing.T) {
	q, _ := newTestQueue(t, 0)

	_, err := q.Get(context.Background(), 42)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestQueue_ClaimDropsEvictedJob(t *testing.T) {
	q, mr := newTestQueue(t, 0)
	ctx := context.Background()

	added, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	mr.Del(q.jobKey(added.ID))

	_, err = q.Claim(ctx, time.Second)
	require.Error(t, err)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.JobActive])
}

func TestQueue_FinishIsOnlyAppliedOnce(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	added, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	_, err = q.Claim(ctx, time.Second)
	require.NoError(t, err)

	reason := "Worker stopped before the conversion finished"
	require.NoError(t, q.Fail(ctx, added.ID, reason, models.Outcome{Status: models.StatusFailed, Reason: reason}))

	err = q.Complete(ctx, added.ID, models.Outcome{Status: models.StatusCompleted})
	assert.ErrorIs(t, err, ErrJobFinished)
	err = q.Fail(ctx, added.ID, "again", models.Outcome{Status: models.StatusFailed})
	assert.ErrorIs(t, err, ErrJobFinished)

	job, err := q.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, reason, job.FailedReason)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.JobActive])
	assert.Equal(t, int64(0), counts[models.JobCompleted])
	assert.Equal(t, int64(1), counts[models.JobFailed])
}

func TestQueue_FinishUnknownJob(t *testing.T) {
	q, _ := newTestQueue(t, 0)

	err := q.Complete(context.Background(), 42, models.Outcome{Status: models.StatusCompleted})
	assert.ErrorIs(t, err, ErrJobNotFound)

	counts, err := q.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), counts[models.JobCompleted])
}

func TestQueue_HeartbeatRefreshesUpdatedAt(t *testing.T) {
	q, _ := newTestQueue(t, 0)
	ctx := context.Background()

	added, err := q.Add(ctx, samplePayload("a.mp4"))
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Progress(ctx, added.ID, 20))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, q.Heartbeat(ctx, added.ID))

	job, err := q.Get(ctx, added.ID)
	require.NoError(t, err)
	assert.True(t, job.UpdatedAt.After(claimed.UpdatedAt))
	assert.Equal(t, 20, job.Progress)
	assert.Equal(t, models.JobActive, job.State)
}
