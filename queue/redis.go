// Package queue is the durable job queue shared by the API and worker
// processes. Jobs live in a Redis hash per id; the state lists (wait, active,
// completed, failed) hold ids.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gifconverter/models"

	"github.com/redis/go-redis/v9"
)

var (
	ErrJobNotFound = errors.New("job not found")
	// ErrNoJob is returned by Claim when nothing was queued before the timeout.
	ErrNoJob = errors.New("no job available")
	// ErrJobFinished is returned when completing or failing a job that already
	// reached a terminal state.
	ErrJobFinished = errors.New("job already finished")
)

// finishAttempts bounds retries when a concurrent write to the job hash
// aborts a terminal transition.
const finishAttempts = 3

type Queue struct {
	rdb       *redis.Client
	prefix    string
	retention int
}

// New returns a queue named name on rdb. retention bounds how many finished
// jobs are kept per terminal state; 0 keeps them all.
func New(rdb *redis.Client, name string, retention int) *Queue {
	return &Queue{
		rdb:       rdb,
		prefix:    "bull:" + name,
		retention: retention,
	}
}

func (q *Queue) key(suffix string) string {
	return q.prefix + ":" + suffix
}

func (q *Queue) jobKey(id int64) string {
	return q.key(strconv.FormatInt(id, 10))
}

func (q *Queue) listKey(state models.JobState) string {
	switch state {
	case models.JobQueued:
		return q.key("wait")
	default:
		return q.key(string(state))
	}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Add stores a new job and queues it. The id comes from a Redis counter, so it
// is unique and increasing across processes.
func (q *Queue) Add(ctx context.Context, payload models.JobPayload) (*models.ConversionJob, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	id, err := q.rdb.Incr(ctx, q.key("id")).Result()
	if err != nil {
		return nil, fmt.Errorf("allocate job id: %w", err)
	}

	now := time.Now().UTC()
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(id), map[string]interface{}{
			"data":      data,
			"state":     string(models.JobQueued),
			"progress":  0,
			"createdAt": now.UnixMilli(),
			"updatedAt": now.UnixMilli(),
		})
		pipe.LPush(ctx, q.listKey(models.JobQueued), id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue job %d: %w", id, err)
	}

	return &models.ConversionJob{
		ID:        id,
		Payload:   payload,
		State:     models.JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Claim blocks up to timeout for the oldest queued job and moves it to active.
// BRPOPLPUSH hands each id to exactly one caller.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (*models.ConversionJob, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.listKey(models.JobQueued), q.listKey(models.JobActive), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		q.rdb.LRem(ctx, q.listKey(models.JobActive), 1, raw)
		return nil, fmt.Errorf("malformed job id %q", raw)
	}

	now := time.Now().UTC().UnixMilli()
	if err := q.rdb.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"state":     string(models.JobActive),
		"startedAt": now,
		"updatedAt": now,
	}).Err(); err != nil {
		return nil, fmt.Errorf("mark job %d active: %w", id, err)
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrJobNotFound) || (err == nil && job.Payload.InputPath == "") {
		// The hash was evicted while the id sat in the wait list.
		q.rdb.LRem(ctx, q.listKey(models.JobActive), 1, raw)
		q.rdb.Del(ctx, q.jobKey(id))
		return nil, fmt.Errorf("job %d has no payload", id)
	}
	return job, err
}

// Progress records pct for an active job and refreshes its heartbeat.
func (q *Queue) Progress(ctx context.Context, id int64, pct int) error {
	return q.rdb.HSet(ctx, q.jobKey(id), map[string]interface{}{
		"progress":  pct,
		"updatedAt": time.Now().UTC().UnixMilli(),
	}).Err()
}

// Heartbeat refreshes an active job's updatedAt without touching progress.
func (q *Queue) Heartbeat(ctx context.Context, id int64) error {
	return q.rdb.HSet(ctx, q.jobKey(id), "updatedAt", time.Now().UTC().UnixMilli()).Err()
}

func (q *Queue) Complete(ctx context.Context, id int64, outcome models.Outcome) error {
	return q.finish(ctx, id, models.JobCompleted, outcome, "")
}

func (q *Queue) Fail(ctx context.Context, id int64, reason string, outcome models.Outcome) error {
	return q.finish(ctx, id, models.JobFailed, outcome, reason)
}

// finish moves a job to a terminal state. It is a compare-and-set on the
// job's state: a job that already finished is left alone and ErrJobFinished
// is returned.
func (q *Queue) finish(ctx context.Context, id int64, state models.JobState, outcome models.Outcome, reason string) error {
	result, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	key := q.jobKey(id)
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, "state").Result()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		if models.JobState(current).Terminal() {
			return ErrJobFinished
		}

		now := time.Now().UTC().UnixMilli()
		fields := map[string]interface{}{
			"state":        string(state),
			"result":       result,
			"failedReason": reason,
			"finishedAt":   now,
			"updatedAt":    now,
		}
		if state == models.JobCompleted {
			fields["progress"] = 100
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fields)
			pipe.LRem(ctx, q.listKey(models.JobActive), 0, id)
			pipe.LRem(ctx, q.listKey(models.JobQueued), 0, id)
			pipe.LPush(ctx, q.listKey(state), id)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < finishAttempts; attempt++ {
		err = q.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrJobFinished) || errors.Is(err, ErrJobNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("mark job %d %s: %w", id, state, err)
	}

	return q.trim(ctx, state)
}

// trim evicts finished jobs beyond the retention limit.
func (q *Queue) trim(ctx context.Context, state models.JobState) error {
	if q.retention <= 0 {
		return nil
	}

	list := q.listKey(state)
	evicted, err := q.rdb.LRange(ctx, list, int64(q.retention), -1).Result()
	if err != nil {
		return fmt.Errorf("read %s list: %w", state, err)
	}
	if len(evicted) == 0 {
		return nil
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, raw := range evicted {
			pipe.Del(ctx, q.key(raw))
		}
		pipe.LTrim(ctx, list, 0, int64(q.retention-1))
		return nil
	})
	return err
}

func (q *Queue) Get(ctx context.Context, id int64) (*models.ConversionJob, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}
	return decodeJob(id, fields)
}

// Counts returns the number of jobs held in each state list.
func (q *Queue) Counts(ctx context.Context) (map[models.JobState]int64, error) {
	states := []models.JobState{models.JobQueued, models.JobActive, models.JobCompleted, models.JobFailed}

	cmds := make([]*redis.IntCmd, len(states))
	_, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, state := range states {
			cmds[i] = pipe.LLen(ctx, q.listKey(state))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[models.JobState]int64, len(states))
	for i, state := range states {
		counts[state] = cmds[i].Val()
	}
	return counts, nil
}

// Active returns the jobs currently claimed by workers.
func (q *Queue) Active(ctx context.Context) ([]*models.ConversionJob, error) {
	return q.list(ctx, models.JobActive, -1)
}

// Finished returns up to limit of the most recent jobs of each terminal state.
func (q *Queue) Finished(ctx context.Context, limit int) ([]*models.ConversionJob, error) {
	completed, err := q.list(ctx, models.JobCompleted, int64(limit-1))
	if err != nil {
		return nil, err
	}
	failed, err := q.list(ctx, models.JobFailed, int64(limit-1))
	if err != nil {
		return nil, err
	}
	return append(completed, failed...), nil
}

func (q *Queue) list(ctx context.Context, state models.JobState, stop int64) ([]*models.ConversionJob, error) {
	ids, err := q.rdb.LRange(ctx, q.listKey(state), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s list: %w", state, err)
	}

	jobs := make([]*models.ConversionJob, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		job, err := q.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func decodeJob(id int64, fields map[string]string) (*models.ConversionJob, error) {
	job := &models.ConversionJob{
		ID:           id,
		State:        models.JobState(fields["state"]),
		FailedReason: fields["failedReason"],
		CreatedAt:    parseMillis(fields["createdAt"]),
		StartedAt:    parseMillis(fields["startedAt"]),
		FinishedAt:   parseMillis(fields["finishedAt"]),
		UpdatedAt:    parseMillis(fields["updatedAt"]),
	}
	job.Progress, _ = strconv.Atoi(fields["progress"])

	if data := fields["data"]; data != "" {
		if err := json.Unmarshal([]byte(data), &job.Payload); err != nil {
			return nil, fmt.Errorf("decode job %d payload: %w", id, err)
		}
	}
	if result := fields["result"]; result != "" {
		var outcome models.Outcome
		if err := json.Unmarshal([]byte(result), &outcome); err != nil {
			return nil, fmt.Errorf("decode job %d result: %w", id, err)
		}
		job.Result = &outcome
	}
	return job, nil
}

func parseMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
