package server

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const TestRedisURL = "redis://localhost:6379/15"

func setupRedisQueue(t *testing.T) *RedisQueue {
	t.Helper()
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = TestRedisURL
	}

	rq, err := NewRedisQueue(redisURL)
	if err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	require.NoError(t, rq.Client.FlushDB(context.Background()).Err())

	t.Cleanup(func() {
		rq.Client.FlushDB(context.Background())
		rq.Close()
	})
	return rq
}

func newJob(createdAt time.Time) *ProofJob {
	return &ProofJob{
		ID:        uuid.New().String(),
		Type:      "zk_proof",
		Payload:   json.RawMessage(`{"pool":"sapling","treeDepth":4}`),
		CreatedAt: createdAt,
	}
}

func TestQueueRoundTrip(t *testing.T) {
	rq := setupRedisQueue(t)

	job := newJob(time.Now())
	require.NoError(t, rq.EnqueueProof(ClaimQueue, job))

	status, found := rq.FindJob(job.ID)
	assert.Equal(t, "queued", status)
	require.NotNil(t, found)

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[ClaimQueue])

	dequeued, err := rq.DequeueProof(ClaimQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, dequeued)
	assert.Equal(t, job.ID, dequeued.ID)
	assert.JSONEq(t, string(job.Payload), string(dequeued.Payload))

	empty, err := rq.DequeueProof(ClaimQueue, time.Second)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestResultsAndCache(t *testing.T) {
	rq := setupRedisQueue(t)

	jobID := uuid.New().String()
	_, err := rq.GetResult(jobID)
	assert.ErrorIs(t, err, ErrResultNotFound)

	require.NoError(t, rq.StoreResult(jobID, &ClaimWithTiming{ProofDurationMs: 1200}))
	result, err := rq.GetResult(jobID)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), result.ProofDurationMs)

	hash := ComputeInputHash(json.RawMessage(`{"pool":"sapling"}`))
	cached, _, err := rq.FindCachedResult(hash)
	require.NoError(t, err)
	assert.Nil(t, cached)

	require.NoError(t, rq.IndexResultByHash(hash, jobID))
	cached, cachedID, err := rq.FindCachedResult(hash)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, jobID, cachedID)

	// an index entry whose result expired is dropped
	require.NoError(t, rq.Client.Del(rq.Ctx, resultKeyPrefix+jobID).Err())
	cached, _, err = rq.FindCachedResult(hash)
	require.NoError(t, err)
	assert.Nil(t, cached)
	exists, err := rq.Client.HExists(rq.Ctx, ResultsIndexKey, hash).Result()
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStuckJobsAreRetriedOnce(t *testing.T) {
	rq := setupRedisQueue(t)

	stuck := newJob(time.Now().Add(-15 * time.Minute))
	stuck.ID += "_processing"
	fresh := newJob(time.Now())
	fresh.ID += "_processing"
	require.NoError(t, rq.EnqueueProof(ClaimProcessingQueue, stuck))
	require.NoError(t, rq.EnqueueProof(ClaimProcessingQueue, fresh))

	require.NoError(t, rq.CleanupStuckProcessingJobs())

	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[ClaimQueue])
	assert.Equal(t, int64(1), stats[ClaimProcessingQueue])

	requeued, err := rq.DequeueProof(ClaimQueue, time.Second)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, 1, requeued.Attempts)

	// the retried job times out again and is given up on
	requeued.ID += "_processing"
	requeued.CreatedAt = time.Now().Add(-15 * time.Minute)
	require.NoError(t, rq.EnqueueProof(ClaimProcessingQueue, requeued))
	require.NoError(t, rq.CleanupStuckProcessingJobs())

	stats, err = rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[ClaimQueue])
	assert.Equal(t, int64(1), stats[FailedQueue])
}

func TestStatusEndpoint(t *testing.T) {
	rq := setupRedisQueue(t)
	handler := NewHandler(&Config{}, rq, fixedSystems{}, nil)

	get := func(jobID string) (int, map[string]interface{}) {
		rec := httptestGet(handler, "/prove/status?job_id="+jobID)
		var body map[string]interface{}
		json.Unmarshal(rec.Body.Bytes(), &body)
		return rec.Code, body
	}

	code, _ := get("not-a-uuid")
	assert.Equal(t, 400, code)

	code, _ = get(uuid.New().String())
	assert.Equal(t, 404, code)

	job := newJob(time.Now())
	require.NoError(t, rq.EnqueueProof(ClaimQueue, job))
	code, body := get(job.ID)
	assert.Equal(t, 202, code)
	assert.Equal(t, "queued", body["status"])

	rq.AddToFailedQueue(job, assert.AnError)
	_, err := rq.DequeueProof(ClaimQueue, time.Second)
	require.NoError(t, err)
	code, body = get(job.ID)
	assert.Equal(t, 202, code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, assert.AnError.Error(), body["error"])

	require.NoError(t, rq.StoreResult(job.ID, &ClaimWithTiming{ProofDurationMs: 5}))
	code, body = get(job.ID)
	assert.Equal(t, 200, code)
	assert.Equal(t, "completed", body["status"])
}

func TestWorkerRecordsFailures(t *testing.T) {
	rq := setupRedisQueue(t)
	worker := NewClaimQueueWorker(rq, fixedSystems{}, nil)

	job := newJob(time.Now())
	require.NoError(t, rq.EnqueueProof(ClaimQueue, job))
	worker.processJobs()

	status, _ := rq.FindJob(job.ID)
	assert.Equal(t, "failed", status)
	stats, err := rq.GetQueueStats()
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[ClaimProcessingQueue])
	assert.Equal(t, int64(0), stats[ClaimQueue])
}
