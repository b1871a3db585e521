package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"zair/zair-prover/logging"
	"zair/zair-prover/prover"

	"github.com/redis/go-redis/v9"
)

const (
	ClaimQueue           = "zair_claim_queue"
	ClaimProcessingQueue = "zair_claim_processing_queue"
	FailedQueue          = "zair_failed_queue"
	ResultsQueue         = "zair_results_queue"

	// ResultsIndexKey is the Redis hash that maps inputHash → jobID
	ResultsIndexKey = "zair_results_index"

	resultKeyPrefix = "zair_result_"
	resultTTL       = 1 * time.Hour
)

// ErrResultNotFound is returned by GetResult when no result is stored for a job.
var ErrResultNotFound = errors.New("result not found")

// ClaimWithTiming is the stored outcome of a queued proof job.
type ClaimWithTiming struct {
	Claim           *prover.Claim `json:"claim"`
	ProofDurationMs int64         `json:"proof_duration_ms"`
}

type RedisQueue struct {
	Client *redis.Client
	Ctx    context.Context
}

func NewRedisQueue(redisURL string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 2
	opts.DialTimeout = 10 * time.Second
	// BLPOP blocks for up to the dequeue timeout
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 10 * time.Second
	opts.PoolTimeout = 15 * time.Second
	opts.ConnMaxIdleTime = 5 * time.Minute
	opts.MaxRetries = 3

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.Logger().Info().
		Int("pool_size", opts.PoolSize).
		Dur("read_timeout", opts.ReadTimeout).
		Int("max_retries", opts.MaxRetries).
		Msg("Redis client configured")

	return &RedisQueue{Client: client, Ctx: context.Background()}, nil
}

func (rq *RedisQueue) Close() error {
	return rq.Client.Close()
}

func (rq *RedisQueue) EnqueueProof(queueName string, job *ProofJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := rq.Client.RPush(rq.Ctx, queueName, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	logging.Logger().Debug().
		Str("job_id", job.ID).
		Str("queue", queueName).
		Msg("Job enqueued")
	return nil
}

// DequeueProof blocks for up to timeout. It returns (nil, nil) when the queue stays empty.
func (rq *RedisQueue) DequeueProof(queueName string, timeout time.Duration) (*ProofJob, error) {
	result, err := rq.Client.BLPop(rq.Ctx, timeout, queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	if len(result) < 2 {
		return nil, fmt.Errorf("invalid result from Redis")
	}

	var job ProofJob
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

func (rq *RedisQueue) GetQueueStats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for _, queue := range []string{ClaimQueue, ClaimProcessingQueue, FailedQueue, ResultsQueue} {
		length, err := rq.Client.LLen(rq.Ctx, queue).Result()
		if err != nil {
			logging.Logger().Warn().Err(err).Str("queue", queue).Msg("Failed to get queue length")
			length = 0
		}
		stats[queue] = length
	}
	return stats, nil
}

func (rq *RedisQueue) GetQueueHealth() (map[string]interface{}, error) {
	stats, err := rq.GetQueueStats()
	if err != nil {
		return nil, err
	}

	health := make(map[string]interface{})
	health["queue_lengths"] = stats
	health["timestamp"] = time.Now().Unix()
	health["total_pending"] = stats[ClaimQueue]
	health["total_processing"] = stats[ClaimProcessingQueue]
	health["total_failed"] = stats[FailedQueue]

	stuckJobs := rq.countStuckJobs()
	health["stuck_jobs"] = stuckJobs

	status := "healthy"
	if stuckJobs > 0 {
		status = "degraded"
	}
	if stats[FailedQueue] > 50 {
		status = "unhealthy"
	}
	health["status"] = status

	return health, nil
}

func (rq *RedisQueue) countStuckJobs() int64 {
	cutoff := time.Now().Add(-2 * time.Minute)
	items, err := rq.Client.LRange(rq.Ctx, ClaimProcessingQueue, 0, -1).Result()
	if err != nil {
		return 0
	}

	var stuck int64
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) == nil && job.CreatedAt.Before(cutoff) {
			stuck++
		}
	}
	return stuck
}

func (rq *RedisQueue) GetResult(jobID string) (*ClaimWithTiming, error) {
	result, err := rq.Client.Get(rq.Ctx, resultKeyPrefix+jobID).Result()
	if err == redis.Nil {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var claim ClaimWithTiming
	if err := json.Unmarshal([]byte(result), &claim); err != nil {
		logging.Logger().Error().
			Str("job_id", jobID).
			Err(err).
			Msg("Failed to unmarshal result")
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &claim, nil
}

func (rq *RedisQueue) StoreResult(jobID string, result *ClaimWithTiming) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	key := resultKeyPrefix + jobID
	if err := rq.Client.Set(rq.Ctx, key, data, resultTTL).Err(); err != nil {
		return fmt.Errorf("failed to store result: %w", err)
	}

	logging.Logger().Info().
		Str("job_id", jobID).
		Str("key", key).
		Msg("Result stored successfully")
	return nil
}

// IndexResultByHash records that jobID produced the claim for inputHash.
func (rq *RedisQueue) IndexResultByHash(inputHash, jobID string) error {
	if err := rq.Client.HSet(rq.Ctx, ResultsIndexKey, inputHash, jobID).Err(); err != nil {
		return fmt.Errorf("failed to index result: %w", err)
	}
	return nil
}

func ComputeInputHash(payload json.RawMessage) string {
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:])
}

// FindCachedResult returns a stored claim for an identical request, if one has not expired.
func (rq *RedisQueue) FindCachedResult(inputHash string) (*ClaimWithTiming, string, error) {
	jobID, err := rq.Client.HGet(rq.Ctx, ResultsIndexKey, inputHash).Result()
	if err == redis.Nil || jobID == "" {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read results index: %w", err)
	}

	result, err := rq.GetResult(jobID)
	if errors.Is(err, ErrResultNotFound) {
		logging.Logger().Debug().
			Str("input_hash", inputHash).
			Str("job_id", jobID).
			Msg("Stale index entry, removing")
		rq.Client.HDel(rq.Ctx, ResultsIndexKey, inputHash)
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}
	return result, jobID, nil
}

// FindJob looks for a job that has no stored result yet.
// It returns "queued", "processing" or "failed", or "" when the job is unknown.
func (rq *RedisQueue) FindJob(jobID string) (string, *ProofJob) {
	lookups := []struct {
		queue  string
		id     string
		status string
	}{
		{ClaimQueue, jobID, "queued"},
		{ClaimProcessingQueue, jobID + "_processing", "processing"},
		{FailedQueue, jobID + "_failed", "failed"},
	}
	for _, lookup := range lookups {
		if job := rq.findJobInQueue(lookup.queue, lookup.id); job != nil {
			return lookup.status, job
		}
	}
	return "", nil
}

func (rq *RedisQueue) findJobInQueue(queueName, jobID string) *ProofJob {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		logging.Logger().Warn().Err(err).Str("queue", queueName).Msg("Failed to scan queue")
		return nil
	}
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) == nil && job.ID == jobID {
			return &job
		}
	}
	return nil
}

// CleanupStuckProcessingJobs requeues jobs whose worker disappeared mid-proof.
// A job is retried once; a second timeout moves it to the failed queue.
func (rq *RedisQueue) CleanupStuckProcessingJobs() error {
	cutoff := time.Now().Add(-10 * time.Minute)

	items, err := rq.Client.LRange(rq.Ctx, ClaimProcessingQueue, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to get processing queue items: %w", err)
	}

	var recovered, failed int64
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) != nil || job.CreatedAt.After(cutoff) {
			continue
		}

		count, err := rq.Client.LRem(rq.Ctx, ClaimProcessingQueue, 1, item).Result()
		if err != nil || count == 0 {
			continue
		}

		original := &ProofJob{
			ID:        strings.TrimSuffix(job.ID, "_processing"),
			Type:      "zk_proof",
			Payload:   job.Payload,
			Attempts:  job.Attempts + 1,
			CreatedAt: time.Now(),
		}
		if original.Attempts > 1 {
			rq.AddToFailedQueue(original, fmt.Errorf("job timed out in processing %d times", original.Attempts))
			failed++
			continue
		}
		if err := rq.EnqueueProof(ClaimQueue, original); err != nil {
			logging.Logger().Error().Err(err).Str("job_id", original.ID).Msg("Failed to requeue stuck job")
			continue
		}
		recovered++
	}

	if recovered > 0 || failed > 0 {
		logging.Logger().Info().
			Int64("recovered_jobs", recovered).
			Int64("failed_jobs", failed).
			Time("timeout_cutoff", cutoff).
			Msg("Processed stuck jobs")
	}
	return nil
}

func (rq *RedisQueue) AddToFailedQueue(job *ProofJob, err error) {
	failedData, _ := json.Marshal(map[string]interface{}{
		"error":     err.Error(),
		"failed_at": time.Now(),
		"attempts":  job.Attempts,
	})
	failed := &ProofJob{
		ID:        job.ID + "_failed",
		Type:      "failed",
		Payload:   json.RawMessage(failedData),
		CreatedAt: time.Now(),
	}
	if err := rq.EnqueueProof(FailedQueue, failed); err != nil {
		logging.Logger().Error().Err(err).Str("job_id", job.ID).Msg("Failed to record failed job")
	}
}

func (rq *RedisQueue) CleanupOldFailedJobs() error {
	cutoff := time.Now().Add(-1 * time.Hour)
	removed, err := rq.cleanupOldJobsFromQueue(FailedQueue, cutoff)
	if err != nil {
		logging.Logger().Error().Err(err).Msg("Failed to cleanup old failed jobs")
		return err
	}
	if removed > 0 {
		logging.Logger().Info().
			Int64("removed_failed_jobs", removed).
			Time("cutoff_time", cutoff).
			Msg("Cleaned up old failed jobs")
	}
	return nil
}

func (rq *RedisQueue) cleanupOldJobsFromQueue(queueName string, cutoff time.Time) (int64, error) {
	items, err := rq.Client.LRange(rq.Ctx, queueName, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue items: %w", err)
	}

	var removed int64
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) == nil && job.CreatedAt.Before(cutoff) {
			count, err := rq.Client.LRem(rq.Ctx, queueName, 1, item).Result()
			if err == nil {
				removed += count
			}
		}
	}
	return removed, nil
}

// StartCleanupRoutine runs the cleanup passes every interval until the job is stopped.
func (rq *RedisQueue) StartCleanupRoutine(interval time.Duration) RunningJob {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	start := func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := rq.CleanupStuckProcessingJobs(); err != nil {
					logging.Logger().Error().Err(err).Msg("Stuck job cleanup failed")
				}
				rq.CleanupOldFailedJobs()
			}
		}
	}
	shutdown := func() {
		ticker.Stop()
		close(done)
	}
	return SpawnJob(start, shutdown)
}
