package server

import (
	"encoding/json"
	"fmt"
	"time"

	"zair/zair-prover/claim"
	"zair/zair-prover/logging"
)

type ProofJob struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempts  int             `json:"attempts,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

type QueueWorker interface {
	Start()
	Stop()
}

// ClaimQueueWorker proves queued witness requests one at a time.
type ClaimQueueWorker struct {
	queue               *RedisQueue
	prover              *claimProver
	queueName           string
	processingQueueName string
	stopChan            chan struct{}
}

func NewClaimQueueWorker(redisQueue *RedisQueue, systems claim.SystemProvider, depths []uint32) *ClaimQueueWorker {
	return &ClaimQueueWorker{
		queue:               redisQueue,
		prover:              &claimProver{systems: systems, depths: depths},
		queueName:           ClaimQueue,
		processingQueueName: ClaimProcessingQueue,
		stopChan:            make(chan struct{}),
	}
}

func (w *ClaimQueueWorker) Start() {
	logging.Logger().Info().Str("queue", w.queueName).Msg("Starting queue worker")

	for {
		select {
		case <-w.stopChan:
			logging.Logger().Info().Str("queue", w.queueName).Msg("Queue worker stopping")
			return
		default:
			w.processJobs()
		}
	}
}

func (w *ClaimQueueWorker) Stop() {
	close(w.stopChan)
}

func (w *ClaimQueueWorker) processJobs() {
	job, err := w.queue.DequeueProof(w.queueName, 5*time.Second)
	if err != nil {
		logging.Logger().Error().Err(err).Str("queue", w.queueName).Msg("Error dequeuing from queue")
		time.Sleep(2 * time.Second)
		return
	}
	if job == nil {
		return
	}

	QueueWaitTime.Observe(time.Since(job.CreatedAt).Seconds())
	logging.Logger().Info().
		Str("job_id", job.ID).
		Str("queue", w.queueName).
		Int("attempts", job.Attempts).
		Msg("Processing proof job")

	processingJob := &ProofJob{
		ID:        job.ID + "_processing",
		Type:      "processing",
		Payload:   job.Payload,
		Attempts:  job.Attempts,
		CreatedAt: time.Now(),
	}
	if err := w.queue.EnqueueProof(w.processingQueueName, processingJob); err != nil {
		logging.Logger().Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark job as processing")
	}

	err = w.processProofJob(job)
	w.removeFromProcessingQueue(job.ID)

	if err != nil {
		JobsProcessed.WithLabelValues("failed").Inc()
		logging.Logger().Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Failed to process proof job")
		w.queue.AddToFailedQueue(job, err)
		return
	}
	JobsProcessed.WithLabelValues("completed").Inc()
}

func (w *ClaimQueueWorker) processProofJob(job *ProofJob) error {
	start := time.Now()
	result, proofErr := w.prover.prove(job.Payload)
	if proofErr != nil {
		return proofErr
	}

	withTiming := &ClaimWithTiming{Claim: result, ProofDurationMs: time.Since(start).Milliseconds()}
	if err := w.queue.StoreResult(job.ID, withTiming); err != nil {
		return fmt.Errorf("storing result: %w", err)
	}
	if err := w.queue.IndexResultByHash(ComputeInputHash(job.Payload), job.ID); err != nil {
		logging.Logger().Warn().Err(err).Str("job_id", job.ID).Msg("Failed to index result")
	}
	return nil
}

func (w *ClaimQueueWorker) removeFromProcessingQueue(jobID string) {
	items, err := w.queue.Client.LRange(w.queue.Ctx, w.processingQueueName, 0, -1).Result()
	if err != nil {
		return
	}
	for _, item := range items {
		var job ProofJob
		if json.Unmarshal([]byte(item), &job) == nil && job.ID == jobID+"_processing" {
			w.queue.Client.LRem(w.queue.Ctx, w.processingQueueName, 1, item)
			return
		}
	}
}
