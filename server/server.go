package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"zair/zair-prover/claim"
	"zair/zair-prover/logging"
	"zair/zair-prover/prover"
	"zair/zair-prover/prover/common"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	maxRequestBytes  = 1 << 20
	syncProofTimeout = 300 * time.Second
)

type Config struct {
	ProverAddress  string
	MetricsAddress string
	CORSOrigins    []string
	// APIKey protects every endpoint but /health when non-empty.
	APIKey string
	Depths []uint32
}

// Verification holds what the verify endpoint checks claims against.
type Verification struct {
	Verifier  *prover.Verifier
	Published map[common.Pool]prover.PublishedRoot
}

type proofStatusHandler struct {
	redisQueue *RedisQueue
}

func (handler proofStatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		malformedBodyError(fmt.Errorf("job_id parameter required")).send(w)
		return
	}
	if _, err := uuid.Parse(jobID); err != nil {
		(&Error{
			StatusCode: http.StatusBadRequest,
			Code:       "invalid_job_id",
			Message:    "Invalid job ID format. Job ID must be a valid UUID.",
		}).send(w)
		return
	}

	result, err := handler.redisQueue.GetResult(jobID)
	if err != nil && !errors.Is(err, ErrResultNotFound) {
		logging.Logger().Error().
			Err(err).
			Str("job_id", jobID).
			Msg("Error retrieving result")
		unexpectedError(err).send(w)
		return
	}
	if result != nil {
		sendJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": jobID,
			"status": "completed",
			"result": result,
		})
		return
	}

	status, job := handler.redisQueue.FindJob(jobID)
	if job == nil {
		(&Error{
			StatusCode: http.StatusNotFound,
			Code:       "job_not_found",
			Message:    fmt.Sprintf("Job with ID %s not found. It may have expired or never existed.", jobID),
		}).send(w)
		return
	}

	response := map[string]interface{}{
		"job_id":     jobID,
		"status":     status,
		"created_at": job.CreatedAt,
	}
	if status == "failed" {
		var failure struct {
			Error    string    `json:"error"`
			FailedAt time.Time `json:"failed_at"`
		}
		if json.Unmarshal(job.Payload, &failure) == nil {
			response["error"] = failure.Error
			response["failed_at"] = failure.FailedAt
			response["message"] = fmt.Sprintf("Job processing failed: %s", failure.Error)
		} else {
			response["message"] = "Job processing failed. Unable to parse failure details."
		}
	} else {
		response["message"] = getStatusMessage(status)
	}

	sendJSON(w, http.StatusAccepted, response)
}

func getStatusMessage(status string) string {
	switch status {
	case "queued":
		return "Job is queued and waiting to be processed"
	case "processing":
		return "Job is currently being processed"
	default:
		return "Job status unknown"
	}
}

type proveHandler struct {
	prover     *claimProver
	redisQueue *RedisQueue
}

func (handler proveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		logging.Logger().Error().Err(err).Msg("Error reading request body")
		malformedBodyError(err).send(w)
		return
	}

	meta, err := common.ParseProofRequestMeta(buf)
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	forceAsync := r.Header.Get("X-Async") == "true" || r.URL.Query().Get("async") == "true"
	useQueue := forceAsync && handler.redisQueue != nil

	logging.Logger().Info().
		Str("pool", meta.Pool.String()).
		Uint32("tree_depth", meta.TreeDepth).
		Bool("use_queue", useQueue).
		Msg("Processing prove request")

	if useQueue {
		handler.handleAsyncProof(w, r, buf)
	} else {
		handler.handleSyncProof(w, r, buf)
	}
}

func (handler proveHandler) handleAsyncProof(w http.ResponseWriter, r *http.Request, buf []byte) {
	inputHash := ComputeInputHash(buf)
	cached, cachedJobID, err := handler.redisQueue.FindCachedResult(inputHash)
	if err != nil {
		logging.Logger().Warn().Err(err).Msg("Result cache lookup failed")
	}
	if cached != nil {
		sendJSON(w, http.StatusOK, map[string]interface{}{
			"job_id": cachedJobID,
			"status": "completed",
			"result": cached,
		})
		return
	}

	jobID := uuid.New().String()
	job := &ProofJob{
		ID:        jobID,
		Type:      "zk_proof",
		Payload:   json.RawMessage(buf),
		CreatedAt: time.Now(),
	}

	if err := handler.redisQueue.EnqueueProof(ClaimQueue, job); err != nil {
		logging.Logger().Warn().Err(err).Msg("Queue failed, falling back to synchronous processing")
		handler.handleSyncProof(w, r, buf)
		return
	}

	sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     jobID,
		"status":     "queued",
		"queue":      ClaimQueue,
		"status_url": fmt.Sprintf("/prove/status?job_id=%s", jobID),
		"message":    "Proof generation queued. Use status_url to check progress.",
	})

	logging.Logger().Info().
		Str("job_id", jobID).
		Str("queue", ClaimQueue).
		Msg("Proof job queued successfully")
}

func (handler proveHandler) handleSyncProof(w http.ResponseWriter, r *http.Request, buf []byte) {
	ctx, cancel := context.WithTimeout(r.Context(), syncProofTimeout)
	defer cancel()

	type proofResult struct {
		claim *prover.Claim
		err   *Error
	}
	resultChan := make(chan proofResult, 1)

	go func() {
		c, proofErr := handler.prover.prove(buf)
		resultChan <- proofResult{claim: c, err: proofErr}
	}()

	select {
	case result := <-resultChan:
		if result.err != nil {
			result.err.send(w)
			return
		}
		sendJSON(w, http.StatusOK, result.claim)

	case <-ctx.Done():
		(&Error{
			StatusCode: http.StatusRequestTimeout,
			Code:       "proof_timeout",
			Message:    fmt.Sprintf("Proof generation timed out after %d seconds. Use asynchronous mode with X-Async: true header.", int(syncProofTimeout.Seconds())),
		}).send(w)
		logging.Logger().Warn().Msg("Synchronous proof timed out")
	}
}

type verifyHandler struct {
	verification *Verification
}

func (handler verifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		malformedBodyError(err).send(w)
		return
	}

	var set prover.ClaimSet
	if err := json.Unmarshal(buf, &set); err != nil {
		malformedBodyError(err).send(w)
		return
	}
	if set.Claims == nil {
		var single prover.Claim
		if err := json.Unmarshal(buf, &single); err != nil {
			malformedBodyError(err).send(w)
			return
		}
		if single.Proof == nil {
			malformedBodyError(fmt.Errorf("expected a claim or a claim set")).send(w)
			return
		}
		set.Claims = []prover.Claim{single}
	}

	results := handler.verification.Verifier.VerifyClaimSet(&set, handler.verification.Published)
	valid := 0
	for _, result := range results {
		label := "invalid"
		if result.Valid {
			label = "valid"
			valid++
		}
		VerificationsTotal.WithLabelValues(result.Pool.String(), label).Inc()
	}

	logging.Logger().Info().
		Int("claims", len(results)).
		Int("valid", valid).
		Msg("Verified claims")

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"valid":   valid,
		"invalid": len(results) - valid,
	})
}

type queueStatsHandler struct {
	redisQueue *RedisQueue
}

func (handler queueStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	health, err := handler.redisQueue.GetQueueHealth()
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	sendJSON(w, http.StatusOK, health)
}

type healthHandler struct {
	systems claim.SystemProvider
}

func (handler healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logging.Logger().Debug().Msg("received health check request")

	response := map[string]interface{}{"status": "ok"}
	if stats, ok := handler.systems.(interface{ GetStats() map[string]interface{} }); ok {
		response["keys"] = stats.GetStats()
	}
	sendJSON(w, http.StatusOK, response)
}

// Run starts the prover API and the metrics listener. redisQueue and
// verification may be nil, which disables the async and verify endpoints.
func Run(config *Config, redisQueue *RedisQueue, systems claim.SystemProvider, verification *Verification) RunningJob {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: config.MetricsAddress, Handler: metricsMux}
	metricsJob := spawnServerJob(metricsServer, "metrics server")
	logging.Logger().Info().Str("addr", config.MetricsAddress).Msg("metrics server started")

	proverServer := &http.Server{
		Addr:              config.ProverAddress,
		Handler:           NewHandler(config, redisQueue, systems, verification),
		ReadHeaderTimeout: 10 * time.Second,
	}
	proverJob := spawnServerJob(proverServer, "prover server")

	logging.Logger().Info().
		Str("addr", config.ProverAddress).
		Bool("queue_enabled", redisQueue != nil).
		Bool("verify_enabled", verification != nil).
		Bool("auth_enabled", config.APIKey != "").
		Msg("prover server started")

	return CombineJobs(metricsJob, proverJob)
}

// NewHandler builds the prover API routes.
func NewHandler(config *Config, redisQueue *RedisQueue, systems claim.SystemProvider, verification *Verification) http.Handler {
	proverMux := http.NewServeMux()
	proverMux.Handle("/prove", proveHandler{
		prover:     &claimProver{systems: systems, depths: config.Depths},
		redisQueue: redisQueue,
	})
	proverMux.Handle("/health", healthHandler{systems: systems})

	if verification != nil {
		proverMux.Handle("/verify", verifyHandler{verification: verification})
	}
	if redisQueue != nil {
		proverMux.Handle("/prove/status", proofStatusHandler{redisQueue: redisQueue})
		proverMux.Handle("/queue/stats", queueStatsHandler{redisQueue: redisQueue})
	}

	origins := config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	corsHandler := handlers.CORS(
		handlers.AllowedHeaders([]string{
			"X-Requested-With",
			"Content-Type",
			"Authorization",
			"X-API-Key",
			"X-Async",
		}),
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
	)

	return corsHandler(guardClaimEndpoints(config.APIKey)(proverMux))
}

type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func malformedBodyError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "malformed_body", Message: err.Error()}
}

func provingError(err error) *Error {
	return &Error{StatusCode: http.StatusBadRequest, Code: "proving_error", Message: err.Error()}
}

func unexpectedError(err error) *Error {
	return &Error{StatusCode: http.StatusInternalServerError, Code: "unexpected_error", Message: err.Error()}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"code":    e.Code,
		"message": e.Message,
	})
}

func (e *Error) send(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	jsonBytes, err := e.MarshalJSON()
	if err != nil {
		jsonBytes = []byte(`{"code": "unexpected_error", "message": "failed to marshal error"}`)
	}
	length, err := w.Write(jsonBytes)
	if err != nil || length != len(jsonBytes) {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func sendJSON(w http.ResponseWriter, status int, body interface{}) {
	responseBytes, err := json.Marshal(body)
	if err != nil {
		unexpectedError(err).send(w)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(responseBytes); err != nil {
		logging.Logger().Error().Err(err).Msg("error writing response")
	}
}

func spawnServerJob(server *http.Server, label string) RunningJob {
	start := func() {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("%s failed: %s", label, err))
		}
	}
	shutdown := func() {
		logging.Logger().Info().Msgf("shutting down %s", label)
		err := server.Shutdown(context.Background())
		if err != nil {
			logging.Logger().Error().Err(err).Msgf("error when shutting down %s", label)
		}
		logging.Logger().Info().Msgf("%s shut down", label)
	}
	return SpawnJob(start, shutdown)
}
