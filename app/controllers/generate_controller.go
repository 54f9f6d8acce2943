package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/Skeyelab/annualreview.com/internal/pkg/evidence"
	"github.com/Skeyelab/annualreview.com/internal/pkg/gate"
	"github.com/Skeyelab/annualreview.com/internal/pkg/jobqueue"
	"github.com/Skeyelab/annualreview.com/internal/pkg/usercontext"
)

// Authorizer is the slice of the gate the controller consumes.
type Authorizer interface {
	Authorize(ctx context.Context, userID uint, req gate.Request) (gate.Decision, error)
}

// JobDispatcher is the slice of the job queue the controller consumes.
type JobDispatcher interface {
	EnqueueJob(jobType jobqueue.JobType, payload map[string]interface{}) (*jobqueue.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobqueue.Job, error)
	GetJobStats(ctx context.Context) (map[jobqueue.JobStatus]int64, error)
	GetQueueSize(ctx context.Context) (int64, error)
}

// GenerateController serves the generation endpoint and job status reads.
type GenerateController struct {
	gate Authorizer
	jobs JobDispatcher
}

func NewGenerateController(g Authorizer, jobs JobDispatcher) *GenerateController {
	return &GenerateController{gate: g, jobs: jobs}
}

// HandleGenerate accepts an evidence payload with optional payment control
// fields, authorizes standard or premium execution and enqueues exactly one
// generation job once the decision is final.
func (gc *GenerateController) HandleGenerate(c *fiber.Ctx) error {
	payload := map[string]interface{}{}
	if err := c.BodyParser(&payload); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "request body must be a JSON object")
	}

	// Control fields come out before anything downstream sees the payload.
	req := gate.ExtractControlFields(payload)

	if _, err := evidence.Parse(payload); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_evidence", err.Error())
	}

	userCtx := usercontext.GetUserContext(c)
	decision, err := gc.gate.Authorize(c.Context(), userCtx.UserID, req)
	if err != nil {
		log.Errorf("[Generate] Authorization failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "ledger_unavailable", "could not check credit balance")
	}

	switch decision.Outcome {
	case gate.OutcomeLoginRequired:
		return jsonError(c, fiber.StatusUnauthorized, "unauthorized", "login required")
	case gate.OutcomePaymentRequired:
		return jsonError(c, fiber.StatusPaymentRequired, "payment_required", "payment required")
	}

	premium := decision.Outcome == gate.OutcomePremium
	job, err := gc.jobs.EnqueueJob(jobqueue.JobTypeGeneration, jobqueue.GenerationJobPayload{
		UserID:   userCtx.UserID,
		Premium:  premium,
		Evidence: payload,
	}.ToMap())
	if err != nil {
		// The credit (if any) is spent at this point; there is no refund.
		log.Errorf("[Generate] Failed to enqueue job for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusInternalServerError, "enqueue_failed", "could not schedule generation")
	}

	response := fiber.Map{
		"job_id":  job.ID,
		"premium": premium,
	}
	if premium {
		response["credits_remaining"] = decision.Remaining
	}
	return c.Status(fiber.StatusAccepted).JSON(response)
}

// HandleQueueStats reports queue depth and per-status job counts.
func (gc *GenerateController) HandleQueueStats(c *fiber.Ctx) error {
	stats, err := gc.jobs.GetJobStats(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "stats_unavailable", "could not load queue stats")
	}
	size, err := gc.jobs.GetQueueSize(c.Context())
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "stats_unavailable", "could not load queue size")
	}

	return c.JSON(fiber.Map{
		"pending_size": size,
		"statuses":     stats,
	})
}

// HandleJobStatus returns the status (and result, if finished) of a job.
func (gc *GenerateController) HandleJobStatus(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return jsonError(c, fiber.StatusBadRequest, "bad_request", "job id missing")
	}

	job, err := gc.jobs.GetJob(c.Context(), jobID)
	if err != nil {
		if err == redis.Nil {
			return jsonError(c, fiber.StatusNotFound, "not_found", "job not found or expired")
		}
		return jsonError(c, fiber.StatusInternalServerError, "status_unavailable", "could not load job")
	}

	response := fiber.Map{
		"job_id": job.ID,
		"status": job.Status,
	}
	if job.Status == jobqueue.JobStatusCompleted {
		response["result"] = job.Result
	}
	if job.ErrorMsg != "" {
		response["error"] = job.ErrorMsg
	}
	return c.JSON(response)
}
