package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/Skeyelab/annualreview.com/internal/pkg/evidence"
	"github.com/Skeyelab/annualreview.com/internal/pkg/generation"
	"github.com/Skeyelab/annualreview.com/internal/pkg/metrics/counter"
)

// processGenerationJob runs the generation pipeline for one job. The credit
// (if any) was spent at authorization time; a pipeline failure here never
// refunds it.
func (q *Queue) processGenerationJob(ctx context.Context, job *Job) error {
	payload, err := GenerationJobPayloadFromMap(job.Payload)
	if err != nil {
		return fmt.Errorf("invalid generation payload: %w", err)
	}

	doc, err := evidence.Parse(payload.Evidence)
	if err != nil {
		return fmt.Errorf("invalid evidence in job payload: %w", err)
	}

	result, err := q.runner.Generate(ctx, doc, generation.Options{Premium: payload.Premium})
	if err != nil {
		return err
	}

	job.MarkAsCompleted(result)

	if payload.UserID != 0 {
		if cerr := counter.AddGeneration(payload.UserID, payload.Premium); cerr != nil {
			log.Warnf("[JobQueue] Failed to count generation for user %d: %v", payload.UserID, cerr)
		}
	}
	return nil
}
