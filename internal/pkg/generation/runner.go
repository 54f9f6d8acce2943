package generation

import (
	"context"

	"github.com/Skeyelab/annualreview.com/internal/pkg/evidence"
)

// Options selects the execution tier for one run.
type Options struct {
	Premium bool
}

// Runner produces a review document from validated evidence. The pipeline
// internals live behind this interface; the jobqueue processor is its only
// in-process consumer.
type Runner interface {
	Generate(ctx context.Context, doc *evidence.Document, opts Options) (string, error)
}
