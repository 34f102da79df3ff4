package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/timeline"
)

var (
	// ErrAlreadyRun indicates a Run on a job that is not queued or is already running.
	ErrAlreadyRun = errors.New("job has already been run")
	// ErrDocumentTooLarge indicates a submission over the size limit.
	ErrDocumentTooLarge = errors.New("document exceeds size limit")
	// ErrMissingDependency indicates an orchestrator built without a collaborator.
	ErrMissingDependency = errors.New("missing orchestrator dependency")
	// ErrMissingDocumentKey indicates a stored submission without an object key.
	ErrMissingDocumentKey = errors.New("document key cannot be empty")
)

// StageError is the failure of one pipeline stage.
type StageError struct {
	Stage string
	Kind  job.ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// stageFailure wraps err for stage with kind. Any failure after ctx ended
// is reported as a cancellation.
func stageFailure(ctx context.Context, stage string, kind job.ErrorKind, err error) *StageError {
	if ctx.Err() != nil {
		kind = job.KindCancelled
	}

	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// assemblyKind classifies timeline assembly failures.
func assemblyKind(err error) job.ErrorKind {
	switch {
	case errors.Is(err, timeline.ErrNoNarratableContent):
		return job.KindNoContent
	case errors.Is(err, timeline.ErrDurationMismatch):
		return job.KindInvariant
	case errors.Is(err, timeline.ErrWorkspace):
		return job.KindStorage
	default:
		return job.KindSynthesis
	}
}
