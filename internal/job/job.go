// Package job holds the job record that tracks one document-to-video
// conversion, its status state machine, and the store contract that
// persists it.
package job

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates that no job exists with the requested id.
	ErrNotFound = errors.New("job not found")
	// ErrAlreadyExists indicates that a job with the same id was already created.
	ErrAlreadyExists = errors.New("job already exists")
	// ErrInvalidTransition indicates a status change the state machine does not allow.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrInvalidProgress indicates a progress value outside its bounds.
	ErrInvalidProgress = errors.New("invalid job progress")
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// canTransition encodes queued -> processing -> {completed | failed}, plus
// queued -> failed for input errors detected before processing starts.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted, StatusFailed:
		return false
	default:
		return false
	}
}

// ErrorKind classifies why a job failed.
type ErrorKind string

const (
	KindInput       ErrorKind = "input"
	KindAnalysis    ErrorKind = "analysis"
	KindSynthesis   ErrorKind = "synthesis"
	KindNoContent   ErrorKind = "no_content"
	KindComposition ErrorKind = "composition"
	KindInvariant   ErrorKind = "invariant"
	KindStorage     ErrorKind = "storage"
	KindCancelled   ErrorKind = "cancelled"
)

// Error is the terminal error recorded on a failed job.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// WarningKind classifies a non-fatal, per-unit problem.
type WarningKind string

const (
	WarningEmptyPage        WarningKind = "empty_page"
	WarningSynthesisSkipped WarningKind = "synthesis_skipped"
	WarningPolicyFallback   WarningKind = "policy_fallback"
)

// Warning is a non-fatal problem that did not stop the job.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Subject string      `json:"subject"`
	Message string      `json:"message"`
}

// Progress counts units of the current stage.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Validate checks that both counts are non-negative and Current <= Total
// once Total is known.
func (p Progress) Validate() error {
	if p.Current < 0 || p.Total < 0 {
		return fmt.Errorf("%w: %d/%d is negative", ErrInvalidProgress, p.Current, p.Total)
	}

	if p.Total > 0 && p.Current > p.Total {
		return fmt.Errorf("%w: current %d exceeds total %d", ErrInvalidProgress, p.Current, p.Total)
	}

	return nil
}

// Job is one document-to-video conversion.
type Job struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	DocumentKey string    `json:"document_key"`
	Status      Status    `json:"status"`
	Stage       string    `json:"stage"`
	Progress    Progress  `json:"progress"`
	ArtifactRef string    `json:"artifact_reference,omitempty"`
	Error       *Error    `json:"error,omitempty"`
	Warnings    []Warning `json:"warnings"`
	Policy      string    `json:"policy,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// New returns a queued job.
func New(id, filename, documentKey, policy string, now time.Time) Job {
	return Job{
		ID:          id,
		Filename:    filename,
		DocumentKey: documentKey,
		Status:      StatusQueued,
		Stage:       "queued",
		Warnings:    []Warning{},
		Policy:      policy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clean reports whether the job completed without warnings.
func (j *Job) Clean() bool {
	return j.Status == StatusCompleted && len(j.Warnings) == 0
}

// Clone returns a deep copy that shares no slices or pointers with j.
func (j *Job) Clone() Job {
	clone := *j

	clone.Warnings = append([]Warning{}, j.Warnings...)
	if j.Error != nil {
		jobErr := *j.Error
		clone.Error = &jobErr
	}

	return clone
}

// Start moves a queued job to processing.
func (j *Job) Start(now time.Time) error {
	err := j.transition(StatusProcessing, now)
	if err != nil {
		return err
	}

	j.Stage = "processing"

	return nil
}

// Advance records the current stage label and progress of a processing job.
func (j *Job) Advance(stage string, progress Progress, now time.Time) error {
	if j.Status != StatusProcessing {
		return fmt.Errorf("%w: cannot advance a %s job", ErrInvalidTransition, j.Status)
	}

	progressErr := progress.Validate()
	if progressErr != nil {
		return progressErr
	}

	j.Stage = stage
	j.Progress = progress
	j.touch(now)

	return nil
}

// AddWarnings appends warnings to a job that has not completed.
func (j *Job) AddWarnings(now time.Time, warnings ...Warning) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: cannot add warnings to a %s job", ErrInvalidTransition, j.Status)
	}

	j.Warnings = append(j.Warnings, warnings...)
	j.touch(now)

	return nil
}

// Complete moves a processing job to completed with its artifact reference.
func (j *Job) Complete(artifactRef string, now time.Time) error {
	if artifactRef == "" {
		return fmt.Errorf("%w: completed job needs an artifact reference", ErrInvalidTransition)
	}

	err := j.transition(StatusCompleted, now)
	if err != nil {
		return err
	}

	j.Stage = "completed"
	j.ArtifactRef = artifactRef
	j.Error = nil

	return nil
}

// Fail moves a queued or processing job to failed.
func (j *Job) Fail(kind ErrorKind, message string, now time.Time) error {
	err := j.transition(StatusFailed, now)
	if err != nil {
		return err
	}

	j.Stage = "failed"
	j.ArtifactRef = ""
	j.Error = &Error{Kind: kind, Message: message}

	return nil
}

func (j *Job) transition(to Status, now time.Time) error {
	if !canTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}

	j.Status = to
	j.touch(now)

	return nil
}

// touch keeps UpdatedAt monotonic even if the wall clock steps backwards.
func (j *Job) touch(now time.Time) {
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}
