// Package orchestrator drives a job from an uploaded document to a narrated
// video. Each job runs its stages strictly in order and stops at the first
// failure; several jobs may run at once up to a configured limit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/analysis"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/compose"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/raster"
	"github.com/book-expert/page-narrator/internal/timeline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Defaults for Settings.
const (
	DefaultMaxConcurrentJobs = 2
	DefaultPollInterval      = 500 * time.Millisecond
	DefaultMaxDocumentBytes  = 50 << 20
	defaultFilename          = "document.pdf"
	restartedMessage         = "service restarted before the job finished"
)

// Stage labels reported on the job while it runs.
const (
	StageValidating   = "validating"
	StageRasterizing  = "rasterizing"
	StageAnalyzing    = "analyzing"
	StageSynthesizing = "synthesizing"
	StageAllocating   = "allocating"
	StageComposing    = "composing"
	StagePublishing   = "publishing"
)

// Speech opens one synthesis session per job.
type Speech interface {
	HealthCheck(ctx context.Context) error
	NewSession() timeline.Synthesizer
}

// Deps are the collaborators a run needs.
type Deps struct {
	Jobs       job.Store
	Objects    objectstore.Store
	Rasterizer raster.Rasterizer
	Analyzer   analysis.Analyzer
	Speech     Speech
	Composer   compose.Composer
	Allocator  *allocator.Allocator
	Format     audio.Format
}

func (d Deps) validate() error {
	missing := []string{}

	if d.Jobs == nil {
		missing = append(missing, "job store")
	}

	if d.Objects == nil {
		missing = append(missing, "object store")
	}

	if d.Rasterizer == nil {
		missing = append(missing, "rasterizer")
	}

	if d.Analyzer == nil {
		missing = append(missing, "analyzer")
	}

	if d.Speech == nil {
		missing = append(missing, "speech")
	}

	if d.Composer == nil {
		missing = append(missing, "composer")
	}

	if d.Allocator == nil {
		missing = append(missing, "allocator")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingDependency, strings.Join(missing, ", "))
	}

	return d.Format.Validate()
}

// Settings tunes the orchestrator.
type Settings struct {
	WorkspaceDir      string
	KeepWorkspace     bool
	MaxConcurrentJobs int
	PollInterval      time.Duration
	MaxDocumentBytes  int64
}

func (s Settings) withDefaults() Settings {
	if s.MaxConcurrentJobs <= 0 {
		s.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}

	if s.PollInterval <= 0 {
		s.PollInterval = DefaultPollInterval
	}

	if s.MaxDocumentBytes <= 0 {
		s.MaxDocumentBytes = DefaultMaxDocumentBytes
	}

	if s.WorkspaceDir == "" {
		s.WorkspaceDir = filepath.Join(os.TempDir(), "page-narrator")
	}

	return s
}

// Input is a document submitted for narration.
type Input struct {
	Filename string
	Document []byte
}

// Orchestrator owns job submission, execution and status.
type Orchestrator struct {
	deps     Deps
	settings Settings
	log      *logger.Logger

	slots   chan struct{}
	running sync.Map
	wg      sync.WaitGroup
	now     func() time.Time
}

// New returns an orchestrator.
func New(deps Deps, settings Settings, log *logger.Logger) (*Orchestrator, error) {
	depsErr := deps.validate()
	if depsErr != nil {
		return nil, depsErr
	}

	settings = settings.withDefaults()

	return &Orchestrator{
		deps:     deps,
		settings: settings,
		log:      log,
		slots:    make(chan struct{}, settings.MaxConcurrentJobs),
		now:      time.Now,
	}, nil
}

// Submit stores the document and creates a queued job. It does not run it.
func (o *Orchestrator) Submit(ctx context.Context, input Input) (string, error) {
	size := int64(len(input.Document))
	if size > o.settings.MaxDocumentBytes {
		return "", fmt.Errorf("%w: %s > %s", ErrDocumentTooLarge,
			humanize.Bytes(uint64(size)), humanize.Bytes(uint64(o.settings.MaxDocumentBytes)))
	}

	id := uuid.NewString()
	key := objectstore.DocumentKey(id)

	uploadErr := o.deps.Objects.Upload(ctx, key, input.Document)
	if uploadErr != nil {
		return "", fmt.Errorf("failed to store document: %w", uploadErr)
	}

	createErr := o.create(ctx, id, input.Filename, key)
	if createErr != nil {
		return "", createErr
	}

	o.log.Info("Job %s submitted: %s (%s)", id, input.Filename, humanize.Bytes(uint64(size)))

	return id, nil
}

// SubmitStored creates a queued job for a document already in the object store.
func (o *Orchestrator) SubmitStored(ctx context.Context, filename, documentKey string) (string, error) {
	if strings.TrimSpace(documentKey) == "" {
		return "", ErrMissingDocumentKey
	}

	id := uuid.NewString()

	createErr := o.create(ctx, id, filename, documentKey)
	if createErr != nil {
		return "", createErr
	}

	o.log.Info("Job %s submitted from stored document %s", id, documentKey)

	return id, nil
}

func (o *Orchestrator) create(ctx context.Context, id, filename, documentKey string) error {
	if strings.TrimSpace(filename) == "" {
		filename = defaultFilename
	}

	queued := job.New(id, filename, documentKey, string(o.deps.Allocator.Policy()), o.now())

	createErr := o.deps.Jobs.Create(ctx, queued)
	if createErr != nil {
		return fmt.Errorf("failed to create job: %w", createErr)
	}

	return nil
}

// Dispatch runs the job in the background once a slot is free. A job still
// waiting for a slot when ctx ends is failed as cancelled.
func (o *Orchestrator) Dispatch(ctx context.Context, id string) {
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()

		select {
		case o.slots <- struct{}{}:
		case <-ctx.Done():
			o.recordFailure(ctx, id, &StageError{Stage: "queued", Kind: job.KindCancelled, Err: ctx.Err()})

			return
		}

		defer func() { <-o.slots }()

		runErr := o.Run(ctx, id)
		if runErr != nil {
			o.log.Error("Job %s: %v", id, runErr)
		}
	}()
}

// Recover settles jobs a previous process left unfinished. Jobs caught
// mid-run are failed as cancelled, then queued jobs are dispatched under ctx
// oldest first. It returns how many jobs it touched.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.deps.Jobs.List(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list jobs for recovery: %w", err)
	}

	queued := []string{}
	recovered := 0

	for index := len(jobs) - 1; index >= 0; index-- {
		current := jobs[index]

		if _, busy := o.running.Load(current.ID); busy {
			continue
		}

		switch current.Status {
		case job.StatusQueued:
			queued = append(queued, current.ID)
		case job.StatusProcessing:
			failErr := o.deps.Jobs.Fail(ctx, current.ID, job.KindCancelled, restartedMessage)
			if failErr != nil && !errors.Is(failErr, job.ErrInvalidTransition) {
				return recovered, fmt.Errorf("failed to fail interrupted job %s: %w", current.ID, failErr)
			}

			o.log.Warn("Job %s was interrupted while %s; marked failed", current.ID, current.Stage)

			recovered++
		}
	}

	for _, id := range queued {
		o.log.Info("Job %s was still queued; dispatching", id)
		o.Dispatch(ctx, id)
	}

	return recovered + len(queued), nil
}

// Wait blocks until every dispatched run has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// GetStatus returns the current job record.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (job.Job, error) {
	return o.deps.Jobs.Get(ctx, id)
}

// List returns jobs newest first.
func (o *Orchestrator) List(ctx context.Context, limit, offset int) ([]job.Job, error) {
	return o.deps.Jobs.List(ctx, limit, offset)
}

// AwaitCompletion polls until the job is completed or failed, or ctx ends.
func (o *Orchestrator) AwaitCompletion(ctx context.Context, id string) (job.Job, error) {
	ticker := time.NewTicker(o.settings.PollInterval)
	defer ticker.Stop()

	for {
		current, err := o.deps.Jobs.Get(ctx, id)
		if err != nil {
			return job.Job{}, err
		}

		if current.Status.Terminal() {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return current, fmt.Errorf("stopped waiting for job %s: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// recordFailure stores a stage failure on the job. The write is detached
// from ctx so cancelled runs are still recorded.
func (o *Orchestrator) recordFailure(ctx context.Context, id string, stageErr *StageError) {
	failErr := o.deps.Jobs.Fail(context.WithoutCancel(ctx), id, stageErr.Kind, stageErr.Error())
	if failErr != nil && !errors.Is(failErr, job.ErrInvalidTransition) {
		o.log.Error("Job %s: failed to record failure: %v", id, failErr)

		return
	}

	o.log.Warn("Job %s failed: %v", id, stageErr)
}
