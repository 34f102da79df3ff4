package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/analysis"
	"github.com/book-expert/page-narrator/internal/compose"
	"github.com/book-expert/page-narrator/internal/dialogue"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/manifest"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/raster"
	"github.com/book-expert/page-narrator/internal/timeline"
)

const (
	documentName = "document.pdf"
	pagesDir     = "pages"
	videoName    = "final.mp4"
)

// run carries one job's intermediate results between stages.
type run struct {
	id       string
	workDir  string
	images   []string
	pages    []timeline.Page
	track    *timeline.Timeline
	plan     allocator.Plan
	casting  map[string]string
	video    string
	storeCtx context.Context //nolint:containedctx
}

// Run executes a queued job to completion or to its first failure. A job
// runs at most once: a second call returns ErrAlreadyRun.
func (o *Orchestrator) Run(ctx context.Context, id string) error {
	if _, busy := o.running.LoadOrStore(id, struct{}{}); busy {
		return fmt.Errorf("%w: %s is running", ErrAlreadyRun, id)
	}
	defer o.running.Delete(id)

	current, err := o.deps.Jobs.Get(ctx, id)
	if err != nil {
		return err
	}

	if current.Status != job.StatusQueued {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyRun, id, current.Status)
	}

	r := &run{
		id:       id,
		workDir:  filepath.Join(o.settings.WorkspaceDir, id),
		storeCtx: context.WithoutCancel(ctx),
	}
	defer o.cleanWorkspace(r.workDir)

	pdfPath, stageErr := o.fetchDocument(ctx, current, r.workDir)
	if stageErr != nil {
		o.recordFailure(ctx, id, stageErr)

		return stageErr
	}

	_, startErr := o.deps.Jobs.Start(ctx, id)
	if startErr != nil {
		if errors.Is(startErr, job.ErrInvalidTransition) {
			return fmt.Errorf("%w: %w", ErrAlreadyRun, startErr)
		}

		return fmt.Errorf("failed to start job %s: %w", id, startErr)
	}

	o.log.Info("Job %s started: %s", id, current.Filename)

	stages := []func(context.Context, *run) *StageError{
		func(ctx context.Context, r *run) *StageError { return o.rasterize(ctx, r, pdfPath) },
		o.analyze,
		o.synthesize,
		o.allocate,
		o.compose,
		o.publish,
	}

	for _, stage := range stages {
		stageErr = stage(ctx, r)
		if stageErr != nil {
			o.recordFailure(ctx, id, stageErr)

			return stageErr
		}
	}

	completeErr := o.deps.Jobs.Complete(r.storeCtx, id, objectstore.VideoKey(id))
	if completeErr != nil {
		return fmt.Errorf("failed to complete job %s: %w", id, completeErr)
	}

	o.log.Info("Job %s completed: %d page(s), %v narrated", id, len(r.images), r.track.Total)

	return nil
}

// fetchDocument downloads and validates the document before the job leaves
// the queue. Failures here move the job straight from queued to failed.
func (o *Orchestrator) fetchDocument(ctx context.Context, current job.Job, workDir string) (string, *StageError) {
	data, err := o.deps.Objects.Download(ctx, current.DocumentKey)
	if err != nil {
		kind := job.KindStorage
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			kind = job.KindInput
		}

		return "", stageFailure(ctx, StageValidating, kind, err)
	}

	validationErr := raster.ValidatePDF(data)
	if validationErr != nil {
		return "", stageFailure(ctx, StageValidating, job.KindInput, validationErr)
	}

	mkdirErr := os.MkdirAll(workDir, 0o755)
	if mkdirErr != nil {
		return "", stageFailure(ctx, StageValidating, job.KindStorage, mkdirErr)
	}

	pdfPath := filepath.Join(workDir, documentName)

	writeErr := os.WriteFile(pdfPath, data, 0o600)
	if writeErr != nil {
		return "", stageFailure(ctx, StageValidating, job.KindStorage, writeErr)
	}

	return pdfPath, nil
}

func (o *Orchestrator) rasterize(ctx context.Context, r *run, pdfPath string) *StageError {
	o.advance(r, StageRasterizing, 0, 1)

	images, err := o.deps.Rasterizer.Rasterize(ctx, pdfPath, filepath.Join(r.workDir, pagesDir))
	if err != nil {
		return stageFailure(ctx, StageRasterizing, job.KindInput, err)
	}

	r.images = images
	o.advance(r, StageRasterizing, 1, 1)

	return nil
}

func (o *Orchestrator) analyze(ctx context.Context, r *run) *StageError {
	total := len(r.images)
	r.pages = make([]timeline.Page, 0, total)

	o.advance(r, StageAnalyzing, 0, total)

	for index, image := range r.images {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return stageFailure(ctx, StageAnalyzing, job.KindCancelled, ctxErr)
		}

		records, err := o.deps.Analyzer.Analyze(ctx, analysis.Page{Index: index, ImagePath: image})
		if err != nil {
			return stageFailure(ctx, StageAnalyzing, job.KindAnalysis, err)
		}

		validationErr := dialogue.ValidatePage(index, records)
		if validationErr != nil {
			return stageFailure(ctx, StageAnalyzing, job.KindAnalysis, validationErr)
		}

		if len(records) == 0 {
			o.warn(r, job.Warning{
				Kind:    job.WarningEmptyPage,
				Subject: fmt.Sprintf("page %d", index+1),
				Message: "no dialogue found",
			})
		}

		r.pages = append(r.pages, timeline.Page{Index: index, Records: records})
		o.advance(r, StageAnalyzing, index+1, total)
	}

	return nil
}

func (o *Orchestrator) synthesize(ctx context.Context, r *run) *StageError {
	healthErr := o.deps.Speech.HealthCheck(ctx)
	if healthErr != nil {
		return stageFailure(ctx, StageSynthesizing, job.KindSynthesis, healthErr)
	}

	session := o.deps.Speech.NewSession()

	assembler, err := timeline.NewAssembler(session, o.deps.Format, o.log)
	if err != nil {
		return stageFailure(ctx, StageSynthesizing, job.KindSynthesis, err)
	}

	track, err := assembler.Assemble(ctx, r.pages, r.workDir, &progress{orchestrator: o, run: r})
	if err != nil {
		return stageFailure(ctx, StageSynthesizing, assemblyKind(err), err)
	}

	r.track = track

	if caster, ok := session.(interface{ Casting() map[string]string }); ok {
		r.casting = caster.Casting()
	}

	return nil
}

func (o *Orchestrator) allocate(ctx context.Context, r *run) *StageError {
	o.advance(r, StageAllocating, 0, 1)

	plan, err := o.deps.Allocator.Allocate(r.track.Total, r.track.PageDurations(len(r.images)))
	if err != nil {
		return stageFailure(ctx, StageAllocating, job.KindInvariant, err)
	}

	if plan.FellBack {
		o.warn(r, job.Warning{
			Kind:    job.WarningPolicyFallback,
			Subject: string(plan.Requested),
			Message: fmt.Sprintf("minimum page time does not fit in %v; used %s", r.track.Total, plan.Policy),
		})
	}

	r.plan = plan
	o.advance(r, StageAllocating, 1, 1)

	return nil
}

func (o *Orchestrator) compose(ctx context.Context, r *run) *StageError {
	o.advance(r, StageComposing, 0, 1)

	r.video = filepath.Join(r.workDir, videoName)

	err := o.deps.Composer.Compose(ctx, compose.Request{
		Images:     r.images,
		Display:    r.plan.Display,
		AudioPath:  r.track.AudioPath,
		OutputPath: r.video,
	})
	if err != nil {
		return stageFailure(ctx, StageComposing, job.KindComposition, err)
	}

	o.advance(r, StageComposing, 1, 1)

	return nil
}

func (o *Orchestrator) publish(ctx context.Context, r *run) *StageError {
	o.advance(r, StagePublishing, 0, 2)

	uploadErr := o.deps.Objects.UploadFile(ctx, objectstore.VideoKey(r.id), r.video)
	if uploadErr != nil {
		return stageFailure(ctx, StagePublishing, job.KindStorage, uploadErr)
	}

	o.advance(r, StagePublishing, 1, 2)

	current, err := o.deps.Jobs.Get(r.storeCtx, r.id)
	if err != nil {
		return stageFailure(ctx, StagePublishing, job.KindStorage, err)
	}

	encoded, err := manifest.Encode(manifest.New(manifest.Inputs{
		Job:      current,
		Format:   o.deps.Format,
		Images:   r.images,
		Timeline: r.track,
		Plan:     r.plan,
		Casting:  r.casting,
		Now:      o.now(),
	}))
	if err != nil {
		return stageFailure(ctx, StagePublishing, job.KindStorage, err)
	}

	manifestErr := o.deps.Objects.Upload(ctx, objectstore.ManifestKey(r.id), encoded)
	if manifestErr != nil {
		return stageFailure(ctx, StagePublishing, job.KindStorage, manifestErr)
	}

	o.advance(r, StagePublishing, 2, 2)

	return nil
}

func (o *Orchestrator) advance(r *run, stage string, current, total int) {
	err := o.deps.Jobs.AdvanceStage(r.storeCtx, r.id, stage, job.Progress{Current: current, Total: total})
	if err != nil {
		o.log.Warn("Job %s: failed to record progress %s %d/%d: %v", r.id, stage, current, total, err)
	}
}

func (o *Orchestrator) warn(r *run, warning job.Warning) {
	o.log.Warn("Job %s: %s %s: %s", r.id, warning.Kind, warning.Subject, warning.Message)

	err := o.deps.Jobs.AddWarnings(r.storeCtx, r.id, warning)
	if err != nil {
		o.log.Error("Job %s: failed to record warning: %v", r.id, err)
	}
}

func (o *Orchestrator) cleanWorkspace(workDir string) {
	if o.settings.KeepWorkspace {
		return
	}

	removeErr := os.RemoveAll(workDir)
	if removeErr != nil {
		o.log.Warn("Failed to remove workspace %s: %v", workDir, removeErr)
	}
}

// progress reports assembly progress and skipped dialogue on the job.
type progress struct {
	orchestrator *Orchestrator
	run          *run
}

func (p *progress) DialogueDone(done, total int) {
	p.orchestrator.advance(p.run, StageSynthesizing, done, total)
}

func (p *progress) DialogueSkipped(skip timeline.Skip) {
	p.orchestrator.warn(p.run, job.Warning{
		Kind:    job.WarningSynthesisSkipped,
		Subject: skip.Ref.String(),
		Message: skip.Reason,
	})
}
