// Package orchestrator_test drives whole jobs through fake collaborators.
package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/allocator"
	"github.com/book-expert/page-narrator/internal/analysis"
	"github.com/book-expert/page-narrator/internal/audio"
	"github.com/book-expert/page-narrator/internal/audio/audiotest"
	"github.com/book-expert/page-narrator/internal/compose"
	"github.com/book-expert/page-narrator/internal/dialogue"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/jobstore"
	"github.com/book-expert/page-narrator/internal/manifest"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/orchestrator"
	"github.com/book-expert/page-narrator/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSampleRate = 22050

var (
	errMockAnalyze = errors.New("mock analyze error")
	errMockSpeech  = errors.New("mock speech error")
	errMockHealth  = errors.New("mock health error")
	errMockCompose = errors.New("mock compose error")

	validPDF = []byte("%PDF-1.7\n% test document\n")
)

type fakeRasterizer struct {
	mu        sync.Mutex
	pageCount int
	calls     int
}

func (f *fakeRasterizer) Rasterize(_ context.Context, _, outDir string) ([]string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	err := os.MkdirAll(outDir, 0o755)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, f.pageCount)

	for page := 1; page <= f.pageCount; page++ {
		path := filepath.Join(outDir, fmt.Sprintf("page-%d.png", page))

		writeErr := os.WriteFile(path, []byte("png"), 0o600)
		if writeErr != nil {
			return nil, writeErr
		}

		pages = append(pages, path)
	}

	return pages, nil
}

type fakeAnalyzer struct {
	mu         sync.Mutex
	byPage     map[int][]dialogue.Record
	failOnPage int
	calls      []int
	block      chan struct{}
	entered    chan struct{}
}

func (f *fakeAnalyzer) Analyze(_ context.Context, page analysis.Page) ([]dialogue.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page.Index)
	f.mu.Unlock()

	if f.block != nil && page.Index == 0 {
		f.entered <- struct{}{}
		<-f.block
	}

	if f.failOnPage > 0 && page.Index == f.failOnPage {
		return nil, errMockAnalyze
	}

	return f.byPage[page.Index], nil
}

type fakeSpeech struct {
	t                *testing.T
	mu               sync.Mutex
	healthShouldFail bool
	fail             map[dialogue.Ref]bool
	onSynthesize     func(request timeline.SpeechRequest)
	sessions         int
	requests         []timeline.SpeechRequest
}

func (f *fakeSpeech) HealthCheck(context.Context) error {
	if f.healthShouldFail {
		return errMockHealth
	}

	return nil
}

func (f *fakeSpeech) NewSession() timeline.Synthesizer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sessions++

	return f
}

// Synthesize renders every line as one second of tone.
func (f *fakeSpeech) Synthesize(_ context.Context, request timeline.SpeechRequest) (timeline.Speech, error) {
	f.mu.Lock()
	f.requests = append(f.requests, request)
	f.mu.Unlock()

	if f.onSynthesize != nil {
		f.onSynthesize(request)
	}

	if f.fail[request.Ref] {
		return timeline.Speech{}, errMockSpeech
	}

	return timeline.Speech{Audio: audiotest.Tone(f.t, testSampleRate, time.Second), Duration: time.Second}, nil
}

type fakeComposer struct {
	mu         sync.Mutex
	shouldFail bool
	calls      int
	last       compose.Request
}

func (f *fakeComposer) Compose(_ context.Context, request compose.Request) error {
	f.mu.Lock()
	f.calls++
	f.last = request
	f.mu.Unlock()

	if f.shouldFail {
		return errMockCompose
	}

	return os.WriteFile(request.OutputPath, []byte("video"), 0o600)
}

type harness struct {
	orch       *orchestrator.Orchestrator
	jobs       *job.MemoryStore
	objects    *objectstore.MemoryStore
	rasterizer *fakeRasterizer
	analyzer   *fakeAnalyzer
	speech     *fakeSpeech
	composer   *fakeComposer
	workspace  string
}

type harnessOptions struct {
	policy        allocator.Policy
	minPage       time.Duration
	maxConcurrent int
	maxBytes      int64
	jobs          job.Store
}

func line(page, sequence int, speaker string, gap time.Duration) dialogue.Record {
	return dialogue.Record{
		PageIndex:     page,
		Sequence:      sequence,
		Text:          "line",
		Speaker:       speaker,
		SpeakerGender: dialogue.GenderMale,
		PreGap:        gap,
		Emotion:       dialogue.Emotion{Type: dialogue.EmotionCalm, Intensity: 0.5, Stability: 0.5, Style: 0.5},
		Voice:         dialogue.Voice{Speed: 1.0, Volume: 1.0, Pitch: dialogue.PitchMedium},
	}
}

// threePages has two lines on page 1, none on page 2 and two on page 3.
func threePages() map[int][]dialogue.Record {
	return map[int][]dialogue.Record{
		0: {line(0, 1, "Kenji", 0), line(0, 2, "Aiko", 500*time.Millisecond)},
		2: {line(2, 1, "Kenji", 0), line(2, 2, "Ryo", 0)},
	}
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	log, err := logger.New(t.TempDir(), "orchestrator-test.log")
	require.NoError(t, err)

	if opts.policy == "" {
		opts.policy = allocator.PolicyEqual
	}

	alloc, err := allocator.New(opts.policy, opts.minPage)
	require.NoError(t, err)

	h := &harness{
		jobs:       job.NewMemoryStore(),
		objects:    objectstore.NewMemoryStore(),
		rasterizer: &fakeRasterizer{pageCount: 3},
		analyzer:   &fakeAnalyzer{byPage: threePages()},
		speech:     &fakeSpeech{t: t, fail: map[dialogue.Ref]bool{}},
		composer:   &fakeComposer{},
		workspace:  t.TempDir(),
	}

	var jobs job.Store = h.jobs
	if opts.jobs != nil {
		jobs = opts.jobs
	}

	h.orch, err = orchestrator.New(orchestrator.Deps{
		Jobs:       jobs,
		Objects:    h.objects,
		Rasterizer: h.rasterizer,
		Analyzer:   h.analyzer,
		Speech:     h.speech,
		Composer:   h.composer,
		Allocator:  alloc,
		Format:     audio.Format{SampleRate: testSampleRate, Channels: 1, BitDepth: 16},
	}, orchestrator.Settings{
		WorkspaceDir:      h.workspace,
		MaxConcurrentJobs: opts.maxConcurrent,
		PollInterval:      5 * time.Millisecond,
		MaxDocumentBytes:  opts.maxBytes,
	}, log)
	require.NoError(t, err)

	return h
}

func (h *harness) submit(t *testing.T, document []byte) string {
	t.Helper()

	id, err := h.orch.Submit(context.Background(), orchestrator.Input{Filename: "chapter.pdf", Document: document})
	require.NoError(t, err)

	return id
}

func (h *harness) status(t *testing.T, id string) job.Job {
	t.Helper()

	current, err := h.orch.GetStatus(context.Background(), id)
	require.NoError(t, err)

	return current
}

func warningKinds(j job.Job) []job.WarningKind {
	kinds := make([]job.WarningKind, 0, len(j.Warnings))
	for _, warning := range j.Warnings {
		kinds = append(kinds, warning.Kind)
	}

	return kinds
}

func requireFailed(t *testing.T, j job.Job, kind job.ErrorKind) {
	t.Helper()

	assert.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Error)
	assert.Equal(t, kind, j.Error.Kind)
	assert.Empty(t, j.ArtifactRef)
}

func TestRun_CompletesWithWarnings(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.speech.fail[dialogue.Ref{PageIndex: 2, Sequence: 2}] = true

	id := h.submit(t, validPDF)
	assert.Equal(t, job.StatusQueued, h.status(t, id).Status)

	require.NoError(t, h.orch.Run(context.Background(), id))

	done := h.status(t, id)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.Nil(t, done.Error)
	assert.Equal(t, objectstore.VideoKey(id), done.ArtifactRef)
	assert.Equal(t, string(allocator.PolicyEqual), done.Policy)
	assert.Equal(t, []job.WarningKind{job.WarningEmptyPage, job.WarningSynthesisSkipped}, warningKinds(done))
	assert.False(t, done.Clean())

	// 1s + 0.5s gap + 1s on page 1, 1s on page 3, split equally over 3 images.
	require.Equal(t, 1, h.composer.calls)
	require.Len(t, h.composer.last.Images, 3)

	var sum time.Duration
	for _, display := range h.composer.last.Display {
		sum += display
	}

	assert.Equal(t, 3500*time.Millisecond, sum)

	assert.Equal(t, []string{
		objectstore.DocumentKey(id), objectstore.ManifestKey(id), objectstore.VideoKey(id),
	}, h.objects.Keys())

	compressed, err := h.objects.Download(context.Background(), objectstore.ManifestKey(id))
	require.NoError(t, err)

	m, err := manifest.Decode(compressed)
	require.NoError(t, err)
	assert.Equal(t, id, m.JobID)
	assert.Equal(t, 3500*time.Millisecond, m.Plan.Sum())
	assert.Len(t, m.Cues, 3)
	assert.Len(t, m.Skipped, 1)
	assert.Len(t, m.Warnings, 2)

	assert.NoDirExists(t, filepath.Join(h.workspace, id))
}

func TestRun_CleanSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.rasterizer.pageCount = 1
	h.analyzer.byPage = map[int][]dialogue.Record{0: {line(0, 1, "Kenji", 0)}}

	id := h.submit(t, validPDF)
	require.NoError(t, h.orch.Run(context.Background(), id))

	done := h.status(t, id)
	assert.True(t, done.Clean())
	assert.Equal(t, []time.Duration{time.Second}, h.composer.last.Display)
}

func TestRun_FailFastOnAnalysisError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.analyzer.failOnPage = 1

	id := h.submit(t, validPDF)

	runErr := h.orch.Run(context.Background(), id)
	require.ErrorIs(t, runErr, errMockAnalyze)

	var stageErr *orchestrator.StageError
	require.ErrorAs(t, runErr, &stageErr)
	assert.Equal(t, orchestrator.StageAnalyzing, stageErr.Stage)

	requireFailed(t, h.status(t, id), job.KindAnalysis)
	assert.Equal(t, []int{0, 1}, h.analyzer.calls)
	assert.Zero(t, h.speech.sessions)
	assert.Zero(t, h.composer.calls)
	assert.Equal(t, []string{objectstore.DocumentKey(id)}, h.objects.Keys())
}

func TestRun_MalformedAnalysisIsAnalysisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.analyzer.byPage[0] = []dialogue.Record{line(0, 2, "Kenji", 0)}

	id := h.submit(t, validPDF)

	require.ErrorIs(t, h.orch.Run(context.Background(), id), dialogue.ErrMalformedPage)
	requireFailed(t, h.status(t, id), job.KindAnalysis)
	assert.Zero(t, h.composer.calls)
}

func TestRun_InputFailureFromQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})

	id := h.submit(t, []byte("PK\x03\x04 not a pdf"))

	var stageErr *orchestrator.StageError
	require.ErrorAs(t, h.orch.Run(context.Background(), id), &stageErr)
	assert.Equal(t, orchestrator.StageValidating, stageErr.Stage)

	requireFailed(t, h.status(t, id), job.KindInput)
	assert.Zero(t, h.rasterizer.calls)

	missing, err := h.orch.SubmitStored(context.Background(), "gone.pdf", "documents/gone.pdf")
	require.NoError(t, err)
	require.Error(t, h.orch.Run(context.Background(), missing))
	requireFailed(t, h.status(t, missing), job.KindInput)
}

func TestRun_AtMostOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.analyzer.block = make(chan struct{})
	h.analyzer.entered = make(chan struct{})

	id := h.submit(t, validPDF)

	firstErr := make(chan error, 1)

	go func() { firstErr <- h.orch.Run(context.Background(), id) }()

	<-h.analyzer.entered
	require.ErrorIs(t, h.orch.Run(context.Background(), id), orchestrator.ErrAlreadyRun)
	close(h.analyzer.block)

	require.NoError(t, <-firstErr)
	require.ErrorIs(t, h.orch.Run(context.Background(), id), orchestrator.ErrAlreadyRun)

	assert.Equal(t, 1, h.composer.calls)
	assert.Equal(t, 1, h.speech.sessions)
}

func TestRun_NoNarratableContent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	for page, records := range threePages() {
		for _, record := range records {
			h.speech.fail[dialogue.Ref{PageIndex: page, Sequence: record.Sequence}] = true
		}
	}

	id := h.submit(t, validPDF)

	require.ErrorIs(t, h.orch.Run(context.Background(), id), timeline.ErrNoNarratableContent)

	failed := h.status(t, id)
	requireFailed(t, failed, job.KindNoContent)
	assert.Contains(t, warningKinds(failed), job.WarningSynthesisSkipped)
	assert.Zero(t, h.composer.calls)
}

func TestRun_CancelledBetweenDialogues(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	h.speech.onSynthesize = func(timeline.SpeechRequest) { cancel() }

	id := h.submit(t, validPDF)

	runErr := h.orch.Run(ctx, id)
	require.ErrorIs(t, runErr, context.Canceled)

	requireFailed(t, h.status(t, id), job.KindCancelled)
	assert.Len(t, h.speech.requests, 1)
	assert.Zero(t, h.composer.calls)
}

func TestRun_HealthCheckFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.speech.healthShouldFail = true

	id := h.submit(t, validPDF)

	require.ErrorIs(t, h.orch.Run(context.Background(), id), errMockHealth)
	requireFailed(t, h.status(t, id), job.KindSynthesis)
	assert.Empty(t, h.speech.requests)
}

func TestRun_CompositionFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.composer.shouldFail = true

	id := h.submit(t, validPDF)

	require.ErrorIs(t, h.orch.Run(context.Background(), id), errMockCompose)
	requireFailed(t, h.status(t, id), job.KindComposition)
	assert.Equal(t, []string{objectstore.DocumentKey(id)}, h.objects.Keys())
}

func TestRun_MergeWorkspaceFailureIsStorage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	id := h.submit(t, validPDF)

	// A directory where the merged track belongs makes the merge write fail.
	h.speech.onSynthesize = func(timeline.SpeechRequest) {
		_ = os.MkdirAll(filepath.Join(h.workspace, id, "narration.wav"), 0o755)
	}

	runErr := h.orch.Run(context.Background(), id)
	require.ErrorIs(t, runErr, timeline.ErrWorkspace)

	var stageErr *orchestrator.StageError
	require.ErrorAs(t, runErr, &stageErr)
	assert.Equal(t, orchestrator.StageSynthesizing, stageErr.Stage)

	requireFailed(t, h.status(t, id), job.KindStorage)
	assert.Zero(t, h.composer.calls)
}

func TestRun_CorruptClipIsSynthesisFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	h.rasterizer.pageCount = 1
	h.analyzer.byPage = map[int][]dialogue.Record{0: {line(0, 1, "Kenji", 0), line(0, 2, "Aiko", 0)}}

	id := h.submit(t, validPDF)

	// Voicing the second line overwrites the first clip before the merge reads it.
	h.speech.onSynthesize = func(request timeline.SpeechRequest) {
		if request.Ref.Sequence == 2 {
			clip := filepath.Join(h.workspace, id, "speech", "page-001-line-001.wav")
			_ = os.WriteFile(clip, []byte("garbage"), 0o600)
		}
	}

	runErr := h.orch.Run(context.Background(), id)
	require.Error(t, runErr)
	require.NotErrorIs(t, runErr, timeline.ErrWorkspace)

	requireFailed(t, h.status(t, id), job.KindSynthesis)
	assert.Zero(t, h.composer.calls)
}

func TestRun_WeightedPolicy(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{policy: allocator.PolicyWeighted, minPage: 500 * time.Millisecond})
	h.rasterizer.pageCount = 2
	h.analyzer.byPage = map[int][]dialogue.Record{
		0: {line(0, 1, "Kenji", 0), line(0, 2, "Kenji", 0), line(0, 3, "Kenji", 0)},
		1: {line(1, 1, "Aiko", 0)},
	}

	id := h.submit(t, validPDF)
	require.NoError(t, h.orch.Run(context.Background(), id))

	assert.Equal(t, []time.Duration{3 * time.Second, time.Second}, h.composer.last.Display)
	assert.True(t, h.status(t, id).Clean())
}

func TestRun_PolicyFallbackWarning(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{policy: allocator.PolicyWeighted, minPage: 10 * time.Second})

	id := h.submit(t, validPDF)
	require.NoError(t, h.orch.Run(context.Background(), id))

	done := h.status(t, id)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.Contains(t, warningKinds(done), job.WarningPolicyFallback)

	// 4.5s of narration split equally after the fallback.
	share := 1500 * time.Millisecond
	assert.Equal(t, []time.Duration{share, share, share}, h.composer.last.Display)
}

func TestSubmit_RejectsOversizedDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{maxBytes: 8})

	_, err := h.orch.Submit(context.Background(), orchestrator.Input{Filename: "big.pdf", Document: validPDF})
	require.ErrorIs(t, err, orchestrator.ErrDocumentTooLarge)

	jobs, err := h.orch.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.Empty(t, h.objects.Keys())

	_, err = h.orch.SubmitStored(context.Background(), "x.pdf", " ")
	require.ErrorIs(t, err, orchestrator.ErrMissingDocumentKey)
}

func TestDispatch_AwaitCompletion(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{maxConcurrent: 2})

	ids := []string{h.submit(t, validPDF), h.submit(t, validPDF), h.submit(t, validPDF)}
	for _, id := range ids {
		h.orch.Dispatch(context.Background(), id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range ids {
		done, err := h.orch.AwaitCompletion(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, job.StatusCompleted, done.Status)
	}

	h.orch.Wait()
	assert.Equal(t, 3, h.composer.calls)
}

func TestDispatch_CancelledWhileQueued(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{maxConcurrent: 1})
	h.analyzer.block = make(chan struct{})
	h.analyzer.entered = make(chan struct{})

	first := h.submit(t, validPDF)
	second := h.submit(t, validPDF)

	h.orch.Dispatch(context.Background(), first)
	<-h.analyzer.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.orch.Dispatch(ctx, second)

	waitCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()

	cancelled, err := h.orch.AwaitCompletion(waitCtx, second)
	require.NoError(t, err)
	requireFailed(t, cancelled, job.KindCancelled)

	close(h.analyzer.block)
	h.orch.Wait()

	assert.Equal(t, job.StatusCompleted, h.status(t, first).Status)
}

func TestAwaitCompletion_StopsWithContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOptions{})
	id := h.submit(t, validPDF)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	current, err := h.orch.AwaitCompletion(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, job.StatusQueued, current.Status)

	_, err = h.orch.GetStatus(context.Background(), "missing")
	require.ErrorIs(t, err, job.ErrNotFound)
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := orchestrator.New(orchestrator.Deps{}, orchestrator.Settings{}, nil)
	require.ErrorIs(t, err, orchestrator.ErrMissingDependency)
}

func TestRecover_SettlesUnfinishedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	interrupted := h.submit(t, validPDF)
	_, err := h.jobs.Start(ctx, interrupted)
	require.NoError(t, err)

	waiting := h.submit(t, validPDF)

	finished := h.submit(t, validPDF)
	require.NoError(t, h.jobs.Fail(ctx, finished, job.KindInput, "not a pdf"))

	recovered, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	failed := h.status(t, interrupted)
	requireFailed(t, failed, job.KindCancelled)
	assert.Equal(t, "service restarted before the job finished", failed.Error.Message)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	done, err := h.orch.AwaitCompletion(waitCtx, waiting)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)

	h.orch.Wait()

	untouched := h.status(t, finished)
	requireFailed(t, untouched, job.KindInput)
	assert.Equal(t, 1, h.composer.calls)
}

func TestRecover_AfterRestartWithSQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.db")

	before, err := jobstore.Open(path)
	require.NoError(t, err)

	interrupted := job.New("interrupted", "a.pdf", objectstore.DocumentKey("interrupted"), "equal", time.Now())
	require.NoError(t, before.Create(ctx, interrupted))
	_, err = before.Start(ctx, interrupted.ID)
	require.NoError(t, err)

	waiting := job.New("waiting", "b.pdf", objectstore.DocumentKey("waiting"), "equal", time.Now())
	require.NoError(t, before.Create(ctx, waiting))
	require.NoError(t, before.Close())

	after, err := jobstore.Open(path)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = after.Close()
	})

	h := newHarness(t, harnessOptions{jobs: after})
	require.NoError(t, h.objects.Upload(ctx, waiting.DocumentKey, validPDF))

	recovered, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, recovered)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	failed, err := h.orch.AwaitCompletion(waitCtx, interrupted.ID)
	require.NoError(t, err)
	requireFailed(t, failed, job.KindCancelled)

	done, err := h.orch.AwaitCompletion(waitCtx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusCompleted, done.Status)
	assert.Equal(t, objectstore.VideoKey(waiting.ID), done.ArtifactRef)

	h.orch.Wait()

	again, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}
