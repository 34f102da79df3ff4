package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/config"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// instantOrchestrator finishes every dispatched job immediately.
type instantOrchestrator struct {
	mu       sync.Mutex
	failJobs bool
	keys     []string
	jobs     map[string]job.Job
}

func (o *instantOrchestrator) SubmitStored(_ context.Context, filename, documentKey string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := uuid.NewString()
	o.keys = append(o.keys, documentKey)
	o.jobs[id] = job.New(id, filename, documentKey, "equal", time.Now())

	return id, nil
}

func (o *instantOrchestrator) Dispatch(_ context.Context, id string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current := o.jobs[id]
	now := time.Now()

	if o.failJobs {
		_ = current.Fail(job.KindNoContent, "no page had dialogue", now)
	} else {
		_ = current.Start(now)
		_ = current.Complete(objectstore.VideoKey(id), now)
	}

	o.jobs[id] = current
}

func (o *instantOrchestrator) GetStatus(_ context.Context, id string) (job.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	current, ok := o.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}

	return current, nil
}

func (o *instantOrchestrator) List(_ context.Context, _, _ int) ([]job.Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	jobs := make([]job.Job, 0, len(o.jobs))
	for _, current := range o.jobs {
		jobs = append(jobs, current)
	}

	return jobs, nil
}

func (o *instantOrchestrator) documentKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.keys...)
}

func startNarrator(t *testing.T, orch *instantOrchestrator) (string, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)

	testLogger, err := logger.New(t.TempDir(), "client-test.log")
	require.NoError(t, err)

	natsWorker, err := worker.NewNatsWorker(natsConnection, worker.Subjects{
		Submit: config.DefaultSubmitSubject,
		Status: config.DefaultStatusSubject,
		List:   config.DefaultListSubject,
	}, orch, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- natsWorker.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		natsConnection.Close()
		natsServer.Shutdown()
	})

	require.Eventually(t, func() bool {
		_, requestErr := natsConnection.Request(config.DefaultListSubject, nil, 200*time.Millisecond)

		return requestErr == nil
	}, 5*time.Second, 20*time.Millisecond)

	return natsServer.ClientURL(), natsConnection
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	rootCmd := newRootCmd(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()

	return out.String(), err
}

func writeDocument(t *testing.T) (string, []byte) {
	t.Helper()

	data := []byte("%PDF-1.7\n1 0 obj\n<<>>\nendobj\n%%EOF\n")
	path := filepath.Join(t.TempDir(), "chapter.pdf")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path, data
}

func TestSubmitWait(t *testing.T) {
	t.Parallel()

	orch := &instantOrchestrator{jobs: map[string]job.Job{}}
	url, natsConnection := startNarrator(t, orch)
	path, data := writeDocument(t)

	out, err := execute(t, "--nats-url", url, "--poll", "10ms", "submit", path, "--wait")
	require.NoError(t, err)

	assert.Contains(t, out, "Submitted "+path)
	assert.Contains(t, out, `"status": "completed"`)
	assert.Contains(t, out, `"artifact_reference": "videos/`)

	keys := orch.documentKeys()
	require.Len(t, keys, 1)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, config.DefaultBucket)
	require.NoError(t, err)

	uploaded, err := store.Download(context.Background(), keys[0])
	require.NoError(t, err)
	assert.Equal(t, data, uploaded)
}

func TestAwaitFailedJob(t *testing.T) {
	t.Parallel()

	orch := &instantOrchestrator{failJobs: true, jobs: map[string]job.Job{}}
	url, _ := startNarrator(t, orch)
	path, _ := writeDocument(t)

	out, err := execute(t, "--nats-url", url, "--poll", "10ms", "submit", path, "--wait")
	require.ErrorIs(t, err, errFailed)
	assert.Contains(t, out, `"kind": "no_content"`)
}

func TestStatusAndList(t *testing.T) {
	t.Parallel()

	orch := &instantOrchestrator{jobs: map[string]job.Job{}}
	url, _ := startNarrator(t, orch)

	id := uuid.NewString()
	orch.mu.Lock()
	orch.jobs[id] = job.New(id, "book.pdf", objectstore.DocumentKey(id), "weighted", time.Now())
	orch.mu.Unlock()

	out, err := execute(t, "--nats-url", url, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "queued"`)
	assert.Contains(t, out, `"filename": "book.pdf"`)

	out, err = execute(t, "--nats-url", url, "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)

	_, err = execute(t, "--nats-url", url, "status", "missing")
	require.ErrorIs(t, err, errRemote)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	orch := &instantOrchestrator{jobs: map[string]job.Job{}}
	url, natsConnection := startNarrator(t, orch)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, config.DefaultBucket)
	require.NoError(t, err)

	id := uuid.NewString()
	video := []byte("\x00\x00\x00\x18ftypmp42 narrated video")
	require.NoError(t, store.Upload(context.Background(), objectstore.VideoKey(id), video))

	completed := job.New(id, "book.pdf", objectstore.DocumentKey(id), "equal", time.Now())
	require.NoError(t, completed.Start(time.Now()))
	require.NoError(t, completed.Complete(objectstore.VideoKey(id), time.Now()))

	queued := uuid.NewString()

	orch.mu.Lock()
	orch.jobs[id] = completed
	orch.jobs[queued] = job.New(queued, "later.pdf", objectstore.DocumentKey(queued), "equal", time.Now())
	orch.mu.Unlock()

	output := filepath.Join(t.TempDir(), "out.mp4")

	out, err := execute(t, "--nats-url", url, "download", id, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "Saved "+objectstore.VideoKey(id))

	saved, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, video, saved)

	_, err = execute(t, "--nats-url", url, "download", queued, "-o", filepath.Join(t.TempDir(), "none.mp4"))
	require.ErrorIs(t, err, errNoArtifact)

	_, err = execute(t, "--nats-url", url, "download", "missing")
	require.ErrorIs(t, err, errRemote)
}

func TestArgumentValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		args []string
	}{
		{name: "submit without file", args: []string{"submit"}},
		{name: "status with two ids", args: []string{"status", "a", "b"}},
		{name: "list with argument", args: []string{"list", "extra"}},
		{name: "download without id", args: []string{"download"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := execute(t, tc.args...)
			require.Error(t, err)
		})
	}
}
