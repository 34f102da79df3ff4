// Package worker_test tests the NATS surface of the narrator.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockSubmit = errors.New("mock submit error")

var subjects = worker.Subjects{
	Submit: "narrator.submit",
	Status: "narrator.status",
	List:   "narrator.list",
}

// mockOrchestrator records what the worker asked of it.
type mockOrchestrator struct {
	mu               sync.Mutex
	submitShouldFail bool
	submittedKey     string
	submittedName    string
	dispatched       []string
	jobs             map[string]job.Job
}

func (m *mockOrchestrator) SubmitStored(_ context.Context, filename, documentKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.submitShouldFail {
		return "", errMockSubmit
	}

	m.submittedKey = documentKey
	m.submittedName = filename
	id := uuid.NewString()
	m.jobs[id] = job.New(id, filename, documentKey, "equal", time.Now())

	return id, nil
}

func (m *mockOrchestrator) Dispatch(_ context.Context, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dispatched = append(m.dispatched, id)
}

func (m *mockOrchestrator) GetStatus(_ context.Context, id string) (job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.jobs[id]
	if !ok {
		return job.Job{}, job.ErrNotFound
	}

	return current, nil
}

func (m *mockOrchestrator) List(_ context.Context, _, _ int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jobs := make([]job.Job, 0, len(m.jobs))
	for _, current := range m.jobs {
		jobs = append(jobs, current)
	}

	return jobs, nil
}

func (m *mockOrchestrator) dispatchedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.dispatched...)
}

func createTestNatsClient(t *testing.T) *nats.Conn {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	t.Cleanup(func() {
		natsConnection.Close()
		server.Shutdown()
	})

	return natsConnection
}

func setupTest(t *testing.T, mock *mockOrchestrator) *nats.Conn {
	t.Helper()

	natsConnection := createTestNatsClient(t)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	workerInstance, err := worker.NewNatsWorker(natsConnection, subjects, mock, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	require.Eventually(t, func() bool {
		reply, requestErr := natsConnection.Request(subjects.List, nil, 200*time.Millisecond)

		return requestErr == nil && reply != nil
	}, 5*time.Second, 20*time.Millisecond)

	return natsConnection
}

func request[T any](t *testing.T, natsConnection *nats.Conn, subject string, payload any) T {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	msg, err := natsConnection.Request(subject, data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply T

	require.NoError(t, json.Unmarshal(msg.Data, &reply))

	return reply
}

func newMock() *mockOrchestrator {
	return &mockOrchestrator{jobs: map[string]job.Job{}}
}

func TestSubmitThenStatus(t *testing.T) {
	t.Parallel()

	mock := newMock()
	natsConnection := setupTest(t, mock)

	header := events.EventHeader{
		Timestamp:  time.Now(),
		WorkflowID: uuid.NewString(),
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}

	submitted := request[worker.SubmitReply](t, natsConnection, subjects.Submit, worker.SubmitRequest{
		Header:      header,
		Filename:    "chapter-1.pdf",
		DocumentKey: "documents/abc.pdf",
	})

	require.Empty(t, submitted.Error)
	require.NotEmpty(t, submitted.JobID)
	assert.Equal(t, header.WorkflowID, submitted.Header.WorkflowID)
	assert.Equal(t, "documents/abc.pdf", mock.submittedKey)
	assert.Equal(t, "chapter-1.pdf", mock.submittedName)
	assert.Equal(t, []string{submitted.JobID}, mock.dispatchedIDs())

	status := request[worker.StatusReply](t, natsConnection, subjects.Status, worker.StatusRequest{
		JobID: submitted.JobID,
	})

	require.Empty(t, status.Error)
	require.NotNil(t, status.Job)
	assert.Equal(t, job.StatusQueued, status.Job.Status)
	assert.Equal(t, "chapter-1.pdf", status.Job.Filename)

	listed := request[worker.ListReply](t, natsConnection, subjects.List, worker.ListRequest{Limit: 10})
	require.Empty(t, listed.Error)
	assert.Len(t, listed.Jobs, 1)
}

func TestSubmitFailure(t *testing.T) {
	t.Parallel()

	mock := newMock()
	mock.submitShouldFail = true
	natsConnection := setupTest(t, mock)

	reply := request[worker.SubmitReply](t, natsConnection, subjects.Submit, worker.SubmitRequest{
		DocumentKey: "documents/abc.pdf",
	})

	assert.Empty(t, reply.JobID)
	assert.Contains(t, reply.Error, errMockSubmit.Error())
	assert.Empty(t, mock.dispatchedIDs())
}

func TestSubmitMalformed(t *testing.T) {
	t.Parallel()

	mock := newMock()
	natsConnection := setupTest(t, mock)

	msg, err := natsConnection.Request(subjects.Submit, []byte("{not json"), 5*time.Second)
	require.NoError(t, err)

	var reply worker.SubmitReply

	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Contains(t, reply.Error, "invalid request")
	assert.Empty(t, mock.dispatchedIDs())
}

func TestStatusErrors(t *testing.T) {
	t.Parallel()

	natsConnection := setupTest(t, newMock())

	testCases := []struct {
		name  string
		jobID string
		want  string
	}{
		{name: "empty id", jobID: " ", want: worker.ErrJobIDEmpty.Error()},
		{name: "unknown id", jobID: "missing", want: job.ErrNotFound.Error()},
	}

	for _, tc := range testCases {
		reply := request[worker.StatusReply](t, natsConnection, subjects.Status, worker.StatusRequest{JobID: tc.jobID})

		assert.Nil(t, reply.Job, tc.name)
		assert.Contains(t, reply.Error, tc.want, tc.name)
	}
}

func TestNewNatsWorker_Validation(t *testing.T) {
	t.Parallel()

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	_, err = worker.NewNatsWorker(nil, worker.Subjects{Submit: "a", Status: "b"}, newMock(), testLogger)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)

	_, err = worker.NewNatsWorker(nil, subjects, nil, testLogger)
	require.ErrorIs(t, err, worker.ErrNilOrchestrator)
}
