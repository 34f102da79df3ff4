package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/book-expert/page-narrator/internal/objectstore"
	"github.com/book-expert/page-narrator/internal/worker"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

var (
	errRemote     = errors.New("narrator refused the request")
	errNotEnded   = errors.New("job did not finish in time")
	errFailed     = errors.New("job failed")
	errNoArtifact = errors.New("job has no video")
)

// narratorClient talks to a running page-narrator over NATS.
type narratorClient struct {
	conn     *nats.Conn
	subjects worker.Subjects
	bucket   string
	timeout  time.Duration
}

func (c *narratorClient) objects() (objectstore.Store, error) {
	jetstreamContext, err := c.conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, c.bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}

	return store, nil
}

// upload stores the document and returns its object key.
func (c *narratorClient) upload(ctx context.Context, path string) (string, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read %s: %w", path, err)
	}

	store, err := c.objects()
	if err != nil {
		return "", 0, err
	}

	key := objectstore.DocumentKey("upload-" + uuid.NewString())

	uploadErr := store.Upload(ctx, key, data)
	if uploadErr != nil {
		return "", 0, fmt.Errorf("failed to upload %s: %w", path, uploadErr)
	}

	return key, len(data), nil
}

// submit uploads the document and queues a job for it. It returns the job
// id and the uploaded size.
func (c *narratorClient) submit(ctx context.Context, path string) (string, int, error) {
	key, size, err := c.upload(ctx, path)
	if err != nil {
		return "", 0, err
	}

	var reply worker.SubmitReply

	requestErr := c.request(ctx, c.subjects.Submit, worker.SubmitRequest{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: uuid.NewString(),
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		Filename:    filepath.Base(path),
		DocumentKey: key,
	}, &reply)
	if requestErr != nil {
		return "", 0, requestErr
	}

	if reply.Error != "" {
		return "", 0, fmt.Errorf("%w: %s", errRemote, reply.Error)
	}

	return reply.JobID, size, nil
}

func (c *narratorClient) status(ctx context.Context, id string) (job.Job, error) {
	var reply worker.StatusReply

	requestErr := c.request(ctx, c.subjects.Status, worker.StatusRequest{JobID: id}, &reply)
	if requestErr != nil {
		return job.Job{}, requestErr
	}

	if reply.Error != "" || reply.Job == nil {
		return job.Job{}, fmt.Errorf("%w: %s", errRemote, reply.Error)
	}

	return *reply.Job, nil
}

func (c *narratorClient) list(ctx context.Context, limit, offset int) ([]job.Job, error) {
	var reply worker.ListReply

	requestErr := c.request(ctx, c.subjects.List, worker.ListRequest{Limit: limit, Offset: offset}, &reply)
	if requestErr != nil {
		return nil, requestErr
	}

	if reply.Error != "" {
		return nil, fmt.Errorf("%w: %s", errRemote, reply.Error)
	}

	return reply.Jobs, nil
}

// download fetches the finished video of a completed job and returns it
// with its object key.
func (c *narratorClient) download(ctx context.Context, id string) ([]byte, string, error) {
	current, err := c.status(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if current.Status != job.StatusCompleted || current.ArtifactRef == "" {
		return nil, "", fmt.Errorf("%w: %s is %s", errNoArtifact, id, current.Status)
	}

	store, err := c.objects()
	if err != nil {
		return nil, "", err
	}

	data, err := store.Download(ctx, current.ArtifactRef)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download %s: %w", current.ArtifactRef, err)
	}

	return data, current.ArtifactRef, nil
}

// await polls the job until it is completed or failed.
func (c *narratorClient) await(ctx context.Context, id string, interval time.Duration) (job.Job, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		current, err := c.status(ctx, id)
		if err != nil {
			return job.Job{}, err
		}

		if current.Status.Terminal() {
			return current, nil
		}

		select {
		case <-ctx.Done():
			return current, fmt.Errorf("%w: %s is %s (%s)", errNotEnded, id, current.Status, current.Stage)
		case <-ticker.C:
		}
	}
}

func (c *narratorClient) request(ctx context.Context, subject string, payload, reply any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request on %s failed: %w", subject, err)
	}

	unmarshalErr := json.Unmarshal(msg.Data, reply)
	if unmarshalErr != nil {
		return fmt.Errorf("failed to unmarshal reply: %w", unmarshalErr)
	}

	return nil
}
