// Package worker exposes the orchestrator over NATS request/reply.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/page-narrator/internal/job"
	"github.com/nats-io/nats.go"
)

const (
	handleMessageTimeout = 30 * time.Second
	defaultListLimit     = 20
)

var (
	// ErrJobIDEmpty indicates a status request without a job id.
	ErrJobIDEmpty = errors.New("job id cannot be empty")
	// ErrSubjectEmpty indicates a worker configured without a subject.
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	// ErrNilOrchestrator indicates a worker configured without an orchestrator.
	ErrNilOrchestrator = errors.New("orchestrator cannot be nil")
)

// Orchestrator is the part of orchestrator.Orchestrator the worker serves.
type Orchestrator interface {
	SubmitStored(ctx context.Context, filename, documentKey string) (string, error)
	Dispatch(ctx context.Context, id string)
	GetStatus(ctx context.Context, id string) (job.Job, error)
	List(ctx context.Context, limit, offset int) ([]job.Job, error)
}

// Subjects names the request subjects the worker answers on.
type Subjects struct {
	Submit string
	Status string
	List   string
}

func (s Subjects) validate() error {
	if strings.TrimSpace(s.Submit) == "" || strings.TrimSpace(s.Status) == "" ||
		strings.TrimSpace(s.List) == "" {
		return ErrSubjectEmpty
	}

	return nil
}

// SubmitRequest asks for a job on a document already in the object store.
type SubmitRequest struct {
	Header      events.EventHeader `json:"Header"`
	Filename    string             `json:"filename"`
	DocumentKey string             `json:"document_key"`
}

// SubmitReply carries the new job id or the reason it was refused.
type SubmitReply struct {
	Header events.EventHeader `json:"Header"`
	JobID  string             `json:"job_id,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// StatusRequest asks for one job.
type StatusRequest struct {
	JobID string `json:"job_id"`
}

// StatusReply is the job record or the reason it could not be read.
type StatusReply struct {
	Job   *job.Job `json:"job,omitempty"`
	Error string   `json:"error,omitempty"`
}

// ListRequest pages through jobs newest first.
type ListRequest struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListReply holds one page of jobs.
type ListReply struct {
	Jobs  []job.Job `json:"jobs"`
	Error string    `json:"error,omitempty"`
}

// NatsWorker answers submit, status and list requests.
type NatsWorker struct {
	natsConnection *nats.Conn
	subjects       Subjects
	orchestrator   Orchestrator
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subjects Subjects,
	orchestrator Orchestrator,
	log *logger.Logger,
) (*NatsWorker, error) {
	subjectsErr := subjects.validate()
	if subjectsErr != nil {
		return nil, subjectsErr
	}

	if orchestrator == nil {
		return nil, ErrNilOrchestrator
	}

	return &NatsWorker{
		natsConnection: natsConnection,
		subjects:       subjects,
		orchestrator:   orchestrator,
		log:            log,
	}, nil
}

// Run subscribes to all subjects and serves until ctx ends. Jobs dispatched
// from a submit run under ctx, so cancelling it cancels them too.
func (w *NatsWorker) Run(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		w.subjects.Submit: func(msg *nats.Msg) { w.handleSubmit(ctx, msg) },
		w.subjects.Status: w.handleStatus,
		w.subjects.List:   w.handleList,
	}

	subscriptions := make([]*nats.Subscription, 0, len(handlers))

	for subject, handler := range handlers {
		sub, err := w.natsConnection.Subscribe(subject, handler)
		if err != nil {
			_ = drain(subscriptions)

			return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
		}

		subscriptions = append(subscriptions, sub)
	}

	w.log.Info("Listening on %s, %s and %s", w.subjects.Submit, w.subjects.Status, w.subjects.List)

	<-ctx.Done()

	drainErr := drain(subscriptions)
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func drain(subscriptions []*nats.Subscription) error {
	var errs []error

	for _, sub := range subscriptions {
		errs = append(errs, sub.Drain())
	}

	return errors.Join(errs...)
}

func (w *NatsWorker) handleSubmit(runCtx context.Context, msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(runCtx, handleMessageTimeout)
	defer cancel()

	var request SubmitRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.log.Error("Failed to unmarshal submit request: %v", err)
		w.respond(msg, SubmitReply{Error: fmt.Sprintf("invalid request: %v", err)})

		return
	}

	reply := SubmitReply{Header: request.Header}

	id, err := w.orchestrator.SubmitStored(ctx, request.Filename, request.DocumentKey)
	if err != nil {
		w.log.Error("Failed to submit %s for workflow %s: %v", request.DocumentKey, request.Header.WorkflowID, err)
		reply.Error = err.Error()
		w.respond(msg, reply)

		return
	}

	w.orchestrator.Dispatch(runCtx, id)

	reply.JobID = id
	w.respond(msg, reply)
}

func (w *NatsWorker) handleStatus(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var request StatusRequest

	err := json.Unmarshal(msg.Data, &request)
	if err != nil {
		w.respond(msg, StatusReply{Error: fmt.Sprintf("invalid request: %v", err)})

		return
	}

	if strings.TrimSpace(request.JobID) == "" {
		w.respond(msg, StatusReply{Error: ErrJobIDEmpty.Error()})

		return
	}

	current, err := w.orchestrator.GetStatus(ctx, request.JobID)
	if err != nil {
		w.respond(msg, StatusReply{Error: err.Error()})

		return
	}

	w.respond(msg, StatusReply{Job: &current})
}

func (w *NatsWorker) handleList(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	request := ListRequest{Limit: defaultListLimit}

	if len(msg.Data) > 0 {
		err := json.Unmarshal(msg.Data, &request)
		if err != nil {
			w.respond(msg, ListReply{Error: fmt.Sprintf("invalid request: %v", err)})

			return
		}
	}

	jobs, err := w.orchestrator.List(ctx, request.Limit, request.Offset)
	if err != nil {
		w.respond(msg, ListReply{Error: err.Error()})

		return
	}

	w.respond(msg, ListReply{Jobs: jobs})
}

// respond marshals the reply. Requests published without a reply subject
// are served but not answered.
func (w *NatsWorker) respond(msg *nats.Msg, reply any) {
	if msg.Reply == "" {
		return
	}

	data, err := json.Marshal(reply)
	if err != nil {
		w.log.Error("Failed to marshal reply: %v", err)

		return
	}

	respondErr := msg.Respond(data)
	if respondErr != nil {
		w.log.Error("Failed to publish reply on %s: %v", msg.Subject, respondErr)
	}
}
