package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/orchestrator"
)

const (
	workflowStreamName = "WORKFLOWS"
	eventSubjectPrefix = "workflow.event."

	subjectCreate  = "workflow.create"
	subjectExecute = "workflow.execute"
	subjectStatus  = "workflow.status"
	subjectStop    = "workflow.stop"
	subjectList    = "workflow.list"

	streamMaxAge = 24 * time.Hour // Keep events for 24 hours
	setupTimeout = 30 * time.Second
)

// Coordinator is the orchestrator surface exposed over NATS
type Coordinator interface {
	CreateWorkflow(def *model.WorkflowDefinition) (*orchestrator.Summary, error)
	ExecuteWorkflow(ctx context.Context, workflowID string) (*orchestrator.StatusReport, error)
	WorkflowStatus(workflowID string) (*orchestrator.StatusReport, error)
	StopWorkflow(workflowID string) error
	ListWorkflows() []*orchestrator.Summary
}

// envelope is the reply shape for every command subject
type envelope struct {
	OK    bool        `json:"ok"`
	Error string      `json:"error,omitempty"`
	Data  interface{} `json:"data,omitempty"`
}

// Service exposes the orchestrator over NATS request/reply and streams
// its lifecycle events through JetStream.
type Service struct {
	logger *zap.Logger
	nc     *nats.Conn
	js     nats.JetStreamContext
	coord  Coordinator

	ctx    context.Context
	subs   []*nats.Subscription
	events chan orchestrator.Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the NATS-facing workflow service
func NewService(nc *nats.Conn, js nats.JetStreamContext, coord Coordinator, logger *zap.Logger) *Service {
	return &Service{
		logger: logger.Named("service"),
		nc:     nc,
		js:     js,
		coord:  coord,
		ctx:    context.Background(),
		events: make(chan orchestrator.Event, 256),
		stop:   make(chan struct{}),
	}
}

// Start creates the event stream and subscribes the command subjects
func (s *Service) Start(ctx context.Context) error {
	s.ctx = ctx

	setupCtx, cancel := context.WithTimeout(ctx, setupTimeout)
	defer cancel()

	if err := s.setupStream(setupCtx); err != nil {
		return fmt.Errorf("failed to setup stream: %w", err)
	}

	handlers := map[string]nats.MsgHandler{
		subjectCreate:  s.handleCreate,
		subjectExecute: s.handleExecute,
		subjectStatus:  s.handleStatus,
		subjectStop:    s.handleStop,
		subjectList:    s.handleList,
	}
	for subject, handler := range handlers {
		sub, err := s.nc.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.wg.Add(1)
	go s.publishLoop()

	s.logger.Info("Workflow service started")
	return nil
}

// Stop unsubscribes the command subjects and drains queued events
func (s *Service) Stop() {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	close(s.stop)
	s.wg.Wait()
	s.logger.Info("Workflow service stopped")
}

// EventHook returns the hook that feeds orchestrator events onto the
// event stream. Events are queued so engine callbacks never block on
// JetStream acks; when the queue is full the newest event is dropped.
func (s *Service) EventHook() orchestrator.EventHook {
	return func(event orchestrator.Event) {
		select {
		case s.events <- event:
		default:
			s.logger.Warn("Event queue full, dropping event",
				zap.String("type", string(event.Type)),
				zap.String("workflow_id", event.WorkflowID))
		}
	}
}

func (s *Service) setupStream(ctx context.Context) error {
	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:     workflowStreamName,
		Subjects: []string{eventSubjectPrefix + ">"},
		Storage:  nats.FileStorage,
		MaxAge:   streamMaxAge,
	}, nats.Context(ctx))
	if err != nil {
		// If stream already exists, that's okay
		if err == nats.ErrStreamNameAlreadyInUse {
			s.logger.Info("Stream already exists", zap.String("stream", workflowStreamName))
			return nil
		}
		return err
	}

	s.logger.Info("Stream created successfully", zap.String("stream", workflowStreamName))
	return nil
}

func (s *Service) publishLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stop:
			for {
				select {
				case event := <-s.events:
					s.publishEvent(event)
				default:
					return
				}
			}
		case event := <-s.events:
			s.publishEvent(event)
		}
	}
}

func (s *Service) publishEvent(event orchestrator.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	subject := eventSubjectPrefix + string(event.Type)
	if _, err := s.js.Publish(subject, data); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("subject", subject),
			zap.Error(err))
		return
	}

	s.logger.Debug("Event published",
		zap.String("subject", subject),
		zap.String("workflow_id", event.WorkflowID))
}

func (s *Service) handleCreate(msg *nats.Msg) {
	var def model.WorkflowDefinition
	if err := json.Unmarshal(msg.Data, &def); err != nil {
		s.respondError(msg, fmt.Errorf("invalid workflow definition: %w", err))
		return
	}

	summary, err := s.coord.CreateWorkflow(&def)
	if err != nil {
		s.respondError(msg, err)
		return
	}
	s.respondOK(msg, summary)
}

func (s *Service) handleExecute(msg *nats.Msg) {
	id, err := decodeID(msg.Data)
	if err != nil {
		s.respondError(msg, err)
		return
	}

	report, err := s.coord.ExecuteWorkflow(s.ctx, id)
	if err != nil {
		s.respondError(msg, err)
		return
	}
	s.respondOK(msg, report)
}

func (s *Service) handleStatus(msg *nats.Msg) {
	id, err := decodeID(msg.Data)
	if err != nil {
		s.respondError(msg, err)
		return
	}

	report, err := s.coord.WorkflowStatus(id)
	if err != nil {
		s.respondError(msg, err)
		return
	}
	s.respondOK(msg, report)
}

func (s *Service) handleStop(msg *nats.Msg) {
	id, err := decodeID(msg.Data)
	if err != nil {
		s.respondError(msg, err)
		return
	}

	if err := s.coord.StopWorkflow(id); err != nil {
		s.respondError(msg, err)
		return
	}
	s.respondOK(msg, nil)
}

func (s *Service) handleList(msg *nats.Msg) {
	s.respondOK(msg, s.coord.ListWorkflows())
}

func decodeID(data []byte) (string, error) {
	var req struct {
		ID string `json:"id"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", fmt.Errorf("invalid request: %w", err)
		}
	}
	if req.ID == "" {
		return "", model.ErrWorkflowIDRequired
	}
	return req.ID, nil
}

func (s *Service) respondOK(msg *nats.Msg, data interface{}) {
	s.respond(msg, envelope{OK: true, Data: data})
}

func (s *Service) respondError(msg *nats.Msg, err error) {
	s.respond(msg, envelope{OK: false, Error: err.Error()})
}

func (s *Service) respond(msg *nats.Msg, env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Error("Failed to marshal response", zap.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Error("Failed to send response",
			zap.String("subject", msg.Subject),
			zap.Error(err))
	}
}
