package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

// Session records one executor submission for traceability. CompletedAt
// is nil while the submission is still in flight.
type Session struct {
	ID          string          `json:"id"`
	AgentType   model.AgentType `json:"agent_type"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	TaskID      string          `json:"task_id,omitempty"`
	TenantID    string          `json:"tenant_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (s *Session) clone() *Session {
	c := *s
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Registry dispatches submissions to agents registered per agent type
// and keeps a session record per submission.
//
// mu guards the agent table and the mutable CompletedAt field of stored
// sessions; the sync.Map only synchronizes record insertion and removal.
// Accessors hand out copies so callers never touch a record a submitting
// goroutine may still close.
type Registry struct {
	logger *zap.Logger

	mu     sync.RWMutex
	agents map[model.AgentType]Agent

	sessions sync.Map // session ID -> *Session
}

// NewRegistry creates an empty agent registry
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger.Named("gateway"),
		agents: make(map[model.AgentType]Agent),
	}
}

// Register installs the agent serving the given type, replacing any
// previous registration.
func (r *Registry) Register(agentType model.AgentType, agent Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents[agentType] = agent
	r.logger.Info("Registered agent", zap.String("agent_type", string(agentType)))
}

// Submit dispatches the request to the agent registered for its type.
// Agent errors are folded into an unsuccessful Result so the caller
// still receives the session id issued for the attempt.
func (r *Registry) Submit(ctx context.Context, req Request) (*Result, error) {
	r.mu.RLock()
	agent, ok := r.agents[req.AgentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgentType, req.AgentType)
	}

	session := r.openSession(req)
	defer r.closeSession(session)

	res, err := r.execute(ctx, agent, req)
	if err != nil {
		r.logger.Warn("Agent execution failed",
			zap.String("agent_type", string(req.AgentType)),
			zap.String("session_id", session.ID),
			zap.Error(err))
		return &Result{Success: false, Error: err.Error(), SessionID: session.ID}, nil
	}

	if res == nil {
		res = &Result{Success: true}
	}
	res.SessionID = session.ID
	return res, nil
}

// execute invokes the agent and converts panics into errors so a broken
// executor fails its task instead of the process.
func (r *Registry) execute(ctx context.Context, agent Agent, req Request) (res *Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("agent panic: %v", rec)
		}
	}()
	return agent.Execute(ctx, req)
}

// Session returns a copy of the record for the given session id
func (r *Registry) Session(id string) (*Session, error) {
	if v, ok := r.sessions.Load(id); ok {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return v.(*Session).clone(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// Sessions returns copies of all session records, in-flight and completed
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	r.sessions.Range(func(_, v interface{}) bool {
		out = append(out, v.(*Session).clone())
		return true
	})
	return out
}

// ActiveSessionCount returns the number of in-flight submissions
func (r *Registry) ActiveSessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	r.sessions.Range(func(_, v interface{}) bool {
		if v.(*Session).CompletedAt == nil {
			count++
		}
		return true
	})
	return count
}

// ReleaseSession removes a session record
func (r *Registry) ReleaseSession(id string) {
	r.sessions.Delete(id)
}

// Prune removes completed sessions finished before the cutoff and
// returns how many were removed.
func (r *Registry) Prune(before time.Time) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	removed := 0
	r.sessions.Range(func(k, v interface{}) bool {
		s := v.(*Session)
		if s.CompletedAt != nil && s.CompletedAt.Before(before) {
			r.sessions.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

func (r *Registry) openSession(req Request) *Session {
	session := &Session{
		ID:        uuid.New().String(),
		AgentType: req.AgentType,
		CreatedAt: time.Now(),
	}
	if v, ok := req.Metadata["workflow_id"].(string); ok {
		session.WorkflowID = v
	}
	if v, ok := req.Metadata["task_id"].(string); ok {
		session.TaskID = v
	}
	if v, ok := req.Metadata["tenant_id"].(string); ok {
		session.TenantID = v
	}
	if v, ok := req.Metadata["user_id"].(string); ok {
		session.UserID = v
	}
	r.sessions.Store(session.ID, session)

	r.logger.Debug("Opened session",
		zap.String("session_id", session.ID),
		zap.String("agent_type", string(req.AgentType)),
		zap.String("task_id", session.TaskID))
	return session
}

func (r *Registry) closeSession(session *Session) {
	now := time.Now()
	r.mu.Lock()
	session.CompletedAt = &now
	r.mu.Unlock()
}
