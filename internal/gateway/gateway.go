package gateway

import (
	"context"
	"errors"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

var (
	ErrUnknownAgentType = errors.New("unknown agent type")
	ErrSessionNotFound  = errors.New("session not found")
)

// Request describes one task submission. Params are passed to the
// executor verbatim; Metadata carries tracing fields (workflow_id,
// task_id, tenant_id, user_id) that executors may record but must not
// interpret.
type Request struct {
	AgentType   model.AgentType
	Instruction string
	Params      map[string]interface{}
	Metadata    map[string]interface{}
}

// Result is the structured outcome of a submission. Error is set when
// Success is false. SessionID is stamped by the gateway so callers can
// correlate the submission with the executor session that served it.
type Result struct {
	Success   bool
	Content   string
	Data      map[string]interface{}
	Metadata  map[string]interface{}
	Error     string
	SessionID string
}

// Gateway is the narrow interface the workflow engine dispatches tasks
// through. A non-nil error reports a gateway-level problem (for example
// an unregistered agent type); executor-level failures come back as a
// Result with Success false. The engine treats both the same way.
type Gateway interface {
	Submit(ctx context.Context, req Request) (*Result, error)
}

// Agent executes submissions for one agent type. Implementations must
// honor ctx cancellation; the engine applies per-task deadlines through
// it.
type Agent interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}
