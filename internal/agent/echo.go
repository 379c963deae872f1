package agent

import (
	"context"

	"github.com/supertrack-ai/orchestrator/internal/gateway"
)

// EchoAgent returns the task instruction and params unchanged. It backs
// the custom agent type in demos and smoke tests.
type EchoAgent struct{}

// NewEchoAgent creates a new echo agent
func NewEchoAgent() *EchoAgent {
	return &EchoAgent{}
}

// Execute echoes the request back as a successful result
func (a *EchoAgent) Execute(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := make(map[string]interface{}, len(req.Params))
	for k, v := range req.Params {
		data[k] = v
	}
	return &gateway.Result{
		Success: true,
		Content: req.Instruction,
		Data:    data,
	}, nil
}
