package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/gateway"
	"github.com/supertrack-ai/orchestrator/internal/model"
)

// DefaultPollInterval paces the scheduling loop while it waits for
// in-flight tasks to finish
const DefaultPollInterval = 100 * time.Millisecond

// Workflow error strings surfaced through status reports. Clients match
// on them, so they are part of the API contract.
const (
	stuckWorkflowError = "Workflow is stuck with no runnable tasks"
	tasksFailedError   = "One or more tasks failed"
)

// Event identifies a lifecycle notification emitted by the engine
type Event string

const (
	EventTaskComplete     Event = "task_complete"
	EventTaskFailed       Event = "task_failed"
	EventWorkflowComplete Event = "workflow_complete"
	EventWorkflowFailed   Event = "workflow_failed"
)

// Callback receives engine lifecycle notifications. The task argument
// is nil for workflow-level events. Callbacks run after the transition
// is applied and outside the engine lock.
type Callback func(workflow *model.Workflow, task *model.Task)

// Option configures an Engine
type Option func(*Engine)

// WithPollInterval overrides how often the scheduling loop re-checks
// readiness while tasks are in flight
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithRetryStrategy sets the delay applied before a failed task is
// requeued. The default requeues immediately.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(e *Engine) {
		e.retryStrategy = s
	}
}

// Engine executes a single workflow: it repeatedly dispatches every
// ready task to the gateway until the workflow reaches a terminal
// status. An engine binds one workflow and is never shared between
// executions; the orchestrator creates a fresh engine per run.
//
// All task and workflow state transitions happen under one internal
// lock, so concurrent readers always observe a consistent combination
// of task status and active-set membership.
type Engine struct {
	logger  *zap.Logger
	gateway gateway.Gateway
	scope   model.Scope

	pollInterval  time.Duration
	retryStrategy RetryStrategy

	mu       sync.RWMutex
	workflow *model.Workflow
	active   map[string]struct{}
	running  bool

	onTaskComplete     Callback
	onTaskFailed       Callback
	onWorkflowComplete Callback
	onWorkflowFailed   Callback
}

// NewEngine creates an engine that dispatches through the given gateway
// and stamps the scope's tenant and user onto every submission.
func NewEngine(gw gateway.Gateway, scope model.Scope, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		logger:       logger.Named("engine"),
		gateway:      gw,
		scope:        scope,
		pollInterval: DefaultPollInterval,
		active:       make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetWorkflow binds the workflow this engine will execute
func (e *Engine) SetWorkflow(w *model.Workflow) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflow = w
}

// SetCallback registers a callback for a lifecycle event
func (e *Engine) SetCallback(event Event, cb Callback) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch event {
	case EventTaskComplete:
		e.onTaskComplete = cb
	case EventTaskFailed:
		e.onTaskFailed = cb
	case EventWorkflowComplete:
		e.onWorkflowComplete = cb
	case EventWorkflowFailed:
		e.onWorkflowFailed = cb
	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	return nil
}

// Running reports whether the execution loop is still active
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Snapshot returns a deep copy of the bound workflow's current state,
// safe to inspect while the execution loop is running. Returns nil when
// no workflow is bound.
func (e *Engine) Snapshot() *model.Workflow {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.workflow == nil {
		return nil
	}
	return e.workflow.Clone()
}

// Execute runs the workflow until it reaches a terminal status and
// returns it. The only error case is executing with no workflow bound;
// every runtime failure is recorded on the workflow itself. Cancelling
// ctx has the same effect as calling Stop.
func (e *Engine) Execute(ctx context.Context) (wf *model.Workflow, err error) {
	e.mu.Lock()
	if e.workflow == nil {
		e.mu.Unlock()
		return nil, ErrNoWorkflow
	}
	wf = e.workflow
	now := time.Now()
	wf.Status = model.WorkflowStatusInProgress
	wf.StartTime = &now
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Executing workflow",
		zap.String("workflow_id", wf.ID),
		zap.String("workflow_name", wf.Name),
		zap.Int("tasks", len(wf.Tasks)))

	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			wf.Status = model.WorkflowStatusFailed
			wf.Error = fmt.Sprintf("workflow execution panic: %v", r)
			end := time.Now()
			wf.EndTime = &end
			e.running = false
			cb := e.onWorkflowFailed
			e.mu.Unlock()

			e.logger.Error("Workflow execution panicked",
				zap.String("workflow_id", wf.ID),
				zap.Any("panic", r))

			if cb != nil {
				cb(wf, nil)
			}
			err = nil
		}
	}()

	e.runLoop(ctx, wf)
	return e.finish(wf), nil
}

// Stop cooperatively cancels the execution. The scheduling loop exits
// on its next pass and dispatches nothing new; attempts already in
// flight finish and record their transitions normally.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	if e.workflow != nil && !e.workflow.Status.Terminal() {
		e.workflow.Status = model.WorkflowStatusCancelled
	}

	e.logger.Info("Workflow execution stopped",
		zap.String("workflow_id", e.workflow.ID))
}

// runLoop is the scheduling pass: dispatch every ready task, wait while
// work is in flight, and detect the stuck condition when neither exists.
func (e *Engine) runLoop(ctx context.Context, wf *model.Workflow) {
	for {
		if ctx.Err() != nil {
			e.Stop()
		}

		e.mu.Lock()
		// Completion waits for the active set to drain so every task
		// callback has fired before the workflow-level outcome is applied
		if !e.running || (wf.IsComplete() && len(e.active) == 0) {
			e.mu.Unlock()
			return
		}

		ready := wf.ReadyTasks()
		if len(ready) == 0 {
			if len(e.active) > 0 {
				e.mu.Unlock()
				select {
				case <-ctx.Done():
				case <-time.After(e.pollInterval):
				}
				continue
			}

			// Nothing runnable and nothing in flight: the remaining
			// dependency graph can never make progress
			wf.Status = model.WorkflowStatusFailed
			wf.Error = stuckWorkflowError
			e.mu.Unlock()

			e.logger.Warn("Workflow is stuck with no runnable tasks",
				zap.String("workflow_id", wf.ID))
			return
		}

		for _, task := range ready {
			e.dispatch(ctx, wf, task)
		}
		e.mu.Unlock()
	}
}

// dispatch transitions a ready task and launches its execution. The
// transition happens before the goroutine starts so a scheduling pass
// never dispatches the same task twice.
func (e *Engine) dispatch(ctx context.Context, wf *model.Workflow, task *model.Task) {
	now := time.Now()
	task.Status = model.TaskStatusInProgress
	task.StartTime = &now
	wf.CurrentTaskID = task.ID
	e.active[task.ID] = struct{}{}

	e.logger.Debug("Dispatching task",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.String("agent_type", string(task.AgentType)))

	go e.runTask(ctx, wf, task)
}

// runTask submits one task attempt through the gateway and applies the
// resulting transition.
func (e *Engine) runTask(ctx context.Context, wf *model.Workflow, task *model.Task) {
	e.mu.RLock()
	req := gateway.Request{
		AgentType:   task.AgentType,
		Instruction: task.Instruction(),
		Params:      e.taskParams(task),
		Metadata: map[string]interface{}{
			"workflow_id": wf.ID,
			"task_id":     task.ID,
			"tenant_id":   e.scope.TenantID,
			"user_id":     e.scope.UserID,
		},
	}
	timeout := task.Timeout
	e.mu.RUnlock()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := e.gateway.Submit(callCtx, req)
	if err == nil && result != nil && result.Success {
		e.completeTask(wf, task, result)
		return
	}
	e.failTask(ctx, wf, task, result, err)
}

// taskParams merges the execution scope under the task's own params.
// Task params win on key conflicts.
func (e *Engine) taskParams(task *model.Task) map[string]interface{} {
	params := map[string]interface{}{
		"tenant_id": e.scope.TenantID,
		"user_id":   e.scope.UserID,
	}
	for k, v := range task.Params {
		params[k] = v
	}
	return params
}

func (e *Engine) completeTask(wf *model.Workflow, task *model.Task, result *gateway.Result) {
	e.mu.Lock()
	task.SessionID = result.SessionID
	task.Result = &model.TaskResult{
		Content:  result.Content,
		Data:     result.Data,
		Metadata: result.Metadata,
	}
	task.Status = model.TaskStatusCompleted
	now := time.Now()
	task.EndTime = &now
	cb := e.onTaskComplete
	e.mu.Unlock()

	e.logger.Info("Task completed",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.String("session_id", result.SessionID))

	if cb != nil {
		cb(wf, task)
	}

	// Active-set removal comes after the callback so the loop never
	// declares the workflow done with a notification still pending
	e.mu.Lock()
	delete(e.active, task.ID)
	e.mu.Unlock()
}

func (e *Engine) failTask(ctx context.Context, wf *model.Workflow, task *model.Task, result *gateway.Result, submitErr error) {
	message := errorMessage(result, submitErr)

	e.mu.Lock()
	if result != nil && result.SessionID != "" {
		task.SessionID = result.SessionID
	}
	task.RetryCount++
	attempt := task.RetryCount
	retrying := attempt < task.RetryLimit
	e.mu.Unlock()

	if !retrying {
		e.mu.Lock()
		task.Status = model.TaskStatusFailed
		task.Error = fmt.Sprintf("Error executing task: %s", message)
		now := time.Now()
		task.EndTime = &now
		cb := e.onTaskFailed
		e.mu.Unlock()

		e.logger.Error("Task failed",
			zap.String("workflow_id", wf.ID),
			zap.String("task_id", task.ID),
			zap.Int("attempts", attempt),
			zap.String("error", message))

		if cb != nil {
			cb(wf, task)
		}

		e.mu.Lock()
		delete(e.active, task.ID)
		e.mu.Unlock()
		return
	}

	// The task stays active and in progress while the retry delay
	// elapses, so the stuck check cannot fire in the gap.
	if e.retryStrategy != nil {
		if delay := e.retryStrategy.NextRetry(attempt); delay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
		}
	}

	e.mu.Lock()
	task.Error = fmt.Sprintf("Error executing task: %s. Retrying...", message)
	now := time.Now()
	task.EndTime = &now
	delete(e.active, task.ID)
	task.Status = model.TaskStatusPending
	e.mu.Unlock()

	e.logger.Info("Retrying task",
		zap.String("workflow_id", wf.ID),
		zap.String("task_id", task.ID),
		zap.Int("attempt", attempt+1),
		zap.String("error", message))
}

// finish applies the terminal workflow status once the loop has exited.
// Stuck and cancelled workflows keep the status the loop recorded and
// fire no completion callback; a task that completes between Stop and
// loop exit must not resurrect a cancelled workflow.
func (e *Engine) finish(wf *model.Workflow) *model.Workflow {
	e.mu.Lock()

	var cb Callback
	if wf.IsComplete() && !wf.Status.Terminal() {
		if wf.HasFailedTasks() {
			wf.Status = model.WorkflowStatusFailed
			wf.Error = tasksFailedError
			cb = e.onWorkflowFailed
		} else {
			wf.Status = model.WorkflowStatusCompleted
			cb = e.onWorkflowComplete
		}
	}

	now := time.Now()
	wf.EndTime = &now
	e.running = false
	status := wf.Status
	errText := wf.Error
	e.mu.Unlock()

	e.logger.Info("Workflow finished",
		zap.String("workflow_id", wf.ID),
		zap.String("status", string(status)),
		zap.String("error", errText))

	if cb != nil {
		cb(wf, nil)
	}
	return wf
}

func errorMessage(result *gateway.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if result != nil && result.Error != "" {
		return result.Error
	}
	return "executor reported failure without detail"
}
