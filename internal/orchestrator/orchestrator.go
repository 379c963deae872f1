package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/engine"
	"github.com/supertrack-ai/orchestrator/internal/gateway"
	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/storage"
)

const checkpointTimeout = 5 * time.Second

// sessionCounter is implemented by gateways that track executor sessions
type sessionCounter interface {
	ActiveSessionCount() int
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithCheckpoints persists run snapshots to the given store
func WithCheckpoints(store storage.CheckpointStore) Option {
	return func(o *Orchestrator) {
		o.checkpoints = store
	}
}

// WithEventHook registers the lifecycle event hook
func WithEventHook(hook EventHook) Option {
	return func(o *Orchestrator) {
		o.hook = hook
	}
}

// WithEngineOptions passes options to every engine the orchestrator builds
func WithEngineOptions(opts ...engine.Option) Option {
	return func(o *Orchestrator) {
		o.engineOpts = opts
	}
}

// run tracks one workflow execution. done closes after the engine has
// exited and the run's bookkeeping is applied.
type run struct {
	id         string
	workflowID string
	engine     *engine.Engine
	started    time.Time
	done       chan struct{}
}

func (r *run) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Orchestrator coordinates workflow templates and their runs for one
// tenant/user scope. Templates are immutable once registered; every run
// executes a fresh copy through its own engine.
type Orchestrator struct {
	logger      *zap.Logger
	gateway     gateway.Gateway
	scope       model.Scope
	checkpoints storage.CheckpointStore
	hook        EventHook
	engineOpts  []engine.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.RWMutex
	workflows map[string]*model.Workflow
	runs      map[string]*run

	completedRuns  int64
	failedRuns     int64
	cancelledRuns  int64
	completedTasks int64
	failedTasks    int64
}

// New creates an orchestrator bound to a gateway and scope
func New(gw gateway.Gateway, scope model.Scope, logger *zap.Logger, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		gateway:   gw,
		scope:     scope,
		ctx:       ctx,
		cancel:    cancel,
		workflows: make(map[string]*model.Workflow),
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateWorkflow validates the definition and registers it as a template.
// Nothing is registered when validation fails. Registering an id again
// replaces the previous template.
func (o *Orchestrator) CreateWorkflow(def *model.WorkflowDefinition) (*Summary, error) {
	wf, err := def.Build()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.workflows[wf.ID] = wf
	o.mu.Unlock()

	o.logger.Info("Workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("tasks", len(wf.Tasks)))

	o.emit(Event{Type: EventWorkflowCreated, WorkflowID: wf.ID})

	return buildSummary(wf), nil
}

// ExecuteWorkflow starts a run of a registered workflow and returns its
// initial report. A second run for the same workflow id is rejected while
// one is still active; a finished run is replaced.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, workflowID string) (*StatusReport, error) {
	if o.ctx.Err() != nil {
		return nil, ErrClosed
	}

	o.mu.Lock()

	template, ok := o.workflows[workflowID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	if existing, ok := o.runs[workflowID]; ok && !existing.finished() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrWorkflowRunning, workflowID)
	}

	wf := template.Clone()

	eng := engine.NewEngine(o.gateway, o.scope, o.logger, o.engineOpts...)
	eng.SetWorkflow(wf)

	r := &run{
		id:         uuid.New().String(),
		workflowID: workflowID,
		engine:     eng,
		started:    time.Now(),
		done:       make(chan struct{}),
	}

	_ = eng.SetCallback(engine.EventTaskComplete, func(_ *model.Workflow, task *model.Task) {
		o.onTaskComplete(r, task)
	})
	_ = eng.SetCallback(engine.EventTaskFailed, func(_ *model.Workflow, task *model.Task) {
		o.onTaskFailed(r, task)
	})

	o.runs[workflowID] = r
	o.mu.Unlock()

	o.logger.Info("Starting workflow run",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", r.id))

	o.emit(Event{
		Type:       EventRunStarted,
		WorkflowID: workflowID,
		RunID:      r.id,
		Status:     string(model.WorkflowStatusInProgress),
	})

	// Built before the engine starts mutating the copy
	report := buildReport(wf, r.id)
	report.Status = model.WorkflowStatusInProgress

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer close(r.done)

		final, err := eng.Execute(o.ctx)
		o.finishRun(r, final, err)
	}()

	return report, nil
}

// WorkflowStatus reports the live run when one exists, the last finished
// run while no newer one replaced it, and the registered template shape
// otherwise.
func (o *Orchestrator) WorkflowStatus(workflowID string) (*StatusReport, error) {
	o.mu.RLock()
	r := o.runs[workflowID]
	template := o.workflows[workflowID]
	o.mu.RUnlock()

	if r != nil {
		if snap := r.engine.Snapshot(); snap != nil {
			return buildReport(snap, r.id), nil
		}
	}

	if template == nil {
		return nil, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
	}

	// Templates are immutable once registered
	return buildReport(template, ""), nil
}

// StopWorkflow requests cooperative cancellation of the active run. The
// stopped event fires when the run actually exits.
func (o *Orchestrator) StopWorkflow(workflowID string) error {
	o.mu.RLock()
	r := o.runs[workflowID]
	o.mu.RUnlock()

	if r == nil || r.finished() {
		return fmt.Errorf("%w: %s", ErrNoActiveRun, workflowID)
	}

	o.logger.Info("Stopping workflow run",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", r.id))

	r.engine.Stop()
	return nil
}

// ListWorkflows returns summaries of all registered templates, ordered
// by workflow id
func (o *Orchestrator) ListWorkflows() []*Summary {
	o.mu.RLock()
	summaries := make([]*Summary, 0, len(o.workflows))
	for _, wf := range o.workflows {
		summaries = append(summaries, buildSummary(wf))
	}
	o.mu.RUnlock()

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].WorkflowID < summaries[j].WorkflowID
	})
	return summaries
}

// Stats returns a point-in-time view of the orchestrator's counters
func (o *Orchestrator) Stats() model.OrchestratorStats {
	o.mu.RLock()
	stats := model.OrchestratorStats{
		RegisteredWorkflows: len(o.workflows),
		CompletedRuns:       o.completedRuns,
		FailedRuns:          o.failedRuns,
		CancelledRuns:       o.cancelledRuns,
		CompletedTasks:      o.completedTasks,
		FailedTasks:         o.failedTasks,
		CollectedAt:         time.Now(),
	}
	for _, r := range o.runs {
		if !r.finished() {
			stats.ActiveRuns++
		}
	}
	o.mu.RUnlock()

	if counter, ok := o.gateway.(sessionCounter); ok {
		stats.ActiveSessions = counter.ActiveSessionCount()
	}
	return stats
}

// Close cancels every active run and waits for them to exit
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
	o.logger.Info("Orchestrator closed")
}

func (o *Orchestrator) onTaskComplete(r *run, task *model.Task) {
	o.mu.Lock()
	o.completedTasks++
	o.mu.Unlock()

	o.emit(Event{
		Type:       EventTaskComplete,
		WorkflowID: r.workflowID,
		RunID:      r.id,
		TaskID:     task.ID,
		Status:     string(task.Status),
	})

	o.checkpoint(r, r.engine.Snapshot())
}

func (o *Orchestrator) onTaskFailed(r *run, task *model.Task) {
	o.mu.Lock()
	o.failedTasks++
	o.mu.Unlock()

	o.emit(Event{
		Type:       EventTaskFailed,
		WorkflowID: r.workflowID,
		RunID:      r.id,
		TaskID:     task.ID,
		Status:     string(task.Status),
		Error:      task.Error,
	})

	o.checkpoint(r, r.engine.Snapshot())
}

// finishRun applies terminal bookkeeping after the engine exits. The
// snapshot is taken through the engine lock because tasks in flight at
// stop time may still be applying their final transitions.
func (o *Orchestrator) finishRun(r *run, final *model.Workflow, err error) {
	if err != nil || final == nil {
		o.logger.Error("Run aborted before execution",
			zap.String("workflow_id", r.workflowID),
			zap.String("run_id", r.id),
			zap.Error(err))
		return
	}

	snap := r.engine.Snapshot()

	var eventType EventType
	o.mu.Lock()
	switch snap.Status {
	case model.WorkflowStatusCompleted:
		o.completedRuns++
		eventType = EventWorkflowComplete
	case model.WorkflowStatusCancelled:
		o.cancelledRuns++
		eventType = EventWorkflowStopped
	default:
		o.failedRuns++
		eventType = EventWorkflowFailed
	}
	o.mu.Unlock()

	o.logger.Info("Workflow run finished",
		zap.String("workflow_id", r.workflowID),
		zap.String("run_id", r.id),
		zap.String("status", string(snap.Status)),
		zap.String("error", snap.Error))

	o.emit(Event{
		Type:       eventType,
		WorkflowID: r.workflowID,
		RunID:      r.id,
		Status:     string(snap.Status),
		Error:      snap.Error,
	})

	o.checkpoint(r, snap)
}

// checkpoint persists a run snapshot. Failures are logged and swallowed;
// checkpoints never gate execution.
func (o *Orchestrator) checkpoint(r *run, snap *model.Workflow) {
	if o.checkpoints == nil || snap == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		o.logger.Warn("Failed to serialize checkpoint",
			zap.String("run_id", r.id),
			zap.Error(err))
		return
	}

	cp := &storage.Checkpoint{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		Name:       snap.Name,
		Status:     snap.Status,
		Error:      snap.Error,
		TenantID:   o.scope.TenantID,
		UserID:     o.scope.UserID,
		Snapshot:   data,
		StartedAt:  r.started,
		FinishedAt: snap.EndTime,
	}

	// Saves must survive orchestrator shutdown, so they get their own
	// context rather than the base one
	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()

	if err := o.checkpoints.Save(ctx, cp); err != nil {
		o.logger.Warn("Failed to save checkpoint",
			zap.String("run_id", r.id),
			zap.Error(err))
	}
}

// SetEventHook replaces the lifecycle event hook. Consumers built after
// the orchestrator (the NATS service) wire themselves in through this.
func (o *Orchestrator) SetEventHook(hook EventHook) {
	o.mu.Lock()
	o.hook = hook
	o.mu.Unlock()
}

func (o *Orchestrator) emit(event Event) {
	o.mu.RLock()
	hook := o.hook
	o.mu.RUnlock()

	if hook == nil {
		return
	}
	event.Timestamp = time.Now()
	hook(event)
}
