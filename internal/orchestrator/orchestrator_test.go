package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/engine"
	"github.com/supertrack-ai/orchestrator/internal/gateway"
	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/storage"
)

type stubGateway struct {
	mu      sync.Mutex
	submits []gateway.Request
	fn      func(ctx context.Context, req gateway.Request) (*gateway.Result, error)
}

func (s *stubGateway) Submit(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
	s.mu.Lock()
	s.submits = append(s.submits, req)
	s.mu.Unlock()

	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return &gateway.Result{Success: true, Content: "done"}, nil
}

func newTestOrchestrator(t *testing.T, gw gateway.Gateway, opts ...Option) *Orchestrator {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	opts = append([]Option{
		WithEngineOptions(engine.WithPollInterval(5 * time.Millisecond)),
	}, opts...)
	o := New(gw, model.Scope{TenantID: "acme", UserID: "u-1"}, logger, opts...)
	t.Cleanup(o.Close)
	return o
}

func definition(id string, tasks ...model.TaskDefinition) *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		ID:    id,
		Name:  id,
		Tasks: tasks,
	}
}

func taskDef(id string, deps ...string) model.TaskDefinition {
	return model.TaskDefinition{
		ID:           id,
		AgentType:    model.AgentTypeCustom,
		Dependencies: deps,
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, workflowID string, want model.WorkflowStatus) *StatusReport {
	t.Helper()
	var report *StatusReport
	require.Eventually(t, func() bool {
		var err error
		report, err = o.WorkflowStatus(workflowID)
		return err == nil && report.Status == want
	}, 2*time.Second, 5*time.Millisecond, "workflow %s never reached %s", workflowID, want)
	return report
}

func TestCreateWorkflow(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	summary, err := o.CreateWorkflow(definition("wf-1", taskDef("a"), taskDef("b", "a")))
	require.NoError(t, err)

	assert.Equal(t, "wf-1", summary.WorkflowID)
	assert.Equal(t, 2, summary.TaskCount)
	require.Len(t, summary.Tasks, 2)
	assert.Equal(t, "a", summary.Tasks[0].ID)
	assert.Equal(t, model.AgentTypeCustom, summary.Tasks[0].AgentType)
}

func TestCreateWorkflowInvalid(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	_, err := o.CreateWorkflow(&model.WorkflowDefinition{Name: "nameless"})
	assert.ErrorIs(t, err, model.ErrWorkflowIDRequired)

	// Validation failure registers nothing
	_, err = o.WorkflowStatus("nameless")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecuteWorkflowCompletes(t *testing.T) {
	gw := &stubGateway{}
	o := newTestOrchestrator(t, gw)

	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a"), taskDef("b", "a")))
	require.NoError(t, err)

	report, err := o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusInProgress, report.Status)
	assert.NotEmpty(t, report.RunID)

	final := waitForStatus(t, o, "wf-1", model.WorkflowStatusCompleted)
	assert.Equal(t, report.RunID, final.RunID)
	assert.NotNil(t, final.StartTime)
	assert.NotNil(t, final.EndTime)

	for _, tr := range final.Tasks {
		assert.Equal(t, model.TaskStatusCompleted, tr.Status)
	}
}

func TestExecuteWorkflowNotFound(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	_, err := o.ExecuteWorkflow(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)
}

func TestExecuteWorkflowRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{
		fn: func(ctx context.Context, _ gateway.Request) (*gateway.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &gateway.Result{Success: true}, nil
		},
	}

	o := newTestOrchestrator(t, gw)
	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	first, err := o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	assert.ErrorIs(t, err, ErrWorkflowRunning)

	close(release)
	waitForStatus(t, o, "wf-1", model.WorkflowStatusCompleted)

	// The template is reusable once the run finished, with fresh state
	second, err := o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	waitForStatus(t, o, "wf-1", model.WorkflowStatusCompleted)
}

func TestWorkflowStatusTemplateOnly(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	report, err := o.WorkflowStatus("wf-1")
	require.NoError(t, err)

	assert.Equal(t, model.WorkflowStatusPending, report.Status)
	assert.Empty(t, report.RunID)
	assert.Nil(t, report.StartTime)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, model.TaskStatusPending, report.Tasks[0].Status)
}

func TestStopWorkflow(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	gw := &stubGateway{
		fn: func(ctx context.Context, _ gateway.Request) (*gateway.Result, error) {
			once.Do(func() { close(started) })
			<-release
			return &gateway.Result{Success: true}, nil
		},
	}

	o := newTestOrchestrator(t, gw)
	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a"), taskDef("b", "a")))
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for first task to start")
	}

	require.NoError(t, o.StopWorkflow("wf-1"))
	close(release)

	final := waitForStatus(t, o, "wf-1", model.WorkflowStatusCancelled)

	// The dependent task was never dispatched
	for _, tr := range final.Tasks {
		if tr.ID == "b" {
			assert.Equal(t, model.TaskStatusPending, tr.Status)
		}
	}

	// With the run over there is nothing left to stop
	require.Eventually(t, func() bool {
		return errors.Is(o.StopWorkflow("wf-1"), ErrNoActiveRun)
	}, time.Second, 5*time.Millisecond)
}

func TestStopWorkflowNoRun(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	assert.ErrorIs(t, o.StopWorkflow("wf-1"), ErrNoActiveRun)
	assert.ErrorIs(t, o.StopWorkflow("ghost"), ErrNoActiveRun)
}

func TestListWorkflows(t *testing.T) {
	o := newTestOrchestrator(t, &stubGateway{})

	_, err := o.CreateWorkflow(definition("wf-b", taskDef("a")))
	require.NoError(t, err)
	_, err = o.CreateWorkflow(definition("wf-a", taskDef("a")))
	require.NoError(t, err)

	list := o.ListWorkflows()
	require.Len(t, list, 2)
	assert.Equal(t, "wf-a", list[0].WorkflowID)
	assert.Equal(t, "wf-b", list[1].WorkflowID)
}

func TestOrchestratorEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	hook := func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	o := newTestOrchestrator(t, &stubGateway{}, WithEventHook(hook))

	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	waitForStatus(t, o, "wf-1", model.WorkflowStatusCompleted)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) >= 4
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	types := make([]EventType, 0, len(events))
	for _, event := range events {
		types = append(types, event.Type)
	}
	assert.Equal(t, []EventType{
		EventWorkflowCreated,
		EventRunStarted,
		EventTaskComplete,
		EventWorkflowComplete,
	}, types)

	assert.Equal(t, "a", events[2].TaskID)
	assert.NotEmpty(t, events[1].RunID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestOrchestratorFailureEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	hook := func(event Event) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	gw := &stubGateway{
		fn: func(ctx context.Context, _ gateway.Request) (*gateway.Result, error) {
			return &gateway.Result{Success: false, Error: "boom"}, nil
		},
	}

	o := newTestOrchestrator(t, gw, WithEventHook(hook))

	def := definition("wf-1", model.TaskDefinition{ID: "a", AgentType: model.AgentTypeCustom, RetryLimit: 1})
	_, err := o.CreateWorkflow(def)
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	waitForStatus(t, o, "wf-1", model.WorkflowStatusFailed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, event := range events {
			if event.Type == EventWorkflowFailed {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()

	var taskFailed, workflowFailed *Event
	for i := range events {
		switch events[i].Type {
		case EventTaskFailed:
			taskFailed = &events[i]
		case EventWorkflowFailed:
			workflowFailed = &events[i]
		}
	}

	require.NotNil(t, taskFailed)
	assert.Equal(t, "a", taskFailed.TaskID)
	assert.Equal(t, "Error executing task: boom", taskFailed.Error)

	require.NotNil(t, workflowFailed)
	assert.Equal(t, "One or more tasks failed", workflowFailed.Error)
}

func TestOrchestratorCheckpoints(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	store, err := storage.NewSQLiteCheckpoints(logger, filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o := newTestOrchestrator(t, &stubGateway{}, WithCheckpoints(store))

	_, err = o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	report, err := o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	waitForStatus(t, o, "wf-1", model.WorkflowStatusCompleted)

	var cp *storage.Checkpoint
	require.Eventually(t, func() bool {
		cp, err = store.Load(context.Background(), report.RunID)
		return err == nil && cp != nil && cp.Status == model.WorkflowStatusCompleted
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, "wf-1", cp.WorkflowID)
	assert.Equal(t, "acme", cp.TenantID)
	assert.NotNil(t, cp.FinishedAt)
	assert.Contains(t, string(cp.Snapshot), "wf-1")
}

func TestOrchestratorStats(t *testing.T) {
	gw := &stubGateway{
		fn: func(ctx context.Context, req gateway.Request) (*gateway.Result, error) {
			if req.Metadata["workflow_id"] == "wf-bad" {
				return &gateway.Result{Success: false, Error: "boom"}, nil
			}
			return &gateway.Result{Success: true}, nil
		},
	}

	o := newTestOrchestrator(t, gw)

	_, err := o.CreateWorkflow(definition("wf-good", taskDef("a")))
	require.NoError(t, err)
	_, err = o.CreateWorkflow(definition("wf-bad", model.TaskDefinition{ID: "a", AgentType: model.AgentTypeCustom, RetryLimit: 1}))
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-good")
	require.NoError(t, err)
	_, err = o.ExecuteWorkflow(context.Background(), "wf-bad")
	require.NoError(t, err)

	waitForStatus(t, o, "wf-good", model.WorkflowStatusCompleted)
	waitForStatus(t, o, "wf-bad", model.WorkflowStatusFailed)

	require.Eventually(t, func() bool {
		stats := o.Stats()
		return stats.CompletedRuns == 1 && stats.FailedRuns == 1 && stats.ActiveRuns == 0
	}, time.Second, 5*time.Millisecond)

	stats := o.Stats()
	assert.Equal(t, 2, stats.RegisteredWorkflows)
	assert.Equal(t, int64(1), stats.CompletedTasks)
	assert.Equal(t, int64(1), stats.FailedTasks)
	assert.False(t, stats.CollectedAt.IsZero())
}

func TestOrchestratorClose(t *testing.T) {
	release := make(chan struct{})
	gw := &stubGateway{
		fn: func(ctx context.Context, _ gateway.Request) (*gateway.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return &gateway.Result{Success: true}, nil
		},
	}

	logger, _ := zap.NewDevelopment()
	o := New(gw, model.Scope{TenantID: "acme", UserID: "u-1"}, logger,
		WithEngineOptions(engine.WithPollInterval(5*time.Millisecond)))

	_, err := o.CreateWorkflow(definition("wf-1", taskDef("a")))
	require.NoError(t, err)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		o.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for close")
	}
	close(release)

	report, err := o.WorkflowStatus("wf-1")
	require.NoError(t, err)
	assert.Equal(t, model.WorkflowStatusCancelled, report.Status)

	_, err = o.ExecuteWorkflow(context.Background(), "wf-1")
	assert.ErrorIs(t, err, ErrClosed)
}
