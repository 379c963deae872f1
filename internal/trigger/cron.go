package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/orchestrator"
)

// Trigger errors
var (
	ErrScheduleNotFound   = errors.New("schedule not found")
	ErrScheduleExists     = errors.New("schedule already exists")
	ErrWorkflowIDRequired = errors.New("schedule needs a workflow id")
)

// scheduleParser accepts six-field expressions with seconds granularity
var scheduleParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Runner starts workflow runs for fired schedules
type Runner interface {
	ExecuteWorkflow(ctx context.Context, workflowID string) (*orchestrator.StatusReport, error)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// CronTrigger fires workflow runs on cron schedules
type CronTrigger struct {
	logger *zap.Logger
	runner Runner
	cron   *cron.Cron

	mu        sync.RWMutex
	schedules map[string]*model.WorkflowSchedule
	entryIDs  map[string]cron.EntryID
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// NewCronTrigger creates a trigger that executes workflows through the
// given runner
func NewCronTrigger(runner Runner, logger *zap.Logger) *CronTrigger {
	log := logger.Named("trigger")
	cl := &cronLogger{logger: log.Named("cron")}

	return &CronTrigger{
		logger:    log,
		runner:    runner,
		cron:      cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cl))),
		schedules: make(map[string]*model.WorkflowSchedule),
		entryIDs:  make(map[string]cron.EntryID),
	}
}

// Start arms the cron runner
func (t *CronTrigger) Start(ctx context.Context) {
	t.mu.Lock()
	t.baseCtx, t.cancel = context.WithCancel(ctx)
	t.mu.Unlock()

	t.cron.Start()
	t.logger.Info("Cron trigger started")
}

// Stop disarms the cron runner and waits for in-flight jobs
func (t *CronTrigger) Stop() {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	ctx := t.cron.Stop()
	<-ctx.Done()
	t.logger.Info("Cron trigger stopped")
}

// Add registers a schedule and arms its cron entry. Defaults are applied
// in place: a fresh id, the workflow id as name, active status.
func (t *CronTrigger) Add(schedule *model.WorkflowSchedule) error {
	if schedule.WorkflowID == "" {
		return ErrWorkflowIDRequired
	}
	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.Name == "" {
		schedule.Name = schedule.WorkflowID
	}
	if schedule.Status == "" {
		schedule.Status = model.ScheduleStatusActive
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	schedule.UpdatedAt = time.Now()

	spec, err := scheduleParser.Parse(schedule.Expression)
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	next := spec.Next(time.Now())
	schedule.NextRunTime = &next

	t.mu.Lock()
	if _, exists := t.schedules[schedule.ID]; exists {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScheduleExists, schedule.ID)
	}
	t.schedules[schedule.ID] = schedule
	t.mu.Unlock()

	id := schedule.ID
	entryID, err := t.cron.AddFunc(schedule.Expression, func() { t.fire(id) })
	if err != nil {
		t.mu.Lock()
		delete(t.schedules, id)
		t.mu.Unlock()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	t.mu.Lock()
	t.entryIDs[id] = entryID
	t.mu.Unlock()

	t.logger.Info("Added schedule",
		zap.String("id", schedule.ID),
		zap.String("workflow_id", schedule.WorkflowID),
		zap.String("expression", schedule.Expression),
		zap.Time("next_run", next))

	return nil
}

// Remove drops a schedule and disarms its cron entry
func (t *CronTrigger) Remove(id string) error {
	t.mu.Lock()
	entryID, ok := t.entryIDs[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	delete(t.entryIDs, id)
	delete(t.schedules, id)
	t.mu.Unlock()

	t.cron.Remove(entryID)
	t.logger.Info("Removed schedule", zap.String("id", id))
	return nil
}

// Get returns a copy of a schedule by id
func (t *CronTrigger) Get(id string) (*model.WorkflowSchedule, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	schedule, ok := t.schedules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return schedule.Clone(), nil
}

// List returns copies of all registered schedules
func (t *CronTrigger) List() []*model.WorkflowSchedule {
	t.mu.RLock()
	defer t.mu.RUnlock()

	schedules := make([]*model.WorkflowSchedule, 0, len(t.schedules))
	for _, schedule := range t.schedules {
		schedules = append(schedules, schedule.Clone())
	}
	return schedules
}

// fire runs one scheduled execution. A workflow still running from the
// previous fire is skipped; the schedule keeps its cadence.
func (t *CronTrigger) fire(id string) {
	t.mu.Lock()
	schedule, ok := t.schedules[id]
	if !ok || schedule.Status != model.ScheduleStatusActive {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	schedule.LastRunTime = &now
	if spec, err := scheduleParser.Parse(schedule.Expression); err == nil {
		next := spec.Next(now)
		schedule.NextRunTime = &next
	}
	workflowID := schedule.WorkflowID
	ctx := t.baseCtx
	t.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := t.runner.ExecuteWorkflow(ctx, workflowID); err != nil {
		if errors.Is(err, orchestrator.ErrWorkflowRunning) {
			t.logger.Warn("Skipping scheduled run, workflow still active",
				zap.String("schedule_id", id),
				zap.String("workflow_id", workflowID))
			return
		}
		t.logger.Error("Failed to execute scheduled workflow",
			zap.String("schedule_id", id),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return
	}

	t.logger.Info("Executed schedule",
		zap.String("schedule_id", id),
		zap.String("workflow_id", workflowID),
		zap.Time("executed_at", now))
}
