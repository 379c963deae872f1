package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/supertrack-ai/orchestrator/internal/model"
	"github.com/supertrack-ai/orchestrator/internal/testutil"
)

func setupAlertManager(t *testing.T) (*AlertManager, *nats.Conn, nats.JetStreamContext) {
	t.Helper()

	nc, js := testutil.StartJetStream(t)

	// The events stream normally owned by the workflow service
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     "WORKFLOWS",
		Subjects: []string{"workflow.event.>"},
		Storage:  nats.FileStorage,
	})
	require.NoError(t, err)

	manager := NewAlertManager(nc, js, zaptest.NewLogger(t))
	return manager, nc, js
}

func publishEvent(t *testing.T, js nats.JetStreamContext, eventType string, fields map[string]interface{}) {
	t.Helper()

	payload := map[string]interface{}{"type": eventType}
	for k, v := range fields {
		payload[k] = v
	}
	data, err := json.Marshal(payload)
	require.NoError(t, err)

	_, err = js.Publish("workflow.event."+eventType, data)
	require.NoError(t, err)
}

func TestAlertManagerRuleCRUD(t *testing.T) {
	manager, _, _ := setupAlertManager(t)

	rule := &model.AlertRule{
		Name:     "workflow failed",
		Type:     model.AlertTypeWorkflowFailure,
		Severity: model.AlertSeverityError,
	}

	require.NoError(t, manager.AddRule(rule))
	require.NotEmpty(t, rule.ID)
	require.False(t, rule.CreatedAt.IsZero())
	require.Equal(t, rule.CreatedAt, rule.UpdatedAt)

	rule.Severity = model.AlertSeverityCritical
	require.NoError(t, manager.UpdateRule(rule))

	updated, err := manager.GetRule(rule.ID)
	require.NoError(t, err)
	require.Equal(t, model.AlertSeverityCritical, updated.Severity)
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt) || updated.UpdatedAt.Equal(updated.CreatedAt))

	require.Len(t, manager.ListRules(), 1)

	require.NoError(t, manager.DeleteRule(rule.ID))
	_, err = manager.GetRule(rule.ID)
	require.ErrorIs(t, err, ErrRuleNotFound)
	require.ErrorIs(t, manager.DeleteRule(rule.ID), ErrRuleNotFound)
}

func TestAlertManagerWorkflowFailure(t *testing.T) {
	manager, nc, js := setupAlertManager(t)

	rule := &model.AlertRule{
		Name:     "workflow failed",
		Type:     model.AlertTypeWorkflowFailure,
		Severity: model.AlertSeverityError,
	}
	require.NoError(t, manager.AddRule(rule))

	alerts := testutil.CollectMessages(t, nc, "alert.error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	publishEvent(t, js, "workflow_failed", map[string]interface{}{
		"workflow_id": "wf-1",
		"run_id":      "run-1",
		"status":      "failed",
		"error":       "One or more tasks failed",
	})

	select {
	case msg := <-alerts:
		var alert model.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &alert))

		assert.Equal(t, rule.ID, alert.RuleID)
		assert.Equal(t, model.AlertTypeWorkflowFailure, alert.Type)
		assert.Equal(t, model.AlertSeverityError, alert.Severity)
		assert.Equal(t, "wf-1", alert.WorkflowID)
		assert.Contains(t, alert.Message, "One or more tasks failed")
		assert.Equal(t, "run-1", alert.Data["run_id"])
	case <-ctx.Done():
		t.Fatal("timeout waiting for alert")
	}

	require.Eventually(t, func() bool {
		return len(manager.Recent()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestAlertManagerStuckWorkflow(t *testing.T) {
	manager, nc, js := setupAlertManager(t)

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:          "workflow stuck",
		Type:          model.AlertTypeStuckWorkflow,
		ErrorContains: "stuck",
		Severity:      model.AlertSeverityCritical,
	}))

	alerts := testutil.CollectMessages(t, nc, "alert.*")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	// A plain failure does not match the stuck rule
	publishEvent(t, js, "workflow_failed", map[string]interface{}{
		"workflow_id": "wf-plain",
		"error":       "One or more tasks failed",
	})
	publishEvent(t, js, "workflow_failed", map[string]interface{}{
		"workflow_id": "wf-stuck",
		"error":       "Workflow is stuck with no runnable tasks",
	})

	select {
	case msg := <-alerts:
		assert.Equal(t, "alert.critical", msg.Subject)

		var alert model.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &alert))
		assert.Equal(t, "wf-stuck", alert.WorkflowID)
		assert.Equal(t, model.AlertTypeStuckWorkflow, alert.Type)
	case <-ctx.Done():
		t.Fatal("timeout waiting for alert")
	}
}

func TestAlertManagerTaskFailure(t *testing.T) {
	manager, nc, js := setupAlertManager(t)

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:     "task retries exhausted",
		Type:     model.AlertTypeTaskFailure,
		Severity: model.AlertSeverityWarning,
	}))

	alerts := testutil.CollectMessages(t, nc, "alert.warning")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	publishEvent(t, js, "task_failed", map[string]interface{}{
		"workflow_id": "wf-1",
		"task_id":     "extract",
		"error":       "Error executing task: executor unavailable",
	})

	select {
	case msg := <-alerts:
		var alert model.Alert
		require.NoError(t, json.Unmarshal(msg.Data, &alert))
		assert.Equal(t, "extract", alert.TaskID)
		assert.Equal(t, model.AlertSeverityWarning, alert.Severity)
	case <-ctx.Done():
		t.Fatal("timeout waiting for alert")
	}
}

func TestAlertManagerCooldown(t *testing.T) {
	manager, nc, js := setupAlertManager(t)

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:     "workflow failed",
		Type:     model.AlertTypeWorkflowFailure,
		Severity: model.AlertSeverityError,
		Cooldown: time.Minute,
	}))

	alerts := testutil.CollectMessages(t, nc, "alert.error")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	publishEvent(t, js, "workflow_failed", map[string]interface{}{"workflow_id": "wf-1", "error": "boom"})
	publishEvent(t, js, "workflow_failed", map[string]interface{}{"workflow_id": "wf-1", "error": "boom again"})

	select {
	case <-alerts:
	case <-ctx.Done():
		t.Fatal("timeout waiting for first alert")
	}

	select {
	case <-alerts:
		t.Fatal("cooldown did not suppress the repeat alert")
	case <-time.After(300 * time.Millisecond):
	}

	assert.Len(t, manager.Recent(), 1)
}

func TestAlertManagerSilencedRule(t *testing.T) {
	manager, nc, js := setupAlertManager(t)

	require.NoError(t, manager.AddRule(&model.AlertRule{
		Name:     "workflow failed",
		Type:     model.AlertTypeWorkflowFailure,
		Severity: model.AlertSeverityError,
		Silenced: true,
	}))

	alerts := testutil.CollectMessages(t, nc, "alert.*")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, manager.Start(ctx))
	defer manager.Stop()

	publishEvent(t, js, "workflow_failed", map[string]interface{}{"workflow_id": "wf-1", "error": "boom"})

	select {
	case <-alerts:
		t.Fatal("silenced rule produced an alert")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 3)

	byType := make(map[model.AlertType]*model.AlertRule)
	for _, rule := range rules {
		byType[rule.Type] = rule
	}

	require.Contains(t, byType, model.AlertTypeWorkflowFailure)
	require.Contains(t, byType, model.AlertTypeTaskFailure)
	require.Contains(t, byType, model.AlertTypeStuckWorkflow)
	assert.Equal(t, "stuck", byType[model.AlertTypeStuckWorkflow].ErrorContains)
	assert.Equal(t, model.AlertSeverityCritical, byType[model.AlertTypeStuckWorkflow].Severity)
}
