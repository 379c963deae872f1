package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

const (
	alertStreamName    = "ALERTS"
	alertSubjectPrefix = "alert."
	eventsSubject      = "workflow.event.>"

	recentAlertsLimit = 100
)

// ErrRuleNotFound indicates the rule id names no registered alert rule
var ErrRuleNotFound = errors.New("rule not found")

// AlertManager turns workflow events into alerts. Rules match on event
// kind and an optional error substring; triggered alerts are published
// to alert.<severity> and kept in a bounded recent list.
type AlertManager struct {
	logger *zap.Logger
	nc     *nats.Conn
	js     nats.JetStreamContext

	rules sync.Map
	sub   *nats.Subscription

	mu        sync.Mutex
	recent    []*model.Alert
	lastFired map[string]time.Time
}

// NewAlertManager creates a new alert manager
func NewAlertManager(nc *nats.Conn, js nats.JetStreamContext, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		logger:    logger.Named("alert-manager"),
		nc:        nc,
		js:        js,
		lastFired: make(map[string]time.Time),
	}
}

// DefaultRules returns the rule set the entrypoint installs
func DefaultRules() []*model.AlertRule {
	return []*model.AlertRule{
		{
			Name:     "workflow failed",
			Type:     model.AlertTypeWorkflowFailure,
			Severity: model.AlertSeverityError,
		},
		{
			Name:     "task retries exhausted",
			Type:     model.AlertTypeTaskFailure,
			Severity: model.AlertSeverityWarning,
		},
		{
			Name:          "workflow stuck",
			Type:          model.AlertTypeStuckWorkflow,
			ErrorContains: "stuck",
			Severity:      model.AlertSeverityCritical,
		},
	}
}

// Start creates the alert stream and subscribes to workflow events
func (m *AlertManager) Start(ctx context.Context) error {
	stream, err := m.js.StreamInfo(alertStreamName)
	if err != nil && err != nats.ErrStreamNotFound {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if stream == nil {
		_, err = m.js.AddStream(&nats.StreamConfig{
			Name:     alertStreamName,
			Subjects: []string{alertSubjectPrefix + "*"},
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	// Only new events alert; retained history is not replayed
	sub, err := m.js.Subscribe(eventsSubject, m.handleEvent, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to workflow events: %w", err)
	}
	m.sub = sub

	m.logger.Info("Alert manager started")
	return nil
}

// Stop stops the alert manager
func (m *AlertManager) Stop() {
	if m.sub != nil {
		m.sub.Unsubscribe()
	}
	m.logger.Info("Alert manager stopped")
}

// GetRule returns a rule by ID
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	value, ok := m.rules.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return value.(*model.AlertRule), nil
}

// AddRule adds a new alert rule
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt
	m.rules.Store(rule.ID, rule)
	return nil
}

// UpdateRule updates an existing alert rule
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	if _, ok := m.rules.Load(rule.ID); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, rule.ID)
	}
	rule.UpdatedAt = time.Now()
	m.rules.Store(rule.ID, rule)
	return nil
}

// DeleteRule deletes an alert rule
func (m *AlertManager) DeleteRule(id string) error {
	if _, ok := m.rules.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	m.rules.Delete(id)
	return nil
}

// ListRules lists all alert rules
func (m *AlertManager) ListRules() []*model.AlertRule {
	var rules []*model.AlertRule
	m.rules.Range(func(key, value interface{}) bool {
		rules = append(rules, value.(*model.AlertRule))
		return true
	})
	return rules
}

// Recent returns the recent alerts, oldest first
func (m *AlertManager) Recent() []*model.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.Alert, len(m.recent))
	copy(out, m.recent)
	return out
}

// handleEvent evaluates every rule against one workflow event
func (m *AlertManager) handleEvent(msg *nats.Msg) {
	var event struct {
		Type       string `json:"type"`
		WorkflowID string `json:"workflow_id"`
		RunID      string `json:"run_id"`
		TaskID     string `json:"task_id"`
		Status     string `json:"status"`
		Error      string `json:"error"`
	}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		m.logger.Error("Failed to unmarshal workflow event", zap.Error(err))
		return
	}

	m.rules.Range(func(key, value interface{}) bool {
		rule := value.(*model.AlertRule)
		if ruleMatches(rule, event.Type, event.Error) {
			m.createAlert(rule, event.WorkflowID, event.TaskID, event.Error, map[string]interface{}{
				"run_id": event.RunID,
				"status": event.Status,
			})
		}
		return true
	})
}

// ruleMatches reports whether a rule applies to an event. Stuck-workflow
// rules watch the same failure events as workflow-failure rules and are
// told apart by their error substring.
func ruleMatches(rule *model.AlertRule, eventType, errText string) bool {
	if rule.Silenced {
		return false
	}

	switch rule.Type {
	case model.AlertTypeTaskFailure:
		if eventType != "task_failed" {
			return false
		}
	case model.AlertTypeWorkflowFailure, model.AlertTypeStuckWorkflow:
		if eventType != "workflow_failed" {
			return false
		}
	default:
		return false
	}

	if rule.ErrorContains != "" && !strings.Contains(errText, rule.ErrorContains) {
		return false
	}
	return true
}

// createAlert creates and publishes a new alert
func (m *AlertManager) createAlert(rule *model.AlertRule, workflowID, taskID, errText string, data map[string]interface{}) {
	m.mu.Lock()
	if rule.Cooldown > 0 {
		if last, ok := m.lastFired[rule.ID]; ok && time.Since(last) < rule.Cooldown {
			m.mu.Unlock()
			return
		}
	}
	m.lastFired[rule.ID] = time.Now()
	m.mu.Unlock()

	alert := &model.Alert{
		ID:         uuid.New().String(),
		RuleID:     rule.ID,
		Type:       rule.Type,
		Severity:   rule.Severity,
		Message:    fmt.Sprintf("Alert triggered for rule: %s", rule.Name),
		WorkflowID: workflowID,
		TaskID:     taskID,
		Data:       data,
		CreatedAt:  time.Now(),
	}
	if errText != "" {
		alert.Message = fmt.Sprintf("%s: %s", rule.Name, errText)
	}

	alertData, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal alert", zap.Error(err))
		return
	}

	if _, err := m.js.Publish(alertSubjectPrefix+string(alert.Severity), alertData); err != nil {
		m.logger.Error("Failed to publish alert", zap.Error(err))
		return
	}

	m.mu.Lock()
	m.recent = append(m.recent, alert)
	if len(m.recent) > recentAlertsLimit {
		m.recent = m.recent[len(m.recent)-recentAlertsLimit:]
	}
	m.mu.Unlock()

	m.logger.Info("Alert created",
		zap.String("id", alert.ID),
		zap.String("rule_id", alert.RuleID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("workflow_id", workflowID))
}
