package model

import "time"

// OrchestratorStats represents orchestrator-level counters sampled by
// the metrics collector
type OrchestratorStats struct {
	RegisteredWorkflows int       `json:"registered_workflows"`
	ActiveRuns          int       `json:"active_runs"`
	CompletedRuns       int64     `json:"completed_runs"`
	FailedRuns          int64     `json:"failed_runs"`
	CancelledRuns       int64     `json:"cancelled_runs"`
	CompletedTasks      int64     `json:"completed_tasks"`
	FailedTasks         int64     `json:"failed_tasks"`
	ActiveSessions      int       `json:"active_sessions"`
	CollectedAt         time.Time `json:"collected_at"`
}
