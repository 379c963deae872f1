package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/supertrack-ai/orchestrator/internal/model"
)

// Checkpoint is a persisted observation of a workflow run. Snapshot holds
// the serialized workflow at the moment the checkpoint was taken.
type Checkpoint struct {
	RunID      string               `json:"run_id"`
	WorkflowID string               `json:"workflow_id"`
	Name       string               `json:"name"`
	Status     model.WorkflowStatus `json:"status"`
	Error      string               `json:"error,omitempty"`
	TenantID   string               `json:"tenant_id,omitempty"`
	UserID     string               `json:"user_id,omitempty"`
	Snapshot   json.RawMessage      `json:"snapshot,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt *time.Time           `json:"finished_at,omitempty"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// CheckpointStore defines the interface for run checkpoint storage
type CheckpointStore interface {
	// Save inserts or replaces the checkpoint for a run
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves the checkpoint for a run
	Load(ctx context.Context, runID string) (*Checkpoint, error)

	// ListByWorkflow retrieves checkpoints for a workflow, newest first
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*Checkpoint, error)

	// ListByStatus retrieves checkpoints in a given status, newest first
	ListByStatus(ctx context.Context, status model.WorkflowStatus, limit int) ([]*Checkpoint, error)

	// Count returns the number of stored checkpoints
	Count(ctx context.Context) (int, error)

	// DeleteBefore deletes checkpoints whose runs started before the cutoff
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteCheckpoints implements CheckpointStore using SQLite
type SQLiteCheckpoints struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteCheckpoints opens (or creates) the checkpoint database. The
// file is kept across restarts; checkpoints are the run record.
func NewSQLiteCheckpoints(logger *zap.Logger, dbPath string) (*SQLiteCheckpoints, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteCheckpoints{
		logger: logger.Named("checkpoints"),
		db:     db,
	}

	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteCheckpoints) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			tenant_id TEXT,
			user_id TEXT,
			snapshot TEXT,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			updated_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_workflow_id ON workflow_checkpoints(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_status ON workflow_checkpoints(status);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_started_at ON workflow_checkpoints(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Save implements CheckpointStore.Save
func (s *SQLiteCheckpoints) Save(ctx context.Context, cp *Checkpoint) error {
	var snapshotStr string
	if len(cp.Snapshot) > 0 {
		snapshotStr = string(cp.Snapshot)
	}

	var finishedAt sql.NullTime
	if cp.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *cp.FinishedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (
			run_id, workflow_id, name, status, error, tenant_id, user_id,
			snapshot, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			snapshot = excluded.snapshot,
			finished_at = excluded.finished_at,
			updated_at = excluded.updated_at`,
		cp.RunID,
		cp.WorkflowID,
		cp.Name,
		cp.Status,
		sql.NullString{String: cp.Error, Valid: cp.Error != ""},
		sql.NullString{String: cp.TenantID, Valid: cp.TenantID != ""},
		sql.NullString{String: cp.UserID, Valid: cp.UserID != ""},
		sql.NullString{String: snapshotStr, Valid: snapshotStr != ""},
		cp.StartedAt,
		finishedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Load implements CheckpointStore.Load
func (s *SQLiteCheckpoints) Load(ctx context.Context, runID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, workflow_id, name, status, error, tenant_id, user_id,
			snapshot, started_at, finished_at, updated_at
		FROM workflow_checkpoints
		WHERE run_id = ?`, runID)

	cp, err := scanCheckpoint(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
	}
	return cp, nil
}

// ListByWorkflow implements CheckpointStore.ListByWorkflow
func (s *SQLiteCheckpoints) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*Checkpoint, error) {
	return s.list(ctx, "workflow_id = ?", workflowID, limit)
}

// ListByStatus implements CheckpointStore.ListByStatus
func (s *SQLiteCheckpoints) ListByStatus(ctx context.Context, status model.WorkflowStatus, limit int) ([]*Checkpoint, error) {
	return s.list(ctx, "status = ?", string(status), limit)
}

func (s *SQLiteCheckpoints) list(ctx context.Context, where string, arg interface{}, limit int) ([]*Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, workflow_id, name, status, error, tenant_id, user_id,
			snapshot, started_at, finished_at, updated_at
		FROM workflow_checkpoints
		WHERE `+where+`
		ORDER BY started_at DESC LIMIT ?`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var checkpoints []*Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		checkpoints = append(checkpoints, cp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return checkpoints, nil
}

// Count implements CheckpointStore.Count
func (s *SQLiteCheckpoints) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_checkpoints").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	return count, nil
}

// DeleteBefore implements CheckpointStore.DeleteBefore
func (s *SQLiteCheckpoints) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM workflow_checkpoints WHERE started_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete checkpoints: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	s.logger.Info("Deleted old checkpoints",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return affected, nil
}

// Close closes the database connection
func (s *SQLiteCheckpoints) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCheckpoint(row rowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var errStr, tenantID, userID, snapshot sql.NullString
	var finishedAt sql.NullTime

	err := row.Scan(
		&cp.RunID,
		&cp.WorkflowID,
		&cp.Name,
		&cp.Status,
		&errStr,
		&tenantID,
		&userID,
		&snapshot,
		&cp.StartedAt,
		&finishedAt,
		&cp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if errStr.Valid {
		cp.Error = errStr.String
	}
	if tenantID.Valid {
		cp.TenantID = tenantID.String
	}
	if userID.Valid {
		cp.UserID = userID.String
	}
	if snapshot.Valid && snapshot.String != "" {
		cp.Snapshot = json.RawMessage(snapshot.String)
	}
	if finishedAt.Valid {
		cp.FinishedAt = &finishedAt.Time
	}

	return &cp, nil
}
