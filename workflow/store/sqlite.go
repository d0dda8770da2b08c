package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists history to a local SQLite database. The pure
// Go driver keeps the binary cgo-free.
type SQLiteRecorder struct {
	db *sql.DB
}

// NewSQLiteRecorder opens (or creates) the database at path and ensures
// the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite supports one writer at a time
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	r := &SQLiteRecorder{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRecorder) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			outputs TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			exceptions INTEGER NOT NULL DEFAULT 0,
			steps INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		)
	`
	if _, err := r.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("create workflow_runs: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS workflow_node_executions (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			node_type TEXT NOT NULL,
			node_title TEXT NOT NULL DEFAULT '',
			idx INTEGER NOT NULL,
			status TEXT NOT NULL,
			inputs TEXT NOT NULL,
			outputs TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			elapsed_ms INTEGER NOT NULL DEFAULT 0
		)
	`
	if _, err := r.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("create workflow_node_executions: %w", err)
	}

	if _, err := r.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS idx_node_executions_run ON workflow_node_executions(run_id, idx)"); err != nil {
		return fmt.Errorf("create idx_node_executions_run: %w", err)
	}
	return nil
}

func (r *SQLiteRecorder) SaveRun(ctx context.Context, run RunRecord) error {
	outputs, err := marshalMap(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal run outputs: %w", err)
	}

	query := `
		INSERT INTO workflow_runs
			(run_id, workflow_id, status, outputs, error, exceptions, steps, tokens, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			status = excluded.status,
			outputs = excluded.outputs,
			error = excluded.error,
			exceptions = excluded.exceptions,
			steps = excluded.steps,
			tokens = excluded.tokens,
			finished_at = excluded.finished_at
	`
	_, err = r.db.ExecContext(ctx, query,
		run.RunID, run.WorkflowID, string(run.Status), outputs, run.Error,
		run.Exceptions, run.Steps, run.Tokens, run.StartedAt, nullableTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *SQLiteRecorder) SaveNode(ctx context.Context, node NodeRecord) error {
	inputs, err := marshalMap(node.Inputs)
	if err != nil {
		return fmt.Errorf("marshal node inputs: %w", err)
	}
	outputs, err := marshalMap(node.Outputs)
	if err != nil {
		return fmt.Errorf("marshal node outputs: %w", err)
	}

	query := `
		INSERT INTO workflow_node_executions
			(id, run_id, node_id, node_type, node_title, idx, status, inputs, outputs, error, created_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			inputs = excluded.inputs,
			outputs = excluded.outputs,
			error = excluded.error,
			elapsed_ms = excluded.elapsed_ms
	`
	_, err = r.db.ExecContext(ctx, query,
		node.ID, node.RunID, node.NodeID, node.NodeType, node.NodeTitle, node.Index,
		node.Status, inputs, outputs, node.Error, node.CreatedAt, node.ElapsedMS)
	if err != nil {
		return fmt.Errorf("save node execution %s: %w", node.ID, err)
	}
	return nil
}

func (r *SQLiteRecorder) Run(ctx context.Context, runID string) (RunRecord, error) {
	query := `
		SELECT run_id, workflow_id, status, outputs, error, exceptions, steps, tokens, started_at, finished_at
		FROM workflow_runs WHERE run_id = ?
	`
	row := r.db.QueryRowContext(ctx, query, runID)

	var run RunRecord
	var status, outputs string
	var finishedAt sql.NullTime
	err := row.Scan(&run.RunID, &run.WorkflowID, &status, &outputs, &run.Error,
		&run.Exceptions, &run.Steps, &run.Tokens, &run.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return RunRecord{}, ErrNotFound
	}
	if err != nil {
		return RunRecord{}, fmt.Errorf("load run %s: %w", runID, err)
	}

	run.Status = RunStatus(status)
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	if err := unmarshalMap(outputs, &run.Outputs); err != nil {
		return RunRecord{}, fmt.Errorf("unmarshal run outputs: %w", err)
	}
	return run, nil
}

func (r *SQLiteRecorder) Nodes(ctx context.Context, runID string) ([]NodeRecord, error) {
	query := `
		SELECT id, run_id, node_id, node_type, node_title, idx, status, inputs, outputs, error, created_at, elapsed_ms
		FROM workflow_node_executions WHERE run_id = ? ORDER BY idx
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list node executions for %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []NodeRecord
	for rows.Next() {
		var node NodeRecord
		var inputs, outputs string
		if err := rows.Scan(&node.ID, &node.RunID, &node.NodeID, &node.NodeType,
			&node.NodeTitle, &node.Index, &node.Status, &inputs, &outputs,
			&node.Error, &node.CreatedAt, &node.ElapsedMS); err != nil {
			return nil, fmt.Errorf("scan node execution: %w", err)
		}
		if err := unmarshalMap(inputs, &node.Inputs); err != nil {
			return nil, fmt.Errorf("unmarshal node inputs: %w", err)
		}
		if err := unmarshalMap(outputs, &node.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal node outputs: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error { return r.db.Close() }

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalMap(data string, out *map[string]any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), out)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
