package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLRecorder persists history to MySQL/MariaDB for deployments where
// several runners share one audit trail.
//
// The DSN follows the go-sql-driver format, e.g.
//
//	user:pass@tcp(localhost:3306)/workflows?parseTime=true
//
// parseTime=true is required so TIMESTAMP columns scan into time.Time.
type MySQLRecorder struct {
	db *sql.DB
}

// NewMySQLRecorder opens a connection pool against dsn and ensures the
// schema exists.
func NewMySQLRecorder(dsn string) (*MySQLRecorder, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	r := &MySQLRecorder{db: db}
	if err := r.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *MySQLRecorder) createTables(ctx context.Context) error {
	runsTable := `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			run_id VARCHAR(64) PRIMARY KEY,
			workflow_id VARCHAR(64) NOT NULL,
			status VARCHAR(32) NOT NULL,
			outputs JSON NOT NULL,
			error TEXT NOT NULL,
			exceptions INT NOT NULL DEFAULT 0,
			steps INT NOT NULL DEFAULT 0,
			tokens INT NOT NULL DEFAULT 0,
			started_at TIMESTAMP(6) NOT NULL,
			finished_at TIMESTAMP(6) NULL
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, runsTable); err != nil {
		return fmt.Errorf("create workflow_runs: %w", err)
	}

	nodesTable := `
		CREATE TABLE IF NOT EXISTS workflow_node_executions (
			id VARCHAR(64) PRIMARY KEY,
			run_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			node_type VARCHAR(64) NOT NULL,
			node_title VARCHAR(255) NOT NULL DEFAULT '',
			idx INT NOT NULL,
			status VARCHAR(32) NOT NULL,
			inputs JSON NOT NULL,
			outputs JSON NOT NULL,
			error TEXT NOT NULL,
			created_at TIMESTAMP(6) NOT NULL,
			elapsed_ms BIGINT NOT NULL DEFAULT 0,
			INDEX idx_node_executions_run (run_id, idx)
		) ENGINE=InnoDB
	`
	if _, err := r.db.ExecContext(ctx, nodesTable); err != nil {
		return fmt.Errorf("create workflow_node_executions: %w", err)
	}
	return nil
}

func (r *MySQLRecorder) SaveRun(ctx context.Context, run RunRecord) error {
	outputs, err := marshalMap(run.Outputs)
	if err != nil {
		return fmt.Errorf("marshal run outputs: %w", err)
	}

	query := `
		INSERT INTO workflow_runs
			(run_id, workflow_id, status, outputs, error, exceptions, steps, tokens, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			outputs = VALUES(outputs),
			error = VALUES(error),
			exceptions = VALUES(exceptions),
			steps = VALUES(steps),
			tokens = VALUES(tokens),
			finished_at = VALUES(finished_at)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.RunID, run.WorkflowID, string(run.Status), outputs, run.Error,
		run.Exceptions, run.Steps, run.Tokens, run.StartedAt, nullableTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (r *MySQLRecorder) SaveNode(ctx context.Context, node NodeRecord) error {
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
		ON DUPLICATE KEY UPDATE
			status = VALUES(status),
			inputs = VALUES(inputs),
			outputs = VALUES(outputs),
			error = VALUES(error),
			elapsed_ms = VALUES(elapsed_ms)
	`
	_, err = r.db.ExecContext(ctx, query,
		node.ID, node.RunID, node.NodeID, node.NodeType, node.NodeTitle, node.Index,
		node.Status, inputs, outputs, node.Error, node.CreatedAt, node.ElapsedMS)
	if err != nil {
		return fmt.Errorf("save node execution %s: %w", node.ID, err)
	}
	return nil
}

func (r *MySQLRecorder) Run(ctx context.Context, runID string) (RunRecord, error) {
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

func (r *MySQLRecorder) Nodes(ctx context.Context, runID string) ([]NodeRecord, error) {
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

func (r *MySQLRecorder) Close() error { return r.db.Close() }
