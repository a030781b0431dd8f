package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"taskflow/pkg/task"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PgStore is a PostgreSQL-backed execution store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the task_execution table if it doesn't exist. The
// users and tasks tables must exist first.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_execution (
			id              BIGSERIAL PRIMARY KEY,
			task_id         BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			collaborator_id BIGINT NOT NULL REFERENCES users(id),
			description     TEXT NOT NULL,
			file_path       TEXT,
			file_name       TEXT,
			status          TEXT NOT NULL DEFAULT 'submitted'
			                CHECK (status IN ('submitted', 'approved', 'rejected')),
			submitted_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
			CONSTRAINT task_execution_task_collaborator_key UNIQUE (task_id, collaborator_id)
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_task_execution_collaborator ON task_execution(collaborator_id)`)
	return err
}

const selectJoined = `
	SELECT e.id, e.task_id, e.collaborator_id, e.description, e.file_path, e.file_name,
	       e.status, e.submitted_at, e.updated_at,
	       t.task_type, t.description, u.name, u.email
	FROM task_execution e
	JOIN tasks t ON t.id = e.task_id
	JOIN users u ON u.id = e.collaborator_id`

// Create inserts a submitted execution and marks its task in progress.
func (s *PgStore) Create(ctx context.Context, e *Execution) (*Execution, error) {
	now := time.Now().Truncate(time.Microsecond)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO task_execution (task_id, collaborator_id, description, file_path, file_name, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		e.TaskID, e.CollaboratorID, e.Description, e.FilePath, e.FileName, string(Submitted), now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert execution: %w", err)
	}

	if err := task.SetStatusTx(ctx, tx, e.TaskID, task.InProgress); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit execution: %w", err)
	}

	created, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload execution %d: %w", id, err)
	}
	return created, nil
}

// Get retrieves a single execution by ID.
func (s *PgStore) Get(ctx context.Context, id int64) (*Execution, error) {
	rows, err := s.pool.Query(ctx, selectJoined+` WHERE e.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	defer rows.Close()
	execs, err := scanExecutionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get execution %d: %w", id, err)
	}
	if len(execs) == 0 {
		return nil, ErrNotFound
	}
	return &execs[0], nil
}

// Exists reports whether an execution exists for the pair.
func (s *PgStore) Exists(ctx context.Context, taskID, collaboratorID int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM task_execution WHERE task_id = $1 AND collaborator_id = $2)`,
		taskID, collaboratorID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("execution exists for task %d: %w", taskID, err)
	}
	return ok, nil
}

// List returns all executions, most recent first.
func (s *PgStore) List(ctx context.Context) ([]Execution, error) {
	rows, err := s.pool.Query(ctx, selectJoined+` ORDER BY e.submitted_at DESC, e.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// ByCollaborator returns the executions submitted by one user.
func (s *PgStore) ByCollaborator(ctx context.Context, collaboratorID int64) ([]Execution, error) {
	rows, err := s.pool.Query(ctx, selectJoined+`
		WHERE e.collaborator_id = $1
		ORDER BY e.submitted_at DESC, e.id DESC`, collaboratorID)
	if err != nil {
		return nil, fmt.Errorf("executions by collaborator %d: %w", collaboratorID, err)
	}
	defer rows.Close()
	return scanExecutionRows(rows)
}

// Review approves or rejects a submitted execution. Approval completes the
// task in the same transaction.
func (s *PgStore) Review(ctx context.Context, id int64, approved bool) (*Execution, error) {
	status := Rejected
	if approved {
		status = Approved
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var taskID int64
	err = tx.QueryRow(ctx, `
		UPDATE task_execution SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'submitted'
		RETURNING task_id`,
		string(status), time.Now().Truncate(time.Microsecond), id).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM task_execution WHERE id = $1)`, id).Scan(&exists); err != nil {
			return nil, fmt.Errorf("review execution %d: %w", id, err)
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrNotSubmitted
	}
	if err != nil {
		return nil, fmt.Errorf("review execution %d: %w", id, err)
	}

	if approved {
		if err := task.SetStatusTx(ctx, tx, taskID, task.Completed); err != nil {
			return nil, fmt.Errorf("complete task %d: %w", taskID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit review: %w", err)
	}
	return s.Get(ctx, id)
}

func scanExecutionRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Execution, error) {
	var execs []Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.CollaboratorID, &e.Description, &e.FilePath, &e.FileName,
			&e.Status, &e.SubmittedAt, &e.UpdatedAt,
			&e.TaskType, &e.TaskDescription, &e.CollaboratorName, &e.CollaboratorEmail,
		); err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return execs, nil
}
