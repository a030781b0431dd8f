package task

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is a PostgreSQL-backed task store.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a PgStore.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// EnsureTable creates the tasks table if it doesn't exist. The users
// table must exist first.
func (s *PgStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id          BIGSERIAL PRIMARY KEY,
			user_id     BIGINT NOT NULL REFERENCES users(id),
			task_type   TEXT NOT NULL,
			description TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'pending'
			            CHECK (status IN ('pending', 'in_progress', 'completed')),
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at DESC)`)
	return err
}

// selectJoined reads a task with its assignee and, when present, its
// execution. There is at most one execution per task and assignee.
const selectJoined = `
	SELECT t.id, t.user_id, t.task_type, t.description, t.status, t.created_at, t.updated_at,
	       u.name, u.email,
	       e.id, e.file_path, e.file_name, e.status, e.submitted_at
	FROM tasks t
	JOIN users u ON u.id = t.user_id
	LEFT JOIN task_execution e ON e.task_id = t.id AND e.collaborator_id = t.user_id`

// Create inserts a new task.
func (s *PgStore) Create(ctx context.Context, t *Task) (*Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	if t.Status == "" {
		t.Status = Pending
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tasks (user_id, task_type, description, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`,
		t.UserID, t.TaskType, t.Description, string(t.Status), now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	created, err := s.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload task %d: %w", id, err)
	}
	return created, nil
}

// Get retrieves a single task by ID.
func (s *PgStore) Get(ctx context.Context, id int64) (*Task, error) {
	rows, err := s.pool.Query(ctx, selectJoined+` WHERE t.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	defer rows.Close()
	tasks, err := scanTaskRows(rows)
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	if len(tasks) == 0 {
		return nil, ErrNotFound
	}
	return &tasks[0], nil
}

// List returns all tasks, most recent first.
func (s *PgStore) List(ctx context.Context) ([]Task, error) {
	rows, err := s.pool.Query(ctx, selectJoined+` ORDER BY t.created_at DESC, t.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// OpenByAssignee returns the user's tasks that are not completed.
func (s *PgStore) OpenByAssignee(ctx context.Context, userID int64) ([]Task, error) {
	rows, err := s.pool.Query(ctx, selectJoined+`
		WHERE t.user_id = $1 AND t.status <> 'completed'
		ORDER BY t.created_at DESC, t.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("tasks for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanTaskRows(rows)
}

// UpdateStatus sets the status of a task.
func (s *PgStore) UpdateStatus(ctx context.Context, id int64, status Status) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().Truncate(time.Microsecond), id)
	if err != nil {
		return false, fmt.Errorf("update task %d status: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStatusTx sets a task's status inside tx. It lets the execution store
// move the task in the same transaction that records a submission.
func SetStatusTx(ctx context.Context, tx pgx.Tx, id int64, status Status) error {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now() WHERE id = $2`,
		string(status), id)
	if err != nil {
		return fmt.Errorf("update task %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTaskRows(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		var t Task
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.TaskType, &t.Description, &t.Status, &t.CreatedAt, &t.UpdatedAt,
			&t.UserName, &t.UserEmail,
			&t.ExecutionID, &t.ExecutionFilePath, &t.ExecutionFileName, &t.ExecutionStatus, &t.ExecutionSubmittedAt,
		); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration: %w", err)
	}
	return tasks, nil
}
