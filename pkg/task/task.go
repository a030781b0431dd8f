package task

import (
	"context"
	"errors"
	"time"
)

// Status is a task's position in its lifecycle.
type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == Pending || s == InProgress || s == Completed
}

// ErrNotFound is returned when no task matches a lookup.
var ErrNotFound = errors.New("task not found")

// Task is a unit of work assigned to one collaborator.
type Task struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"` // assignee
	TaskType    string    `json:"task_type"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Assignee display fields.
	UserName  string `json:"user_name,omitempty"`
	UserEmail string `json:"user_email,omitempty"`

	// Linked execution, when one was submitted.
	ExecutionID          *int64     `json:"execution_id,omitempty"`
	ExecutionFilePath    *string    `json:"execution_file_path,omitempty"`
	ExecutionFileName    *string    `json:"execution_file_name,omitempty"`
	ExecutionStatus      *string    `json:"execution_status,omitempty"`
	ExecutionSubmittedAt *time.Time `json:"execution_submitted_at,omitempty"`
	ExecutionFileURL     string     `json:"execution_file_url,omitempty"`
}

// Store is the contract for task persistence. Reads return tasks joined
// with their assignee and execution.
type Store interface {
	// Create inserts t and returns the stored row with display fields.
	Create(ctx context.Context, t *Task) (*Task, error)

	// Get returns a task by ID.
	Get(ctx context.Context, id int64) (*Task, error)

	// List returns every task, newest first.
	List(ctx context.Context) ([]Task, error)

	// OpenByAssignee returns the assignee's tasks that are not completed,
	// newest first.
	OpenByAssignee(ctx context.Context, userID int64) ([]Task, error)

	// UpdateStatus sets a task's status. It reports false when no task
	// has that ID.
	UpdateStatus(ctx context.Context, id int64, status Status) (bool, error)

	EnsureTable(ctx context.Context) error
}
