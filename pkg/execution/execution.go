// Package execution records the work collaborators submit against their
// tasks, together with the uploaded file that backs each submission.
package execution

import (
	"context"
	"errors"
	"time"
)

// Status is the review state of an execution.
type Status string

const (
	Submitted Status = "submitted"
	Approved  Status = "approved"
	Rejected  Status = "rejected"
)

var (
	// ErrNotFound is returned when no execution matches a lookup.
	ErrNotFound = errors.New("execution not found")
	// ErrDuplicate is returned when the collaborator already submitted an
	// execution for the task.
	ErrDuplicate = errors.New("execution already submitted")
	// ErrNotSubmitted is returned when reviewing an execution that was
	// already reviewed.
	ErrNotSubmitted = errors.New("execution is not awaiting review")
)

// Execution is a collaborator's submission for a task.
type Execution struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	CollaboratorID int64     `json:"collaborator_id"`
	Description    string    `json:"description"`
	FilePath       *string   `json:"file_path"` // object key, or a full URL for old rows
	FileName       *string   `json:"file_name"` // client's original name
	Status         Status    `json:"status"`
	SubmittedAt    time.Time `json:"submitted_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// Display fields.
	TaskType          string `json:"task_type,omitempty"`
	TaskDescription   string `json:"task_description,omitempty"`
	CollaboratorName  string `json:"collaborator_name,omitempty"`
	CollaboratorEmail string `json:"collaborator_email,omitempty"`
	FileURL           string `json:"file_url,omitempty"`
}

// HasFile reports whether a file is attached.
func (e *Execution) HasFile() bool {
	return e.FilePath != nil && *e.FilePath != ""
}

// Store is the contract for execution persistence.
type Store interface {
	// Create inserts e as submitted and moves its task to in_progress in
	// the same transaction. It returns ErrDuplicate when the
	// (task, collaborator) pair already has an execution.
	Create(ctx context.Context, e *Execution) (*Execution, error)

	// Get returns an execution by ID, joined with its task and submitter.
	Get(ctx context.Context, id int64) (*Execution, error)

	// Exists reports whether the collaborator already submitted for the task.
	Exists(ctx context.Context, taskID, collaboratorID int64) (bool, error)

	// List returns all executions, newest first.
	List(ctx context.Context) ([]Execution, error)

	// ByCollaborator returns one collaborator's executions, newest first.
	ByCollaborator(ctx context.Context, collaboratorID int64) ([]Execution, error)

	// Review resolves a submitted execution; approval also completes its
	// task, atomically. It returns ErrNotSubmitted when the execution is no
	// longer awaiting review.
	Review(ctx context.Context, id int64, approved bool) (*Execution, error)

	EnsureTable(ctx context.Context) error
}
