package task

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"taskflow/pkg/audit"
	"taskflow/pkg/fault"
	"taskflow/pkg/gate"
	"taskflow/pkg/objectstore"
	"taskflow/pkg/session"
	"taskflow/pkg/user"
)

const (
	minTaskTypeLen    = 3
	minDescriptionLen = 10
)

// Linker builds a time-limited download link for a stored file.
type Linker interface {
	Link(ctx context.Context, ref objectstore.Ref) (string, error)
}

// Registry implements the task operations. Each operation checks the
// caller's session before touching the store.
type Registry struct {
	tasks  Store
	users  user.Store
	links  Linker
	policy gate.TaskReadPolicy
	audit  audit.Recorder
	logger log.Logger
}

// NewRegistry creates a Registry. links may be nil, in which case no file
// URLs are attached.
func NewRegistry(tasks Store, users user.Store, links Linker, policy gate.TaskReadPolicy, rec audit.Recorder, logger log.Logger) *Registry {
	if rec == nil {
		rec = audit.Discard
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if policy == "" {
		policy = gate.TaskReadOpen
	}
	return &Registry{
		tasks:  tasks,
		users:  users,
		links:  links,
		policy: policy,
		audit:  rec,
		logger: logger,
	}
}

// CreateTask assigns a new pending task to a collaborator. The assignee is
// checked before the other fields.
func (r *Registry) CreateTask(ctx context.Context, actor *session.Session, assigneeID int64, taskType, description string) (*Task, error) {
	if err := gate.RequireRole(actor, user.Administrator); err != nil {
		return nil, err
	}

	if assigneeID <= 0 {
		return nil, fault.New(fault.InvalidAssignee, "User not found")
	}
	assignee, err := r.users.Get(ctx, assigneeID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, fault.New(fault.InvalidAssignee, "User not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "load assignee", err)
	}
	if assignee.Role != user.Collaborator {
		return nil, fault.New(fault.InvalidAssignee, "Tasks can only be assigned to collaborators")
	}

	taskType = strings.TrimSpace(taskType)
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(taskType) < minTaskTypeLen {
		return nil, fault.New(fault.Validation, "Task type must be at least 3 characters")
	}
	if utf8.RuneCountInString(description) < minDescriptionLen {
		return nil, fault.New(fault.Validation, "Description must be at least 10 characters")
	}

	t, err := r.tasks.Create(ctx, &Task{
		UserID:      assignee.ID,
		TaskType:    taskType,
		Description: description,
		Status:      Pending,
	})
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "create task", err)
	}
	r.record(ctx, audit.TaskCreated, actor.UserID, map[string]any{
		"task_id":  t.ID,
		"assignee": assignee.ID,
		"type":     t.TaskType,
	})
	return t, nil
}

// ListTasks returns every task for an administrator.
func (r *Registry) ListTasks(ctx context.Context, actor *session.Session) ([]Task, error) {
	if err := gate.RequireRole(actor, user.Administrator); err != nil {
		return nil, err
	}
	tasks, err := r.tasks.List(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "list tasks", err)
	}
	for i := range tasks {
		r.attachLink(ctx, &tasks[i])
	}
	return nonNil(tasks), nil
}

// GetTask returns one task, subject to the configured read policy.
func (r *Registry) GetTask(ctx context.Context, actor *session.Session, id int64) (*Task, error) {
	if err := gate.RequireAuthenticated(actor); err != nil {
		return nil, err
	}
	t, err := r.tasks.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.New(fault.NotFound, "Task not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "get task", err)
	}
	if err := r.policy.AllowTaskRead(actor, t.UserID); err != nil {
		return nil, err
	}
	r.attachLink(ctx, t)
	return t, nil
}

// ListCollaborators returns the users tasks can be assigned to.
func (r *Registry) ListCollaborators(ctx context.Context, actor *session.Session) ([]user.Summary, error) {
	if err := gate.RequireRole(actor, user.Administrator); err != nil {
		return nil, err
	}
	users, err := r.users.ByRole(ctx, user.Collaborator)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "list collaborators", err)
	}
	out := make([]user.Summary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return out, nil
}

// ListMyTasks returns the caller's tasks that are not yet completed.
func (r *Registry) ListMyTasks(ctx context.Context, actor *session.Session) ([]Task, error) {
	if err := gate.RequireRole(actor, user.Collaborator); err != nil {
		return nil, err
	}
	tasks, err := r.tasks.OpenByAssignee(ctx, actor.UserID)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "list my tasks", err)
	}
	return nonNil(tasks), nil
}

// UpdateTaskStatus moves a task to status. It is not gated: callers are
// operator tooling acting outside the API.
func (r *Registry) UpdateTaskStatus(ctx context.Context, id int64, status Status) (bool, error) {
	if !status.Valid() {
		return false, fault.New(fault.Validation, "Invalid task status")
	}
	ok, err := r.tasks.UpdateStatus(ctx, id, status)
	if err != nil {
		return false, fault.Wrap(fault.Persistence, "update task status", err)
	}
	if ok {
		r.record(ctx, audit.TaskStatusChanged, 0, map[string]any{"task_id": id, "status": string(status)})
	}
	return ok, nil
}

func (r *Registry) attachLink(ctx context.Context, t *Task) {
	if r.links == nil || t.ExecutionFilePath == nil {
		return
	}
	var name string
	if t.ExecutionFileName != nil {
		name = *t.ExecutionFileName
	}
	ref, ok := objectstore.ParseRef(*t.ExecutionFilePath, name)
	if !ok {
		return
	}
	link, err := r.links.Link(ctx, ref)
	if err != nil {
		level.Warn(r.logger).Log("msg", "presign failed", "task", t.ID, "err", err)
		return
	}
	t.ExecutionFileURL = link
}

func (r *Registry) record(ctx context.Context, eventType string, actorID int64, content map[string]any) {
	if _, err := r.audit.Append(ctx, eventType, actorID, content); err != nil {
		level.Warn(r.logger).Log("msg", "audit append failed", "type", eventType, "err", err)
	}
}

func nonNil(tasks []Task) []Task {
	if tasks == nil {
		return []Task{}
	}
	return tasks
}
