package execution

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"taskflow/pkg/audit"
	"taskflow/pkg/fault"
	"taskflow/pkg/gate"
	"taskflow/pkg/objectstore"
	"taskflow/pkg/session"
	"taskflow/pkg/task"
	"taskflow/pkg/user"
)

// Files is the blob storage the registry needs. *objectstore.Bucket
// implements it.
type Files interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Download(ctx context.Context, ref objectstore.Ref) (*objectstore.Object, error)
	Remove(ctx context.Context, key string) error
	Link(ctx context.Context, ref objectstore.Ref) (string, error)
}

// Upload is a file attached to a submission.
type Upload struct {
	Name string
	Size int64
	Body io.Reader
}

// Registry implements the execution operations.
type Registry struct {
	execs  Store
	tasks  task.Store
	files  Files
	audit  audit.Recorder
	logger log.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(execs Store, tasks task.Store, files Files, rec audit.Recorder, logger log.Logger) *Registry {
	if rec == nil {
		rec = audit.Discard
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		execs:  execs,
		tasks:  tasks,
		files:  files,
		audit:  rec,
		logger: logger,
	}
}

// SubmitExecution records the caller's work on one of their tasks. The
// file, when given, is validated and uploaded before anything is written
// to the database; the execution insert and the task's move to
// in_progress share one transaction.
func (r *Registry) SubmitExecution(ctx context.Context, actor *session.Session, taskID int64, description string, file *Upload) (*Execution, error) {
	if err := gate.RequireRole(actor, user.Collaborator); err != nil {
		return nil, err
	}
	description = strings.TrimSpace(description)
	if taskID <= 0 || description == "" {
		return nil, fault.New(fault.Validation, "Task ID and description are required")
	}

	t, err := r.tasks.Get(ctx, taskID)
	if errors.Is(err, task.ErrNotFound) {
		return nil, fault.New(fault.NotFound, "Task not found")
	}
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "load task", err)
	}
	if t.UserID != actor.UserID {
		return nil, fault.New(fault.Forbidden, "You can only submit executions for your own tasks")
	}

	exists, err := r.execs.Exists(ctx, taskID, actor.UserID)
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "check existing execution", err)
	}
	if exists {
		return nil, alreadySubmitted()
	}

	e := &Execution{
		TaskID:         taskID,
		CollaboratorID: actor.UserID,
		Description:    description,
		Status:         Submitted,
	}

	var key string
	if file != nil {
		key, err = r.store(ctx, file)
		if err != nil {
			return nil, err
		}
		name := baseName(file.Name)
		e.FilePath = &key
		e.FileName = &name
	}

	created, err := r.execs.Create(ctx, e)
	if err != nil {
		if key != "" {
			r.discard(ctx, key)
		}
		switch {
		case errors.Is(err, ErrDuplicate):
			return nil, alreadySubmitted()
		case errors.Is(err, task.ErrNotFound):
			return nil, fault.New(fault.NotFound, "Task not found")
		}
		return nil, fault.Wrap(fault.Persistence, "create execution", err)
	}

	r.record(ctx, audit.ExecutionSubmitted, actor.UserID, map[string]any{
		"execution_id": created.ID,
		"task_id":      taskID,
		"has_file":     key != "",
	})
	r.attachLink(ctx, created)
	return created, nil
}

func alreadySubmitted() error {
	return fault.New(fault.Conflict, "Task execution already submitted")
}

// store validates and uploads file, returning its object key.
func (r *Registry) store(ctx context.Context, file *Upload) (string, error) {
	head := make([]byte, SniffLen)
	n, err := io.ReadFull(file.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", fault.Wrap(fault.Validation, "Unable to read uploaded file", err)
	}
	head = head[:n]

	meta, err := ValidateFile(file.Name, file.Size, head)
	if err != nil {
		return "", err
	}
	key := ObjectKey(meta)
	body := io.MultiReader(bytes.NewReader(head), file.Body)
	if err := r.files.Upload(ctx, key, body, file.Size, meta.ContentType); err != nil {
		level.Error(r.logger).Log("msg", "upload failed", "key", key, "err", err)
		return "", err
	}
	return key, nil
}

func (r *Registry) discard(ctx context.Context, key string) {
	if err := r.files.Remove(context.WithoutCancel(ctx), key); err != nil {
		level.Warn(r.logger).Log("msg", "orphan cleanup failed", "key", key, "err", err)
	}
}

// ListExecutions returns the caller's executions, or every execution for
// an administrator.
func (r *Registry) ListExecutions(ctx context.Context, actor *session.Session) ([]Execution, error) {
	if err := gate.RequireAnyRole(actor, user.Administrator, user.Collaborator); err != nil {
		return nil, err
	}
	var (
		execs []Execution
		err   error
	)
	if actor.Role == user.Collaborator {
		execs, err = r.execs.ByCollaborator(ctx, actor.UserID)
	} else {
		execs, err = r.execs.List(ctx)
	}
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "list executions", err)
	}
	if execs == nil {
		execs = []Execution{}
	}
	return execs, nil
}

// GetExecution returns one execution. Collaborators may only read their own.
func (r *Registry) GetExecution(ctx context.Context, actor *session.Session, id int64) (*Execution, error) {
	if err := gate.RequireAuthenticated(actor); err != nil {
		return nil, err
	}
	e, err := r.load(ctx, id, "Execution not found")
	if err != nil {
		return nil, err
	}
	if err := gate.RequireOwnerOrAdmin(actor, e.CollaboratorID, "You can only view your own executions"); err != nil {
		return nil, err
	}
	r.attachLink(ctx, e)
	return e, nil
}

// DownloadFile opens the file attached to an execution and returns it with
// the name to present to the client. The caller must close the body.
func (r *Registry) DownloadFile(ctx context.Context, actor *session.Session, id int64) (*objectstore.Object, string, error) {
	if err := gate.RequireAuthenticated(actor); err != nil {
		return nil, "", err
	}
	e, err := r.load(ctx, id, "File not found")
	if err != nil {
		return nil, "", err
	}
	if err := gate.RequireOwnerOrAdmin(actor, e.CollaboratorID, "You can only download your own files"); err != nil {
		return nil, "", err
	}
	ref, ok := fileRef(e)
	if !ok {
		return nil, "", fault.New(fault.NotFound, "File not found")
	}

	obj, err := r.files.Download(ctx, ref)
	if err != nil {
		if fault.KindOf(err) != fault.NotFound {
			level.Error(r.logger).Log("msg", "download failed", "execution", id, "err", err)
		}
		return nil, "", err
	}
	if obj.ContentType == "" {
		obj.ContentType = "application/octet-stream"
	}
	return obj, downloadName(e), nil
}

// ReviewExecution approves or rejects a submitted execution. Approval
// completes the parent task in the same store write.
func (r *Registry) ReviewExecution(ctx context.Context, actor *session.Session, id int64, approved bool) (*Execution, error) {
	if err := gate.RequireRole(actor, user.Administrator); err != nil {
		return nil, err
	}
	e, err := r.execs.Review(ctx, id, approved)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, fault.New(fault.NotFound, "Execution not found")
	case errors.Is(err, ErrNotSubmitted):
		return nil, fault.New(fault.Conflict, "Execution has already been reviewed")
	case err != nil:
		return nil, fault.Wrap(fault.Persistence, "review execution", err)
	}

	if approved {
		r.record(ctx, audit.TaskStatusChanged, actor.UserID, map[string]any{
			"task_id": e.TaskID,
			"status":  string(task.Completed),
		})
	}
	r.record(ctx, audit.ExecutionReviewed, actor.UserID, map[string]any{
		"execution_id": e.ID,
		"task_id":      e.TaskID,
		"status":       string(e.Status),
	})
	r.attachLink(ctx, e)
	return e, nil
}

func (r *Registry) load(ctx context.Context, id int64, notFound string) (*Execution, error) {
	e, err := r.execs.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fault.New(fault.NotFound, notFound)
	}
	if err != nil {
		return nil, fault.Wrap(fault.Persistence, "get execution", err)
	}
	return e, nil
}

func (r *Registry) attachLink(ctx context.Context, e *Execution) {
	ref, ok := fileRef(e)
	if !ok {
		return
	}
	link, err := r.files.Link(ctx, ref)
	if err != nil {
		level.Warn(r.logger).Log("msg", "presign failed", "execution", e.ID, "err", err)
		return
	}
	e.FileURL = link
}

func (r *Registry) record(ctx context.Context, eventType string, actorID int64, content map[string]any) {
	if _, err := r.audit.Append(ctx, eventType, actorID, content); err != nil {
		level.Warn(r.logger).Log("msg", "audit append failed", "type", eventType, "err", err)
	}
}

func fileRef(e *Execution) (objectstore.Ref, bool) {
	if !e.HasFile() {
		return objectstore.Ref{}, false
	}
	var name string
	if e.FileName != nil {
		name = *e.FileName
	}
	return objectstore.ParseRef(*e.FilePath, name)
}

func downloadName(e *Execution) string {
	if e.FileName != nil && *e.FileName != "" {
		return *e.FileName
	}
	return path.Base(*e.FilePath)
}
