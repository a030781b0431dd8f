package api

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"taskflow/pkg/audit"
	"taskflow/pkg/execution"
	"taskflow/pkg/objectstore"
	"taskflow/pkg/task"
	"taskflow/pkg/user"
)

// memDB backs the user, task and execution stores with shared maps so the
// joins the SQL stores perform can be reproduced.
type memDB struct {
	mu       sync.Mutex
	users    map[int64]*user.User
	tasks    map[int64]*task.Task
	execs    map[int64]*execution.Execution
	nextTask int64
	nextExec int64
	clock    time.Time
}

func newMemDB() *memDB {
	return &memDB{
		users: map[int64]*user.User{},
		tasks: map[int64]*task.Task{},
		execs: map[int64]*execution.Execution{},
		clock: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (db *memDB) tick() time.Time {
	db.clock = db.clock.Add(time.Second)
	return db.clock
}

// --- user.Store ---

type memUsers struct{ db *memDB }

func (s memUsers) Get(_ context.Context, id int64) (*user.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	u, ok := s.db.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (s memUsers) ByEmail(_ context.Context, email string) (*user.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, u := range s.db.users {
		if strings.EqualFold(u.Email, email) {
			c := *u
			return &c, nil
		}
	}
	return nil, user.ErrNotFound
}

func (s memUsers) ByRole(_ context.Context, role user.Role) ([]user.User, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []user.User
	for _, u := range s.db.users {
		if u.Role == role {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s memUsers) EnsureTable(context.Context) error { return nil }

// --- task.Store ---

type memTasks struct{ db *memDB }

func (s memTasks) joined(t *task.Task) task.Task {
	c := *t
	if u, ok := s.db.users[t.UserID]; ok {
		c.UserName, c.UserEmail = u.Name, u.Email
	}
	for _, e := range s.db.execs {
		if e.TaskID == t.ID && e.CollaboratorID == t.UserID {
			id, status, at := e.ID, string(e.Status), e.SubmittedAt
			c.ExecutionID, c.ExecutionStatus, c.ExecutionSubmittedAt = &id, &status, &at
			c.ExecutionFilePath, c.ExecutionFileName = e.FilePath, e.FileName
		}
	}
	return c
}

func (s memTasks) Create(_ context.Context, t *task.Task) (*task.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.nextTask++
	now := s.db.tick()
	c := *t
	c.ID, c.CreatedAt, c.UpdatedAt = s.db.nextTask, now, now
	s.db.tasks[c.ID] = &c
	out := s.joined(&c)
	return &out, nil
}

func (s memTasks) Get(_ context.Context, id int64) (*task.Task, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tasks[id]
	if !ok {
		return nil, task.ErrNotFound
	}
	out := s.joined(t)
	return &out, nil
}

func (s memTasks) filter(keep func(*task.Task) bool) []task.Task {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []task.Task
	for _, t := range s.db.tasks {
		if keep(t) {
			out = append(out, s.joined(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s memTasks) List(context.Context) ([]task.Task, error) {
	return s.filter(func(*task.Task) bool { return true }), nil
}

func (s memTasks) OpenByAssignee(_ context.Context, userID int64) ([]task.Task, error) {
	return s.filter(func(t *task.Task) bool { return t.UserID == userID && t.Status != task.Completed }), nil
}

func (s memTasks) UpdateStatus(_ context.Context, id int64, status task.Status) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	t, ok := s.db.tasks[id]
	if !ok {
		return false, nil
	}
	t.Status, t.UpdatedAt = status, s.db.tick()
	return true, nil
}

func (s memTasks) EnsureTable(context.Context) error { return nil }

// --- execution.Store ---

type memExecs struct{ db *memDB }

func (s memExecs) joined(e *execution.Execution) execution.Execution {
	c := *e
	if t, ok := s.db.tasks[e.TaskID]; ok {
		c.TaskType, c.TaskDescription = t.TaskType, t.Description
	}
	if u, ok := s.db.users[e.CollaboratorID]; ok {
		c.CollaboratorName, c.CollaboratorEmail = u.Name, u.Email
	}
	return c
}

func (s memExecs) Create(_ context.Context, e *execution.Execution) (*execution.Execution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, x := range s.db.execs {
		if x.TaskID == e.TaskID && x.CollaboratorID == e.CollaboratorID {
			return nil, execution.ErrDuplicate
		}
	}
	t, ok := s.db.tasks[e.TaskID]
	if !ok {
		return nil, task.ErrNotFound
	}
	s.db.nextExec++
	now := s.db.tick()
	c := *e
	c.ID, c.Status, c.SubmittedAt, c.UpdatedAt = s.db.nextExec, execution.Submitted, now, now
	s.db.execs[c.ID] = &c
	t.Status, t.UpdatedAt = task.InProgress, now
	out := s.joined(&c)
	return &out, nil
}

func (s memExecs) Get(_ context.Context, id int64) (*execution.Execution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.execs[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	out := s.joined(e)
	return &out, nil
}

func (s memExecs) Exists(_ context.Context, taskID, collaboratorID int64) (bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, x := range s.db.execs {
		if x.TaskID == taskID && x.CollaboratorID == collaboratorID {
			return true, nil
		}
	}
	return false, nil
}

func (s memExecs) filter(keep func(*execution.Execution) bool) []execution.Execution {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []execution.Execution
	for _, e := range s.db.execs {
		if keep(e) {
			out = append(out, s.joined(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

func (s memExecs) List(context.Context) ([]execution.Execution, error) {
	return s.filter(func(*execution.Execution) bool { return true }), nil
}

func (s memExecs) ByCollaborator(_ context.Context, id int64) ([]execution.Execution, error) {
	return s.filter(func(e *execution.Execution) bool { return e.CollaboratorID == id }), nil
}

func (s memExecs) Review(_ context.Context, id int64, approved bool) (*execution.Execution, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	e, ok := s.db.execs[id]
	if !ok {
		return nil, execution.ErrNotFound
	}
	if e.Status != execution.Submitted {
		return nil, execution.ErrNotSubmitted
	}
	e.Status = execution.Rejected
	if approved {
		e.Status = execution.Approved
		if t, ok := s.db.tasks[e.TaskID]; ok {
			t.Status, t.UpdatedAt = task.Completed, s.db.tick()
		}
	}
	e.UpdatedAt = s.db.tick()
	out := s.joined(e)
	return &out, nil
}

func (s memExecs) EnsureTable(context.Context) error { return nil }

// --- audit.Store ---

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAudit) Append(_ context.Context, eventType string, actorID int64, content map[string]any) (*audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e := audit.Event{Type: eventType, ActorID: actorID, Content: content, Timestamp: time.Now()}
	a.events = append(a.events, e)
	return &e, nil
}

func (a *memAudit) Recent(_ context.Context, limit int) ([]audit.Event, error) {
	return a.ByType(context.Background(), "", limit)
}

func (a *memAudit) ByType(_ context.Context, eventType string, limit int) ([]audit.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Event
	for i := len(a.events) - 1; i >= 0 && len(out) < limit; i-- {
		if eventType == "" || a.events[i].Type == eventType {
			out = append(out, a.events[i])
		}
	}
	return out, nil
}

func (a *memAudit) VerifyChain(context.Context) error { return nil }

func (a *memAudit) EnsureTable(context.Context) error { return nil }

// --- objectstore.Gateway ---

type memGateway struct {
	mu      sync.Mutex
	bucket  bool
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemGateway() *memGateway {
	return &memGateway{objects: map[string][]byte{}, types: map[string]string{}}
}

func (g *memGateway) BucketExists(context.Context, string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bucket, nil
}

func (g *memGateway) MakeBucket(context.Context, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bucket = true
	return nil
}

func (g *memGateway) PutObject(_ context.Context, _, key string, r io.Reader, _ int64, contentType string) error {
	if g.putErr != nil {
		return g.putErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key], g.types[key] = data, contentType
	return nil
}

func (g *memGateway) GetObject(_ context.Context, _, key string) (*objectstore.Object, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[key]
	if !ok {
		return nil, objectstore.ErrNotFound
	}
	return &objectstore.Object{Body: io.NopCloser(bytes.NewReader(data)), ContentType: g.types[key], Size: int64(len(data))}, nil
}

func (g *memGateway) RemoveObject(_ context.Context, _, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, key)
	return nil
}

func (g *memGateway) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "http://files.test/" + bucket + "/" + key + "?X-Amz-Signature=abc", nil
}
