package engine

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskbox/internal/domain"
	"taskbox/internal/store"
)

// Engine owns every operation on the todo tree. All reads and mutations go
// through the store's lock; mutations persist the whole document before
// returning.
type Engine struct {
	Store *store.Store
	Log   *logrus.Logger
	Now   func() time.Time
}

func New(s *store.Store, log *logrus.Logger) Engine {
	if log == nil {
		log = logrus.New()
	}
	return Engine{
		Store: s,
		Log:   log,
		Now:   time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// audit records one structured log line per mutation.
func (e Engine) audit(event string, fields logrus.Fields) {
	e.Log.WithFields(fields).Info(event)
}

// Apps

func (e Engine) ListApps(ctx context.Context) ([]domain.App, error) {
	var res []domain.App
	err := e.Store.View(func(root *domain.Root) error {
		res = make([]domain.App, 0, len(root.Apps))
		for i := range root.Apps {
			res = append(res, cloneApp(root.Apps[i]))
		}
		return nil
	})
	return res, err
}

func (e Engine) CreateApp(ctx context.Context, name string) (domain.App, error) {
	var created domain.App
	err := e.Store.Update(func(root *domain.Root) error {
		created = domain.App{
			ID:        domain.NextAppID(root),
			Name:      name,
			CreatedAt: e.timestamp(),
			Todos:     []domain.Todo{},
		}
		root.Apps = append(root.Apps, created)
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	e.audit("app.create", logrus.Fields{"app_id": created.ID, "name": created.Name})
	return cloneApp(created), nil
}

func (e Engine) RenameApp(ctx context.Context, id int, name string) (domain.App, error) {
	var renamed domain.App
	err := e.Store.Update(func(root *domain.Root) error {
		app := domain.FindApp(root, id)
		if app == nil {
			return ErrAppNotFound
		}
		app.Name = name
		renamed = cloneApp(*app)
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	e.audit("app.rename", logrus.Fields{"app_id": id, "name": name})
	return renamed, nil
}

// ExportApp returns a single app verbatim.
func (e Engine) ExportApp(ctx context.Context, id int) (domain.App, error) {
	var exported domain.App
	err := e.Store.View(func(root *domain.Root) error {
		app := domain.FindApp(root, id)
		if app == nil {
			return ErrAppNotFound
		}
		exported = cloneApp(*app)
		return nil
	})
	return exported, err
}

// ImportApp appends a full app payload, overwriting its id and every
// contained todo's id with freshly assigned ones. Client-supplied ids are
// ignored. Tasks have no id, so task lists are carried verbatim.
func (e Engine) ImportApp(ctx context.Context, payload domain.App) (domain.App, error) {
	var imported domain.App
	err := e.Store.Update(func(root *domain.Root) error {
		payload.ID = domain.NextAppID(root)
		if payload.CreatedAt == "" {
			payload.CreatedAt = e.timestamp()
		}
		if payload.Todos == nil {
			payload.Todos = []domain.Todo{}
		}
		for i := range payload.Todos {
			payload.Todos[i].ID = i + 1
			if payload.Todos[i].Tasks == nil {
				payload.Todos[i].Tasks = []domain.Task{}
			}
		}
		root.Apps = append(root.Apps, payload)
		imported = cloneApp(payload)
		return nil
	})
	if err != nil {
		return domain.App{}, err
	}
	e.audit("app.import", logrus.Fields{"app_id": imported.ID, "todos": len(imported.Todos)})
	return imported, nil
}

// Todos

// TodoQuery is the body-driven todo listing. A nil Archived means only
// non-archived todos are considered; Completed applies only when set; Query
// is a case-insensitive substring match on the name.
type TodoQuery struct {
	Query     string
	Archived  *bool
	Completed *bool
}

func (q TodoQuery) match(t domain.Todo) bool {
	wantArchived := false
	if q.Archived != nil {
		wantArchived = *q.Archived
	}
	if t.IsArchived != wantArchived {
		return false
	}
	if q.Completed != nil && t.IsCompleted != *q.Completed {
		return false
	}
	if q.Query != "" && !strings.Contains(strings.ToLower(t.Name), strings.ToLower(q.Query)) {
		return false
	}
	return true
}

// ListTodos is the legacy no-filter listing: non-archived todos only.
func (e Engine) ListTodos(ctx context.Context, appID int) ([]domain.Todo, error) {
	return e.QueryTodos(ctx, appID, TodoQuery{})
}

func (e Engine) QueryTodos(ctx context.Context, appID int, q TodoQuery) ([]domain.Todo, error) {
	var res []domain.Todo
	err := e.Store.View(func(root *domain.Root) error {
		app := domain.FindApp(root, appID)
		if app == nil {
			return ErrAppNotFound
		}
		res = collectTodos(app, q.match)
		return nil
	})
	return res, err
}

// SearchTodos is the query-string variant: status and completed arrive as raw
// strings ("archived" selects archived, completed compares against "true")
// and q must be non-empty.
func (e Engine) SearchTodos(ctx context.Context, appID int, q, status, completed string) ([]domain.Todo, error) {
	if q == "" {
		return nil, ErrEmptyQuery
	}
	needle := strings.ToLower(q)
	wantArchived := status == "archived"
	wantCompleted := completed == "true"
	var res []domain.Todo
	err := e.Store.View(func(root *domain.Root) error {
		app := domain.FindApp(root, appID)
		if app == nil {
			return ErrAppNotFound
		}
		res = collectTodos(app, func(t domain.Todo) bool {
			return t.IsArchived == wantArchived &&
				t.IsCompleted == wantCompleted &&
				strings.Contains(strings.ToLower(t.Name), needle)
		})
		return nil
	})
	return res, err
}

// FilterTodos is SearchTodos without the substring requirement.
func (e Engine) FilterTodos(ctx context.Context, appID int, status, completed string) ([]domain.Todo, error) {
	wantArchived := status == "archived"
	wantCompleted := completed == "true"
	var res []domain.Todo
	err := e.Store.View(func(root *domain.Root) error {
		app := domain.FindApp(root, appID)
		if app == nil {
			return ErrAppNotFound
		}
		res = collectTodos(app, func(t domain.Todo) bool {
			return t.IsArchived == wantArchived && t.IsCompleted == wantCompleted
		})
		return nil
	})
	return res, err
}

func (e Engine) CreateTodo(ctx context.Context, appID int, name string) (domain.Todo, error) {
	var created domain.Todo
	err := e.Store.Update(func(root *domain.Root) error {
		app := domain.FindApp(root, appID)
		if app == nil {
			return ErrAppNotFound
		}
		created = domain.Todo{
			ID:        domain.NextTodoID(app),
			Name:      name,
			CreatedAt: e.timestamp(),
			Tasks:     []domain.Task{},
		}
		app.Todos = append(app.Todos, created)
		return nil
	})
	if err != nil {
		return domain.Todo{}, err
	}
	e.audit("todo.create", logrus.Fields{"app_id": appID, "todo_id": created.ID, "name": created.Name})
	return cloneTodo(created), nil
}

// TodoUpdate is a shallow merge: supplied fields win, omitted fields are
// preserved.
type TodoUpdate struct {
	Name        *string
	IsCompleted *bool
	IsArchived  *bool
	Tasks       *[]domain.Task
}

func (e Engine) UpdateTodo(ctx context.Context, appID, todoID int, upd TodoUpdate) (domain.Todo, error) {
	var updated domain.Todo
	err := e.Store.Update(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		if upd.Name != nil {
			todo.Name = *upd.Name
		}
		if upd.IsCompleted != nil {
			e.setCompleted(todo, *upd.IsCompleted)
		}
		if upd.IsArchived != nil {
			todo.IsArchived = *upd.IsArchived
		}
		if upd.Tasks != nil {
			todo.Tasks = append([]domain.Task{}, (*upd.Tasks)...)
		}
		updated = cloneTodo(*todo)
		return nil
	})
	if err != nil {
		return domain.Todo{}, err
	}
	e.audit("todo.update", logrus.Fields{"app_id": appID, "todo_id": todoID})
	return updated, nil
}

// ArchiveTodo soft-deletes: the todo stays in the list with isArchived set.
// Its id is never reused.
func (e Engine) ArchiveTodo(ctx context.Context, appID, todoID int) error {
	err := e.Store.Update(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		todo.IsArchived = true
		return nil
	})
	if err != nil {
		return err
	}
	e.audit("todo.archive", logrus.Fields{"app_id": appID, "todo_id": todoID})
	return nil
}

// ToggleTodo flips completion in place and stamps or clears completedAt.
func (e Engine) ToggleTodo(ctx context.Context, appID, todoID int) (domain.Todo, error) {
	var toggled domain.Todo
	err := e.Store.Update(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		e.setCompleted(todo, !todo.IsCompleted)
		toggled = cloneTodo(*todo)
		return nil
	})
	if err != nil {
		return domain.Todo{}, err
	}
	e.audit("todo.toggle", logrus.Fields{"app_id": appID, "todo_id": todoID, "completed": toggled.IsCompleted})
	return toggled, nil
}

// setCompleted keeps the completedAt invariant: present iff completed.
func (e Engine) setCompleted(todo *domain.Todo, completed bool) {
	todo.IsCompleted = completed
	if completed {
		ts := e.timestamp()
		todo.CompletedAt = &ts
	} else {
		todo.CompletedAt = nil
	}
}

// Tasks

func (e Engine) AddTask(ctx context.Context, appID, todoID int, text string) (domain.Task, error) {
	created := domain.Task{Text: text}
	err := e.Store.Update(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		todo.Tasks = append(todo.Tasks, created)
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.audit("task.add", logrus.Fields{"app_id": appID, "todo_id": todoID})
	return created, nil
}

func (e Engine) ListTasks(ctx context.Context, appID, todoID int) ([]domain.Task, error) {
	var res []domain.Task
	err := e.Store.View(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		res = append([]domain.Task{}, todo.Tasks...)
		return nil
	})
	return res, err
}

// TaskUpdate merges like TodoUpdate. Tasks have no timestamps to maintain.
type TaskUpdate struct {
	Text        *string
	IsCompleted *bool
}

func (e Engine) UpdateTask(ctx context.Context, appID, todoID, index int, upd TaskUpdate) (domain.Task, error) {
	var updated domain.Task
	err := e.Store.Update(func(root *domain.Root) error {
		task, err := resolveTask(root, appID, todoID, index)
		if err != nil {
			return err
		}
		if upd.Text != nil {
			task.Text = *upd.Text
		}
		if upd.IsCompleted != nil {
			task.IsCompleted = *upd.IsCompleted
		}
		updated = *task
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.audit("task.update", logrus.Fields{"app_id": appID, "todo_id": todoID, "index": index})
	return updated, nil
}

func (e Engine) ToggleTask(ctx context.Context, appID, todoID, index int) (domain.Task, error) {
	var toggled domain.Task
	err := e.Store.Update(func(root *domain.Root) error {
		task, err := resolveTask(root, appID, todoID, index)
		if err != nil {
			return err
		}
		task.IsCompleted = !task.IsCompleted
		toggled = *task
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.audit("task.toggle", logrus.Fields{"app_id": appID, "todo_id": todoID, "index": index})
	return toggled, nil
}

// RemoveTask deletes the task at index; later tasks shift down one position.
func (e Engine) RemoveTask(ctx context.Context, appID, todoID, index int) error {
	err := e.Store.Update(func(root *domain.Root) error {
		todo, err := resolveTodo(root, appID, todoID)
		if err != nil {
			return err
		}
		if index < 0 || index >= len(todo.Tasks) {
			return ErrTaskNotFound
		}
		todo.Tasks = append(todo.Tasks[:index], todo.Tasks[index+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	e.audit("task.remove", logrus.Fields{"app_id": appID, "todo_id": todoID, "index": index})
	return nil
}

// Resolution helpers

func resolveTodo(root *domain.Root, appID, todoID int) (*domain.Todo, error) {
	app := domain.FindApp(root, appID)
	if app == nil {
		return nil, ErrAppNotFound
	}
	todo := domain.FindTodo(app, todoID)
	if todo == nil {
		return nil, ErrTodoNotFound
	}
	return todo, nil
}

func resolveTask(root *domain.Root, appID, todoID, index int) (*domain.Task, error) {
	todo, err := resolveTodo(root, appID, todoID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(todo.Tasks) {
		return nil, ErrTaskNotFound
	}
	return &todo.Tasks[index], nil
}

func collectTodos(app *domain.App, include func(domain.Todo) bool) []domain.Todo {
	res := make([]domain.Todo, 0, len(app.Todos))
	for _, t := range app.Todos {
		if include(t) {
			res = append(res, cloneTodo(t))
		}
	}
	return res
}

// Copy helpers so callers never hold pointers into the live tree.

func cloneApp(a domain.App) domain.App {
	out := a
	out.Todos = make([]domain.Todo, 0, len(a.Todos))
	for _, t := range a.Todos {
		out.Todos = append(out.Todos, cloneTodo(t))
	}
	return out
}

func cloneTodo(t domain.Todo) domain.Todo {
	out := t
	out.Tasks = append([]domain.Task{}, t.Tasks...)
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}
