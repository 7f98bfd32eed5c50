package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"taskbox/internal/domain"
	"taskbox/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	CORSOrigins []string
}

// apiError is the single error envelope: {"message": "..."}.
type apiError struct {
	status  int
	Message string `json:"message"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

// New returns an HTTP handler exposing the Taskbox API.
func New(cfg Config) (http.Handler, error) {
	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// Override Huma errors to use the message envelope. Schema and request
	// parse failures come through as 422 and must surface as 400.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return &apiError{status: status, Message: msg}
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		return huma.NewError(status, msg, errs...)
	}

	router := chi.NewRouter()
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	router.Use(requestLogger(cfg.Engine.Log))

	hcfg := huma.DefaultConfig("Taskbox API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)

	registerApps(api, cfg.Engine)
	registerTodos(api, cfg.Engine)
	registerTasks(api, cfg.Engine)

	return router, nil
}

// handleError maps engine errors onto wire statuses. Anything outside the
// known taxonomy (store write failures included) is a 500 with a generic
// message; the cause goes to the log, not the client.
func handleError(log *logrus.Logger, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var nf engine.NotFoundError
	if errors.As(err, &nf) {
		return &apiError{status: http.StatusNotFound, Message: nf.Error()}
	}
	if errors.Is(err, engine.ErrEmptyQuery) {
		return &apiError{status: http.StatusBadRequest, Message: err.Error()}
	}
	log.WithError(err).Error("request failed")
	return &apiError{status: http.StatusInternalServerError, Message: "internal error"}
}

func registerApps(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-apps",
		Method:      http.MethodGet,
		Path:        "/apps",
		Summary:     "List apps",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.App `json:"body"`
	}, error) {
		items, err := e.ListApps(ctx)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.App `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-app",
		Method:        http.MethodPost,
		Path:          "/apps",
		Summary:       "Create app",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreateAppRequest `json:"body"`
	}) (*struct {
		Body domain.App `json:"body"`
	}, error) {
		app, err := e.CreateApp(ctx, input.Body.Name)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.App `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "rename-app",
		Method:      http.MethodPut,
		Path:        "/apps/{app_id}",
		Summary:     "Rename app",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID int              `path:"app_id"`
		Body  RenameAppRequest `json:"body"`
	}) (*struct {
		Body domain.App `json:"body"`
	}, error) {
		app, err := e.RenameApp(ctx, input.AppID, input.Body.Name)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.App `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "import-app",
		Method:        http.MethodPost,
		Path:          "/apps/import",
		Summary:       "Import app with freshly assigned ids",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body domain.App `json:"body"`
	}) (*struct {
		Body domain.App `json:"body"`
	}, error) {
		app, err := e.ImportApp(ctx, input.Body)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.App `json:"body"`
		}{Body: app}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-app",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/export",
		Summary:     "Export app verbatim",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID int `path:"app_id"`
	}) (*struct {
		Body domain.App `json:"body"`
	}, error) {
		app, err := e.ExportApp(ctx, input.AppID)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.App `json:"body"`
		}{Body: app}, nil
	})
}

func registerTodos(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-todos",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/todos",
		Summary:     "List non-archived todos",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID int `path:"app_id"`
	}) (*struct {
		Body []domain.Todo `json:"body"`
	}, error) {
		items, err := e.ListTodos(ctx, input.AppID)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.Todo `json:"body"`
		}{Body: items}, nil
	})

	// The body is optional here: an empty body means the default listing.
	huma.Register(api, huma.Operation{
		OperationID: "query-todos",
		Method:      http.MethodPost,
		Path:        "/apps/{app_id}/todos",
		Summary:     "List todos matching a filter body",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID   int    `path:"app_id"`
		RawBody []byte `required:"false"`
	}) (*struct {
		Body []domain.Todo `json:"body"`
	}, error) {
		var req QueryTodosRequest
		if len(input.RawBody) > 0 {
			if err := json.Unmarshal(input.RawBody, &req); err != nil {
				return nil, &apiError{status: http.StatusBadRequest, Message: "invalid filter body"}
			}
		}
		items, err := e.QueryTodos(ctx, input.AppID, engine.TodoQuery{
			Query:     req.Query,
			Archived:  req.Archived,
			Completed: req.Completed,
		})
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.Todo `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-todo",
		Method:        http.MethodPost,
		Path:          "/apps/{app_id}/todos/new",
		Summary:       "Create todo",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID int               `path:"app_id"`
		Body  CreateTodoRequest `json:"body"`
	}) (*struct {
		Body domain.Todo `json:"body"`
	}, error) {
		todo, err := e.CreateTodo(ctx, input.AppID, input.Body.Name)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Todo `json:"body"`
		}{Body: todo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-todo",
		Method:      http.MethodPut,
		Path:        "/apps/{app_id}/todos/{todo_id}",
		Summary:     "Merge-update todo",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int               `path:"app_id"`
		TodoID int               `path:"todo_id"`
		Body   UpdateTodoRequest `json:"body"`
	}) (*struct {
		Body domain.Todo `json:"body"`
	}, error) {
		todo, err := e.UpdateTodo(ctx, input.AppID, input.TodoID, engine.TodoUpdate{
			Name:        input.Body.Name,
			IsCompleted: input.Body.IsCompleted,
			IsArchived:  input.Body.IsArchived,
			Tasks:       input.Body.Tasks,
		})
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Todo `json:"body"`
		}{Body: todo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "archive-todo",
		Method:        http.MethodDelete,
		Path:          "/apps/{app_id}/todos/{todo_id}",
		Summary:       "Archive todo (soft delete)",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int `path:"app_id"`
		TodoID int `path:"todo_id"`
	}) (*struct{}, error) {
		if err := e.ArchiveTodo(ctx, input.AppID, input.TodoID); err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-todo",
		Method:      http.MethodPut,
		Path:        "/apps/{app_id}/todos/{todo_id}/check",
		Summary:     "Toggle todo completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int `path:"app_id"`
		TodoID int `path:"todo_id"`
	}) (*struct {
		Body domain.Todo `json:"body"`
	}, error) {
		todo, err := e.ToggleTodo(ctx, input.AppID, input.TodoID)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Todo `json:"body"`
		}{Body: todo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-todos",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/todos/search",
		Summary:     "Search todos by name substring",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID     int    `path:"app_id"`
		Q         string `query:"q"`
		Status    string `query:"status"`
		Completed string `query:"completed"`
	}) (*struct {
		Body []domain.Todo `json:"body"`
	}, error) {
		items, err := e.SearchTodos(ctx, input.AppID, input.Q, input.Status, input.Completed)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.Todo `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "filter-todos",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/todos/filter",
		Summary:     "Filter todos by status and completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID     int    `path:"app_id"`
		Status    string `query:"status"`
		Completed string `query:"completed"`
	}) (*struct {
		Body []domain.Todo `json:"body"`
	}, error) {
		items, err := e.FilterTodos(ctx, input.AppID, input.Status, input.Completed)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.Todo `json:"body"`
		}{Body: items}, nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-task",
		Method:        http.MethodPost,
		Path:          "/apps/{app_id}/todos/{todo_id}/tasks",
		Summary:       "Add task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int               `path:"app_id"`
		TodoID int               `path:"todo_id"`
		Body   CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.AddTask(ctx, input.AppID, input.TodoID, input.Body.Text)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/apps/{app_id}/todos/{todo_id}/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int `path:"app_id"`
		TodoID int `path:"todo_id"`
	}) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.AppID, input.TodoID)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/apps/{app_id}/todos/{todo_id}/tasks/{index}",
		Summary:     "Merge-update task at index",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int               `path:"app_id"`
		TodoID int               `path:"todo_id"`
		Index  int               `path:"index"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.UpdateTask(ctx, input.AppID, input.TodoID, input.Index, engine.TaskUpdate{
			Text:        input.Body.Text,
			IsCompleted: input.Body.IsCompleted,
		})
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPut,
		Path:        "/apps/{app_id}/todos/{todo_id}/tasks/{index}/toggle",
		Summary:     "Toggle task completion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int `path:"app_id"`
		TodoID int `path:"todo_id"`
		Index  int `path:"index"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		task, err := e.ToggleTask(ctx, input.AppID, input.TodoID, input.Index)
		if err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "remove-task",
		Method:        http.MethodDelete,
		Path:          "/apps/{app_id}/todos/{todo_id}/tasks/{index}",
		Summary:       "Remove task at index",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AppID  int `path:"app_id"`
		TodoID int `path:"todo_id"`
		Index  int `path:"index"`
	}) (*struct{}, error) {
		if err := e.RemoveTask(ctx, input.AppID, input.TodoID, input.Index); err != nil {
			return nil, handleError(e.Log, err)
		}
		return &struct{}{}, nil
	})
}
