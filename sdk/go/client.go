// Package taskboxsdk is a minimal dependency-free client for the Taskbox
// HTTP API.
package taskboxsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a Taskbox HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task mirrors the API task model. Tasks have no id; address them by their
// position in the todo's task list.
type Task struct {
	Text        string `json:"text"`
	IsCompleted bool   `json:"isCompleted"`
}

// Todo mirrors the API todo model.
type Todo struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	IsCompleted bool    `json:"isCompleted"`
	IsArchived  bool    `json:"isArchived"`
	CreatedAt   string  `json:"createdAt"`
	CompletedAt *string `json:"completedAt,omitempty"`
	Tasks       []Task  `json:"tasks"`
}

// App mirrors the API app model.
type App struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt"`
	Todos     []Todo `json:"todos"`
}

// TodoFilter is the body of the filtered todo listing. Leave Archived nil to
// list only non-archived todos.
type TodoFilter struct {
	Query     string `json:"query,omitempty"`
	Archived  *bool  `json:"archived,omitempty"`
	Completed *bool  `json:"completed,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListApps returns every app.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var resp []App
	err := c.do(ctx, http.MethodGet, "apps", nil, &resp)
	return resp, err
}

// CreateApp creates an app; the server assigns the id.
func (c *Client) CreateApp(ctx context.Context, name string) (App, error) {
	var resp App
	err := c.do(ctx, http.MethodPost, "apps", map[string]any{"name": name}, &resp)
	return resp, err
}

// RenameApp renames an app.
func (c *Client) RenameApp(ctx context.Context, appID int, name string) (App, error) {
	var resp App
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("apps/%d", appID), map[string]any{"name": name}, &resp)
	return resp, err
}

// ExportApp returns the app verbatim, including archived todos.
func (c *Client) ExportApp(ctx context.Context, appID int) (App, error) {
	var resp App
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("apps/%d/export", appID), nil, &resp)
	return resp, err
}

// ImportApp uploads a full app payload. The server reassigns the app id and
// every todo id; ids in the payload are ignored.
func (c *Client) ImportApp(ctx context.Context, payload App) (App, error) {
	var resp App
	err := c.do(ctx, http.MethodPost, "apps/import", payload, &resp)
	return resp, err
}

// ListTodos returns the non-archived todos of an app.
func (c *Client) ListTodos(ctx context.Context, appID int) ([]Todo, error) {
	var resp []Todo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("apps/%d/todos", appID), nil, &resp)
	return resp, err
}

// QueryTodos returns the todos matching the filter.
func (c *Client) QueryTodos(ctx context.Context, appID int, filter TodoFilter) ([]Todo, error) {
	var resp []Todo
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("apps/%d/todos", appID), filter, &resp)
	return resp, err
}

// SearchTodos searches todo names for the substring q. q must be non-empty.
func (c *Client) SearchTodos(ctx context.Context, appID int, q, status, completed string) ([]Todo, error) {
	endpoint := fmt.Sprintf("apps/%d/todos/search?q=%s", appID, url.QueryEscape(q))
	if status != "" {
		endpoint += "&status=" + url.QueryEscape(status)
	}
	if completed != "" {
		endpoint += "&completed=" + url.QueryEscape(completed)
	}
	var resp []Todo
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// FilterTodos filters todos by archive status and completion.
func (c *Client) FilterTodos(ctx context.Context, appID int, status, completed string) ([]Todo, error) {
	endpoint := fmt.Sprintf("apps/%d/todos/filter", appID)
	sep := "?"
	if status != "" {
		endpoint += sep + "status=" + url.QueryEscape(status)
		sep = "&"
	}
	if completed != "" {
		endpoint += sep + "completed=" + url.QueryEscape(completed)
	}
	var resp []Todo
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateTodo adds a todo to an app.
func (c *Client) CreateTodo(ctx context.Context, appID int, name string) (Todo, error) {
	var resp Todo
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("apps/%d/todos/new", appID), map[string]any{"name": name}, &resp)
	return resp, err
}

// UpdateTodo merge-updates a todo; only non-nil fields change.
func (c *Client) UpdateTodo(ctx context.Context, appID, todoID int, name *string, isCompleted, isArchived *bool) (Todo, error) {
	body := map[string]any{}
	if name != nil {
		body["name"] = *name
	}
	if isCompleted != nil {
		body["isCompleted"] = *isCompleted
	}
	if isArchived != nil {
		body["isArchived"] = *isArchived
	}
	var resp Todo
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("apps/%d/todos/%d", appID, todoID), body, &resp)
	return resp, err
}

// ArchiveTodo soft-deletes a todo.
func (c *Client) ArchiveTodo(ctx context.Context, appID, todoID int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("apps/%d/todos/%d", appID, todoID), nil, nil)
}

// ToggleTodo flips a todo's completion flag.
func (c *Client) ToggleTodo(ctx context.Context, appID, todoID int) (Todo, error) {
	var resp Todo
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("apps/%d/todos/%d/check", appID, todoID), nil, &resp)
	return resp, err
}

// AddTask appends a task to a todo.
func (c *Client) AddTask(ctx context.Context, appID, todoID int, text string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("apps/%d/todos/%d/tasks", appID, todoID), map[string]any{"text": text}, &resp)
	return resp, err
}

// ListTasks returns all tasks of a todo.
func (c *Client) ListTasks(ctx context.Context, appID, todoID int) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("apps/%d/todos/%d/tasks", appID, todoID), nil, &resp)
	return resp, err
}

// UpdateTask merge-updates the task at index.
func (c *Client) UpdateTask(ctx context.Context, appID, todoID, index int, text *string, isCompleted *bool) (Task, error) {
	body := map[string]any{}
	if text != nil {
		body["text"] = *text
	}
	if isCompleted != nil {
		body["isCompleted"] = *isCompleted
	}
	var resp Task
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("apps/%d/todos/%d/tasks/%d", appID, todoID, index), body, &resp)
	return resp, err
}

// ToggleTask flips the completion flag of the task at index.
func (c *Client) ToggleTask(ctx context.Context, appID, todoID, index int) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("apps/%d/todos/%d/tasks/%d/toggle", appID, todoID, index), nil, &resp)
	return resp, err
}

// RemoveTask deletes the task at index; later indices shift down.
func (c *Client) RemoveTask(ctx context.Context, appID, todoID, index int) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("apps/%d/todos/%d/tasks/%d", appID, todoID, index), nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
