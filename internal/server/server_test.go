package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/sirupsen/logrus"

	"taskbox/internal/domain"
	"taskbox/internal/engine"
	"taskbox/internal/store"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "taskbox.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)
	e := engine.New(s, log)
	handler, err := New(Config{Engine: e})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func createApp(t *testing.T, srv *testServer, name string) domain.App {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps", map[string]any{"name": name})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create app status %d: %s", res.StatusCode, string(data))
	}
	var app domain.App
	if err := json.Unmarshal(data, &app); err != nil {
		t.Fatalf("unmarshal app: %v", err)
	}
	return app
}

func createTodo(t *testing.T, srv *testServer, appID int, name string) domain.Todo {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/"+itoa(appID)+"/todos/new", map[string]any{"name": name})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create todo status %d: %s", res.StatusCode, string(data))
	}
	var todo domain.Todo
	if err := json.Unmarshal(data, &todo); err != nil {
		t.Fatalf("unmarshal todo: %v", err)
	}
	return todo
}

func itoa(i int) string {
	return strconv.Itoa(i)
}

func TestAppCreationAssignsSequentialIDs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	first := createApp(t, srv, "first")
	second := createApp(t, srv, "second")
	if first.ID != 1 || second.ID != 2 {
		t.Fatalf("expected ids 1,2 got %d,%d", first.ID, second.ID)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list apps status %d: %s", res.StatusCode, string(data))
	}
	var apps []domain.App
	if err := json.Unmarshal(data, &apps); err != nil {
		t.Fatalf("unmarshal apps: %v", err)
	}
	if len(apps) != 2 {
		t.Fatalf("expected 2 apps, got %d", len(apps))
	}
}

func TestRenameApp(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "before")
	res, data := doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/apps/"+itoa(app.ID), map[string]any{"name": "after"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("rename status %d: %s", res.StatusCode, string(data))
	}
	var renamed domain.App
	if err := json.Unmarshal(data, &renamed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if renamed.Name != "after" {
		t.Fatalf("rename did not stick: %q", renamed.Name)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/apps/9", map[string]any{"name": "x"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing app, got %d: %s", res.StatusCode, string(data))
	}
	assertMessage(t, data, "App not found")
}

func TestArchiveExcludesFromDefaultListing(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "home")
	keep := createTodo(t, srv, app.ID, "keep")
	gone := createTodo(t, srv, app.ID, "gone")

	res, data := doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/apps/"+itoa(app.ID)+"/todos/"+itoa(gone.ID), nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("archive status %d: %s", res.StatusCode, string(data))
	}
	if len(data) != 0 {
		t.Fatalf("expected empty 204 body, got %q", string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps/"+itoa(app.ID)+"/todos", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var todos []domain.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal todos: %v", err)
	}
	if len(todos) != 1 || todos[0].ID != keep.ID {
		t.Fatalf("expected only todo %d, got %#v", keep.ID, todos)
	}

	// The archived todo is still present in the export.
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps/"+itoa(app.ID)+"/export", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	var exported domain.App
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if len(exported.Todos) != 2 {
		t.Fatalf("export lost archived todo: %#v", exported.Todos)
	}
}

func TestQueryTodosBodyFilter(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "home")
	createTodo(t, srv, app.ID, "Groceries")
	gone := createTodo(t, srv, app.ID, "Archived one")
	doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/apps/"+itoa(app.ID)+"/todos/"+itoa(gone.ID), nil)

	// No archived field: non-archived only.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/"+itoa(app.ID)+"/todos", map[string]any{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query status %d: %s", res.StatusCode, string(data))
	}
	var todos []domain.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].Name != "Groceries" {
		t.Fatalf("default filter wrong: %#v", todos)
	}

	// No body at all behaves the same as {}.
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/"+itoa(app.ID)+"/todos", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bodyless query status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].Name != "Groceries" {
		t.Fatalf("bodyless default filter wrong: %#v", todos)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/"+itoa(app.ID)+"/todos", map[string]any{"archived": true})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query archived status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].Name != "Archived one" {
		t.Fatalf("archived filter wrong: %#v", todos)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/"+itoa(app.ID)+"/todos", map[string]any{"query": "groc"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query substring status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].Name != "Groceries" {
		t.Fatalf("substring filter wrong: %#v", todos)
	}
}

func TestToggleTodoStampsCompletedAt(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "home")
	todo := createTodo(t, srv, app.ID, "laundry")
	checkURL := srv.URL + "/apps/" + itoa(app.ID) + "/todos/" + itoa(todo.ID) + "/check"

	res, data := doJSON(t, srv.Client(), http.MethodPut, checkURL, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle status %d: %s", res.StatusCode, string(data))
	}
	var toggled domain.Todo
	if err := json.Unmarshal(data, &toggled); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !toggled.IsCompleted || toggled.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp: %#v", toggled)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, checkURL, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second toggle status %d: %s", res.StatusCode, string(data))
	}
	// Fresh struct: completedAt is omitted from the wire when cleared, so
	// decoding into the first toggle's struct would keep the stale pointer.
	var restored domain.Todo
	if err := json.Unmarshal(data, &restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if restored.IsCompleted || restored.CompletedAt != nil {
		t.Fatalf("expected original state restored: %#v", restored)
	}
}

func TestSearchValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "home")
	createTodo(t, srv, app.ID, "Groceries")
	base := srv.URL + "/apps/" + itoa(app.ID) + "/todos/search"

	res, data := doJSON(t, srv.Client(), http.MethodGet, base, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, base+"?q=groc", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("search status %d: %s", res.StatusCode, string(data))
	}
	var todos []domain.Todo
	if err := json.Unmarshal(data, &todos); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(todos) != 1 || todos[0].Name != "Groceries" {
		t.Fatalf("search match wrong: %#v", todos)
	}
}

func TestTaskEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "home")
	todo := createTodo(t, srv, app.ID, "list")
	base := srv.URL + "/apps/" + itoa(app.ID) + "/todos/" + itoa(todo.ID) + "/tasks"

	res, data := doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{"text": "step 1"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add task status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, base, map[string]any{"text": "step 2"})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add task status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/1/toggle", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("toggle task status %d: %s", res.StatusCode, string(data))
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !task.IsCompleted {
		t.Fatalf("task not toggled: %#v", task)
	}

	// Merge update: text only, completion preserved.
	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/1", map[string]any{"text": "step 2 (edited)"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update task status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if task.Text != "step 2 (edited)" || !task.IsCompleted {
		t.Fatalf("merge update broke task: %#v", task)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPut, base+"/5", map[string]any{"text": "x"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 out of range, got %d: %s", res.StatusCode, string(data))
	}
	assertMessage(t, data, "Task not found")

	res, data = doJSON(t, srv.Client(), http.MethodDelete, base+"/5", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 deleting out of range, got %d: %s", res.StatusCode, string(data))
	}
	assertMessage(t, data, "Task not found")

	res, data = doJSON(t, srv.Client(), http.MethodDelete, base+"/0", nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("remove task status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, base, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list tasks status %d: %s", res.StatusCode, string(data))
	}
	var tasks []domain.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Text != "step 2 (edited)" {
		t.Fatalf("index shift after removal failed: %#v", tasks)
	}
}

func TestNotFoundChain(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps/7/todos", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	assertMessage(t, data, "App not found")

	app := createApp(t, srv, "home")
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps/"+itoa(app.ID)+"/todos/7/tasks", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	assertMessage(t, data, "Todo not found")
}

func TestExportImportRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	app := createApp(t, srv, "source")
	createTodo(t, srv, app.ID, "one")
	createTodo(t, srv, app.ID, "two")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/apps/"+itoa(app.ID)+"/export", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export status %d: %s", res.StatusCode, string(data))
	}
	var exported domain.App
	if err := json.Unmarshal(data, &exported); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/apps/import", exported)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var imported domain.App
	if err := json.Unmarshal(data, &imported); err != nil {
		t.Fatalf("unmarshal import: %v", err)
	}
	if imported.ID == exported.ID {
		t.Fatalf("imported app kept id %d", imported.ID)
	}
	for i, todo := range imported.Todos {
		if todo.ID != i+1 {
			t.Fatalf("todo %d not renumbered: id %d", i, todo.ID)
		}
	}
}

func assertMessage(t *testing.T, data []byte, want string) {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatalf("unmarshal error body %q: %v", string(data), err)
	}
	if body.Message != want {
		t.Fatalf("expected message %q, got %q", want, body.Message)
	}
}
