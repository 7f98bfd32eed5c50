package domain

// Task is a single checklist entry inside a todo. Tasks carry no id and are
// addressed by position within their todo's task list.
type Task struct {
	Text        string `json:"text"`
	IsCompleted bool   `json:"isCompleted"`
}

type Todo struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	IsCompleted bool    `json:"isCompleted"`
	IsArchived  bool    `json:"isArchived"`
	CreatedAt   string  `json:"createdAt" format:"date-time"`
	CompletedAt *string `json:"completedAt,omitempty" format:"date-time"`
	Tasks       []Task  `json:"tasks"`
}

type App struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"createdAt" format:"date-time"`
	Todos     []Todo `json:"todos"`
}

// Root is the whole persisted aggregate.
type Root struct {
	Apps []App `json:"Apps"`
}

// NextAppID returns 1 + the highest existing app id. Ids of deleted apps are
// never reused.
func NextAppID(root *Root) int {
	max := 0
	for _, a := range root.Apps {
		if a.ID > max {
			max = a.ID
		}
	}
	return max + 1
}

// NextTodoID returns 1 + the highest todo id within the app. Archiving does
// not free an id.
func NextTodoID(app *App) int {
	max := 0
	for _, t := range app.Todos {
		if t.ID > max {
			max = t.ID
		}
	}
	return max + 1
}

// FindApp returns a pointer into root's app slice, or nil.
func FindApp(root *Root, id int) *App {
	for i := range root.Apps {
		if root.Apps[i].ID == id {
			return &root.Apps[i]
		}
	}
	return nil
}

// FindTodo returns a pointer into the app's todo slice, or nil.
func FindTodo(app *App, id int) *Todo {
	for i := range app.Todos {
		if app.Todos[i].ID == id {
			return &app.Todos[i]
		}
	}
	return nil
}
