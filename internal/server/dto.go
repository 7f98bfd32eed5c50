package server

import "taskbox/internal/domain"

// Request payloads

type CreateAppRequest struct {
	Name string `json:"name"`
}

type RenameAppRequest struct {
	Name string `json:"name"`
}

// QueryTodosRequest is the body of the filtered todo listing. Omitting
// archived restricts the listing to non-archived todos; completed filters
// only when present.
type QueryTodosRequest struct {
	Query     string `json:"query,omitempty"`
	Archived  *bool  `json:"archived,omitempty"`
	Completed *bool  `json:"completed,omitempty"`
}

type CreateTodoRequest struct {
	Name string `json:"name"`
}

// UpdateTodoRequest merges onto the stored todo: fields not supplied keep
// their values.
type UpdateTodoRequest struct {
	Name        *string        `json:"name,omitempty"`
	IsCompleted *bool          `json:"isCompleted,omitempty"`
	IsArchived  *bool          `json:"isArchived,omitempty"`
	Tasks       *[]domain.Task `json:"tasks,omitempty"`
}

type CreateTaskRequest struct {
	Text string `json:"text"`
}

type UpdateTaskRequest struct {
	Text        *string `json:"text,omitempty"`
	IsCompleted *bool   `json:"isCompleted,omitempty"`
}
