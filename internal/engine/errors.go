package engine

import "errors"

// NotFoundError reports an unresolved id or index at one level of the
// app -> todo -> task addressing chain. Resolution short-circuits at the
// first missing level.
type NotFoundError struct {
	Entity string
}

func (e NotFoundError) Error() string {
	return e.Entity + " not found"
}

var (
	ErrAppNotFound  = NotFoundError{Entity: "App"}
	ErrTodoNotFound = NotFoundError{Entity: "Todo"}
	ErrTaskNotFound = NotFoundError{Entity: "Task"}

	// ErrEmptyQuery rejects search requests without a q parameter.
	ErrEmptyQuery = errors.New("query parameter q is required")
)
