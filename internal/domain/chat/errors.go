package chat

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrValidation  = errors.New("chat: validation failed")
	ErrNotFound    = errors.New("chat: conversation not found")
	ErrForbidden   = errors.New("chat: not a chat participant")
	ErrPersistence = errors.New("chat: persistence failure")
	// ErrDuplicate is returned by stores when a unique participant key is already taken.
	ErrDuplicate = errors.New("chat: duplicate conversation")
)

// ValidationError carries field-level detail and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(field, message string) *ValidationError {
	e := &ValidationError{}
	e.Add(field, message)
	return e
}

func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

func (e *ValidationError) Empty() bool {
	return e == nil || len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	if e.Empty() {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
