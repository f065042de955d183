package chat

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrorCode standardizes tree engine failure semantics.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "not_found"
	CodeInvalidOperation ErrorCode = "invalid_operation"
	CodeInternal         ErrorCode = "internal"
)

// EntityKind names the subject of a tree error, so callers can tell a missing
// topic from a missing node or a bad parent reference.
type EntityKind string

const (
	KindTopic      EntityKind = "topic"
	KindNode       EntityKind = "node"
	KindParent     EntityKind = "parent"
	KindBeforeNode EntityKind = "before_node"
)

// Error is the canonical tree engine error wrapper.
type Error struct {
	Code    ErrorCode
	Kind    EntityKind
	ID      uuid.UUID
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	op := strings.TrimSpace(e.Op)
	msg := strings.TrimSpace(e.Message)
	switch {
	case op != "" && msg != "":
		return fmt.Sprintf("%s: %s (%s)", op, msg, e.Code)
	case op != "":
		return fmt.Sprintf("%s (%s)", op, e.Code)
	case msg != "":
		return fmt.Sprintf("%s (%s)", msg, e.Code)
	default:
		return string(e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a tree error with explicit code + operation.
func NewError(code ErrorCode, op, message string, cause error) error {
	return &Error{
		Code:    code,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
		Cause:   cause,
	}
}

// NotFoundError reports that the entity of the given kind does not exist.
func NotFoundError(op string, kind EntityKind, id uuid.UUID) error {
	return &Error{
		Code:    CodeNotFound,
		Kind:    kind,
		ID:      id,
		Op:      strings.TrimSpace(op),
		Message: fmt.Sprintf("%s %s not found", kind, id),
	}
}

// InvalidOperationError reports a structurally well-formed request the tree
// cannot honor (duplicate root, cross-topic parent, cycle, root delete
// without cascade). id may be uuid.Nil when no single entity is at fault.
func InvalidOperationError(op string, kind EntityKind, id uuid.UUID, message string) error {
	return &Error{
		Code:    CodeInvalidOperation,
		Kind:    kind,
		ID:      id,
		Op:      strings.TrimSpace(op),
		Message: strings.TrimSpace(message),
	}
}

// Wrap annotates an existing error, preserving it as the cause.
func Wrap(code ErrorCode, op string, err error) error {
	if err == nil {
		return nil
	}
	return NewError(code, op, err.Error(), err)
}

// IsCode checks whether err (or a wrapped err) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var treeErr *Error
	if !errors.As(err, &treeErr) {
		return false
	}
	return treeErr.Code == code
}

func IsNotFound(err error) bool         { return IsCode(err, CodeNotFound) }
func IsInvalidOperation(err error) bool { return IsCode(err, CodeInvalidOperation) }

// CodeOf extracts the tree error code when available.
func CodeOf(err error) ErrorCode {
	var treeErr *Error
	if !errors.As(err, &treeErr) {
		return ""
	}
	return treeErr.Code
}

// KindOf extracts the entity kind when available.
func KindOf(err error) EntityKind {
	var treeErr *Error
	if !errors.As(err, &treeErr) {
		return ""
	}
	return treeErr.Kind
}
