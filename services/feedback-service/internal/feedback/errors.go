package feedback

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUpstreamRejected    = errors.New("feedback submission rejected by ats")
	ErrUpstreamUnreachable = errors.New("ats unreachable")
	ErrStorageFailure      = errors.New("feedback storage failure")
)

// FieldError describes one invalid or missing form field.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError carries every field problem found in a submission.
type ValidationError struct {
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Path+": "+f.Message)
	}
	return fmt.Sprintf("invalid feedback: %s", strings.Join(parts, "; "))
}

func (e *ValidationError) add(path, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}
