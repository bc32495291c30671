package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoFolders is returned when no input link resolved to a folder.
var ErrNoFolders = errors.New("no links resolved to a folder")

// ValidationError describes one rejected input line or link.
type ValidationError struct {
	Line   int
	Input  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %q", e.Line, e.Reason, e.Input)
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Input)
}

// BatchValidationError aggregates every invalid entry in a batch.
type BatchValidationError struct {
	Errors []ValidationError
}

func (e *BatchValidationError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		parts = append(parts, ve.Error())
	}
	return fmt.Sprintf("%d invalid entries: %s", len(e.Errors), strings.Join(parts, "; "))
}

// ResolutionError indicates a shared link did not resolve to a folder.
type ResolutionError struct {
	Link string
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("Failed to resolve link '%s': %v", e.Link, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TraversalError indicates a folder listing failed mid-walk.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("Failed to read folder '%s': %v", e.Path, e.Err)
}

func (e *TraversalError) Unwrap() error {
	return e.Err
}
