package model

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel is returned when a model has no multiplier
	ErrUnknownModel = errors.New("unknown model multiplier")
	// ErrInvalidPlan is returned for unusable plan configuration
	ErrInvalidPlan = errors.New("invalid plan configuration")
)

// ParseFailure records a structured block that could not be decoded.
// It is non-fatal: the block is skipped and scanning continues.
type ParseFailure struct {
	Source SourceLocation `json:"source"`
	Marker string         `json:"marker"`
	Reason string         `json:"reason"`
}

func (f ParseFailure) Error() string {
	return fmt.Sprintf("%s:%d: %s block: %s", f.Source.File, f.Source.Line, f.Marker, f.Reason)
}

// FileReadError means a whole log file could not be read
type FileReadError struct {
	Path string
	Err  error
}

func (e *FileReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *FileReadError) Unwrap() error { return e.Err }

// UnknownModelError names the model that could not be resolved
type UnknownModelError struct {
	Model string
}

func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownModel, e.Model)
}

func (e *UnknownModelError) Is(target error) bool { return target == ErrUnknownModel }

// PlanError describes one invalid plan field
type PlanError struct {
	Field  string
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidPlan, e.Field, e.Reason)
}

func (e *PlanError) Is(target error) bool { return target == ErrInvalidPlan }
