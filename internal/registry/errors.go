package registry

import (
	"errors"
	"fmt"
)

// Stage is the refresh step that failed.
type Stage string

const (
	StageFetch    Stage = "fetch"
	StageParse    Stage = "parse"
	StageValidate Stage = "validate"
)

// RefreshError describes a refresh that left the cached definitions in place.
type RefreshError struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("workflow definitions %s from %s failed: %v", e.Stage, e.Source, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

// IsStage reports whether err is a RefreshError for the given stage.
func IsStage(err error, stage Stage) bool {
	var re *RefreshError
	return errors.As(err, &re) && re.Stage == stage
}

// ErrNotFound is matched by every resolution failure.
var ErrNotFound = errors.New("no image")

// ResolveError explains why a workflow could not be resolved. Reason ends
// up in the reason field of a FAILED processing block.
type ResolveError struct {
	Reason string
}

func (e *ResolveError) Error() string {
	return "no image: " + e.Reason
}

// Is makes errors.Is(err, ErrNotFound) hold for every ResolveError.
func (e *ResolveError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(format string, args ...interface{}) error {
	return &ResolveError{Reason: fmt.Sprintf(format, args...)}
}
