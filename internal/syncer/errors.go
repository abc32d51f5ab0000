package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/atlas/internal/lease"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/internal/source"
)

// State is the position of a float attempt in the pipeline.
type State string

const (
	StatePending    State = "PENDING"
	StateFetching   State = "FETCHING"
	StateParsing    State = "PARSING"
	StateMerging    State = "MERGING"
	StateProjecting State = "PROJECTING"
	StateLogged     State = "LOGGED"
)

// StageError records the state a float attempt failed in.
type StageError struct {
	Stage   State
	FloatID int64
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("float %d: %s: %v", e.FloatID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Kind is the low-cardinality failure class stored with the log entry.
func (e *StageError) Kind() string {
	if k, ok := domain.KindOf(e.Err); ok {
		return string(k)
	}
	switch {
	case errors.Is(e.Err, source.ErrSourceNotFound):
		return "source_not_found"
	case errors.Is(e.Err, lease.ErrHeld):
		return "lease_held"
	case errors.Is(e.Err, lease.ErrLost):
		return "lease_lost"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	default:
		return "unknown"
	}
}

// Retryable reports whether the next run may succeed without a source
// change. Parse failures and missing sources are permanent.
func (e *StageError) Retryable() bool {
	if k, ok := domain.KindOf(e.Err); ok {
		return k != domain.KindParse
	}
	return !errors.Is(e.Err, source.ErrSourceNotFound)
}

func stageError(stage State, floatID int64, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, FloatID: floatID, Err: err}
}
