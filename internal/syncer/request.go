package syncer

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type Operation string

const (
	// OperationSync processes one float named by the request.
	OperationSync Operation = "sync"
	// OperationUpdate processes every float the due policy selects.
	OperationUpdate Operation = "update"
)

var (
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrFloatIDRequired  = errors.New("float_id_required")
	ErrInvalidFloatID   = errors.New("invalid_float_id")
)

// Request is the trigger payload. FloatID accepts a JSON number or string.
type Request struct {
	Operation Operation `json:"operation"`
	FloatID   *FloatID  `json:"float_id,omitempty"`
	// Force recomputes the status row even when it is not newer.
	Force bool `json:"force,omitempty"`
}

type FloatID int64

func (f *FloatID) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		return ErrInvalidFloatID
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return ErrInvalidFloatID
	}
	*f = FloatID(v)
	return nil
}

func (f FloatID) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(f))
}

// Normalize fills the default operation and validates the request.
func (r *Request) Normalize() error {
	op := Operation(strings.ToLower(strings.TrimSpace(string(r.Operation))))
	if op == "" {
		op = OperationUpdate
	}
	r.Operation = op
	switch op {
	case OperationSync:
		if r.FloatID == nil {
			return ErrFloatIDRequired
		}
		if *r.FloatID <= 0 {
			return ErrInvalidFloatID
		}
	case OperationUpdate:
	default:
		return ErrInvalidOperation
	}
	return nil
}

type FloatError struct {
	FloatID int64  `json:"float_id"`
	Message string `json:"message"`
}

type Response struct {
	Success          bool         `json:"success"`
	ProfilesSynced   int          `json:"profiles_synced"`
	ProcessingTimeMs int64        `json:"processing_time_ms"`
	Errors           []FloatError `json:"errors"`

	FloatsProcessed int     `json:"floats_processed"`
	FloatsSkipped   []int64 `json:"floats_skipped,omitempty"`
	RunID           string  `json:"run_id,omitempty"`
}
