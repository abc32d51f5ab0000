package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListFilter struct {
	FloatID   *int64
	Operation Operation
	Status    Status
	Cursor    *Cursor
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *ProcessingLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*ProcessingLog, error)
	// LastSuccess returns, per float, the time of its latest successful
	// attempt.
	LastSuccess(ctx context.Context, db *gorm.DB) (map[int64]time.Time, error)
}

// Entry is what callers record; ID, run and timestamp are filled in.
type Entry struct {
	FloatID            *int64
	Operation          Operation
	Status             Status
	ErrorDetails       map[string]any
	SuccessfulFloatIDs []int64
	FailedFloatIDs     []int64
	ProcessingTime     time.Duration
	ProfilesSynced     int
}

type ListRequest struct {
	pagination.Pagination
	FloatID   string
	Operation string
	Status    string
}

type ListResponse struct {
	pagination.PageInfo
	Logs []ProcessingLog `json:"processing_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) (*ProcessingLog, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	LastSuccess(ctx context.Context) (map[int64]time.Time, error)
}

var (
	ErrInvalidOperation = errors.New("invalid_operation")
	ErrInvalidStatus    = errors.New("invalid_status")
	ErrInvalidFloatID   = errors.New("invalid_float_id")
	ErrInvalidPageToken = errors.New("invalid_page_token")
)
