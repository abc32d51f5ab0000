package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Operation string

const (
	// OperationSync is a single-float sync request.
	OperationSync Operation = "SYNC"
	// OperationWeeklyUpdate is the summary entry of a batch run.
	OperationWeeklyUpdate Operation = "WEEKLY_UPDATE"
	// OperationFloatUpdate is one float's attempt inside a batch run.
	OperationFloatUpdate Operation = "FLOAT_UPDATE"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationSync, OperationWeeklyUpdate, OperationFloatUpdate:
		return true
	}
	return false
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

func (s Status) Valid() bool {
	return s == StatusSuccess || s == StatusError
}

// ProcessingLog is an append-only record of one float attempt or one batch.
type ProcessingLog struct {
	ID                 snowflake.ID               `gorm:"column:id;primaryKey;autoIncrement:false" json:"id"`
	RunID              string                     `gorm:"column:run_id;index" json:"run_id,omitempty"`
	FloatID            *int64                     `gorm:"column:float_id;index" json:"float_id"`
	Operation          Operation                  `gorm:"column:operation;not null" json:"operation"`
	Status             Status                     `gorm:"column:status;not null" json:"status"`
	ErrorDetails       datatypes.JSONMap          `gorm:"column:error_details" json:"error_details,omitempty"`
	SuccessfulFloatIDs datatypes.JSONSlice[int64] `gorm:"column:successful_float_ids" json:"successful_float_ids,omitempty"`
	FailedFloatIDs     datatypes.JSONSlice[int64] `gorm:"column:failed_float_ids" json:"failed_float_ids,omitempty"`
	ProcessingTimeMs   int64                      `gorm:"column:processing_time_ms;not null" json:"processing_time_ms"`
	ProfilesSynced     int                        `gorm:"column:profiles_synced;not null" json:"profiles_synced"`
	CreatedAt          time.Time                  `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ProcessingLog) TableName() string { return "processing_log" }

type Cursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}
