package domain

import (
	"context"

	"github.com/smallbiznis/atlas/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	UpsertMetadata(ctx context.Context, db *gorm.DB, meta *FloatMetadata) error
	FindMetadata(ctx context.Context, db *gorm.DB, floatID int64) (*FloatMetadata, error)
	UpdateStatusLabel(ctx context.Context, db *gorm.DB, floatID int64, status Status) error

	FindStatus(ctx context.Context, db *gorm.DB, floatID int64) (*FloatStatus, error)
	InsertStatus(ctx context.Context, db *gorm.DB, status *FloatStatus) error
	// UpdateStatusIfNewer applies status only when it is newer than the
	// stored row, evaluated inside the UPDATE itself.
	UpdateStatusIfNewer(ctx context.Context, db *gorm.DB, status *FloatStatus) (bool, error)
	ReplaceStatus(ctx context.Context, db *gorm.DB, status *FloatStatus) error

	Get(ctx context.Context, db *gorm.DB, floatID int64) (*Float, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter, page pagination.Pagination) ([]*Float, error)
	ListIDs(ctx context.Context, db *gorm.DB) ([]int64, error)
}
