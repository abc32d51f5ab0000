package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/atlas/internal/processinglog/domain"
	"github.com/smallbiznis/atlas/pkg/db/option"
	"github.com/smallbiznis/atlas/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert is the only write path; log rows are never updated.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.ProcessingLog) error {
	if entry == nil {
		return nil
	}
	return repository.ProvideStore[domain.ProcessingLog](db).Create(ctx, entry)
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.ProcessingLog, error) {
	var opts []option.QueryOption
	if filter.FloatID != nil {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "float_id", Operator: option.EQ, Value: *filter.FloatID}))
	}
	if filter.Operation != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "operation", Operator: option.EQ, Value: string(filter.Operation)}))
	}
	if filter.Status != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "status", Operator: option.EQ, Value: string(filter.Status)}))
	}
	if filter.Cursor != nil {
		cursor := *filter.Cursor
		opts = append(opts, option.QueryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
			return stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
		}))
	}
	opts = append(opts,
		option.WithSortBy(option.QuerySortBy{Default: "created_at", Desc: true}),
		option.WithSortBy(option.QuerySortBy{Default: "id", Desc: true}),
	)
	if filter.Limit > 0 {
		opts = append(opts, option.WithLimit(filter.Limit+1))
	}

	return repository.ProvideStore[domain.ProcessingLog](db).Find(ctx, nil, opts...)
}

func (r *repo) LastSuccess(ctx context.Context, db *gorm.DB) (map[int64]time.Time, error) {
	var rows []struct {
		FloatID   int64     `gorm:"column:float_id"`
		CreatedAt time.Time `gorm:"column:created_at"`
	}
	err := db.WithContext(ctx).Model(&domain.ProcessingLog{}).
		Select("float_id, created_at").
		Where("float_id IS NOT NULL AND status = ?", string(domain.StatusSuccess)).
		Order("float_id, created_at").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[int64]time.Time, len(rows))
	for _, row := range rows {
		if prev, ok := out[row.FloatID]; !ok || row.CreatedAt.After(prev) {
			out[row.FloatID] = row.CreatedAt
		}
	}
	return out, nil
}
