package repository

import (
	"context"

	"github.com/smallbiznis/atlas/pkg/db/option"
)

// Repository is a generic gorm-backed store for one model type.
type Repository[T any] interface {
	Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	Create(ctx context.Context, resource *T) error
}
