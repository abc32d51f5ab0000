package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/atlas/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type reading struct {
	ID      int64 `gorm:"primaryKey"`
	Station string
	Value   float64
}

func TestStoreFindAppliesQueryAndOptions(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&reading{}))

	ctx := context.Background()
	store := ProvideStore[reading](db)
	for i, station := range []string{"a", "b", "a", "a"} {
		require.NoError(t, store.Create(ctx, &reading{ID: int64(i + 1), Station: station, Value: float64(i)}))
	}

	rows, err := store.Find(ctx, &reading{Station: "a"},
		option.WithSortBy(option.QuerySortBy{Default: "id", Desc: true}),
		option.WithLimit(2),
	)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(4), rows[0].ID)
	assert.Equal(t, int64(3), rows[1].ID)

	rows, err = store.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "value", Operator: option.GTE, Value: 2.0}))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = store.Find(ctx, nil, option.ApplyOperator(option.Condition{Field: "value; drop", Operator: option.EQ, Value: 1}))
	assert.Error(t, err)
}
