package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct{ id int }

func rows(n int) []*row {
	out := make([]*row, n)
	for i := range out {
		out[i] = &row{id: i + 1}
	}
	return out
}

func byID(r *row) Cursor { return Cursor{ID: strconv.Itoa(r.id)} }

func TestPage(t *testing.T) {
	kept, info, err := Page(rows(4), 3, byID)
	require.NoError(t, err)
	assert.Len(t, kept, 3)
	assert.True(t, info.HasMore)

	c, err := DecodeCursor(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, "3", c.ID)

	kept, info, err = Page(rows(3), 3, byID)
	require.NoError(t, err)
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, token := range []string{"%%%", "bm90LWpzb24", "e30"} {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}
