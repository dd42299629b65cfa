package pagination

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct {
	ID string
}

func TestBuildCursorPageInfo(t *testing.T) {
	data := []*row{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	page, info := BuildCursorPageInfo(data, 2, func(r *row) Cursor {
		return Cursor{ID: r.ID, CreatedAt: "2026-01-01T00:00:00Z"}
	})
	require.Len(t, page, 2)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "2", cursor.ID)

	page, info = BuildCursorPageInfo(data, 5, func(r *row) Cursor { return Cursor{ID: r.ID} })
	require.Len(t, page, 3)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, DefaultLimit, Pagination{}.Normalize().Limit)
	require.Equal(t, MaxLimit, Pagination{Limit: 1000}.Normalize().Limit)
	require.Equal(t, 7, Pagination{Limit: 7}.Normalize().Limit)
}
