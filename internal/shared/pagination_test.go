package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPaginationClamps(t *testing.T) {
	p := NewPagination(0, 0)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 20, p.PageSize)

	p = NewPagination(-3, 500)
	require.Equal(t, 1, p.Page)
	require.Equal(t, 100, p.PageSize)

	p = NewPagination(4, 25)
	require.Equal(t, 4, p.Page)
	require.Equal(t, 25, p.PageSize)
}

func TestPaginationOffset(t *testing.T) {
	require.Equal(t, 0, NewPagination(1, 20).Offset())
	require.Equal(t, 40, NewPagination(3, 20).Offset())
	require.Equal(t, 75, NewPagination(4, 25).Offset())
}
