package suppliers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo map[int64]Supplier

func (m memoryRepo) Get(_ context.Context, id int64) (Supplier, error) {
	s, ok := m[id]
	if !ok {
		return Supplier{}, ErrNotFound
	}
	return s, nil
}

func TestGetSupplier(t *testing.T) {
	dir := NewDirectory(memoryRepo{
		1: {ID: 1, Code: "SUP-1", Name: "Kimia Farma", IsActive: true},
		2: {ID: 2, Code: "SUP-2", Name: "Dormant", IsActive: false},
	})
	ctx := context.Background()

	s, err := dir.GetSupplier(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "Kimia Farma", s.Name)

	_, err = dir.GetSupplier(ctx, 2)
	require.ErrorIs(t, err, ErrInactive)

	_, err = dir.GetSupplier(ctx, 3)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = dir.GetSupplier(ctx, 0)
	require.Error(t, err)
}
