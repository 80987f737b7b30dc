package suppliers

import (
	"context"
	"errors"
)

// Directory resolves suppliers for procurement documents.
type Directory struct {
	repo Repository
}

func NewDirectory(repo Repository) *Directory {
	return &Directory{repo: repo}
}

// GetSupplier returns an active supplier.
func (d *Directory) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, errors.New("suppliers: invalid supplier ID")
	}
	s, err := d.repo.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	if !s.IsActive {
		return Supplier{}, ErrInactive
	}
	return s, nil
}
