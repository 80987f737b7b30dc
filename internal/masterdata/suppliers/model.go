package suppliers

import (
	"errors"
	"time"
)

// Supplier is a read-only view of a supplier directory entry.
type Supplier struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	// ErrNotFound indicates the supplier does not exist.
	ErrNotFound = errors.New("suppliers: not found")
	// ErrInactive indicates the supplier exists but cannot receive new orders.
	ErrInactive = errors.New("suppliers: supplier inactive")
)
