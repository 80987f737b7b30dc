package inventory

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLevel is the pharmacy inventory row for a product.
type StockLevel struct {
	ProductID          int64           `json:"product_id"`
	BranchID           int64           `json:"branch_id"`
	SupplierID         int64           `json:"supplier_id,omitempty"`
	Name               string          `json:"name"`
	QuantityInStock    int64           `json:"quantity_in_stock"`
	ReorderLevel       int64           `json:"reorder_level"`
	MonthlyConsumption decimal.Decimal `json:"monthly_consumption"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
	SellingPrice       decimal.Decimal `json:"selling_price"`
}

// BelowReorderLevel reports whether the product has dropped to its reorder point.
func (s StockLevel) BelowReorderLevel() bool {
	return s.QuantityInStock <= s.ReorderLevel
}

// Inbound describes a stock increment originating from another module.
type Inbound struct {
	ProductID int64
	Qty       int64
	RefModule string
	RefID     uuid.UUID
	Note      string
}

var (
	// ErrNotFound indicates the product has no inventory row.
	ErrNotFound = errors.New("inventory: product not found")
	// ErrInvalidQuantity indicates a non-positive increment.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
)
