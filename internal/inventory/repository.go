package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const stockColumns = `product_id, branch_id, COALESCE(supplier_id, 0), name, quantity_in_stock,
	reorder_level, monthly_consumption, unit_cost, selling_price`

// Store reads stock levels. Writes go through TxStore so they share the
// caller's transaction.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// GetStock returns the stock level of a product.
func (s *Store) GetStock(ctx context.Context, productID int64) (StockLevel, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+stockColumns+` FROM pharmacy_inventory WHERE product_id=$1`, productID)
	level, err := scanStock(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockLevel{}, ErrNotFound
		}
		return StockLevel{}, err
	}
	return level, nil
}

// ListStockLevels returns every product of a branch; branchID 0 lists all.
func (s *Store) ListStockLevels(ctx context.Context, branchID int64) ([]StockLevel, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+stockColumns+` FROM pharmacy_inventory
WHERE ($1 = 0 OR branch_id = $1) ORDER BY product_id`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var levels []StockLevel
	for rows.Next() {
		level, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

// TxStore increments stock inside an existing transaction.
type TxStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to tx.
func NewTxStore(tx pgx.Tx) *TxStore {
	return &TxStore{tx: tx}
}

// IncrementStock adds in.Qty to the product and records the movement.
func (s *TxStore) IncrementStock(ctx context.Context, in Inbound) error {
	if in.Qty <= 0 {
		return ErrInvalidQuantity
	}
	tag, err := s.tx.Exec(ctx, `UPDATE pharmacy_inventory
SET quantity_in_stock = quantity_in_stock + $2, updated_at = NOW()
WHERE product_id = $1`, in.ProductID, in.Qty)
	if err != nil {
		return fmt.Errorf("inventory: increment stock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = s.tx.Exec(ctx, `INSERT INTO stock_movements (product_id, qty, ref_module, ref_id, note)
VALUES ($1, $2, $3, $4, $5)`, in.ProductID, in.Qty, in.RefModule, in.RefID, in.Note)
	if err != nil {
		return fmt.Errorf("inventory: record movement: %w", err)
	}
	return nil
}

func scanStock(row pgx.Row) (StockLevel, error) {
	var level StockLevel
	err := row.Scan(&level.ProductID, &level.BranchID, &level.SupplierID, &level.Name, &level.QuantityInStock,
		&level.ReorderLevel, &level.MonthlyConsumption, &level.UnitCost, &level.SellingPrice)
	return level, err
}
