package procurement

import (
	"context"
	"time"
)

// StockChangedEvent is emitted after a posted receipt increments stock.
type StockChangedEvent struct {
	GRNID      int64     `json:"grn_id"`
	GRNNumber  string    `json:"grn_number"`
	BranchID   int64     `json:"branch_id"`
	ProductIDs []int64   `json:"product_ids"`
	PostedAt   time.Time `json:"posted_at"`
}

// EventPublisher delivers procurement events after commit.
type EventPublisher interface {
	PublishStockChanged(ctx context.Context, evt StockChangedEvent) error
}
