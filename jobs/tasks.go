package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReorderScan drafts a purchase request from current reorder suggestions.
	TaskReorderScan = "procurement:reorder-scan"
	// TaskStockChanged invalidates cached reorder suggestions after a receipt is posted.
	TaskStockChanged = "procurement:stock-changed"
	// TaskIdempotencyCleanup purges expired command idempotency keys.
	TaskIdempotencyCleanup = "procurement:idempotency-cleanup"
)

// ReorderScanPayload scopes a reorder scan. BranchID 0 scans every branch.
type ReorderScanPayload struct {
	BranchID    int64 `json:"branch_id"`
	RequestedBy int64 `json:"requested_by"`
}

// StockChangedPayload describes a posted goods receipt.
type StockChangedPayload struct {
	GRNID      int64     `json:"grn_id"`
	GRNNumber  string    `json:"grn_number"`
	BranchID   int64     `json:"branch_id"`
	ProductIDs []int64   `json:"product_ids"`
	PostedAt   time.Time `json:"posted_at"`
}

// IdempotencyCleanupPayload sets how long claimed keys are retained.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention"`
}

// NewReorderScanTask constructs an Asynq task for the reorder scan.
func NewReorderScanTask(payload ReorderScanPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReorderScan, body, asynq.Queue(QueueDefault)), nil
}

// NewStockChangedTask constructs an Asynq task announcing a stock change.
func NewStockChangedTask(payload StockChangedPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockChanged, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task purging old idempotency keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
