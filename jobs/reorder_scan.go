package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procure/internal/jobs"
	"github.com/odyssey-erp/procure/internal/procurement"
)

// RequestDrafter drafts purchase requests from reorder suggestions.
type RequestDrafter interface {
	CreateSuggestedRequest(ctx context.Context, branchID, requester int64) (procurement.PurchaseRequest, bool, error)
}

// ReorderScanJob turns reorder suggestions into a draft purchase request.
type ReorderScanJob struct {
	Drafter          RequestDrafter
	DefaultRequester int64
	Logger           *slog.Logger
	Metrics          *jobmetrics.Metrics
}

// NewReorderScanJob initialises the reorder scan handler.
func NewReorderScanJob(drafter RequestDrafter, requester int64, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReorderScanJob {
	return &ReorderScanJob{Drafter: drafter, DefaultRequester: requester, Logger: logger, Metrics: metrics}
}

// Handle executes one reorder scan.
func (j *ReorderScanJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Drafter == nil {
		return errors.New("reorder scan: handler not configured")
	}
	var payload ReorderScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RequestedBy <= 0 {
		payload.RequestedBy = j.DefaultRequester
	}
	if payload.RequestedBy <= 0 {
		j.logger().Error("reorder scan has no requester; set REORDER_SCAN_REQUESTER")
		return asynq.SkipRetry
	}

	start := time.Now()
	tracker := j.Metrics.Track(TaskReorderScan)
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(slog.Int64("branch_id", payload.BranchID))
	pr, created, err := j.Drafter.CreateSuggestedRequest(ctx, payload.BranchID, payload.RequestedBy)
	if err != nil {
		logger.Error("reorder scan failed", slog.Any("error", err))
		return err
	}
	if !created {
		logger.Info("reorder scan found no candidates", slog.Duration("duration", time.Since(start)))
		return nil
	}
	j.Metrics.AddDrafts(payload.BranchID, 1)
	logger.Info("drafted suggested purchase request",
		slog.String("number", pr.Number),
		slog.Int("items", pr.TotalItems),
		slog.String("estimated_cost", pr.TotalEstimatedCost.StringFixed(2)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *ReorderScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
