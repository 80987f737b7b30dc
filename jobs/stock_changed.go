package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procure/internal/jobs"
)

// SuggestionInvalidator drops cached reorder suggestions.
type SuggestionInvalidator interface {
	InvalidateSuggestions(ctx context.Context) error
}

// StockChangedJob keeps the suggestion cache in step with posted receipts.
type StockChangedJob struct {
	Cache   SuggestionInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStockChangedJob initialises the stock-changed handler.
func NewStockChangedJob(cache SuggestionInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockChangedJob {
	return &StockChangedJob{Cache: cache, Logger: logger, Metrics: metrics}
}

// Handle bumps the suggestion cache version.
func (j *StockChangedJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("stock changed: handler not configured")
	}
	var payload StockChangedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskStockChanged)
	defer func() {
		err = tracker.End(err)
	}()
	if err := j.Cache.InvalidateSuggestions(ctx); err != nil {
		j.logger().Warn("invalidate suggestions", slog.String("grn", payload.GRNNumber), slog.Any("error", err))
		return err
	}
	j.logger().Debug("suggestion cache invalidated", slog.String("grn", payload.GRNNumber), slog.Int("products", len(payload.ProductIDs)))
	return nil
}

func (j *StockChangedJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
