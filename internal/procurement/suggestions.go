package procurement

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/odyssey-erp/procure/internal/reorder"
)

// ReorderSuggestions returns advisory reorder lines for a branch. Results are
// cached and concurrent callers for the same branch share one computation.
func (s *Service) ReorderSuggestions(ctx context.Context, branchID int64) ([]reorder.Suggestion, error) {
	v, err, _ := s.flight.Do("suggestions:"+strconv.FormatInt(branchID, 10), func() (any, error) {
		if s.cache == nil {
			return s.computeSuggestions(ctx, branchID)
		}
		return s.cache.Fetch(ctx, branchID, func(ctx context.Context) ([]reorder.Suggestion, error) {
			return s.computeSuggestions(ctx, branchID)
		})
	})
	if err != nil {
		return nil, err
	}
	return v.([]reorder.Suggestion), nil
}

// InvalidateSuggestions drops cached suggestion lists after stock changes.
func (s *Service) InvalidateSuggestions(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Bump(ctx)
}

// refreshSuggestions invalidates cached suggestions after a committed change to
// stock or pending orders. Workers in other processes still rely on the
// stock-changed task.
func (s *Service) refreshSuggestions(ctx context.Context, cause string) {
	if err := s.InvalidateSuggestions(ctx); err != nil {
		s.logger.Warn("invalidate reorder suggestions", slog.String("cause", cause), slog.Any("error", err))
	}
}

func (s *Service) computeSuggestions(ctx context.Context, branchID int64) ([]reorder.Suggestion, error) {
	if s.stock == nil {
		return nil, errors.New("procurement: stock reader not configured")
	}
	levels, err := s.stock.ListStockLevels(ctx, branchID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(levels))
	for _, level := range levels {
		ids = append(ids, level.ProductID)
	}
	pending, err := s.repo.PendingOnOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	inputs := make([]reorder.Input, 0, len(levels))
	for _, level := range levels {
		inputs = append(inputs, reorder.Input{
			ProductID:          level.ProductID,
			SupplierID:         level.SupplierID,
			CurrentStock:       level.QuantityInStock,
			ReorderLevel:       level.ReorderLevel,
			MonthlyConsumption: level.MonthlyConsumption,
			PendingOnOrder:     pending[level.ProductID],
			UnitCost:           level.UnitCost,
		})
	}
	out := s.engine.EvaluateAll(inputs)
	s.logger.Debug("reorder suggestions computed", slog.Int64("branch_id", branchID), slog.Int("products", len(levels)), slog.Int("suggestions", len(out)))
	return out, nil
}
