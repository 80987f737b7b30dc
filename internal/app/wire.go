package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/observability"
	"github.com/odyssey-erp/procure/internal/procurement"
	"github.com/odyssey-erp/procure/internal/reorder"
	"github.com/odyssey-erp/procure/internal/shared"
)

// NewProcurementService wires the service against Postgres, Redis and asynq.
// redisClient may be nil, in which case suggestions are computed on every call.
func NewProcurementService(pool *pgxpool.Pool, redisClient *redis.Client, events procurement.EventPublisher, metrics *observability.Metrics, cfg *Config, logger *slog.Logger) *procurement.Service {
	generator := numbering.NewGenerator(cfg.Numbering())
	repo := procurement.NewRepository(pool, generator, cfg.NumberMaxAttempts, logger)
	repo.OnRetry(metrics.TxRetried)

	deps := procurement.Deps{
		Stock:       inventory.NewStore(pool),
		Suppliers:   suppliers.NewDirectory(suppliers.NewRepository(pool)),
		Engine:      reorder.NewEngine(reorder.Config{FastMovingThreshold: cfg.ReorderFastMoving, LeadTimeMonths: cfg.ReorderLeadTimeMonths}),
		Approvals:   shared.NewApprovalRecorder(pool, logger),
		Audit:       shared.NewAuditLogger(pool),
		Idempotency: shared.NewIdempotencyStore(pool),
		Events:      events,
		Metrics:     metrics,
		Logger:      logger,
	}
	if redisClient != nil {
		deps.Cache = reorder.NewCache(redisClient, cfg.SuggestionCacheTTL)
	}
	return procurement.NewService(repo, procurement.Config{
		InvoiceTolerance: cfg.Tolerance(),
		DefaultDueDays:   cfg.InvoiceDefaultDueDays,
		Location:         cfg.Location(),
	}, deps)
}
