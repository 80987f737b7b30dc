package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/reorder"
	"github.com/odyssey-erp/procure/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPR(ctx context.Context, id int64) (PurchaseRequest, error)
	ListPRs(ctx context.Context, filters ListFilters) ([]PurchaseRequest, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, error)
	ListPOs(ctx context.Context, filters ListFilters) ([]PurchaseOrder, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	ListGRNs(ctx context.Context, poID int64) ([]GoodsReceipt, error)
	GetInvoice(ctx context.Context, id int64) (SupplierInvoice, error)
	ListInvoices(ctx context.Context, filters ListFilters) ([]SupplierInvoice, error)
	ListOutstandingInvoices(ctx context.Context) ([]SupplierInvoice, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]InvoicePayment, error)
	PendingOnOrder(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

// TxRepository exposes transactional operations. Lock* methods take row
// locks held until the transaction ends.
type TxRepository interface {
	NextNumber(ctx context.Context, docType numbering.DocType, at time.Time) (string, error)

	LockPR(ctx context.Context, id int64) (PurchaseRequest, error)
	CreatePR(ctx context.Context, pr PurchaseRequest) (int64, error)
	UpdatePR(ctx context.Context, pr PurchaseRequest) error
	DeletePR(ctx context.Context, id int64) error
	InsertPRItem(ctx context.Context, item PRItem) (int64, error)
	UpdatePRItem(ctx context.Context, item PRItem) error
	DeletePRItem(ctx context.Context, prID, itemID int64) error
	AddPRItemOrdered(ctx context.Context, itemID, qty int64) error

	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertPOItem(ctx context.Context, item POItem) (int64, error)
	AddPOItemReceived(ctx context.Context, itemID, delta int64) (POItem, error)
	UpdatePOStatus(ctx context.Context, id int64, status POStatus, deliveredAt time.Time) error

	LockGRN(ctx context.Context, id int64) (GoodsReceipt, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertGRNItem(ctx context.Context, item GRNItem) (int64, error)
	UpdateGRN(ctx context.Context, grn GoodsReceipt) error
	IncrementStock(ctx context.Context, in inventory.Inbound) error

	CreateInvoice(ctx context.Context, inv SupplierInvoice) (int64, error)
	LockInvoice(ctx context.Context, id int64) (SupplierInvoice, error)
	UpdateInvoiceBalance(ctx context.Context, inv SupplierInvoice) error
	GetPayment(ctx context.Context, id int64) (InvoicePayment, error)
	HasReversal(ctx context.Context, paymentID int64) (bool, error)
	InsertPayment(ctx context.Context, payment InvoicePayment) (int64, error)
}

// StockReader exposes the inventory reads procurement needs.
type StockReader interface {
	GetStock(ctx context.Context, productID int64) (inventory.StockLevel, error)
	ListStockLevels(ctx context.Context, branchID int64) ([]inventory.StockLevel, error)
}

// SupplierDirectory resolves suppliers.
type SupplierDirectory interface {
	GetSupplier(ctx context.Context, id int64) (suppliers.Supplier, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records request approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort guards replayable commands.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// SuggestionCache memoises reorder suggestions per branch.
type SuggestionCache interface {
	Fetch(ctx context.Context, branchID int64, loader func(context.Context) ([]reorder.Suggestion, error)) ([]reorder.Suggestion, error)
	Bump(ctx context.Context) error
}

// MetricsPort counts procurement outcomes.
type MetricsPort interface {
	DocumentIssued(docType string)
	ReceiptPosted(hasDiscrepancy bool)
	InvoiceMatched(hasDiscrepancy bool)
	PaymentRecorded(method string, reversal bool)
}

// Config tunes service behaviour. A zero InvoiceTolerance requires an exact match.
type Config struct {
	InvoiceTolerance decimal.Decimal
	DefaultDueDays   int
	Location         *time.Location
}

// Deps bundles optional collaborators. Nil members are skipped.
type Deps struct {
	Stock       StockReader
	Suppliers   SupplierDirectory
	Engine      *reorder.Engine
	Cache       SuggestionCache
	Approvals   ApprovalPort
	Audit       AuditPort
	Idempotency IdempotencyPort
	Events      EventPublisher
	Metrics     MetricsPort
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service orchestrates procurement flows.
type Service struct {
	repo        RepositoryPort
	stock       StockReader
	suppliers   SupplierDirectory
	engine      *reorder.Engine
	cache       SuggestionCache
	approvals   ApprovalPort
	audit       AuditPort
	idempotency IdempotencyPort
	events      EventPublisher
	metrics     MetricsPort
	logger      *slog.Logger
	validate    *validator.Validate
	cfg         Config
	now         func() time.Time
	flight      singleflight.Group
}

// DefaultTolerance is the invoice matching tolerance in currency units.
var DefaultTolerance = decimal.NewFromInt(1)

// NewService constructs procurement service.
func NewService(repo RepositoryPort, cfg Config, deps Deps) *Service {
	if cfg.InvoiceTolerance.IsNegative() {
		cfg.InvoiceTolerance = DefaultTolerance
	}
	if cfg.DefaultDueDays <= 0 {
		cfg.DefaultDueDays = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if deps.Engine == nil {
		deps.Engine = reorder.NewEngine(reorder.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		repo:        repo,
		stock:       deps.Stock,
		suppliers:   deps.Suppliers,
		engine:      deps.Engine,
		cache:       deps.Cache,
		approvals:   deps.Approvals,
		audit:       deps.Audit,
		idempotency: deps.Idempotency,
		events:      deps.Events,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		validate:    newValidator(),
		cfg:         cfg,
		now:         deps.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (s *Service) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fieldName(fe.Namespace()), fe.Tag())
	}
	return err
}

// fieldName turns "CreatePRInput.lines[0].qty" into "lines[0].qty".
func fieldName(namespace string) string {
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return strings.ToLower(namespace)
}

func (s *Service) clock() time.Time {
	return s.now().In(s.cfg.Location)
}

func (s *Service) actor(ctx context.Context, explicit int64) (int64, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if id := shared.ActorFromContext(ctx); id > 0 {
		return id, nil
	}
	return 0, shared.ErrActorRequired
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	log := shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: fmt.Sprintf("%d", entityID), Meta: meta, At: s.now()}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, prID, actorID int64, action shared.ApprovalAction, note string) {
	if s.approvals == nil {
		return
	}
	log := shared.ApprovalLog{Module: "procurement.pr", RefID: refID("PR", prID), ActorID: actorID, Action: action, Note: note, At: s.now()}
	if err := s.approvals.Record(ctx, log); err != nil {
		s.logger.Warn("procurement approval", slog.String("action", string(action)), slog.Any("error", err))
	}
}

// releaseKey frees an idempotency key after a failed command so the caller
// can retry it.
func (s *Service) releaseKey(ctx context.Context, key string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (s *Service) issued(docType numbering.DocType) {
	if s.metrics != nil {
		s.metrics.DocumentIssued(string(docType))
	}
}

// refID derives a stable UUID for cross-module references.
func refID(kind string, id int64) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("procurement:%s:%d", kind, id)))
}

func decimalField(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return invalid(field, "must not be negative")
	}
	if !value.Equal(value.Round(2)) {
		return invalid(field, "more than two decimal places")
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
