package procurement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procure/internal/inventory"
	"github.com/odyssey-erp/procure/internal/masterdata/suppliers"
	"github.com/odyssey-erp/procure/internal/numbering"
	"github.com/odyssey-erp/procure/internal/platform/db"
	"github.com/odyssey-erp/procure/internal/shared"
)

// memoryRepo is a transactional in-memory repository. A failed transaction
// restores the state captured when it began.
type memoryRepo struct {
	mu        sync.Mutex
	state     memoryState
	gen       *numbering.Generator
	attempts  int
	conflicts int
	txCount   int
}

type memoryState struct {
	nextID   int64
	counters map[string]int
	levels   map[int64]inventory.StockLevel
	prs      map[int64]PurchaseRequest
	prItems  map[int64]PRItem
	pos      map[int64]PurchaseOrder
	poItems  map[int64]POItem
	grns     map[int64]GoodsReceipt
	grnItems map[int64]GRNItem
	invoices map[int64]SupplierInvoice
	payments map[int64]InvoicePayment
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		gen:      numbering.NewGenerator(numbering.Config{}),
		attempts: 3,
		state: memoryState{
			counters: map[string]int{},
			levels:   map[int64]inventory.StockLevel{},
			prs:      map[int64]PurchaseRequest{},
			prItems:  map[int64]PRItem{},
			pos:      map[int64]PurchaseOrder{},
			poItems:  map[int64]POItem{},
			grns:     map[int64]GoodsReceipt{},
			grnItems: map[int64]GRNItem{},
			invoices: map[int64]SupplierInvoice{},
			payments: map[int64]InvoicePayment{},
		},
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s memoryState) clone() memoryState {
	return memoryState{
		nextID:   s.nextID,
		counters: cloneMap(s.counters),
		levels:   cloneMap(s.levels),
		prs:      cloneMap(s.prs),
		prItems:  cloneMap(s.prItems),
		pos:      cloneMap(s.pos),
		poItems:  cloneMap(s.poItems),
		grns:     cloneMap(s.grns),
		grnItems: cloneMap(s.grnItems),
		invoices: cloneMap(s.invoices),
		payments: cloneMap(s.payments),
	}
}

func (s *memoryState) id() int64 {
	s.nextID++
	return s.nextID
}

func (r *memoryRepo) addProduct(level inventory.StockLevel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.levels[level.ProductID] = level
}

func (r *memoryRepo) stockOf(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.levels[productID].QuantityInStock
}

func (r *memoryRepo) snapshot() memoryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.clone()
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return db.Retry(ctx, r.attempts, numbering.IsRetryable, func(ctx context.Context) error {
		r.txCount++
		saved := r.state.clone()
		if err := fn(ctx, &memoryTx{repo: r, s: &r.state}); err != nil {
			r.state = saved
			return err
		}
		return nil
	})
}

// StockReader

func (r *memoryRepo) GetStock(_ context.Context, productID int64) (inventory.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.state.levels[productID]
	if !ok {
		return inventory.StockLevel{}, inventory.ErrNotFound
	}
	return level, nil
}

func (r *memoryRepo) ListStockLevels(_ context.Context, branchID int64) ([]inventory.StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.StockLevel
	for _, level := range r.state.levels {
		if branchID == 0 || level.BranchID == branchID {
			out = append(out, level)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

// Reads

func (r *memoryRepo) GetPR(_ context.Context, id int64) (PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.loadPR(id)
}

func (r *memoryRepo) ListPRs(_ context.Context, filters ListFilters) ([]PurchaseRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PurchaseRequest
	for _, id := range sortedKeys(r.state.prs) {
		pr := r.state.prs[id]
		if filters.Status != "" && string(pr.Status) != filters.Status {
			continue
		}
		out = append(out, pr)
	}
	return out, nil
}

func (r *memoryRepo) GetPO(_ context.Context, id int64) (PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.loadPO(id)
}

func (r *memoryRepo) ListPOs(_ context.Context, filters ListFilters) ([]PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PurchaseOrder
	for _, id := range sortedKeys(r.state.pos) {
		po := r.state.pos[id]
		if filters.Status != "" && string(po.Status) != filters.Status {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

func (r *memoryRepo) GetGRN(_ context.Context, id int64) (GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.loadGRN(id)
}

func (r *memoryRepo) ListGRNs(_ context.Context, poID int64) ([]GoodsReceipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []GoodsReceipt
	for _, id := range sortedKeys(r.state.grns) {
		if grn := r.state.grns[id]; poID == 0 || grn.POID == poID {
			out = append(out, grn)
		}
	}
	return out, nil
}

func (r *memoryRepo) GetInvoice(_ context.Context, id int64) (SupplierInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.state.invoices[id]
	if !ok {
		return SupplierInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryRepo) ListInvoices(_ context.Context, filters ListFilters) ([]SupplierInvoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SupplierInvoice
	for _, id := range sortedKeys(r.state.invoices) {
		inv := r.state.invoices[id]
		if filters.Status != "" && string(inv.PaymentStatus) != filters.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (r *memoryRepo) ListOutstandingInvoices(ctx context.Context) ([]SupplierInvoice, error) {
	all, err := r.ListInvoices(ctx, ListFilters{})
	if err != nil {
		return nil, err
	}
	var out []SupplierInvoice
	for _, inv := range all {
		if inv.PaymentStatus != PaymentPaid {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryRepo) ListPayments(_ context.Context, invoiceID int64) ([]InvoicePayment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []InvoicePayment
	for _, id := range sortedKeys(r.state.payments) {
		if p := r.state.payments[id]; p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryRepo) PendingOnOrder(_ context.Context, productIDs []int64) (map[int64]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := make(map[int64]bool, len(productIDs))
	for _, id := range productIDs {
		want[id] = true
	}
	out := map[int64]int64{}
	for _, item := range r.state.poItems {
		po := r.state.pos[item.POID]
		if po.Status == POStatusReceived || !want[item.ProductID] {
			continue
		}
		out[item.ProductID] += item.Pending()
	}
	return out, nil
}

func (s *memoryState) loadPR(id int64) (PurchaseRequest, error) {
	pr, ok := s.prs[id]
	if !ok {
		return PurchaseRequest{}, ErrNotFound
	}
	for _, itemID := range sortedKeys(s.prItems) {
		if item := s.prItems[itemID]; item.PRID == id {
			pr.Items = append(pr.Items, item)
		}
	}
	return pr, nil
}

func (s *memoryState) loadPO(id int64) (PurchaseOrder, error) {
	po, ok := s.pos[id]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	for _, itemID := range sortedKeys(s.poItems) {
		if item := s.poItems[itemID]; item.POID == id {
			po.Items = append(po.Items, item)
		}
	}
	return po, nil
}

func (s *memoryState) loadGRN(id int64) (GoodsReceipt, error) {
	grn, ok := s.grns[id]
	if !ok {
		return GoodsReceipt{}, ErrNotFound
	}
	for _, itemID := range sortedKeys(s.grnItems) {
		if item := s.grnItems[itemID]; item.GRNID == id {
			grn.Items = append(grn.Items, item)
		}
	}
	return grn, nil
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

type memoryTx struct {
	repo *memoryRepo
	s    *memoryState
}

type memorySequencer struct {
	tx *memoryTx
}

func (m memorySequencer) NextSequence(_ context.Context, docType numbering.DocType, day time.Time) (int, error) {
	if m.tx.repo.conflicts > 0 {
		m.tx.repo.conflicts--
		return 0, numbering.ErrConflict
	}
	key := fmt.Sprintf("%s|%s", docType, day.Format(time.DateOnly))
	m.tx.s.counters[key]++
	return m.tx.s.counters[key], nil
}

func (tx *memoryTx) NextNumber(ctx context.Context, docType numbering.DocType, at time.Time) (string, error) {
	return tx.repo.gen.Next(ctx, memorySequencer{tx: tx}, docType, at)
}

func (tx *memoryTx) LockPR(_ context.Context, id int64) (PurchaseRequest, error) {
	return tx.s.loadPR(id)
}

func (tx *memoryTx) CreatePR(_ context.Context, pr PurchaseRequest) (int64, error) {
	pr.ID = tx.s.id()
	pr.Items = nil
	tx.s.prs[pr.ID] = pr
	return pr.ID, nil
}

func (tx *memoryTx) UpdatePR(_ context.Context, pr PurchaseRequest) error {
	if _, ok := tx.s.prs[pr.ID]; !ok {
		return ErrNotFound
	}
	pr.Items = nil
	tx.s.prs[pr.ID] = pr
	return nil
}

func (tx *memoryTx) DeletePR(_ context.Context, id int64) error {
	if _, ok := tx.s.prs[id]; !ok {
		return ErrNotFound
	}
	delete(tx.s.prs, id)
	for itemID, item := range tx.s.prItems {
		if item.PRID == id {
			delete(tx.s.prItems, itemID)
		}
	}
	return nil
}

func (tx *memoryTx) InsertPRItem(_ context.Context, item PRItem) (int64, error) {
	item.ID = tx.s.id()
	tx.s.prItems[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdatePRItem(_ context.Context, item PRItem) error {
	current, ok := tx.s.prItems[item.ID]
	if !ok {
		return ErrNotFound
	}
	current.RequestedQty = item.RequestedQty
	current.EstimatedUnitPrice = item.EstimatedUnitPrice
	current.LineTotal = item.LineTotal
	tx.s.prItems[item.ID] = current
	return nil
}

func (tx *memoryTx) DeletePRItem(_ context.Context, prID, itemID int64) error {
	item, ok := tx.s.prItems[itemID]
	if !ok || item.PRID != prID {
		return ErrNotFound
	}
	delete(tx.s.prItems, itemID)
	return nil
}

func (tx *memoryTx) AddPRItemOrdered(_ context.Context, itemID, qty int64) error {
	item, ok := tx.s.prItems[itemID]
	if !ok {
		return ErrNotFound
	}
	if item.OrderedQty+qty > item.RequestedQty {
		return &QuantityError{Kind: ErrQuantityExceedsRequest, ItemID: itemID, Requested: qty, Available: item.Outstanding()}
	}
	item.OrderedQty += qty
	tx.s.prItems[itemID] = item
	return nil
}

func (tx *memoryTx) LockPO(_ context.Context, id int64) (PurchaseOrder, error) {
	return tx.s.loadPO(id)
}

func (tx *memoryTx) CreatePO(_ context.Context, po PurchaseOrder) (int64, error) {
	po.ID = tx.s.id()
	po.Items = nil
	tx.s.pos[po.ID] = po
	return po.ID, nil
}

func (tx *memoryTx) InsertPOItem(_ context.Context, item POItem) (int64, error) {
	item.ID = tx.s.id()
	tx.s.poItems[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) AddPOItemReceived(_ context.Context, itemID, delta int64) (POItem, error) {
	item, ok := tx.s.poItems[itemID]
	if !ok {
		return POItem{}, ErrNotFound
	}
	if item.ReceivedQty+delta > item.OrderedQty {
		return POItem{}, &QuantityError{Kind: ErrOverReceipt, ItemID: itemID, Requested: delta, Available: item.Pending()}
	}
	item.ReceivedQty += delta
	tx.s.poItems[itemID] = item
	return item, nil
}

func (tx *memoryTx) UpdatePOStatus(_ context.Context, id int64, status POStatus, deliveredAt time.Time) error {
	po, ok := tx.s.pos[id]
	if !ok {
		return ErrNotFound
	}
	po.Status = status
	po.ActualDeliveryDate = deliveredAt
	tx.s.pos[id] = po
	return nil
}

func (tx *memoryTx) LockGRN(_ context.Context, id int64) (GoodsReceipt, error) {
	return tx.s.loadGRN(id)
}

func (tx *memoryTx) CreateGRN(_ context.Context, grn GoodsReceipt) (int64, error) {
	grn.ID = tx.s.id()
	grn.Items = nil
	tx.s.grns[grn.ID] = grn
	return grn.ID, nil
}

func (tx *memoryTx) InsertGRNItem(_ context.Context, item GRNItem) (int64, error) {
	item.ID = tx.s.id()
	tx.s.grnItems[item.ID] = item
	return item.ID, nil
}

func (tx *memoryTx) UpdateGRN(_ context.Context, grn GoodsReceipt) error {
	if _, ok := tx.s.grns[grn.ID]; !ok {
		return ErrNotFound
	}
	for _, item := range grn.Items {
		tx.s.grnItems[item.ID] = item
	}
	grn.Items = nil
	tx.s.grns[grn.ID] = grn
	return nil
}

func (tx *memoryTx) IncrementStock(_ context.Context, in inventory.Inbound) error {
	if in.Qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	level, ok := tx.s.levels[in.ProductID]
	if !ok {
		return inventory.ErrNotFound
	}
	level.QuantityInStock += in.Qty
	tx.s.levels[in.ProductID] = level
	return nil
}

func (tx *memoryTx) CreateInvoice(_ context.Context, inv SupplierInvoice) (int64, error) {
	inv.ID = tx.s.id()
	tx.s.invoices[inv.ID] = inv
	return inv.ID, nil
}

func (tx *memoryTx) LockInvoice(_ context.Context, id int64) (SupplierInvoice, error) {
	inv, ok := tx.s.invoices[id]
	if !ok {
		return SupplierInvoice{}, ErrNotFound
	}
	return inv, nil
}

func (tx *memoryTx) UpdateInvoiceBalance(_ context.Context, inv SupplierInvoice) error {
	current, ok := tx.s.invoices[inv.ID]
	if !ok {
		return ErrNotFound
	}
	current.PaidAmount = inv.PaidAmount
	current.BalanceAmount = inv.BalanceAmount
	current.PaymentStatus = inv.PaymentStatus
	tx.s.invoices[inv.ID] = current
	return nil
}

func (tx *memoryTx) GetPayment(_ context.Context, id int64) (InvoicePayment, error) {
	p, ok := tx.s.payments[id]
	if !ok {
		return InvoicePayment{}, ErrNotFound
	}
	return p, nil
}

func (tx *memoryTx) HasReversal(_ context.Context, paymentID int64) (bool, error) {
	for _, p := range tx.s.payments {
		if p.ReversalOf == paymentID {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertPayment(_ context.Context, p InvoicePayment) (int64, error) {
	p.ID = tx.s.id()
	tx.s.payments[p.ID] = p
	return p.ID, nil
}

type memorySuppliers map[int64]suppliers.Supplier

func (m memorySuppliers) GetSupplier(_ context.Context, id int64) (suppliers.Supplier, error) {
	s, ok := m[id]
	if !ok {
		return suppliers.Supplier{}, suppliers.ErrNotFound
	}
	if !s.IsActive {
		return suppliers.Supplier{}, suppliers.ErrInactive
	}
	return s, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.logs))
	for _, l := range a.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingApprovals struct {
	logs []shared.ApprovalLog
}

func (a *recordingApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys      map[string]bool
	deleteErr error
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.keys, key)
	return nil
}

type recordingEvents struct {
	events []StockChangedEvent
}

func (e *recordingEvents) PublishStockChanged(_ context.Context, evt StockChangedEvent) error {
	e.events = append(e.events, evt)
	return nil
}

// fixture wires a Service against memory fakes with a fixed clock.
type fixture struct {
	repo      *memoryRepo
	svc       *Service
	audit     *recordingAudit
	approvals *recordingApprovals
	events    *recordingEvents
	idem      *memoryIdempotency
	ctx       context.Context
	now       time.Time
}

const (
	requester = int64(7)
	approver  = int64(9)
	supplierA = int64(100)
)

func newFixture() *fixture {
	repo := newMemoryRepo()
	f := &fixture{
		repo:      repo,
		audit:     &recordingAudit{},
		approvals: &recordingApprovals{},
		events:    &recordingEvents{},
		idem:      &memoryIdempotency{keys: map[string]bool{}},
		ctx:       shared.ContextWithActor(context.Background(), requester),
		now:       time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC),
	}
	f.svc = NewService(repo, Config{InvoiceTolerance: decimal.RequireFromString("1.00")}, Deps{
		Stock:       repo,
		Suppliers:   memorySuppliers{supplierA: {ID: supplierA, Name: "Medisupply", IsActive: true}, 101: {ID: 101, Name: "Dormant", IsActive: false}},
		Approvals:   f.approvals,
		Audit:       f.audit,
		Idempotency: f.idem,
		Events:      f.events,
		Now:         func() time.Time { return f.now },
	})
	repo.addProduct(inventory.StockLevel{ProductID: 1, Name: "Amoxicillin 500mg", SupplierID: supplierA, QuantityInStock: 0, ReorderLevel: 10, MonthlyConsumption: dec("20"), UnitCost: dec("10")})
	repo.addProduct(inventory.StockLevel{ProductID: 2, Name: "Paracetamol 500mg", SupplierID: supplierA, QuantityInStock: 200, ReorderLevel: 20, MonthlyConsumption: dec("10"), UnitCost: dec("5")})
	repo.addProduct(inventory.StockLevel{ProductID: 3, Name: "Cetirizine 10mg", SupplierID: supplierA, QuantityInStock: 40, ReorderLevel: 5, MonthlyConsumption: dec("80"), UnitCost: dec("2.50")})
	return f
}

func (f *fixture) as(actorID int64) context.Context {
	return shared.ContextWithActor(context.Background(), actorID)
}

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decPtr(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}
