// Package reorder computes advisory purchase quantities from stock, reorder
// levels and consumption. It never mutates inventory.
package reorder

import (
	"github.com/shopspring/decimal"
)

// Reason explains why a product was flagged for reordering.
type Reason string

const (
	ReasonZeroStock  Reason = "Zero Stock"
	ReasonLowStock   Reason = "Low Stock"
	ReasonFastMoving Reason = "Fast Moving"
)

const (
	// DefaultLeadTimeMonths is used when a caller passes a non-positive lead time.
	DefaultLeadTimeMonths = 0.5
	// DefaultFastMovingThreshold is the monthly consumption above which a product is fast moving.
	DefaultFastMovingThreshold = 50.0
)

var safetyStockRatio = decimal.RequireFromString("0.2")

// Config tunes the engine.
type Config struct {
	FastMovingThreshold float64
	LeadTimeMonths      float64
}

// Engine evaluates reorder candidates.
type Engine struct {
	fastMoving decimal.Decimal
	leadTime   decimal.Decimal
}

// NewEngine builds an Engine, applying defaults for unset values.
func NewEngine(cfg Config) *Engine {
	fast, lead := cfg.FastMovingThreshold, cfg.LeadTimeMonths
	if fast <= 0 {
		fast = DefaultFastMovingThreshold
	}
	if lead <= 0 {
		lead = DefaultLeadTimeMonths
	}
	return &Engine{fastMoving: decimal.NewFromFloat(fast), leadTime: decimal.NewFromFloat(lead)}
}

// Input is a product stock snapshot.
type Input struct {
	ProductID          int64
	SupplierID         int64
	CurrentStock       int64
	ReorderLevel       int64
	MonthlyConsumption decimal.Decimal
	PendingOnOrder     int64
	UnitCost           decimal.Decimal
}

// Suggestion is an advisory purchase line.
type Suggestion struct {
	ProductID          int64           `json:"product_id"`
	SupplierID         int64           `json:"supplier_id"`
	CurrentStock       int64           `json:"current_stock"`
	ReorderLevel       int64           `json:"reorder_level"`
	MonthlyConsumption decimal.Decimal `json:"monthly_consumption"`
	PendingOnOrder     int64           `json:"pending_on_order"`
	SuggestedQty       int64           `json:"suggested_qty"`
	Reason             Reason          `json:"reason"`
	UnitCost           decimal.Decimal `json:"unit_cost"`
}

// Suggest returns max(ceil(consumption*leadTime + safety - stock - pending), reorderLevel)
// where safety = ceil(reorderLevel*0.2). leadTimeMonths <= 0 uses the engine default.
// The arithmetic is exact decimal so fractional lead times round up correctly.
func (e *Engine) Suggest(currentStock, reorderLevel int64, monthlyConsumption decimal.Decimal, pendingOnOrder int64, leadTimeMonths float64) int64 {
	lead := e.leadTime
	if leadTimeMonths > 0 {
		lead = decimal.NewFromFloat(leadTimeMonths)
	}
	safety := decimal.NewFromInt(reorderLevel).Mul(safetyStockRatio).Ceil()
	raw := monthlyConsumption.Mul(lead).
		Add(safety).
		Sub(decimal.NewFromInt(currentStock)).
		Sub(decimal.NewFromInt(pendingOnOrder)).
		Ceil().
		IntPart()
	if raw < reorderLevel {
		return reorderLevel
	}
	return raw
}

// Classify reports whether the product is a reorder candidate and why.
func (e *Engine) Classify(currentStock, reorderLevel int64, monthlyConsumption decimal.Decimal) (Reason, bool) {
	switch {
	case currentStock == 0:
		return ReasonZeroStock, true
	case currentStock <= reorderLevel:
		return ReasonLowStock, true
	case monthlyConsumption.GreaterThan(e.fastMoving):
		return ReasonFastMoving, true
	default:
		return "", false
	}
}

// Evaluate combines Classify and Suggest. Candidates whose suggested quantity
// is not positive are dropped.
func (e *Engine) Evaluate(in Input) (Suggestion, bool) {
	reason, ok := e.Classify(in.CurrentStock, in.ReorderLevel, in.MonthlyConsumption)
	if !ok {
		return Suggestion{}, false
	}
	qty := e.Suggest(in.CurrentStock, in.ReorderLevel, in.MonthlyConsumption, in.PendingOnOrder, 0)
	if qty <= 0 {
		return Suggestion{}, false
	}
	return Suggestion{
		ProductID:          in.ProductID,
		SupplierID:         in.SupplierID,
		CurrentStock:       in.CurrentStock,
		ReorderLevel:       in.ReorderLevel,
		MonthlyConsumption: in.MonthlyConsumption,
		PendingOnOrder:     in.PendingOnOrder,
		SuggestedQty:       qty,
		Reason:             reason,
		UnitCost:           in.UnitCost,
	}, true
}

// EvaluateAll evaluates every input, keeping candidates in input order.
func (e *Engine) EvaluateAll(inputs []Input) []Suggestion {
	out := make([]Suggestion, 0, len(inputs))
	for _, in := range inputs {
		if s, ok := e.Evaluate(in); ok {
			out = append(out, s)
		}
	}
	return out
}
