// Package numbering issues human readable, collision free document numbers of the
// form PREFIX-YYMMDD-NNNN, sequenced per document type and calendar day.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocType identifies a numbered document family.
type DocType string

const (
	PurchaseRequest DocType = "PR"
	PurchaseOrder   DocType = "PO"
	GoodsReceipt    DocType = "GRN"
	SupplierInvoice DocType = "INV"
	Payment         DocType = "PAY"
)

// MaxSequence is the highest sequence a (type, day) scope may issue.
const MaxSequence = 9999

const dayLayout = "060102"

var (
	// ErrConflict reports a transient collision while reserving a sequence; callers retry.
	ErrConflict = errors.New("numbering: document number generation conflict")
	// ErrSequenceExhausted reports more than MaxSequence documents in one day for a type.
	ErrSequenceExhausted = errors.New("numbering: daily sequence exhausted")
	// ErrUnknownType reports a document type without a configured prefix.
	ErrUnknownType = errors.New("numbering: unknown document type")
	// ErrMalformed reports a number that does not follow the PREFIX-YYMMDD-NNNN layout.
	ErrMalformed = errors.New("numbering: malformed document number")
)

// Sequencer atomically reserves the next sequence for a document type and day.
// Implementations must never hand the same value to two callers.
type Sequencer interface {
	NextSequence(ctx context.Context, docType DocType, day time.Time) (int, error)
}

// Config customises prefixes and the calendar used for day boundaries.
type Config struct {
	Prefixes map[DocType]string
	Location *time.Location
}

// Generator formats reserved sequences into document numbers.
type Generator struct {
	prefixes map[DocType]string
	loc      *time.Location
}

// DefaultPrefixes returns the built-in prefix per document type.
func DefaultPrefixes() map[DocType]string {
	return map[DocType]string{
		PurchaseRequest: "PR",
		PurchaseOrder:   "PO",
		GoodsReceipt:    "GRN",
		SupplierInvoice: "INV",
		Payment:         "PAY",
	}
}

// NewGenerator builds a Generator. Missing prefixes fall back to the defaults.
func NewGenerator(cfg Config) *Generator {
	prefixes := DefaultPrefixes()
	for docType, prefix := range cfg.Prefixes {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			prefixes[docType] = prefix
		}
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{prefixes: prefixes, loc: loc}
}

// Day returns the calendar day (midnight in the generator location) that scopes at.
func (g *Generator) Day(at time.Time) time.Time {
	local := at.In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
}

// Prefix returns the configured prefix for docType.
func (g *Generator) Prefix(docType DocType) (string, error) {
	prefix, ok := g.prefixes[docType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, docType)
	}
	return prefix, nil
}

// Next reserves a sequence through seq and returns the formatted number.
func (g *Generator) Next(ctx context.Context, seq Sequencer, docType DocType, at time.Time) (string, error) {
	prefix, err := g.Prefix(docType)
	if err != nil {
		return "", err
	}
	if at.IsZero() {
		at = time.Now()
	}
	day := g.Day(at)
	n, err := seq.NextSequence(ctx, docType, day)
	if err != nil {
		return "", err
	}
	if n < 1 {
		return "", fmt.Errorf("numbering: sequencer returned %d for %s", n, docType)
	}
	if n > MaxSequence {
		return "", fmt.Errorf("%w: %s on %s", ErrSequenceExhausted, docType, day.Format("2006-01-02"))
	}
	return Format(prefix, day, n), nil
}

// Format renders PREFIX-YYMMDD-NNNN.
func Format(prefix string, day time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, day.Format(dayLayout), seq)
}

// Parse splits a document number into its prefix, day and sequence.
func Parse(number string) (string, time.Time, int, error) {
	parts := strings.Split(number, "-")
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != len(dayLayout) || len(parts[2]) != 4 {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	day, err := time.Parse(dayLayout, parts[1])
	if err != nil {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	seq, err := strconv.Atoi(parts[2])
	if err != nil || seq < 1 {
		return "", time.Time{}, 0, fmt.Errorf("%w: %q", ErrMalformed, number)
	}
	return parts[0], day, seq, nil
}

// IsRetryable reports whether err is a transient numbering conflict.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
