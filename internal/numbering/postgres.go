package numbering

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/procure/internal/platform/db"
)

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const reserveSequenceSQL = `
INSERT INTO document_counters (doc_type, day, last_seq)
VALUES ($1, $2, 1)
ON CONFLICT (doc_type, day)
DO UPDATE SET last_seq = document_counters.last_seq + 1, updated_at = NOW()
RETURNING last_seq`

// PGSequencer reserves sequences in the document_counters table. Bound to a
// transaction, the reservation commits or rolls back with the document itself.
type PGSequencer struct {
	q Querier
}

// NewPGSequencer binds a sequencer to q.
func NewPGSequencer(q Querier) *PGSequencer {
	return &PGSequencer{q: q}
}

// NextSequence increments and returns the counter row for (docType, day).
func (s *PGSequencer) NextSequence(ctx context.Context, docType DocType, day time.Time) (int, error) {
	var seq int
	if err := s.q.QueryRow(ctx, reserveSequenceSQL, string(docType), day).Scan(&seq); err != nil {
		if db.IsSerializationFailure(err) || db.IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return 0, fmt.Errorf("numbering: reserve %s sequence: %w", docType, err)
	}
	return seq, nil
}
