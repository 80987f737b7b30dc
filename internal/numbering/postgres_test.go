package numbering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type scriptedRow struct {
	seq int
	err error
}

func (r scriptedRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = r.seq
	return nil
}

type scriptedQuerier struct {
	row  scriptedRow
	args []any
}

func (q *scriptedQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	q.args = args
	return q.row
}

func TestPGSequencerReservesCounter(t *testing.T) {
	q := &scriptedQuerier{row: scriptedRow{seq: 7}}
	day := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)

	seq, err := NewPGSequencer(q).NextSequence(context.Background(), GoodsReceipt, day)
	require.NoError(t, err)
	require.Equal(t, 7, seq)
	require.Equal(t, []any{"GRN", day}, q.args)
}

func TestPGSequencerMapsContention(t *testing.T) {
	for _, code := range []string{"40001", "40P01", "23505"} {
		q := &scriptedQuerier{row: scriptedRow{err: &pgconn.PgError{Code: code}}}
		_, err := NewPGSequencer(q).NextSequence(context.Background(), PurchaseOrder, time.Now())
		require.ErrorIs(t, err, ErrConflict, code)
		require.True(t, IsRetryable(err))
	}

	q := &scriptedQuerier{row: scriptedRow{err: errors.New("relation does not exist")}}
	_, err := NewPGSequencer(q).NextSequence(context.Background(), PurchaseOrder, time.Now())
	require.Error(t, err)
	require.False(t, IsRetryable(err))
}
