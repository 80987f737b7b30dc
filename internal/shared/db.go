package shared

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the statement subset of pgxpool.Pool and pgx.Tx used by the
// shared stores.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}
