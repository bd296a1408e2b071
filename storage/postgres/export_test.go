package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Pool = pool

var _ Pool = (*pgxpool.Pool)(nil)

func NewWithPool(ctx context.Context, cfg Config, p Pool) (*Store, error) {
	return newStore(ctx, cfg, p, true)
}
