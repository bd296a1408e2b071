package redis

import (
	"github.com/redis/go-redis/v9"
)

type Client = client

var _ Client = (redis.UniversalClient)(nil)

func NewWithClient(cfg Config, cl Client) *Store {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "wsconn:"
	}
	return newStore(cfg, cl, true)
}
