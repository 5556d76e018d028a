package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("sequence",
	fx.Provide(NewRedisGenerator),
)

// Generator issues human-readable business references for workload items
// enqueued without one.
type Generator interface {
	NextItemReference(ctx context.Context, tenantID string) (string, error)
}

type RedisGenerator struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisGenerator(p Params) Generator {
	return &RedisGenerator{
		rdb: p.Redis,
	}
}

func (g *RedisGenerator) NextItemReference(ctx context.Context, tenantID string) (string, error) {
	today := time.Now().UTC().Format("060102")
	key := fmt.Sprintf("seq:WI:%s:%s", tenantID, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		expire := time.Until(time.Now().Truncate(24 * time.Hour).Add(24*time.Hour - time.Second))
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	encoded := strings.ToUpper(fmt.Sprintf("%04s", strconv.FormatInt(seq, 36)))
	return fmt.Sprintf("WI-%s-%s", today, encoded), nil
}
