package reference

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/payment/domain"
)

const dailyPrefix = "TXN"

// RedisGenerator issues TXN-YYMMDD-NNNNNN references from a per-day counter
// shared by every replica.
type RedisGenerator struct {
	rdb   *redis.Client
	clock clock.Clock
}

func NewRedisGenerator(rdb *redis.Client, clk clock.Clock) domain.ReferenceGenerator {
	return &RedisGenerator{rdb: rdb, clock: clk}
}

func (g *RedisGenerator) Next(ctx context.Context) (string, error) {
	now := g.clock.Now().UTC()
	key := dailyKey(now)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("payment reference sequence: %w", err)
	}
	if seq == 1 {
		_ = g.rdb.ExpireAt(ctx, key, now.Truncate(24*time.Hour).Add(48*time.Hour)).Err()
	}
	return formatDaily(now, seq), nil
}

func dailyKey(now time.Time) string {
	return "seq:payment:" + now.Format("060102")
}

// formatDaily zero-pads to six base-10 digits and grows past a million.
func formatDaily(now time.Time, seq int64) string {
	digits := strconv.FormatInt(seq, 10)
	if len(digits) < 6 {
		digits = strings.Repeat("0", 6-len(digits)) + digits
	}
	return fmt.Sprintf("%s-%s-%s", dailyPrefix, now.Format("060102"), digits)
}
