package app

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/seatbill/internal/clock"
	"github.com/smallbiznis/seatbill/internal/config"
	paymentdomain "github.com/smallbiznis/seatbill/internal/payment/domain"
	"github.com/smallbiznis/seatbill/internal/payment/reference"
	"github.com/smallbiznis/seatbill/pkg/keylock"
	"go.uber.org/zap"
)

const (
	lockPrefix = "seatbill:lock:"
	lockTTL    = 30 * time.Second
)

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}

// ProvideLocker picks the per-license critical section. Redis is required
// once more than one replica serves writes.
func ProvideLocker(cfg config.Config, rdb *goredis.Client, log *zap.Logger) keylock.Locker {
	if cfg.LockBackend == config.BackendRedis && rdb != nil {
		log.Info("using redis license lock")
		return keylock.NewRedisLocker(rdb, lockPrefix, lockTTL)
	}
	if cfg.LockBackend == config.BackendRedis {
		log.Warn("redis lock requested without redis, falling back to memory")
	}
	return keylock.NewMemoryLocker()
}

func ProvideReferenceGenerator(cfg config.Config, rdb *goredis.Client, clk clock.Clock, log *zap.Logger) paymentdomain.ReferenceGenerator {
	if cfg.ReferenceBackend == config.BackendRedis && rdb != nil {
		log.Info("using redis payment reference sequence")
		return reference.NewRedisGenerator(rdb, clk)
	}
	if cfg.ReferenceBackend == config.BackendRedis {
		log.Warn("redis references requested without redis, falling back to ulid")
	}
	return reference.NewULIDGenerator(clk)
}
