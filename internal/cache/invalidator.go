package cache

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/radvis/radvis-backend/internal/logger"
)

// Invalidator drops the read-cache entries derived from one doctor's data.
// It is invoked once per accepted upload batch, at enqueue time; the cached
// aggregates it clears are owned by the read path, which is outside this
// service.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID uuid.UUID) error
	Close() error
}

// ownerKeyPatterns lists every cache key family derived from a doctor id.
// Patterns containing '*' are expanded with SCAN.
func ownerKeyPatterns(doctorID uuid.UUID) []string {
	id := doctorID.String()
	return []string{
		"patients:" + id,
		"totalxrays:" + id,
		"xrayStats:" + id,
		"genderxrays:" + id,
		"agexrays:" + id,
		"daysxrays:" + id,
		"recentXrays:" + id + ":*",
		"allXrayObjects:" + id,
		"commonAbnormalities:" + id,
	}
}

type redisInvalidator struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedisInvalidator(log *logger.Logger) (Invalidator, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisInvalidator{
		log: log.With("service", "CacheInvalidator"),
		rdb: rdb,
	}, nil
}

func NewRedisInvalidatorWithClient(log *logger.Logger, rdb *goredis.Client) Invalidator {
	return &redisInvalidator{log: log.With("service", "CacheInvalidator"), rdb: rdb}
}

func (inv *redisInvalidator) Invalidate(ctx context.Context, doctorID uuid.UUID) error {
	for _, pattern := range ownerKeyPatterns(doctorID) {
		if strings.Contains(pattern, "*") {
			if err := inv.deleteByPattern(ctx, pattern); err != nil {
				return err
			}
			continue
		}
		if err := inv.rdb.Del(ctx, pattern).Err(); err != nil {
			return fmt.Errorf("cache delete %s: %w", pattern, err)
		}
	}
	inv.log.Debug("Invalidated cached reads for doctor", "doctorID", doctorID)
	return nil
}

func (inv *redisInvalidator) deleteByPattern(ctx context.Context, pattern string) error {
	iter := inv.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan %s: %w", pattern, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := inv.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", pattern, err)
	}
	return nil
}

func (inv *redisInvalidator) Close() error {
	if inv == nil || inv.rdb == nil {
		return nil
	}
	return inv.rdb.Close()
}
