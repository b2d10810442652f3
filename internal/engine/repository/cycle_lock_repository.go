package repository

import (
	"context"
	"fmt"
	"time"

	"golang-options-engine/pkg/common"
	"golang-options-engine/pkg/redis"

	goredis "github.com/redis/go-redis/v9"
)

// CycleLockRepository serializes cycles per account. A lock is held for the
// duration of one cycle; the TTL only guards against a crashed holder.
type CycleLockRepository interface {
	Acquire(ctx context.Context, accountID uint, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, accountID uint, owner string) error
}

type cycleLockRepository struct {
	redisClient *redis.Client
}

func NewCycleLockRepository(redisClient *redis.Client) CycleLockRepository {
	return &cycleLockRepository{redisClient: redisClient}
}

// releaseScript deletes the lock only when the caller still owns it, so a
// slow cycle whose lock expired cannot release a newer holder's lock.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func cycleLockKey(accountID uint) string {
	return fmt.Sprintf("%s:%d", common.RedisKeyCycleLock, accountID)
}

func (r *cycleLockRepository) Acquire(ctx context.Context, accountID uint, owner string, ttl time.Duration) (bool, error) {
	ok, err := r.redisClient.SetNX(ctx, cycleLockKey(accountID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire cycle lock: %w", err)
	}
	return ok, nil
}

func (r *cycleLockRepository) Release(ctx context.Context, accountID uint, owner string) error {
	if err := releaseScript.Run(ctx, r.redisClient.Client, []string{cycleLockKey(accountID)}, owner).Err(); err != nil {
		return fmt.Errorf("failed to release cycle lock: %w", err)
	}
	return nil
}
