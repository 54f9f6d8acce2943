package counter

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Skeyelab/annualreview.com/internal/pkg/cache"
)

const (
	standardGenerationsKey = "generation:counters:standard"
	premiumGenerationsKey  = "generation:counters:premium"
)

// AddGeneration increments the pending generation counter for a user in Redis
func AddGeneration(userID uint, premium bool) error {
	key := standardGenerationsKey
	if premium {
		key = premiumGenerationsKey
	}
	field := strconv.FormatUint(uint64(userID), 10)
	return cache.GetClient().HIncrBy(context.Background(), key, field, 1).Err()
}

// FlushAll drains the pending counters into users.generation_count
func FlushAll(db *gorm.DB) error {
	if err := flushHashToUsers(db, standardGenerationsKey); err != nil {
		return err
	}
	return flushHashToUsers(db, premiumGenerationsKey)
}

// flushHashToUsers drains a Redis hash atomically and applies batched
// increments. RENAME to a temporary key avoids losing in-flight increments.
// Counts are only deleted once applied: if the database rejects an update
// mid-drain, the unapplied fields are merged back into the live key so the
// next flush tick retries them.
func flushHashToUsers(db *gorm.DB, redisKey string) error {
	ctx := context.Background()
	rdb := cache.GetClient()

	tmpKey := fmt.Sprintf("%s:tmp:%d", redisKey, time.Now().UnixNano())
	if err := rdb.Do(ctx, "RENAME", redisKey, tmpKey).Err(); err != nil {
		// Nothing to flush when the key does not exist.
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err.Error() == "redis: nil" {
			return nil
		}
		return err
	}

	entries, err := rdb.HGetAll(ctx, tmpKey).Result()
	if err != nil {
		// Leave the tmp key in place; the counts are safer stranded than
		// deleted.
		return err
	}

	applied := make(map[string]bool, len(entries))
	for field, raw := range entries {
		userID, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			applied[field] = true
			continue
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta <= 0 {
			applied[field] = true
			continue
		}
		if err := db.Exec(
			"UPDATE users SET generation_count = generation_count + ? WHERE id = ?",
			delta, userID,
		).Error; err != nil {
			restoreUnapplied(ctx, rdb, redisKey, tmpKey, entries, applied)
			return err
		}
		applied[field] = true
	}

	rdb.Del(ctx, tmpKey)
	return nil
}

// restoreUnapplied merges the fields a failed drain did not apply back into
// the live counter key and drops the temporary one.
func restoreUnapplied(ctx context.Context, rdb *redis.Client, redisKey, tmpKey string, entries map[string]string, applied map[string]bool) {
	for field, raw := range entries {
		if applied[field] {
			continue
		}
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || delta <= 0 {
			continue
		}
		rdb.HIncrBy(ctx, redisKey, field, delta)
	}
	rdb.Del(ctx, tmpKey)
}
