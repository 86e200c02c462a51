package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Monthlyaway/short-link-analytics/internal/model"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

const (
	// ShortCodePrefix is the prefix for short code -> URL keys in Redis
	ShortCodePrefix = "short:code:"
	// ClickCounterPrefix holds the unreconciled click delta of a code
	ClickCounterPrefix = "short:clicks:"
	// LastAccessPrefix holds the unreconciled last access time of a code
	LastAccessPrefix = "short:last_access:"
	// ClickLogPrefix holds queued click details, newest first
	ClickLogPrefix = "short:click_log:"
	// SyncSetKey is the set of codes with buffered clicks
	SyncSetKey = "short:sync"
	// PopularSetKey is the set of codes that crossed the popularity threshold
	PopularSetKey = "short:popular"
)

// clearBufferScript removes exactly what a snapshot consumed. Clicks buffered
// after the snapshot keep the counter positive, so the code stays in the sync
// set and the newer queue entries at the head of the list survive.
var clearBufferScript = redis.NewScript(`
local remaining = redis.call('DECRBY', KEYS[1], ARGV[1])
if remaining <= 0 then
	redis.call('DEL', KEYS[1])
	redis.call('SREM', KEYS[4], ARGV[4])
end
if ARGV[2] ~= '' and redis.call('GET', KEYS[2]) == ARGV[2] then
	redis.call('DEL', KEYS[2])
end
local consumed = tonumber(ARGV[3])
if consumed > 0 then
	local keep = redis.call('LLEN', KEYS[3]) - consumed
	if keep <= 0 then
		redis.call('DEL', KEYS[3])
	else
		redis.call('LTRIM', KEYS[3], 0, keep - 1)
	end
end
return remaining
`)

// RedisCache wraps the Redis client
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps an existing client without pinging it
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get retrieves the original URL for a given short code. A miss returns "".
func (r *RedisCache) Get(ctx context.Context, shortCode string) (string, error) {
	val, err := r.client.Get(ctx, ShortCodePrefix+shortCode).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get from Redis: %w", err)
	}
	return val, nil
}

// SetURL stores the original URL for a short code. ttl 0 keeps it until deleted.
func (r *RedisCache) SetURL(ctx context.Context, shortCode, originalURL string, ttl time.Duration) error {
	if err := r.client.Set(ctx, ShortCodePrefix+shortCode, originalURL, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}
	return nil
}

// Exists reports whether a URL mapping is cached for the code
func (r *RedisCache) Exists(ctx context.Context, shortCode string) (bool, error) {
	n, err := r.client.Exists(ctx, ShortCodePrefix+shortCode).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check Redis key: %w", err)
	}
	return n > 0, nil
}

// Delete removes a short code from cache
func (r *RedisCache) Delete(ctx context.Context, shortCode string) error {
	if err := r.client.Del(ctx, ShortCodePrefix+shortCode).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// BufferClick records one click for later reconciliation. Counter, last
// access, sync set membership and the detail entry are written in one
// MULTI/EXEC.
func (r *RedisCache) BufferClick(ctx context.Context, shortCode string, detail model.ClickDetail) error {
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("failed to encode click detail: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, ClickCounterPrefix+shortCode)
		pipe.Set(ctx, LastAccessPrefix+shortCode, detail.Timestamp.UTC().Format(time.RFC3339Nano), 0)
		pipe.SAdd(ctx, SyncSetKey, shortCode)
		pipe.LPush(ctx, ClickLogPrefix+shortCode, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to buffer click: %w", err)
	}
	return nil
}

// SyncMembers returns every code with buffered clicks
func (r *RedisCache) SyncMembers(ctx context.Context) ([]string, error) {
	codes, err := r.client.SMembers(ctx, SyncSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sync set: %w", err)
	}
	return codes, nil
}

// BufferSnapshot is a point-in-time read of a code's buffered stats.
type BufferSnapshot struct {
	ShortCode string
	Delta     int64
	// LastAccess is nil when no timestamp was buffered.
	LastAccess *time.Time
	// Details holds at most the requested batch of the newest decodable entries.
	Details []model.ClickDetail
	// Malformed counts entries in the batch that failed to decode.
	Malformed int

	rawLastAccess string
	queueLen      int64
}

// Snapshot reads the buffer of a code without modifying it. The reads run in
// one MULTI so counter and queue describe the same set of clicks.
func (r *RedisCache) Snapshot(ctx context.Context, shortCode string, batch int) (*BufferSnapshot, error) {
	pipe := r.client.TxPipeline()
	counterCmd := pipe.Get(ctx, ClickCounterPrefix+shortCode)
	lastCmd := pipe.Get(ctx, LastAccessPrefix+shortCode)
	lenCmd := pipe.LLen(ctx, ClickLogPrefix+shortCode)
	rangeCmd := pipe.LRange(ctx, ClickLogPrefix+shortCode, 0, int64(batch)-1)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read click buffer: %w", err)
	}

	snap := &BufferSnapshot{ShortCode: shortCode}

	if raw, err := counterCmd.Result(); err == nil {
		delta, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt click counter for %s: %w", shortCode, err)
		}
		snap.Delta = delta
	}

	if raw, err := lastCmd.Result(); err == nil {
		snap.rawLastAccess = raw
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			snap.LastAccess = &ts
		}
	}

	snap.queueLen = lenCmd.Val()
	for _, entry := range rangeCmd.Val() {
		var detail model.ClickDetail
		if err := json.Unmarshal([]byte(entry), &detail); err != nil || detail.Timestamp.IsZero() {
			snap.Malformed++
			continue
		}
		snap.Details = append(snap.Details, detail)
	}

	return snap, nil
}

// ClearBuffer removes what snap consumed and returns the clicks still pending.
func (r *RedisCache) ClearBuffer(ctx context.Context, snap *BufferSnapshot) (int64, error) {
	code := snap.ShortCode
	keys := []string{
		ClickCounterPrefix + code,
		LastAccessPrefix + code,
		ClickLogPrefix + code,
		SyncSetKey,
	}
	remaining, err := clearBufferScript.Run(ctx, r.client, keys,
		snap.Delta, snap.rawLastAccess, snap.queueLen, code).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to clear click buffer: %w", err)
	}
	return remaining, nil
}

// DiscardBuffer drops every piece of buffered state for a code
func (r *RedisCache) DiscardBuffer(ctx context.Context, shortCode string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx,
			ClickCounterPrefix+shortCode,
			LastAccessPrefix+shortCode,
			ClickLogPrefix+shortCode,
		)
		pipe.SRem(ctx, SyncSetKey, shortCode)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to discard click buffer: %w", err)
	}
	return nil
}

// PendingClicks returns the unreconciled click delta of a code
func (r *RedisCache) PendingClicks(ctx context.Context, shortCode string) (int64, error) {
	n, err := r.client.Get(ctx, ClickCounterPrefix+shortCode).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read click counter: %w", err)
	}
	return n, nil
}

// AddPopular marks a code as popular. Idempotent.
func (r *RedisCache) AddPopular(ctx context.Context, shortCode string) error {
	if err := r.client.SAdd(ctx, PopularSetKey, shortCode).Err(); err != nil {
		return fmt.Errorf("failed to add popular code: %w", err)
	}
	return nil
}

// IsPopular reports popular set membership
func (r *RedisCache) IsPopular(ctx context.Context, shortCode string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, PopularSetKey, shortCode).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check popular code: %w", err)
	}
	return ok, nil
}

// RemovePopular drops a code from the popular set
func (r *RedisCache) RemovePopular(ctx context.Context, shortCode string) error {
	if err := r.client.SRem(ctx, PopularSetKey, shortCode).Err(); err != nil {
		return fmt.Errorf("failed to remove popular code: %w", err)
	}
	return nil
}

// Ping checks the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *RedisCache) GetClient() *redis.Client {
	return r.client
}
