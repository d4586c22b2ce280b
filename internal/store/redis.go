package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shopforge/mes/internal/errs"
)

// RedisStore backs the fast/ephemeral paths described in SPEC_FULL §2:
// the reschedule-serialization lease (Coordinator), idempotency records
// for mutating REST calls, and a live-telemetry cache the detectors can
// read without round-tripping Postgres on every ~1s tick. It implements
// Coordinator and IdempotencyBackend, not the full Store interface — the
// teacher's RedisStore is the durable primary; here Postgres is.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials Redis and verifies reachability, mirroring the
// teacher's constructor.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errs.WrapExternal(err, "ping redis at %s", addr)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// --- Coordinator (reschedule-serialization lease) ---

func (s *RedisStore) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errs.WrapExternal(err, "acquire lease %s", key)
	}
	return ok, nil
}

const renewLeaseScript = `
local val = redis.call("get", KEYS[1])
if not val then
	return -1
end
if val == ARGV[1] then
	return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
else
	return -2
end
`

func (s *RedisStore) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := s.client.Eval(ctx, renewLeaseScript, []string{key}, value, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, errs.WrapExternal(err, "renew lease %s", key)
	}
	code, _ := res.(int64)
	return code == 1, nil
}

const releaseLeaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (s *RedisStore) ReleaseLease(ctx context.Context, key, value string) error {
	if err := s.client.Eval(ctx, releaseLeaseScript, []string{key}, value).Err(); err != nil {
		return errs.WrapExternal(err, "release lease %s", key)
	}
	return nil
}

func (s *RedisStore) GetLockOwner(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errs.WrapExternal(err, "get lock owner %s", key)
	}
	return val, nil
}

func (s *RedisStore) ScanLocks(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, errs.WrapExternal(err, "scan locks %s", pattern)
	}
	return keys, nil
}

// --- IdempotencyBackend ---

func (s *RedisStore) SetIdempotencyRecordNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, errs.WrapExternal(err, "idempotency setnx %s", key)
	}
	return ok, nil
}

func (s *RedisStore) GetIdempotencyRecord(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errs.WrapExternal(err, "idempotency get %s", key)
	}
	return val, nil
}

func (s *RedisStore) SetIdempotencyRecord(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return errs.WrapExternal(err, "idempotency set %s", key)
	}
	return nil
}

// --- Telemetry cache ---
// Detectors read through here first; the ingest path writes to both this
// cache and PostgresStore.UpsertTelemetryLive so a detector restart never
// needs to wait on a cold Postgres scan.

const telemetryCacheTTL = 5 * time.Minute

func telemetryCacheKey(machineID string) string { return "mes:telemetry:live:" + machineID }

func (s *RedisStore) CacheTelemetryLive(ctx context.Context, t *TelemetrySnapshotLive) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errs.WrapExternal(err, "marshal telemetry live")
	}
	if err := s.client.Set(ctx, telemetryCacheKey(t.MachineID), b, telemetryCacheTTL).Err(); err != nil {
		return errs.WrapExternal(err, "cache telemetry live %s", t.MachineID)
	}
	return nil
}

func (s *RedisStore) ListCachedTelemetryLive(ctx context.Context) ([]*TelemetrySnapshotLive, error) {
	keys, err := s.ScanLocks(ctx, "mes:telemetry:live:*")
	if err != nil {
		return nil, err
	}
	out := make([]*TelemetrySnapshotLive, 0, len(keys))
	for _, k := range keys {
		val, err := s.client.Get(ctx, k).Result()
		if err != nil {
			continue
		}
		t := &TelemetrySnapshotLive{}
		if err := json.Unmarshal([]byte(val), t); err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}
