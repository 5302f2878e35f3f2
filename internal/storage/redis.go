package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sessionstore-go/internal/session"
)

// Redis layout for table T:
//
//	T:session:<id>  string  encoded payload
//	T:expiry        zset    member <id>, score expiry in unix ms
//
// Sessions without an expiry have no zset member. Every multi-key change runs
// as a Lua script so it is atomic on the server.

const insertSessionScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("SET", KEYS[1], ARGV[1])
if ARGV[3] ~= "" then
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
end
return 1
`

const upsertSessionScript = `
redis.call("SET", KEYS[1], ARGV[1])
if ARGV[3] ~= "" then
  redis.call("ZADD", KEYS[2], ARGV[3], ARGV[2])
else
  redis.call("ZREM", KEYS[2], ARGV[2])
end
return 1
`

const getSessionScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return nil
end
local score = redis.call("ZSCORE", KEYS[2], ARGV[1])
if not score then
  return {data}
end
return {data, score}
`

const deleteSessionScript = `
redis.call("ZREM", KEYS[2], ARGV[1])
return redis.call("DEL", KEYS[1])
`

const deleteExpiredScript = `
local ids = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[2] .. id)
end
if #ids > 0 then
  redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
end
return #ids
`

var (
	insertSessionLua = redis.NewScript(insertSessionScript)
	upsertSessionLua = redis.NewScript(upsertSessionScript)
	getSessionLua    = redis.NewScript(getSessionScript)
	deleteSessionLua = redis.NewScript(deleteSessionScript)
	deleteExpiredLua = redis.NewScript(deleteExpiredScript)
)

// RedisBackend stores sessions in Redis under a key prefix named by the table.
// The sweep script touches keys it discovers from the expiry index, so the
// backend targets standalone or single-shard deployments.
type RedisBackend struct {
	rdb   redis.UniversalClient
	table string
}

// NewRedisBackend returns a Redis-backed session table.
func NewRedisBackend(rdb redis.UniversalClient, table string) (*RedisBackend, error) {
	if rdb == nil {
		return nil, invalidInput("redis client is required")
	}
	if err := validTable(table); err != nil {
		return nil, err
	}
	return &RedisBackend{rdb: rdb, table: table}, nil
}

func (s *RedisBackend) sessionPrefix() string { return s.table + ":session:" }

func (s *RedisBackend) sessionKey(id session.ID) string { return s.sessionPrefix() + string(id) }

func (s *RedisBackend) expiryKey() string { return s.table + ":expiry" }

func redisExpiryArg(expiry *time.Time) string {
	if expiry == nil {
		return ""
	}
	return strconv.FormatInt(expiryMillis(*expiry), 10)
}

// EnsureTable is a no-op: a Redis keyspace needs no provisioning.
func (s *RedisBackend) EnsureTable(ctx context.Context) error {
	return nil
}

// Insert adds a row, reporting session.ErrCollision if the id exists.
func (s *RedisBackend) Insert(ctx context.Context, row session.Row) error {
	keys := []string{s.sessionKey(row.ID), s.expiryKey()}
	created, err := insertSessionLua.Run(ctx, s.rdb, keys, row.Data, string(row.ID), redisExpiryArg(row.Expiry)).Int64()
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", session.ErrCollision, row.ID)
	}
	return nil
}

// Upsert stores or replaces the row for row.ID.
func (s *RedisBackend) Upsert(ctx context.Context, row session.Row) error {
	keys := []string{s.sessionKey(row.ID), s.expiryKey()}
	if err := upsertSessionLua.Run(ctx, s.rdb, keys, row.Data, string(row.ID), redisExpiryArg(row.Expiry)).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get loads a row by id; a missing row yields nil, nil.
func (s *RedisBackend) Get(ctx context.Context, id session.ID) (*session.Row, error) {
	keys := []string{s.sessionKey(id), s.expiryKey()}
	res, err := getSessionLua.Run(ctx, s.rdb, keys, string(id)).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("failed to get session: empty reply")
	}

	data, ok := res[0].(string)
	if !ok {
		return nil, fmt.Errorf("failed to get session: unexpected payload type %T", res[0])
	}
	row := &session.Row{ID: id, Data: []byte(data)}

	if len(res) > 1 {
		score, ok := res[1].(string)
		if !ok {
			return nil, fmt.Errorf("failed to get session: unexpected expiry type %T", res[1])
		}
		ms, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse session expiry %q: %w", score, err)
		}
		t := fromMillis(int64(ms))
		row.Expiry = &t
	}
	return row, nil
}

// Delete removes a row by id.
func (s *RedisBackend) Delete(ctx context.Context, id session.ID) error {
	keys := []string{s.sessionKey(id), s.expiryKey()}
	if err := deleteSessionLua.Run(ctx, s.rdb, keys, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteExpired removes every session scored at or before now in one script.
func (s *RedisBackend) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := deleteExpiredLua.Run(ctx, s.rdb, []string{s.expiryKey()}, toMillis(now), s.sessionPrefix()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}
	return n, nil
}
