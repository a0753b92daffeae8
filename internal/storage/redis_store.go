package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-matchmaking/internal/apperr"
)

const maxTxRetries = 5

var delIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// PERSIST answers 0 on a key without TTL, so success is reported explicitly.
var expireIfEqual = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[2]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	redis.call("PERSIST", KEYS[1])
end
return 1
`)

// RedisOptions selects a single node, a sentinel group (MasterName set) or a
// cluster (several Addrs, no MasterName).
type RedisOptions struct {
	Addrs      []string
	Password   string
	DB         int
	MasterName string
}

func NewRedisClient(opts RedisOptions) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      opts.Addrs,
		Password:   opts.Password,
		DB:         opts.DB,
		MasterName: opts.MasterName,
	})
}

// RedisStore implements StateStore on top of go-redis. Every call is bounded
// by opTimeout in addition to the caller's context.
type RedisStore struct {
	client    redis.UniversalClient
	opTimeout time.Duration
}

func NewRedisStore(client redis.UniversalClient, opTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, opTimeout: opTimeout}
}

func (s *RedisStore) Client() redis.UniversalClient { return s.client }

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	if err != nil {
		return "", apperr.StoreUnavailable("get", err)
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperr.StoreUnavailable("set", err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apperr.StoreUnavailable("setnx", err)
	}
	return ok, nil
}

func (s *RedisStore) DelIfEqual(ctx context.Context, key, value string) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := delIfEqual.Run(ctx, s.client, []string{key}, value).Int64()
	if err != nil {
		return false, apperr.StoreUnavailable("del_if_equal", err)
	}
	return n == 1, nil
}

func (s *RedisStore) ExpireIfEqual(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := expireIfEqual.Run(ctx, s.client, []string{key}, value, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, apperr.StoreUnavailable("expire_if_equal", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperr.StoreUnavailable("incr", err)
	}
	return n, nil
}

func (s *RedisStore) GeoAdd(ctx context.Context, key, member string, lat, lon float64) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	err := s.client.GeoAdd(ctx, key, &redis.GeoLocation{Name: member, Latitude: lat, Longitude: lon}).Err()
	if err != nil {
		return apperr.StoreUnavailable("geoadd", err)
	}
	return nil
}

// GeoRadius returns members within radiusMeters of the point, nearest first.
func (s *RedisStore) GeoRadius(ctx context.Context, key string, lat, lon, radiusMeters float64, count int) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	res, err := s.client.GeoRadius(ctx, key, lon, lat, &redis.GeoRadiusQuery{
		Radius: radiusMeters,
		Unit:   "m",
		Count:  count,
		Sort:   "ASC",
	}).Result()
	if err != nil {
		return nil, apperr.StoreUnavailable("georadius", err)
	}
	out := make([]string, 0, len(res))
	for _, g := range res {
		out = append(out, g.Name)
	}
	return out, nil
}

func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	out, err := s.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, apperr.StoreUnavailable("zrange", err)
	}
	return out, nil
}

func (s *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return apperr.StoreUnavailable("hset", err)
	}
	return nil
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	if err != nil {
		return "", apperr.StoreUnavailable("hget", err)
	}
	return v, nil
}

type updateAborted struct{ err error }

func (u *updateAborted) Error() string { return u.err.Error() }

// HUpdate applies fn to a hash field under WATCH so concurrent updates of the
// same hash are serialized. Conflicting transactions are retried.
func (s *RedisStore) HUpdate(ctx context.Context, key, field string, fn UpdateFunc) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, field).Result()
		found := true
		switch {
		case errors.Is(err, redis.Nil):
			found = false
		case err != nil:
			return err
		}
		next, err := fn(cur, found)
		if err != nil {
			return &updateAborted{err: err}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, next)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		var aborted *updateAborted
		if errors.As(err, &aborted) {
			return aborted.err
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return apperr.StoreUnavailable("hupdate", err)
	}
	return apperr.StoreUnavailable("hupdate", ErrTxConflict)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperr.StoreUnavailable("ping", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
