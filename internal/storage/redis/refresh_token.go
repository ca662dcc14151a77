package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/taskboard-auth/internal/models"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
)

// KEYS: token, user tokens set, expiry zset, user.
// ARGV: hash, user_id, expires_at (ms), created_at (ms), pexpireat (ms).
// -1 - пользователя нет, 0 - токен уже сохранён.
var saveTokenScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 0 then
	return -1
end
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'user_id', ARGV[2], 'expires_at', ARGV[3], 'created_at', ARGV[4])
redis.call('PEXPIREAT', KEYS[1], ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// KEYS: token, expiry zset. ARGV: hash, user key prefix.
var deleteTokenScript = goredis.NewScript(`
local uid = redis.call('HGET', KEYS[1], 'user_id')
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
if uid then
	redis.call('SREM', ARGV[2] .. uid .. ':rt', ARGV[1])
end
return 1
`)

// KEYS: user tokens set, expiry zset. ARGV: token key prefix.
var deleteUserTokensScript = goredis.NewScript(`
local hashes = redis.call('SMEMBERS', KEYS[1])
for _, h in ipairs(hashes) do
	redis.call('DEL', ARGV[1] .. h)
	redis.call('ZREM', KEYS[2], h)
end
redis.call('DEL', KEYS[1])
return #hashes
`)

// KEYS: user tokens set, expiry zset. ARGV: token key prefix, now (ms).
var deleteExpiredUserTokensScript = goredis.NewScript(`
local now = tonumber(ARGV[2])
local n = 0
for _, h in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	local score = redis.call('ZSCORE', KEYS[2], h)
	if (not score) or tonumber(score) <= now then
		redis.call('DEL', ARGV[1] .. h)
		redis.call('ZREM', KEYS[2], h)
		redis.call('SREM', KEYS[1], h)
		n = n + 1
	end
end
return n
`)

// KEYS: expiry zset. ARGV: token key prefix, user key prefix, now (ms).
var deleteExpiredTokensScript = goredis.NewScript(`
local hashes = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[3])
for _, h in ipairs(hashes) do
	local key = ARGV[1] .. h
	local uid = redis.call('HGET', key, 'user_id')
	redis.call('DEL', key)
	redis.call('ZREM', KEYS[1], h)
	if uid then
		redis.call('SREM', ARGV[2] .. uid .. ':rt', h)
	end
end
return #hashes
`)

// SaveRefreshToken сохраняет refresh-токен. Сам ключ живёт ещё
// expiredRetention после истечения, чтобы отличать «истёк» от «не найден».
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.redis.SaveRefreshToken"

	res, err := saveTokenScript.Run(ctx, s.rdb,
		[]string{
			s.tokenKey(token.TokenHash),
			s.userTokensKey(token.UserID),
			s.expiryKey(),
			s.userKey(token.UserID),
		},
		token.TokenHash,
		token.UserID,
		toMillis(token.ExpiresAt),
		toMillis(token.CreatedAt),
		toMillis(token.ExpiresAt.Add(expiredRetention)),
	).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	switch res {
	case -1:
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	case 0:
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	return nil
}

// RefreshTokenByHash находит refresh-токен по хэшу.
func (s *Storage) RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	const op = "storage.redis.RefreshTokenByHash"

	m, err := s.rdb.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(m) == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	userID, err := parseInt(m, "user_id")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errCorrupted, err)
	}

	expires, err := parseInt(m, "expires_at")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errCorrupted, err)
	}

	created, err := parseInt(m, "created_at")
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errCorrupted, err)
	}

	return &models.RefreshToken{
		TokenHash: hash,
		UserID:    userID,
		ExpiresAt: fromMillis(expires),
		CreatedAt: fromMillis(created),
	}, nil
}

// DeleteRefreshToken удаляет токен вместе с индексами; повторный вызов безопасен.
func (s *Storage) DeleteRefreshToken(ctx context.Context, hash string) error {
	const op = "storage.redis.DeleteRefreshToken"

	err := deleteTokenScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(hash), s.expiryKey()},
		hash, s.userKeyPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteUserRefreshTokens удаляет все refresh-токены пользователя.
func (s *Storage) DeleteUserRefreshTokens(ctx context.Context, userID int64) error {
	const op = "storage.redis.DeleteUserRefreshTokens"

	err := deleteUserTokensScript.Run(ctx, s.rdb,
		[]string{s.userTokensKey(userID), s.expiryKey()},
		s.tokenKeyPrefix(),
	).Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpiredUserTokens удаляет истёкшие (expires_at <= now) токены пользователя.
func (s *Storage) DeleteExpiredUserTokens(ctx context.Context, userID int64, now time.Time) error {
	const op = "storage.redis.DeleteExpiredUserTokens"

	err := deleteExpiredUserTokensScript.Run(ctx, s.rdb,
		[]string{s.userTokensKey(userID), s.expiryKey()},
		s.tokenKeyPrefix(), strconv.FormatInt(toMillis(now), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// DeleteExpiredTokens удаляет все истёкшие токены и возвращает их количество.
func (s *Storage) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.redis.DeleteExpiredTokens"

	n, err := deleteExpiredTokensScript.Run(ctx, s.rdb,
		[]string{s.expiryKey()},
		s.tokenKeyPrefix(), s.userKeyPrefix(), strconv.FormatInt(toMillis(now), 10),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return n, nil
}
