// redis - альтернативная реализация storage.Storage поверх Redis.
//
// Раскладка ключей (prefix по умолчанию "auth:"):
//   - {p}user:seq           - счётчик идентификаторов (INCR);
//   - {p}user:{id}          - HASH пользователя (name, email, password_hash, token_version, created_at);
//   - {p}user:email:{email} - id пользователя, обеспечивает уникальность email;
//   - {p}user:{id}:rt       - SET хэшей refresh-токенов пользователя;
//   - {p}rt:{hash}          - HASH refresh-токена (user_id, expires_at, created_at);
//   - {p}rt:expiry          - ZSET хэшей по expires_at (unix ms) для очистки.
//
// Все многоключевые изменения выполняются Lua-скриптами, поэтому каждая
// операция атомарна относительно конкурентных запросов.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/taskboard-auth/internal/storage"
)

// expiredRetention - сколько истёкший refresh-токен остаётся в Redis после expires_at.
// Пока запись жива, Refresh отвечает «истёк», а не «не найден».
const expiredRetention = 24 * time.Hour

// DefaultPrefix - префикс ключей по умолчанию.
const DefaultPrefix = "auth:"

type Storage struct {
	rdb    *goredis.Client
	prefix string
}

// New создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
func New(ctx context.Context, redisURL, prefix string) (*Storage, error) {
	const op = "storage.redis.New"

	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := goredis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return NewWithClient(rdb, prefix), nil
}

// NewWithClient оборачивает уже созданный клиент.
// Если prefix пустой - используется DefaultPrefix.
func NewWithClient(rdb *goredis.Client, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	return &Storage{rdb: rdb, prefix: prefix}
}

// Ping проверяет доступность Redis (readiness).
func (s *Storage) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (s *Storage) Close() {
	_ = s.rdb.Close()
}

func (s *Storage) seqKey() string { return s.prefix + "user:seq" }

func (s *Storage) userKeyPrefix() string { return s.prefix + "user:" }

func (s *Storage) userKey(id int64) string { return s.userKeyPrefix() + strconv.FormatInt(id, 10) }

func (s *Storage) emailKey(email string) string { return s.prefix + "user:email:" + email }

func (s *Storage) userTokensKey(id int64) string { return s.userKey(id) + ":rt" }

func (s *Storage) tokenKeyPrefix() string { return s.prefix + "rt:" }

func (s *Storage) tokenKey(hash string) string { return s.tokenKeyPrefix() + hash }

func (s *Storage) expiryKey() string { return s.prefix + "rt:expiry" }

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func parseInt(m map[string]string, k string) (int64, error) {
	v, ok := m[k]
	if !ok {
		return 0, fmt.Errorf("field %q is missing", k)
	}

	return strconv.ParseInt(v, 10, 64)
}

// Проверка на соответствие интерфейсу Storage.
var _ storage.Storage = (*Storage)(nil)

var errCorrupted = errors.New("corrupted record")
