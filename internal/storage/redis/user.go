package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pribylovaa/taskboard-auth/internal/models"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
)

// KEYS[1] = email key, KEYS[2] = user key.
// ARGV: id, name, email, password_hash, created_at (ms).
// Возвращает 0, если email уже занят.
var saveUserScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('HSET', KEYS[2],
	'id', ARGV[1],
	'name', ARGV[2],
	'email', ARGV[3],
	'password_hash', ARGV[4],
	'token_version', 0,
	'created_at', ARGV[5])
return 1
`)

// KEYS[1] = user key. Возвращает -1, если пользователя нет.
var incrVersionScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], 'token_version', 1)
`)

// SaveUser создаёт пользователя. Идентификатор берётся из счётчика,
// уникальность email проверяется и фиксируется одним скриптом.
func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.redis.SaveUser"

	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ok, err := saveUserScript.Run(ctx, s.rdb,
		[]string{s.emailKey(user.Email), s.userKey(id)},
		id, user.Name, user.Email, user.PasswordHash, toMillis(user.CreatedAt),
	).Int64()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if ok == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrAlreadyExists)
	}

	user.ID = id
	user.TokenVersion = 0

	return nil
}

// UserByEmail находит пользователя через индекс email -> id.
func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.redis.UserByEmail"

	raw, err := s.rdb.Get(ctx, s.emailKey(email)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, errCorrupted, err)
	}

	user, err := s.userByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// UserByID находит пользователя по ID.
func (s *Storage) UserByID(ctx context.Context, id int64) (*models.User, error) {
	const op = "storage.redis.UserByID"

	user, err := s.userByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) userByID(ctx context.Context, id int64) (*models.User, error) {
	m, err := s.rdb.HGetAll(ctx, s.userKey(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(m) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseUser(m)
}

func parseUser(m map[string]string) (*models.User, error) {
	id, err := parseInt(m, "id")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupted, err)
	}

	version, err := parseInt(m, "token_version")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupted, err)
	}

	created, err := parseInt(m, "created_at")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errCorrupted, err)
	}

	return &models.User{
		ID:           id,
		Name:         m["name"],
		Email:        m["email"],
		PasswordHash: m["password_hash"],
		TokenVersion: version,
		CreatedAt:    fromMillis(created),
	}, nil
}

// IncrementTokenVersion атомарно увеличивает token_version (HINCRBY).
func (s *Storage) IncrementTokenVersion(ctx context.Context, id int64) (int64, error) {
	const op = "storage.redis.IncrementTokenVersion"

	v, err := incrVersionScript.Run(ctx, s.rdb, []string{s.userKey(id)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if v < 0 {
		return 0, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}

	return v, nil
}
