// storage описывает контракт хранилища учётных данных и refresh-токенов.
// Все инварианты сервиса (атомарный инкремент версии, уникальность email,
// идемпотентное удаление) обеспечиваются реализацией хранилища.
package storage

//go:generate mockgen -source=storage.go -destination=../../mocks/mock_storage.go -package=mocks

import (
	"context"
	"errors"
	"time"

	"github.com/pribylovaa/taskboard-auth/internal/models"
)

var (
	// ErrNotFound - запись не найдена (пользователь/токен).
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists - нарушение уникальности (email/refresh-token).
	ErrAlreadyExists = errors.New("already exists")
)

// UserStorage выполняет операции над пользователями.
type UserStorage interface {
	// SaveUser создаёт пользователя с TokenVersion = 0 и проставляет user.ID.
	SaveUser(ctx context.Context, user *models.User) error
	// UserByEmail находит пользователя по email.
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// UserByID находит пользователя по ID.
	UserByID(ctx context.Context, id int64) (*models.User, error)
	// IncrementTokenVersion атомарно увеличивает версию токенов на 1
	// и возвращает новое значение.
	IncrementTokenVersion(ctx context.Context, id int64) (int64, error)
}

// RefreshTokenStorage выполняет операции над refresh-токенами.
type RefreshTokenStorage interface {
	// SaveRefreshToken сохраняет новый refresh-токен.
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// RefreshTokenByHash находит refresh-токен по его хэшу.
	RefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	// DeleteRefreshToken удаляет токен; отсутствие записи не ошибка.
	DeleteRefreshToken(ctx context.Context, hash string) error
	// DeleteUserRefreshTokens удаляет все токены пользователя.
	DeleteUserRefreshTokens(ctx context.Context, userID int64) error
	// DeleteExpiredUserTokens удаляет истёкшие (expires_at <= now) токены пользователя.
	DeleteExpiredUserTokens(ctx context.Context, userID int64, now time.Time) error
	// DeleteExpiredTokens удаляет все истёкшие токены и возвращает их количество.
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// Storage задаёт контракт работы с хранилищем.
type Storage interface {
	UserStorage
	RefreshTokenStorage
	Close()
}
