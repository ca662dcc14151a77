// service содержит бизнес-логику сессий: регистрацию, вход с увеличением
// версии токенов, проверку access-токенов, обновление по refresh-токену и отзыв.
//
// Основные аспекты:
//   - Service не хранит состояние запросов; все инварианты (атомарный инкремент
//     версии, уникальность email, идемпотентное удаление) обеспечивает хранилище,
//     поэтому экземпляр безопасен для конкурентного использования;
//   - ошибки несут типизированный Kind (см. errors.go), транспорт выбирает
//     статус и текст ответа по нему;
//   - повторов внутри сервиса нет: любая ошибка хранилища возвращается вызывающему.
package service

import (
	"crypto/sha256"
	"encoding/base64"
	"time"

	"github.com/pribylovaa/taskboard-auth/internal/config"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
	"github.com/pribylovaa/taskboard-auth/internal/token"
)

// PasswordHasher - адаптивная хэш-функция паролей.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) (bool, error)
	// CompareDummy выполняет сравнение той же стоимости, всегда возвращая false.
	CompareDummy(password string) bool
}

// Recorder принимает исходы операций (метрики). Может быть nil.
type Recorder interface {
	ObserveAuth(operation, result string)
	AddJanitorDeleted(n int64)
}

// Service описывает бизнес-логику сессий.
type Service struct {
	storage  storage.Storage
	access   *token.Codec
	refresh  *token.Codec
	hasher   PasswordHasher
	cfg      config.AuthConfig
	now      func() time.Time
	recorder Recorder
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет часы (выпуск токенов, проверка истечения записей).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithRecorder подключает учёт исходов операций.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		s.recorder = r
	}
}

// New создаёт новый экземпляр Service.
// access и refresh могут быть одним и тем же кодеком.
func New(st storage.Storage, access, refresh *token.Codec, hasher PasswordHasher, cfg config.AuthConfig, opts ...Option) *Service {
	s := &Service{
		storage: st,
		access:  access,
		refresh: refresh,
		hasher:  hasher,
		cfg:     cfg,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func (s *Service) observe(operation string, err error) {
	if s.recorder == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = KindOf(err).String()
	}

	s.recorder.ObserveAuth(operation, result)
}

// HashRefreshToken возвращает ключ записи refresh-токена: base64url(sha256(token)).
func HashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
