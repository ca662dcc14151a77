// token - кодек подписанных JWT (HS256) для access- и refresh-токенов.
//
// Основные аспекты:
//   - один механизм подписи, разные TTL и тип (claim "typ"), поэтому access-токен
//     нельзя предъявить как refresh и наоборот даже при общем секрете;
//   - ошибки декодирования различаются (ErrMalformed/ErrExpired/ErrBadSignature)
//     только для логирования, вызывающий код сводит их к одному исходу;
//   - часы подменяемые (WithClock), чтобы проверять границу истечения в тестах.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed - строка не является JWT ожидаемого вида (формат, тип, issuer, subject).
	ErrMalformed = errors.New("malformed token")
	// ErrExpired - подпись верна, но срок действия истёк.
	ErrExpired = errors.New("token expired")
	// ErrBadSignature - подпись не сходится или алгоритм не HS256.
	ErrBadSignature = errors.New("bad token signature")
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// AccessClaims - содержимое access-токена.
type AccessClaims struct {
	UserID       int64
	Email        string
	TokenVersion int64
	ExpiresAt    time.Time
}

// RefreshClaims - содержимое refresh-токена.
type RefreshClaims struct {
	UserID    int64
	ExpiresAt time.Time
}

type accessClaims struct {
	Type         string `json:"typ"`
	Email        string `json:"email"`
	TokenVersion int64  `json:"token_version"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *accessClaims) tokenType() string  { return c.Type }
func (c *refreshClaims) tokenType() string { return c.Type }

type typedClaims interface {
	jwt.Claims
	tokenType() string
}

// Codec подписывает и проверяет токены одним симметричным секретом.
// Безопасен для конкурентного использования.
type Codec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// Option настраивает Codec.
type Option func(*Codec)

// WithClock подменяет источник текущего времени для проверки exp.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// New создаёт кодек. Пустой секрет - ошибка конфигурации.
func New(secret, issuer string, opts ...Option) (*Codec, error) {
	const op = "token.New"

	if secret == "" {
		return nil, fmt.Errorf("%s: empty secret", op)
	}

	c := &Codec{
		secret: []byte(secret),
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// EncodeAccess выпускает access-токен, действующий с now в течение ttl.
// claims.ExpiresAt игнорируется.
func (c *Codec) EncodeAccess(claims AccessClaims, now time.Time, ttl time.Duration) (string, error) {
	const op = "token.EncodeAccess"

	signed, err := c.sign(&accessClaims{
		Type:             typeAccess,
		Email:            claims.Email,
		TokenVersion:     claims.TokenVersion,
		RegisteredClaims: c.registered(claims.UserID, now, ttl),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// DecodeAccess проверяет подпись, тип и срок access-токена.
func (c *Codec) DecodeAccess(raw string) (AccessClaims, error) {
	const op = "token.DecodeAccess"

	var dst accessClaims
	userID, exp, err := c.parse(raw, &dst, typeAccess)
	if err != nil {
		return AccessClaims{}, fmt.Errorf("%s: %w", op, err)
	}

	return AccessClaims{
		UserID:       userID,
		Email:        dst.Email,
		TokenVersion: dst.TokenVersion,
		ExpiresAt:    exp,
	}, nil
}

// EncodeRefresh выпускает refresh-токен. Случайный jti делает строки
// уникальными даже для двух входов в одну секунду.
func (c *Codec) EncodeRefresh(userID int64, now time.Time, ttl time.Duration) (string, error) {
	const op = "token.EncodeRefresh"

	signed, err := c.sign(&refreshClaims{
		Type:             typeRefresh,
		RegisteredClaims: c.registered(userID, now, ttl),
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// DecodeRefresh проверяет refresh-токен.
// При ErrExpired claims всё равно заполнены: подпись проверена, а решение
// об истечении принимает хранилище.
func (c *Codec) DecodeRefresh(raw string) (RefreshClaims, error) {
	const op = "token.DecodeRefresh"

	var dst refreshClaims
	userID, exp, err := c.parse(raw, &dst, typeRefresh)
	if err != nil && !errors.Is(err, ErrExpired) {
		return RefreshClaims{}, fmt.Errorf("%s: %w", op, err)
	}

	claims := RefreshClaims{UserID: userID, ExpiresAt: exp}
	if err != nil {
		return claims, fmt.Errorf("%s: %w", op, err)
	}

	return claims, nil
}

func (c *Codec) registered(userID int64, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    c.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

// parse возвращает subject и exp. ErrExpired возвращается только после
// проверки подписи, типа и issuer.
func (c *Codec) parse(raw string, dst typedClaims, want string) (int64, time.Time, error) {
	_, err := jwt.ParseWithClaims(raw, dst,
		func(t *jwt.Token) (interface{}, error) {
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)

	var expired bool
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return 0, time.Time{}, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return 0, time.Time{}, ErrBadSignature
		case errors.Is(err, jwt.ErrTokenExpired):
			expired = true
		default:
			return 0, time.Time{}, ErrMalformed
		}
	}

	if dst.tokenType() != want {
		return 0, time.Time{}, ErrMalformed
	}

	if iss, _ := dst.GetIssuer(); iss != c.issuer {
		return 0, time.Time{}, ErrMalformed
	}

	sub, _ := dst.GetSubject()
	userID, perr := strconv.ParseInt(sub, 10, 64)
	if perr != nil || userID <= 0 {
		return 0, time.Time{}, ErrMalformed
	}

	var exp time.Time
	if e, _ := dst.GetExpirationTime(); e != nil {
		exp = e.Time
	}

	if expired {
		return userID, exp, ErrExpired
	}

	return userID, exp, nil
}
