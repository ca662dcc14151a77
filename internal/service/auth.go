package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pribylovaa/taskboard-auth/internal/models"
	"github.com/pribylovaa/taskboard-auth/internal/pkg/log"
	"github.com/pribylovaa/taskboard-auth/internal/pkg/redact"
	"github.com/pribylovaa/taskboard-auth/internal/storage"
	"github.com/pribylovaa/taskboard-auth/internal/token"
)

// maxRefreshAttempts - сколько раз пробуем сохранить refresh-токен при коллизии хэша.
const maxRefreshAttempts = 3

// NormalizeEmail обрезает пробелы и приводит email к нижнему регистру.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// Register создаёт пользователя с версией токенов 0.
func (s *Service) Register(ctx context.Context, name, email, password string) (pu models.PublicUser, err error) {
	const op = "service.auth.Register"

	defer func() { s.observe("register", err) }()

	lg := log.From(ctx)
	email = NormalizeEmail(email)

	_, err = s.storage.UserByEmail(ctx, email)
	if err == nil {
		lg.Info("register_email_in_use", slog.String("email", redact.Email(email)))
		return models.PublicUser{}, fail(op, KindEmailInUse, nil)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.clock(),
	}

	if err = s.storage.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Гонка двух регистраций: проверка выше прошла у обеих.
			return models.PublicUser{}, fail(op, KindEmailInUse, err)
		}

		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("user_registered", slog.Int64("user_id", user.ID))

	return user.Public(), nil
}

// Login проверяет пароль, увеличивает версию токенов и выпускает пару токенов.
// Все access-токены, выпущенные до этого входа, перестают проходить ValidateAccess.
func (s *Service) Login(ctx context.Context, email, password string) (sess *models.Session, err error) {
	const op = "service.auth.Login"

	defer func() { s.observe("login", err) }()

	lg := log.From(ctx)
	email = NormalizeEmail(email)

	user, err := s.storage.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.CompareDummy(password)
			lg.Info("login_failed", slog.String("email", redact.Email(email)))
			return nil, fail(op, KindInvalidCredentials, nil)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		lg.Info("login_failed", slog.String("email", redact.Email(email)))
		return nil, fail(op, KindInvalidCredentials, nil)
	}

	// Инкремент остаётся в силе, даже если ответ клиенту не дойдёт.
	version, err := s.storage.IncrementTokenVersion(ctx, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, KindInvalidCredentials, err)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock()

	access, err := s.access.EncodeAccess(token.AccessClaims{
		UserID:       user.ID,
		Email:        user.Email,
		TokenVersion: version,
	}, now, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := s.issueRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeleteExpiredUserTokens(ctx, user.ID, now); err != nil {
		lg.Warn("expired_tokens_cleanup_failed",
			slog.String("op", op),
			slog.Int64("user_id", user.ID),
			slog.String("err", err.Error()),
		)
	}

	lg.Info("login_succeeded",
		slog.Int64("user_id", user.ID),
		slog.Int64("token_version", version),
	)

	return &models.Session{
		AccessToken:     access,
		RefreshToken:    refresh,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		User:            user.Public(),
	}, nil
}

// issueRefreshToken выпускает refresh-токен и сохраняет запись с его хэшем.
func (s *Service) issueRefreshToken(ctx context.Context, userID int64) (string, error) {
	const op = "service.auth.issueRefreshToken"

	for attempt := 0; attempt < maxRefreshAttempts; attempt++ {
		now := s.clock()

		raw, err := s.refresh.EncodeRefresh(userID, now, s.cfg.RefreshTokenTTL)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		err = s.storage.SaveRefreshToken(ctx, &models.RefreshToken{
			TokenHash: HashRefreshToken(raw),
			UserID:    userID,
			ExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
			CreatedAt: now,
		})
		if err == nil {
			return raw, nil
		}

		if !errors.Is(err, storage.ErrAlreadyExists) {
			return "", fmt.Errorf("%s: %w", op, err)
		}

		log.From(ctx).Warn("refresh_token_collision", slog.Int("attempt", attempt+1))
	}

	return "", fmt.Errorf("%s: refresh token collision after %d attempts", op, maxRefreshAttempts)
}

// ValidateAccess проверяет access-токен и версию токенов пользователя.
// Только чтение, без побочных эффектов.
func (s *Service) ValidateAccess(ctx context.Context, accessToken string) (models.Identity, error) {
	const op = "service.auth.ValidateAccess"

	lg := log.From(ctx)

	claims, err := s.access.DecodeAccess(accessToken)
	if err != nil {
		lg.Warn("access_token_rejected",
			slog.String("op", op),
			slog.String("reason", decodeReason(err)),
		)
		return models.Identity{}, fail(op, KindAccessTokenInvalid, err)
	}

	user, err := s.storage.UserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("access_user_not_found", slog.Int64("user_id", claims.UserID))
			return models.Identity{}, fail(op, KindUserNotFound, err)
		}

		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}

	if claims.TokenVersion != user.TokenVersion {
		lg.Info("access_version_mismatch",
			slog.Int64("user_id", user.ID),
			slog.Int64("token_version", claims.TokenVersion),
			slog.Int64("current_version", user.TokenVersion),
		)
		return models.Identity{}, fail(op, KindTokenSuperseded, nil)
	}

	return models.Identity{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}

// Refresh выпускает новый access-токен по refresh-токену.
// Refresh-токен не ротируется; в access-токен попадает текущая версия пользователя.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (grant *models.AccessGrant, err error) {
	const op = "service.auth.Refresh"

	defer func() { s.observe("refresh", err) }()

	lg := log.From(ctx)

	claims, err := s.refresh.DecodeRefresh(refreshToken)
	expired := errors.Is(err, token.ErrExpired)
	if err != nil && !expired {
		lg.Warn("refresh_token_rejected",
			slog.String("op", op),
			slog.String("reason", decodeReason(err)),
		)
		return nil, fail(op, KindTokenInvalid, err)
	}

	hash := HashRefreshToken(refreshToken)

	record, err := s.storage.RefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Info("refresh_not_found", slog.Int64("user_id", claims.UserID))
			return nil, fail(op, KindTokenNotFound, err)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.clock()
	if expired || record.Expired(now) {
		// Удаление best-effort: параллельный запрос мог уже удалить запись.
		if derr := s.storage.DeleteRefreshToken(ctx, hash); derr != nil {
			lg.Warn("refresh_expired_delete_failed", slog.String("err", derr.Error()))
		}

		lg.Info("refresh_expired", slog.Int64("user_id", record.UserID))
		return nil, fail(op, KindTokenExpired, nil)
	}

	if record.UserID != claims.UserID {
		lg.Warn("refresh_subject_mismatch",
			slog.Int64("record_user_id", record.UserID),
			slog.Int64("claims_user_id", claims.UserID),
		)
		return nil, fail(op, KindTokenInvalid, nil)
	}

	user, err := s.storage.UserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fail(op, KindTokenInvalid, err)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	access, err := s.access.EncodeAccess(token.AccessClaims{
		UserID:       user.ID,
		Email:        user.Email,
		TokenVersion: user.TokenVersion,
	}, now, s.cfg.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.AccessGrant{
		AccessToken:     access,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		User:            user.Public(),
	}, nil
}

// Revoke удаляет запись refresh-токена (выход на одном устройстве).
// Отсутствие записи не ошибка; версию токенов не трогает.
func (s *Service) Revoke(ctx context.Context, refreshToken string) (err error) {
	const op = "service.auth.Revoke"

	defer func() { s.observe("revoke", err) }()

	if err = s.storage.DeleteRefreshToken(ctx, HashRefreshToken(refreshToken)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RevokeAll удаляет все refresh-токены пользователя (выход везде).
func (s *Service) RevokeAll(ctx context.Context, userID int64) (err error) {
	const op = "service.auth.RevokeAll"

	defer func() { s.observe("revoke_all", err) }()

	if err = s.storage.DeleteUserRefreshTokens(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	log.From(ctx).Info("user_sessions_revoked", slog.Int64("user_id", userID))

	return nil
}

// UserInfo возвращает профиль пользователя.
func (s *Service) UserInfo(ctx context.Context, userID int64) (models.UserInfo, error) {
	const op = "service.auth.UserInfo"

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return models.UserInfo{}, fail(op, KindUserNotFound, err)
		}

		return models.UserInfo{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.UserInfo{
		ID:        user.ID,
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
	}, nil
}

// decodeReason - причина отказа кодека для логов.
func decodeReason(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return "expired"
	case errors.Is(err, token.ErrBadSignature):
		return "bad_signature"
	case errors.Is(err, token.ErrMalformed):
		return "malformed"
	default:
		return "unknown"
	}
}
