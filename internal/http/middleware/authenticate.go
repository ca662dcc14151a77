package middleware

import (
	"context"
	"net/http"
	"strings"

	apierrors "github.com/pribylovaa/taskboard-auth/internal/errors"
	"github.com/pribylovaa/taskboard-auth/internal/models"
)

// AccessValidator проверяет access-токен (service.Service.ValidateAccess).
type AccessValidator interface {
	ValidateAccess(ctx context.Context, accessToken string) (models.Identity, error)
}

const bearerPrefix = "Bearer "

// Authenticate - проверка запроса по заголовку Authorization.
// Без "Bearer <token>" отвечает 401 "Token não fornecido"; при отказе
// валидатора отвечает 401 с текстом по виду ошибки. При успехе кладёт
// Identity в контекст (IdentityFrom).
func Authenticate(v AccessValidator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				apierrors.WriteMessage(w, r, http.StatusUnauthorized, apierrors.MsgTokenMissing)
				return
			}

			id, err := v.ValidateAccess(r.Context(), auth[len(bearerPrefix):])
			if err != nil {
				apierrors.WriteError(w, r, err, apierrors.MsgInternal)
				return
			}

			ctx := context.WithValue(r.Context(), ctxIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFrom возвращает Identity, положенную Authenticate.
func IdentityFrom(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(ctxIdentity).(models.Identity)
	return id, ok
}

// WithIdentity кладёт Identity в контекст (для тестов обработчиков).
func WithIdentity(ctx context.Context, id models.Identity) context.Context {
	return context.WithValue(ctx, ctxIdentity, id)
}
